package taskgraph

import "github.com/ygrebnov/taskgraph/metrics"

// Option configures a Scheduler. Mirrors the teacher's functional-options
// pattern (options.go's WithFixedPool/WithStartImmediately/...), adapted
// to the Scheduler configuration knobs listed in spec §6.
type Option func(*Config)

// WithNamedThreads overrides the default named-thread set ("game",
// "render"). names are attached by index in the order given.
func WithNamedThreads(names ...string) Option {
	return func(c *Config) { c.NamedThreads = names }
}

// WithHighPriorityWorkers enables or disables the high-priority worker
// pool.
func WithHighPriorityWorkers(enabled bool) Option {
	return func(c *Config) { c.EnableHighPriorityWorkers = enabled }
}

// WithBackgroundPriorityWorkers enables or disables the background
// worker pool.
func WithBackgroundPriorityWorkers(enabled bool) Option {
	return func(c *Config) { c.EnableBackgroundPriorityWorkers = enabled }
}

// WithWorkersPerBand sets how many OS threads back each enabled band.
func WithWorkersPerBand(n uint) Option {
	return func(c *Config) { c.WorkersPerBand = n }
}

// WithMultithreadingDisabled forces every any-worker task onto the first
// named thread, per spec §4.E's routing rule.
func WithMultithreadingDisabled() Option {
	return func(c *Config) { c.MultithreadingDisabled = true }
}

// WithWaitShortCircuitThreshold overrides the default (8) prerequisite
// count above which Scheduler.WaitUntilTasksComplete skips its
// already-complete poll; see spec §9's open question.
func WithWaitShortCircuitThreshold(n int) Option {
	return func(c *Config) { c.WaitShortCircuitThreshold = n }
}

// WithMetrics installs a metrics.Provider for scheduler instrumentation.
func WithMetrics(p metrics.Provider) Option {
	return func(c *Config) { c.Metrics = p }
}

// WithMaxLinks sets an advisory cap on the number of simultaneously
// allocated links the Scheduler's internal allocator may hand out (spec
// §6). Startup rejects a value above the allocator's compile-time
// capacity (internal/link.MaxIndex); it cannot raise that capacity.
func WithMaxLinks(n uint) Option {
	return func(c *Config) { c.MaxLinks = n }
}

// WithStallMaskWidth overrides the advisory stall-mask width used to
// validate worker-per-band counts against the mask's compile-time
// capacity (internal/lockfree.MaxStallMaskWidth); see spec §6.
func WithStallMaskWidth(n uint) Option {
	return func(c *Config) { c.StallMaskWidth = n }
}

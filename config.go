package taskgraph

import (
	"fmt"

	"github.com/ygrebnov/taskgraph/internal/link"
	"github.com/ygrebnov/taskgraph/internal/lockfree"
	"github.com/ygrebnov/taskgraph/metrics"
)

// Config holds Scheduler startup configuration. Mirrors the teacher's
// Config/defaultConfig/validateConfig trio (config.go, defaults.go).
type Config struct {
	// NamedThreads lists the application threads that will attach
	// themselves after Startup (the game thread, the render thread, and
	// any others the embedder defines). Startup does not create these
	// threads; it only reserves their queues.
	NamedThreads []string

	// EnableHighPriorityWorkers controls whether a high-priority worker
	// pool exists at all. Default: true.
	EnableHighPriorityWorkers bool

	// EnableBackgroundPriorityWorkers controls whether a
	// background-priority worker pool exists at all. Default: false.
	EnableBackgroundPriorityWorkers bool

	// WorkersPerBand is the number of OS worker threads spawned for each
	// enabled band. Default: number of CPUs, resolved by Startup if left
	// zero.
	WorkersPerBand uint

	// MultithreadingDisabled, when true, redirects every any-worker task
	// to the first named thread (conventionally the game thread) instead
	// of spawning worker pools at all. Default: false.
	MultithreadingDisabled bool

	// WaitShortCircuitThreshold is the prerequisite-count cutoff above
	// which wait calls skip the "is everything already complete" poll
	// described in spec §9's open question. Default: 8.
	WaitShortCircuitThreshold int

	// Metrics receives scheduler instrumentation (dispatch counts, worker
	// stall counts, wait latencies). Default: metrics.NewNoopProvider().
	Metrics metrics.Provider

	// MaxLinks is an advisory cap on the number of simultaneously
	// allocated links the Scheduler's internal allocator may hand out
	// (spec §6's "maximum simultaneously-allocated links" knob). Zero
	// means "use the allocator's compile-time maximum"
	// (internal/link.MaxIndex). A nonzero value is validated against that
	// hard cap; it does not change the allocator's physical word layout,
	// which is fixed by internal/tagged.IndexBits at compile time.
	MaxLinks uint

	// StallMaskWidth is an advisory override of the per-band stall mask's
	// usable width (spec §6: "mask width must be at least the worker
	// count and never exceed the platform pointer bit width minus one").
	// Zero means "use the mask's compile-time maximum"
	// (internal/lockfree.MaxStallMaskWidth). When nonzero, Startup also
	// checks it against the resolved worker-per-band count.
	StallMaskWidth uint
}

// defaultConfig centralizes defaults, exactly as the teacher's
// defaultConfig does for its Config.
func defaultConfig() Config {
	return Config{
		NamedThreads:                    []string{"game", "render"},
		EnableHighPriorityWorkers:       true,
		EnableBackgroundPriorityWorkers: false,
		WorkersPerBand:                  0, // resolved against CPU count in Startup
		MultithreadingDisabled:          false,
		WaitShortCircuitThreshold:       8,
		Metrics:                         metrics.NewNoopProvider(),
		MaxLinks:                        0, // resolved against link.MaxIndex
		StallMaskWidth:                  0, // resolved against lockfree.MaxStallMaskWidth
	}
}

// validateConfig performs the lightweight invariant checks the teacher's
// validateConfig performs for its own Config: it rejects an empty
// named-thread list and MaxLinks/StallMaskWidth values above their
// compile-time caps, and fills in a nil Metrics provider and a negative
// WaitShortCircuitThreshold with defaults.
func validateConfig(cfg *Config) error {
	if len(cfg.NamedThreads) == 0 {
		return errNoNamedThreads
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopProvider()
	}
	if cfg.WaitShortCircuitThreshold < 0 {
		cfg.WaitShortCircuitThreshold = 0
	}
	if cfg.MaxLinks > link.MaxIndex {
		return &configError{fmt.Sprintf("max links %d exceeds allocator capacity %d", cfg.MaxLinks, link.MaxIndex)}
	}
	if cfg.StallMaskWidth > lockfree.MaxStallMaskWidth {
		return &configError{fmt.Sprintf("stall mask width %d exceeds mask capacity %d", cfg.StallMaskWidth, lockfree.MaxStallMaskWidth)}
	}
	return nil
}

var errNoNamedThreads = &configError{"at least one named thread is required"}

type configError struct{ msg string }

func (e *configError) Error() string { return Namespace + ": invalid config: " + e.msg }

// Package metrics defines the instrumentation surface the scheduler and
// its worker pools report through (dispatch counts, stall counts, wait
// latencies — see Scheduler's dispatched/waits fields and bandPool's
// dispatched/stalls fields). Swap in a real backend by implementing
// Provider; NewNoopProvider is the default when none is configured.
package metrics

// Provider constructs instruments by name. Implementations must be safe
// for concurrent use — Startup may call into a Provider from several
// goroutines while standing up band pools.
type Provider interface {
	Counter(name string, opts ...InstrumentOption) Counter
	UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter
	Histogram(name string, opts ...InstrumentOption) Histogram
}

// Counter is a monotonically increasing instrument, e.g. total tasks
// dispatched.
type Counter interface {
	Add(n int64)
}

// UpDownCounter tracks a value that moves in both directions, e.g.
// tasks currently in flight.
type UpDownCounter interface {
	Add(n int64)
}

// Histogram records a distribution of measurements, e.g. wait latencies
// in seconds.
type Histogram interface {
	Record(v float64)
}

// InstrumentConfig carries the advisory metadata InstrumentOption
// functions populate. Providers are free to ignore any of it.
type InstrumentConfig struct {
	Description string
	Unit        string
	Attributes  map[string]string
}

// InstrumentOption mutates an InstrumentConfig at instrument-creation
// time.
type InstrumentOption func(*InstrumentConfig)

// WithDescription sets an advisory human-readable description.
func WithDescription(desc string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Description = desc }
}

// WithUnit sets an advisory unit string (e.g. "seconds", "1").
func WithUnit(unit string) InstrumentOption {
	return func(c *InstrumentConfig) { c.Unit = unit }
}

// WithAttributes attaches fixed key/value attributes to the instrument.
// Keep cardinality bounded — these are per-instrument, not per-measurement.
func WithAttributes(attrs map[string]string) InstrumentOption {
	return func(c *InstrumentConfig) {
		if len(attrs) == 0 {
			return
		}
		if c.Attributes == nil {
			c.Attributes = make(map[string]string, len(attrs))
		}
		for k, v := range attrs {
			c.Attributes[k] = v
		}
	}
}

func applyOptions(opts []InstrumentOption) InstrumentConfig {
	var cfg InstrumentConfig
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	return cfg
}

package metrics

import (
	"math"
	"sync"
	"sync/atomic"
)

// BasicProvider is an in-memory Provider good enough for tests and for
// embedders that just want to inspect scheduler behavior (dispatch
// rates, stall frequency, wait latencies) without standing up a real
// metrics backend. Instruments are created once per name and reused on
// every subsequent call for that name, regardless of the options passed
// the second time.
type BasicProvider struct {
	mu   sync.Mutex
	kind map[instrumentKey]any
	meta map[instrumentKey]InstrumentConfig
}

type instrumentKind uint8

const (
	kindCounter instrumentKind = iota
	kindUpDown
	kindHistogram
)

type instrumentKey struct {
	kind instrumentKind
	name string
}

// NewBasicProvider constructs an empty BasicProvider.
func NewBasicProvider() *BasicProvider {
	return &BasicProvider{
		kind: make(map[instrumentKey]any),
		meta: make(map[instrumentKey]InstrumentConfig),
	}
}

func (p *BasicProvider) getOrCreate(k instrumentKey, opts []InstrumentOption, zero func() any) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.kind[k]; ok {
		return existing
	}
	p.meta[k] = applyOptions(opts)
	inst := zero()
	p.kind[k] = inst
	return inst
}

func (p *BasicProvider) Counter(name string, opts ...InstrumentOption) Counter {
	inst := p.getOrCreate(instrumentKey{kindCounter, name}, opts, func() any { return &BasicCounter{} })
	return inst.(*BasicCounter)
}

func (p *BasicProvider) UpDownCounter(name string, opts ...InstrumentOption) UpDownCounter {
	inst := p.getOrCreate(instrumentKey{kindUpDown, name}, opts, func() any { return &BasicUpDownCounter{} })
	return inst.(*BasicUpDownCounter)
}

func (p *BasicProvider) Histogram(name string, opts ...InstrumentOption) Histogram {
	inst := p.getOrCreate(instrumentKey{kindHistogram, name}, opts, func() any {
		return &BasicHistogram{min: math.Inf(1), max: math.Inf(-1)}
	})
	return inst.(*BasicHistogram)
}

// BasicCounter is a concurrency-safe monotonic counter.
type BasicCounter struct{ val atomic.Int64 }

func (c *BasicCounter) Add(n int64)     { c.val.Add(n) }
func (c *BasicCounter) Snapshot() int64 { return c.val.Load() }

// BasicUpDownCounter is a concurrency-safe bidirectional counter.
type BasicUpDownCounter struct{ val atomic.Int64 }

func (u *BasicUpDownCounter) Add(n int64)     { u.val.Add(n) }
func (u *BasicUpDownCounter) Snapshot() int64 { return u.val.Load() }

// BasicHistogram tracks count, sum, min, and max of recorded values
// without bucketing — enough to compute a mean, which is all the
// scheduler's own diagnostics need from its wait-latency histogram.
type BasicHistogram struct {
	mu    sync.Mutex
	count int64
	sum   float64
	min   float64
	max   float64
}

func (h *BasicHistogram) Record(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		h.min, h.max = v, v
	} else if v < h.min {
		h.min = v
	} else if v > h.max {
		h.max = v
	}
	h.count++
	h.sum += v
}

// HistSnapshot is a point-in-time copy of a BasicHistogram's state.
type HistSnapshot struct {
	Count int64
	Sum   float64
	Min   float64
	Max   float64
	Mean  float64
}

func (h *BasicHistogram) Snapshot() HistSnapshot {
	h.mu.Lock()
	s := HistSnapshot{Count: h.count, Sum: h.sum, Min: h.min, Max: h.max}
	h.mu.Unlock()
	if s.Count > 0 {
		s.Mean = s.Sum / float64(s.Count)
	}
	return s
}

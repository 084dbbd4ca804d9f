package pool

import "sync/atomic"

// fixed is a pool that never allocates more than capacity live values:
// once that many have been constructed, Get blocks until a Put returns
// one. This matches the Scheduler's OSEvent pool, where the number of
// simultaneous waiters is bounded by the thread/worker count computed
// at Startup — growing past that would only mean a bug in the capacity
// calculation, not legitimate extra demand.
type fixed struct {
	available chan interface{}
	allocated atomic.Int64
	capacity  int64
	newFn     func() interface{}
}

// NewFixed returns a Pool that lazily allocates up to capacity values
// via newFn, then recycles them.
func NewFixed(capacity uint, newFn func() interface{}) Pool {
	return &fixed{
		available: make(chan interface{}, capacity),
		capacity:  int64(capacity),
		newFn:     newFn,
	}
}

func (p *fixed) Get() interface{} {
	select {
	case v := <-p.available:
		return v
	default:
	}

	if p.allocated.Add(1) <= p.capacity {
		return p.newFn()
	}
	p.allocated.Add(-1)
	return <-p.available
}

func (p *fixed) Put(v interface{}) {
	p.available <- v
}

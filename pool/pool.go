// Package pool supplies the two recycling strategies the scheduler
// needs for values that are expensive to keep allocating: a bounded
// pool for the Scheduler's own OSEvents (the thread/worker count is
// known at Startup, so a hard capacity is correct), and an unbounded
// one for parallelfor's per-call shared state (the number of
// concurrently in-flight ParallelFor calls has no such bound).
package pool

// Pool recycles values of a single type, created on demand by a
// constructor function supplied at construction time.
type Pool interface {
	// Get returns a value from the pool, constructing a new one if none
	// is available. A bounded pool (NewFixed) that has already
	// constructed its capacity blocks instead until a Put returns one.
	Get() interface{}

	// Put returns a value to the pool for reuse. Callers must not use
	// the value again afterward.
	Put(interface{})
}

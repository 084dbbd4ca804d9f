package pool

import "sync"

// dynamic wraps sync.Pool: unlike fixed, it never blocks and has no
// hard capacity. parallelfor uses this for its shared per-call state,
// since the number of concurrently in-flight ParallelFor calls isn't
// known ahead of time the way a Scheduler's thread count is.
type dynamic struct {
	sp sync.Pool
}

// NewDynamic returns a Pool with no upper bound on how many values it
// will construct; values not currently checked out may be dropped by
// the garbage collector at any time, same as sync.Pool.
func NewDynamic(newFn func() interface{}) Pool {
	return &dynamic{sp: sync.Pool{New: newFn}}
}

func (d *dynamic) Get() interface{}  { return d.sp.Get() }
func (d *dynamic) Put(v interface{}) { d.sp.Put(v) }

// Package parallelfor implements the parallel-for driver from spec §4.F:
// a block-partitioned fan-out over a worker pool that reserves the last
// block for the calling thread whenever doing so lets the caller avoid
// ever blocking on an event.
package parallelfor

import (
	"sync/atomic"

	"github.com/ygrebnov/taskgraph"
	"github.com/ygrebnov/taskgraph/pool"
)

// Body runs over the half-open range [begin, end).
type Body func(begin, end int)

// sharedPool recycles sharedState values across calls. Unlike the
// Scheduler's own OSEvent pool (bounded, since the scheduler knows its
// thread count up front), the number of concurrently in-flight ParallelFor
// calls is unbounded from this package's point of view, so a dynamic
// pool — the teacher's other pool implementation — fits better here.
var sharedPool = pool.NewDynamic(func() interface{} { return &sharedState{} })

type sharedState struct {
	body                 Body
	total                int
	blockSize            int
	numBlocks            int
	reserveLastForMaster bool

	ticket    atomic.Int64
	completed atomic.Int64
	triggered atomic.Bool
	refCount  atomic.Int32

	ev *taskgraph.OSEvent
}

func (s *sharedState) reset() {
	s.body = nil
	s.total = 0
	s.blockSize = 0
	s.numBlocks = 0
	s.reserveLastForMaster = false
	s.ticket.Store(0)
	s.completed.Store(0)
	s.triggered.Store(false)
	s.refCount.Store(0)
	s.ev = nil
}

func (s *sharedState) addRef() { s.refCount.Add(1) }

func (s *sharedState) release(sched *taskgraph.Scheduler) {
	if s.refCount.Add(-1) == 0 {
		if s.ev != nil {
			sched.ReleaseOSEvent(s.ev)
		}
		sharedPool.Put(s)
	}
}

// blockBounds returns the half-open index range owned by block t.
func (s *sharedState) blockBounds(t int) (int, int) {
	begin := t * s.blockSize
	end := begin + s.blockSize
	if t == s.numBlocks-1 {
		end = s.total
	}
	return begin, end
}

// process drains the shared ticket pool, reporting whether this call
// drove the completion count to numBlocks (in which case the caller is
// responsible for signalling ev, or — for the master — simply returning
// without waiting on it).
//
// When reserveLastForMaster is set, a helper that draws a ticket at or
// past the last block index leaves without processing it — ungating it
// for the master. The master, symmetrically, clamps any ticket past the
// last index down to the last index: it doesn't matter which numeric
// ticket the master drew, only that the reserved block gets a runner.
// This is why the block is guaranteed exactly one runner regardless of
// how the ticket draws from master and helpers interleave.
func (s *sharedState) process(isMaster bool) bool {
	last := s.numBlocks - 1
	for {
		t := int(s.ticket.Add(1)) - 1
		if s.reserveLastForMaster {
			if !isMaster && t >= last {
				return false
			}
			if isMaster && t > last {
				t = last
			}
		}
		if t < s.numBlocks {
			begin, end := s.blockBounds(t)
			s.body(begin, end)
			if int(s.completed.Add(1)) == s.numBlocks {
				return true
			}
		}
		if t >= last {
			return false
		}
	}
}

// helperPayload is the fan-out task from spec §4.F step 6: executing it
// first spawns some fraction of the still-outstanding helper count
// (tail-recursive halving, so W-1 helpers reach the worker pool in
// O(log W) hops instead of one producer queuing them one at a time),
// then joins the shared work loop itself.
type helperPayload struct {
	sched      *taskgraph.Scheduler
	shared     *sharedState
	spawnCount int
}

func (h *helperPayload) DesiredDestination() taskgraph.Destination {
	return taskgraph.MakeDestination(taskgraph.AnyWorker, taskgraph.QueueMain, taskgraph.BandNormal, taskgraph.PriorityNormal)
}

func (h *helperPayload) SubsequentsMode() taskgraph.SubsequentsMode { return taskgraph.FireAndForget }

func (h *helperPayload) DoTask(uint32, *taskgraph.Event) {
	if h.spawnCount > 0 {
		spawnNow := h.spawnCount - h.spawnCount/2
		carryForward := h.spawnCount / 2
		for i := 0; i < spawnNow; i++ {
			cc := 0
			if i == 0 {
				cc = carryForward
			}
			h.shared.addRef()
			taskgraph.NewTaskFactory(h.sched, nil, nil).
				ConstructAndDispatchWhenReady(&helperPayload{sched: h.sched, shared: h.shared, spawnCount: cc})
		}
	}

	if h.shared.process(false) {
		if h.shared.triggered.CompareAndSwap(false, true) {
			h.shared.ev.Trigger()
		}
	}
	h.shared.release(h.sched)
}

// ParallelFor runs body(i) for every i in [0, count) using sched's worker
// pool, unless count <= 1, forceSingleThreaded is set, or sched has no
// worker threads at all — in which case it runs sequentially on the
// caller.
func ParallelFor(sched *taskgraph.Scheduler, count int, body Body, forceSingleThreaded bool) {
	ParallelForWithPrework(sched, count, body, nil, forceSingleThreaded)
}

// ParallelForWithPrework is ParallelFor, but runs prework on the caller
// before entering the work loop; per spec §4.F it never reserves a block
// for the master, since the master has already done unequal work before
// even reaching the loop.
func ParallelForWithPrework(sched *taskgraph.Scheduler, count int, body Body, prework func(), forceSingleThreaded bool) {
	workerCount := sched.GetNumWorkerThreads()

	if count <= 1 || forceSingleThreaded || workerCount == 0 {
		if prework != nil {
			prework()
		}
		if count > 0 {
			body(0, count)
		}
		return
	}

	w := workerCount
	if count-1 < w {
		w = count - 1
	}
	if w == 0 {
		if prework != nil {
			prework()
		}
		body(0, count)
		return
	}

	reserveLastForMaster := prework == nil && count > w+1

	blockSize, numBlocks := chooseBlockSize(count, w, reserveLastForMaster)

	shared := sharedPool.Get().(*sharedState)
	shared.reset()
	shared.body = body
	shared.total = count
	shared.blockSize = blockSize
	shared.numBlocks = numBlocks
	shared.reserveLastForMaster = reserveLastForMaster
	shared.refCount.Store(1) // the master's own reference

	helpers := w - 1
	if helpers > 0 {
		shared.ev = sched.AcquireOSEvent()
		shared.addRef()
		taskgraph.NewTaskFactory(sched, nil, nil).
			ConstructAndDispatchWhenReady(&helperPayload{sched: sched, shared: shared, spawnCount: helpers - 1})
	}

	if prework != nil {
		prework()
	}

	responsible := shared.process(true)
	if !responsible && helpers > 0 {
		shared.ev.Wait()
	}
	shared.release(sched)
}

// chooseBlockSize picks the largest block size, among dividers of w in
// {1/3, 1/2, 1/1}, for which the resulting block count is at least w
// (plus one more if a block is reserved for the master). Coarser
// divisions are tried first so blocks stay as large as possible, which
// keeps per-block overhead down; given w <= count-1 one of the three
// always produces enough blocks, and the final return is only a fallback.
func chooseBlockSize(count, w int, reserveLastForMaster bool) (blockSize, numBlocks int) {
	needed := w
	if reserveLastForMaster {
		needed++
	}
	for _, div := range [3]int{1, 2, 3} {
		bs := count / (w * div)
		if bs == 0 {
			continue
		}
		nb := count / bs
		if nb >= needed {
			return bs, nb
		}
	}
	bs := count / w
	return bs, count / bs
}

package taskgraph

import (
	"sync"
	"sync/atomic"

	"github.com/ygrebnov/taskgraph/internal/graph"
	"github.com/ygrebnov/taskgraph/internal/lockfree"
	"github.com/ygrebnov/taskgraph/metrics"
)

// workerSlot is one OS-thread-backed worker within a band pool. wake is
// the channel-based stand-in for the OS event the spec describes parking
// on: a buffered-1 channel behaves like an auto-reset event — a send
// that arrives before the receive is still observed, exactly as a
// pre-signaled event would be.
type workerSlot struct {
	index uint32
	wake  chan struct{}
}

// bandPool is one worker-priority band's pool of OS worker threads
// (goroutines, in this rewrite — see DESIGN.md) sharing a single
// StallingFIFO. Per spec §4.E, a worker never steals from another band
// and never steals from another worker's inbox within the same band: the
// whole point of the shared StallingFIFO is that there is no "another
// worker's inbox" to steal from.
type bandPool struct {
	band    ThreadBand
	sched   *Scheduler
	sf      *lockfree.StallingFIFO
	workers []*workerSlot
	quit    atomic.Bool
	wg      sync.WaitGroup

	dispatched metrics.Counter
	stalls     metrics.Counter
}

func newBandPool(sched *Scheduler, band ThreadBand, n uint) *bandPool {
	fifos := make([]*lockfree.Queue, numPriorities)
	for i := range fifos {
		fifos[i] = lockfree.NewQueue(sched.links)
	}
	bp := &bandPool{
		band:  band,
		sched: sched,
		sf:    lockfree.NewStallingFIFO(fifos),
	}
	bp.dispatched = sched.cfg.Metrics.Counter("taskgraph.band.dispatched", metrics.WithAttributes(map[string]string{"band": bandName(band)}))
	bp.stalls = sched.cfg.Metrics.Counter("taskgraph.band.stalls", metrics.WithAttributes(map[string]string{"band": bandName(band)}))

	bp.workers = make([]*workerSlot, n)
	for i := range bp.workers {
		bp.workers[i] = &workerSlot{index: uint32(i), wake: make(chan struct{}, 1)}
	}
	bp.wg.Add(int(n))
	for i := range bp.workers {
		go bp.run(bp.workers[i])
	}
	return bp
}

func bandName(b ThreadBand) string {
	switch b {
	case BandNormal:
		return "normal"
	case BandHigh:
		return "high"
	case BandBackground:
		return "background"
	default:
		return "unknown"
	}
}

// push enqueues item (always a *graph.Task) at the given task priority
// and wakes the selected worker, if any. The StallingFIFO's sub-queues
// are ordered highest priority first, so PriorityHigh maps to index 0.
func (bp *bandPool) push(priority TaskPriority, item any) {
	bp.dispatched.Add(1)
	if idx, ok := bp.sf.Push(numPriorities-1-int(priority), item); ok {
		select {
		case bp.workers[idx].wake <- struct{}{}:
		default:
		}
	}
}

// workerCurrentThread returns the opaque "currentThread" value this worker
// should identify itself as — used only so dispatch chains triggered from
// inside a worker-executed task can take the named-thread same-thread
// fast path when routing a task back to... itself, which cannot happen
// for workers (workers have no stable identity tasks route to), so this
// always resolves to graph.UnknownThread for worker-originated routing.
// Kept as a named function rather than inlining the constant so the
// intent reads at call sites.
func workerCurrentThread() uint32 { return graph.UnknownThread }

func (bp *bandPool) run(slot *workerSlot) {
	defer bp.wg.Done()
	for {
		item, found, stalled := bp.sf.Pop(slot.index, true)
		if found {
			item.(*graph.Task).Execute(workerCurrentThread())
			continue
		}
		if bp.quit.Load() {
			return
		}
		if !stalled {
			continue // a push raced in; re-scan instead of blocking
		}
		bp.stalls.Add(1)
		<-slot.wake
		if bp.quit.Load() {
			return
		}
	}
}

// shutdown posts one return signal per worker and waits for them all to
// exit, mirroring the teacher's lifecycle.go's "cancel, then wait"
// sequencing.
func (bp *bandPool) shutdown() {
	bp.quit.Store(true)
	for _, w := range bp.workers {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
	bp.wg.Wait()
}

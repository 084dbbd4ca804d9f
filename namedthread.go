package taskgraph

import (
	"sync/atomic"

	"github.com/ygrebnov/taskgraph/internal/graph"
	"github.com/ygrebnov/taskgraph/internal/link"
	"github.com/ygrebnov/taskgraph/internal/lockfree"
)

// priorityQueue is a single named-thread queue (main or local), sorted
// into the two task-priority sub-FIFOs described in spec §3 ("Named
// Thread Queue ... each sorted into two priority sub-FIFOs").
type priorityQueue struct {
	fifos [numPriorities]*lockfree.Queue
}

func newPriorityQueue(links *link.Allocator) *priorityQueue {
	pq := &priorityQueue{}
	for i := range pq.fifos {
		pq.fifos[i] = lockfree.NewQueue(links)
	}
	return pq
}

func (pq *priorityQueue) push(priority TaskPriority, item any) {
	pq.fifos[priority].Push(item)
}

// pop serves the PriorityHigh sub-FIFO before the PriorityNormal one.
func (pq *priorityQueue) pop() (any, bool) {
	for i := len(pq.fifos) - 1; i >= 0; i-- {
		if v, ok := pq.fifos[i].Pop(); ok {
			return v, true
		}
	}
	return nil, false
}

func (pq *priorityQueue) empty() bool {
	for _, f := range pq.fifos {
		if !f.Empty() {
			return false
		}
	}
	return true
}

// namedThread is a pre-existing application thread that has registered
// itself via Scheduler.AttachToThread. main is pushed to by any thread;
// local is pushed to only by the owning thread itself (spec §3: "Local
// queues are only pushed from the owning thread and never from other
// threads").
type namedThread struct {
	id    ThreadID
	name  string
	main  *priorityQueue
	local *priorityQueue
	wake  chan struct{}
	quit  atomic.Bool

	attached atomic.Bool
}

func newNamedThread(id ThreadID, name string, links *link.Allocator) *namedThread {
	return &namedThread{
		id:    id,
		name:  name,
		main:  newPriorityQueue(links),
		local: newPriorityQueue(links),
		wake:  make(chan struct{}, 1),
	}
}

func (nt *namedThread) queue(sel QueueSelector) *priorityQueue {
	if sel == QueueLocal {
		return nt.local
	}
	return nt.main
}

func (nt *namedThread) push(sel QueueSelector, priority TaskPriority, item any) {
	nt.queue(sel).push(priority, item)
	select {
	case nt.wake <- struct{}{}:
	default:
	}
}

// popAny checks both queues, main before local, each priority-ordered
// within itself. The exact main/local precedence is not specified by the
// spec beyond "up to two queues"; main-first matches the intuition that
// externally-pushed work should not starve behind self-generated work.
func (nt *namedThread) popAny() (any, bool) {
	if v, ok := nt.main.pop(); ok {
		return v, true
	}
	return nt.local.pop()
}

func (nt *namedThread) empty() bool { return nt.main.empty() && nt.local.empty() }

// ThreadHandle is returned by Scheduler.AttachToThread and threaded
// through subsequent calls by the caller. It stands in for the
// thread-local-storage slot described in spec §4.E/§9 — Go has no
// language-level TLS, and a named thread already runs its own dedicated
// processing loop, so the handle is simply the value that loop already
// has in scope. See DESIGN.md for the full rationale.
type ThreadHandle struct {
	id    ThreadID
	sched *Scheduler
}

// ID returns the thread's identity, usable as a Route currentThread
// value or in Destination construction.
func (h *ThreadHandle) ID() ThreadID { return h.id }

// processUntilIdle drains nt's queues without ever stalling — the
// process_tasks_until_idle variant from spec §4.E, used while pumping
// inside a wait.
func (nt *namedThread) processUntilIdle(currentThread uint32) {
	for {
		v, ok := nt.popAny()
		if !ok {
			return
		}
		v.(*graph.Task).Execute(currentThread)
	}
}

// processUntilQuit is process_tasks_until_quit: pop (stalling on an empty
// queue), execute, repeat until a return-task sets nt.quit.
func (nt *namedThread) processUntilQuit(currentThread uint32) {
	for {
		v, ok := nt.popAny()
		if ok {
			v.(*graph.Task).Execute(currentThread)
			if nt.quit.Load() {
				return
			}
			continue
		}
		if nt.quit.Load() {
			return
		}
		<-nt.wake
	}
}

// processUntilDone pumps nt's queues, same as processUntilQuit, but stops
// on a caller-owned done flag instead of nt.quit. The Wait API uses this
// so a wait can pump a named thread's queue to make progress on its own
// prerequisites without ending that thread's outer
// ProcessThreadUntilRequestReturn loop — nt.quit is reserved for a real
// RequestReturn/Shutdown.
func (nt *namedThread) processUntilDone(currentThread uint32, done *atomic.Bool) {
	for {
		if done.Load() {
			return
		}
		v, ok := nt.popAny()
		if ok {
			v.(*graph.Task).Execute(currentThread)
			continue
		}
		if done.Load() || nt.quit.Load() {
			return
		}
		<-nt.wake
	}
}

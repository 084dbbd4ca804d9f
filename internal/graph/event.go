package graph

import (
	"sync"
	"sync/atomic"

	"github.com/ygrebnov/taskgraph/internal/link"
	"github.com/ygrebnov/taskgraph/internal/lockfree"
)

// eventLinks backs every Event's subsequents list. It is process-wide and
// shared, exactly as spec §5 describes the link allocator: "shared across
// all threads; mutation is lock-free and single-writer-per-index." One
// link is spent per AddSubsequent call; since a subsequents chain is
// consumed exactly once by PopAllAndClose, there is no steady-state
// benefit to recycling these (unlike the FIFO queue's internal nodes),
// so no freelist is layered on top here.
var eventLinks = link.New()

// Event is the graph event from spec §3/§4.D: a closable single-consumer
// list of dependent tasks, an ordered wait-for list mutated only from
// inside the owning task's execution, and a reference count.
type Event struct {
	subsequents *lockfree.ClosableList

	mu           sync.Mutex // guards waitFor; only ever touched from the owning task's body
	waitFor      []*Event
	dispatchedMu sync.Mutex // serializes re-entrant dispatch calls triggered by the gather task

	refCount atomic.Int32
}

// NewEvent returns a new, open, empty Event with a reference count of 1.
func NewEvent() *Event {
	e := &Event{subsequents: lockfree.NewClosableList(eventLinks)}
	e.refCount.Store(1)
	return e
}

// AddRef increments the reference count. Pair with Release.
func (e *Event) AddRef() { e.refCount.Add(1) }

// Release decrements the reference count. It is a fatal error (per spec
// §3 "destruction while open is a fatal error") for the count to reach
// zero while the subsequents list is still open.
func (e *Event) Release() {
	if v := e.refCount.Add(-1); v == 0 {
		if !e.subsequents.IsClosed() {
			panic("graph: event reference count reached zero while its subsequents list is open")
		}
	} else if v < 0 {
		panic("graph: event reference count underflow")
	}
}

// AddSubsequent registers t as a dependent of e. Returns false if e's
// subsequents list has already closed (dispatch has begun); the caller
// must then queue t directly via ConditionalQueue, per the "late
// subsequent" recoverable error in spec §7.
func (e *Event) AddSubsequent(t *Task) bool {
	idx := eventLinks.Alloc(1)
	eventLinks.Get(idx).Payload = t
	if e.subsequents.PushIfNotClosed(idx) {
		return true
	}
	return false
}

// IsComplete reports whether e's subsequents list has closed, i.e.
// dispatch has run. Used by the scheduler's wait-short-circuit
// optimization (spec §4.E).
func (e *Event) IsComplete() bool { return e.subsequents.IsClosed() }

// DontCompleteUntil appends other to e's wait-for list. Legal only during
// the executing phase of the task that owns e; callers outside the task
// graph package (the scheduler, task bodies via the Event handle passed
// to DoTask) are expected to respect that, and Validate builds could add
// a stage check if a caller surfaces a Task alongside the Event — left
// as a documented caller contract rather than enforced here, since Event
// itself has no back-pointer to the owning Task's stage.
func (e *Event) DontCompleteUntil(other *Event) {
	if other == nil {
		panic("graph: DontCompleteUntil(nil)")
	}
	e.mu.Lock()
	e.waitFor = append(e.waitFor, other)
	e.mu.Unlock()
}

// DispatchSubsequents implements spec §4.D's dispatch algorithm: if
// events-to-wait-for is non-empty, swap it out and create a gather task
// whose prerequisites are the swapped list and whose only subsequent is
// this same event (a privileged "reuse, don't recreate" construction);
// otherwise, close the subsequents list and queue every popped dependent.
// Task.Execute calls this automatically for tracked tasks; exported so
// standalone events (not owned by any task) can be dispatched directly.
func (e *Event) DispatchSubsequents(currentThread uint32, router Router) {
	e.dispatchedMu.Lock()
	e.mu.Lock()
	waitFor := e.waitFor
	e.waitFor = nil
	e.mu.Unlock()

	if len(waitFor) > 0 {
		e.dispatchedMu.Unlock()
		// newGatherTask routes the gather task itself once every event in
		// waitFor has dispatched.
		newGatherTask(router, e, waitFor, currentThread)
		return
	}
	defer e.dispatchedMu.Unlock()

	head := e.subsequents.PopAllAndClose()
	// Pop order is LIFO with respect to push order; collect into a slice
	// first and iterate in reverse so dependents queue in approximately
	// the FIFO order they were added, per spec §5's ordering note.
	var chain []*Task
	for idx := head; idx != link.Null; {
		lk := eventLinks.Get(idx)
		chain = append(chain, lk.Payload.(*Task))
		next := lk.LIFONext
		lk.Payload = nil
		idx = next
	}
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].ConditionalQueue(currentThread)
	}
}

// gatherPayload is the "special gather task" from spec §4.D: it has no
// user-visible body, exists purely to be queued once all of waitFor has
// dispatched, and re-enters DispatchSubsequents on the now-satisfied
// event with an empty wait list.
type gatherPayload struct {
	owner *Event
	dest  Destination
}

func (g *gatherPayload) DesiredDestination() Destination { return g.dest }
func (g *gatherPayload) SubsequentsMode() SubsequentsMode { return TrackSubsequents }
func (g *gatherPayload) DoTask(currentThread uint32, _ *Event) {
	// The gather task's own completion event is g.owner (see
	// newGatherTask), reused rather than freshly created: its dispatch
	// re-enters owner.DispatchSubsequents, which will now find waitFor
	// empty and proceed to close and release the real subsequents.
}

// newGatherTask builds a task whose prerequisites are waitFor and whose
// completion event is reused as owner itself, per the spec's "privileged
// constructor that reuses the already-existing event rather than
// creating a new one."
func newGatherTask(router Router, owner *Event, waitFor []*Event, currentThread uint32) *Task {
	t := &Task{payload: &gatherPayload{owner: owner, dest: router.GatherDestination()}, router: router, completion: owner}
	t.stage.Store(int32(BaseConstructed))
	t.advanceStage(Constructed)
	t.setDestination(t.payload.DesiredDestination())

	alreadyDone := 0
	t.prereqs.Store(int32(len(waitFor)) + 1)
	t.advanceStage(PrereqsSetup)
	for _, w := range waitFor {
		if !w.AddSubsequent(t) {
			alreadyDone++
		}
	}
	t.PrerequisitesComplete(alreadyDone, true, currentThread)
	return t
}

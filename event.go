package taskgraph

import "github.com/ygrebnov/taskgraph/internal/graph"

// Event is the public handle onto a graph completion event: a
// closable list of dependent tasks plus a "don't complete until" wait
// list, reference-counted per spec §3/§4.D. A Task created with
// TrackSubsequents carries one automatically (see Task.Completion);
// NewEvent builds a standalone one for code that needs to gather
// dependents without a backing task (e.g. the Wait API's own internal
// use, or a caller coordinating completion across several graphs).
type Event struct {
	inner *graph.Event
	sched *Scheduler
}

// NewEvent returns a new, open, empty Event bound to sched for routing
// any gather tasks its dispatch needs to create.
func NewEvent(sched *Scheduler) *Event {
	return &Event{inner: graph.NewEvent(), sched: sched}
}

func wrapEvent(sched *Scheduler, e *graph.Event) *Event {
	if e == nil {
		return nil
	}
	return &Event{inner: e, sched: sched}
}

// AddSubsequent registers t as a dependent of e. Returns false if e has
// already dispatched; per spec §4.D, the caller then treats the
// prerequisite as already satisfied (ConditionalQueue directly).
func (e *Event) AddSubsequent(t *Task) bool { return e.inner.AddSubsequent(t.inner) }

// DispatchSubsequents runs e's dispatch algorithm from currentThread's
// perspective. Task.Execute already calls this for any task that tracks
// subsequents; exported for standalone events.
func (e *Event) DispatchSubsequents(currentThread uint32) {
	e.inner.DispatchSubsequents(currentThread, e.sched)
}

// DontCompleteUntil appends other to e's wait-for list. Legal only
// during the executing phase of the task that owns e.
func (e *Event) DontCompleteUntil(other *Event) { e.inner.DontCompleteUntil(other.inner) }

// IsComplete reports whether e has dispatched.
func (e *Event) IsComplete() bool { return e.inner.IsComplete() }

// AddRef increments e's reference count. Pair with Release.
func (e *Event) AddRef() { e.inner.AddRef() }

// Release decrements e's reference count. It is a fatal error for the
// count to reach zero while e has not yet dispatched.
func (e *Event) Release() { e.inner.Release() }

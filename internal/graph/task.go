// Package graph implements the task and graph-event model from spec §4.D:
// base task objects with a strict life-cycle, completion events with
// "don't-complete-until" chaining, and the prerequisite-counting protocol
// that hands a task back to a scheduler once it becomes queueable.
//
// The package does not import the scheduler: a Router is injected so the
// same task/event model can be driven by tests without a full scheduler,
// mirroring the teacher's own task.go being independent of workers.go's
// dispatch machinery.
package graph

import (
	"fmt"
	"sync/atomic"
)

// Destination packs everything the scheduler needs to route a task:
// thread identity, queue selection, thread-priority band, and in-band
// task priority. It is an opaque value as far as this package is
// concerned; the scheduler package defines the packing/unpacking.
type Destination uint32

// Router is the minimum surface this package needs from a scheduler: hand
// a queueable task to it. Implemented by *taskgraph.Scheduler.
//
// currentThread carries whatever thread identity the caller already
// knows, so Route can take the same-thread fast path described in spec
// §4.E ("compare against the current thread") without true
// thread-local storage, which Go does not provide at the language level.
// Named threads and workers always know their own identity (they are
// sequential loops, so it is simply a local variable); an arbitrary
// producer goroutine that does not is expected to pass UnknownThread,
// in which case Route conservatively takes the cross-thread path. See
// DESIGN.md for the rationale.
type Router interface {
	Route(t *Task, currentThread uint32)

	// GatherDestination returns the destination a gather task (see
	// newGatherTask in event.go) should route to: any worker, high
	// priority, since a gather task has no user-assigned destination of
	// its own and should run promptly once its wait-for list dispatches.
	GatherDestination() Destination
}

// Stage is the task life-cycle enum from spec §3. It is only checked in
// non-shipping builds (see Validate and advanceStage), matching "used only under
// non-shipping validation."
type Stage int32

const (
	BaseConstructed Stage = iota
	Constructed
	ThreadSet
	PrereqsSetup
	Queued
	Executing
	Destructed
)

func (s Stage) String() string {
	switch s {
	case BaseConstructed:
		return "BaseConstructed"
	case Constructed:
		return "Constructed"
	case ThreadSet:
		return "ThreadSet"
	case PrereqsSetup:
		return "PrereqsSetup"
	case Queued:
		return "Queued"
	case Executing:
		return "Executing"
	case Destructed:
		return "Destructed"
	default:
		return "Stage(?)"
	}
}

// Validate, when true, enables the life-stage monotonicity assertions and
// a handful of other non-shipping checks described throughout spec §3-4.
// Analogous to a debug build flag; off by default so the hot path never
// pays for it.
var Validate = false

// SubsequentsMode selects whether a task carries a completion Event.
type SubsequentsMode int

const (
	FireAndForget SubsequentsMode = iota
	TrackSubsequents
)

// Payload is the user-supplied callable, boxed behind a small interface
// rather than a per-task allocation of a closure value — the spec's
// "payload strategy slot ... tagged by type identifier" is realized here
// simply as a Go interface value, which already carries that tag (its
// dynamic type) and already distinguishes small value-receiver types
// (inline, no further heap traffic beyond the interface's own data word)
// from pointer-receiver types backed by a heap allocation. A bespoke
// inline-buffer-plus-vtable encoding would only pay for itself under an
// allocator this package does not otherwise need.
type Payload interface {
	DesiredDestination() Destination
	SubsequentsMode() SubsequentsMode
	DoTask(currentThread uint32, completion *Event)
}

// UnknownThread is passed by callers that have no TLS-equivalent
// identity of their own (an arbitrary producer goroutine, as opposed to
// a named thread's or worker's processing loop). Routing always treats
// it as not matching any named thread.
const UnknownThread uint32 = 0xFFFFFFFE

// Task is the atomic unit of work described in spec §3.
type Task struct {
	destination atomic.Uint32
	prereqs     atomic.Int32 // outstanding-prerequisite counter
	stage       atomic.Int32 // Stage, monotonic under Validate
	payload     Payload
	completion  *Event // nil for FireAndForget tasks
	router      Router
}

// New constructs a task wired to router, with nPrereqs prerequisites plus
// the implicit setup lock (see PrerequisitesComplete). It is a fatal
// precondition violation for any element of prereqEvents to be nil;
// callers (the typed task-construction API) must validate before calling
// New.
func New(router Router, payload Payload, prereqEvents []*Event) *Task {
	for _, e := range prereqEvents {
		if e == nil {
			panic("graph: task constructed with a nil prerequisite event")
		}
	}

	t := &Task{payload: payload, router: router}
	t.stage.Store(int32(BaseConstructed))
	t.advanceStage(Constructed)

	t.setDestination(payload.DesiredDestination())

	if payload.SubsequentsMode() == TrackSubsequents {
		t.completion = NewEvent()
	}

	// +1 for the setup lock, released by PrerequisitesComplete once the
	// caller has finished wiring prerequisites (added t as a subsequent
	// of each event in prereqEvents, or decided not to because the event
	// was already closed).
	t.prereqs.Store(int32(len(prereqEvents)) + 1)
	t.advanceStage(PrereqsSetup)

	return t
}

func (t *Task) setDestination(d Destination) {
	t.destination.Store(uint32(d))
	t.advanceStage(ThreadSet)
}

// Destination returns the task's routing destination.
func (t *Task) Destination() Destination { return Destination(t.destination.Load()) }

// Completion returns the task's completion event, or nil for a
// fire-and-forget task.
func (t *Task) Completion() *Event { return t.completion }

// PrerequisitesComplete subtracts alreadyDoneCount (prerequisites that
// were already closed at wiring time and so never got to register a
// dependency) plus 1 if unlock is true (the setup lock) from the
// outstanding-prerequisite counter. If the counter reaches zero, the task
// is routed. Valid to call at most once per task — it represents
// finishing the setup phase, not a per-prerequisite decrement (that is
// ConditionalQueue's job).
func (t *Task) PrerequisitesComplete(alreadyDoneCount int, unlock bool, currentThread uint32) {
	delta := int32(alreadyDoneCount)
	if unlock {
		delta++
	}
	if t.prereqs.Add(-delta) == 0 {
		t.enqueue(currentThread)
	}
}

// ConditionalQueue is called by a producing event's dispatch once one of
// this task's prerequisites has itself dispatched. It decrements the
// outstanding counter and routes the task if it reaches zero.
func (t *Task) ConditionalQueue(currentThread uint32) {
	if v := t.prereqs.Add(-1); v == 0 {
		t.enqueue(currentThread)
	} else if v < 0 {
		panic(fmt.Sprintf("graph: task prerequisite counter went negative (%d)", v))
	}
}

func (t *Task) enqueue(currentThread uint32) {
	t.advanceStage(Queued)
	t.router.Route(t, currentThread)
}

// Execute runs the task's payload and, if it tracks subsequents,
// dispatches its completion event. currentThread identifies the thread
// the payload is running on (an opaque value defined by the scheduler
// package; this package only ever forwards it).
func (t *Task) Execute(currentThread uint32) {
	t.advanceStage(Executing)
	t.payload.DoTask(currentThread, t.completion)
	t.payload = nil
	if t.completion != nil {
		t.completion.DispatchSubsequents(currentThread, t.router)
	}
}

// Destruct marks the task destructed. Under Validate, it is a fatal error
// to destruct a task whose completion event still has outstanding
// subsequents (i.e. has not dispatched/closed).
func (t *Task) Destruct() {
	if Validate && t.completion != nil && !t.completion.subsequents.IsClosed() {
		panic("graph: task destructed with outstanding subsequents")
	}
	t.advanceStage(Destructed)
}

func (t *Task) advanceStage(to Stage) {
	if !Validate {
		t.stage.Store(int32(to))
		return
	}
	from := Stage(t.stage.Swap(int32(to)))
	if from > to {
		panic(fmt.Sprintf("graph: task life-stage regressed from %s to %s", from, to))
	}
}

// Stage reports the task's current life stage. Only meaningful under
// Validate; outside validation builds it is updated but never asserted.
func (t *Task) Stage() Stage { return Stage(t.stage.Load()) }

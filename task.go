package taskgraph

import "github.com/ygrebnov/taskgraph/internal/graph"

// Destination is the packed routing value produced by MakeDestination.
type Destination = graph.Destination

// SubsequentsMode selects whether a constructed task carries a
// completion Event.
type SubsequentsMode = graph.SubsequentsMode

const (
	FireAndForget    = graph.FireAndForget
	TrackSubsequents = graph.TrackSubsequents
)

// Payload is the user-supplied task body: spec §6's task construction
// API requires, at minimum, a desired destination, a subsequents mode,
// and the callable itself.
type Payload interface {
	DesiredDestination() Destination
	SubsequentsMode() SubsequentsMode
	DoTask(currentThread uint32, completion *Event)
}

// payloadAdapter lets a root Payload satisfy internal/graph.Payload,
// translating the completion event it receives into the public Event
// wrapper rather than exposing internal/graph to callers.
type payloadAdapter struct {
	user  Payload
	sched *Scheduler
}

func (a *payloadAdapter) DesiredDestination() graph.Destination { return a.user.DesiredDestination() }
func (a *payloadAdapter) SubsequentsMode() graph.SubsequentsMode { return a.user.SubsequentsMode() }
func (a *payloadAdapter) DoTask(currentThread uint32, completion *graph.Event) {
	a.user.DoTask(currentThread, wrapEvent(a.sched, completion))
}

// Task is the public handle onto a constructed task.
type Task struct {
	inner       *graph.Task
	sched       *Scheduler
	alreadyDone int
}

// Completion returns t's completion event, or nil if it was
// constructed FireAndForget.
func (t *Task) Completion() *Event { return wrapEvent(t.sched, t.inner.Completion()) }

// HeldTask is returned by TaskFactory.ConstructAndHold: the task is
// constructed and its prerequisites are wired, but the setup lock is
// not released until Unlock is called, per spec §6's
// construct_and_hold/unlock pair.
type HeldTask struct {
	task          *Task
	currentThread uint32
	unlocked      bool
}

// Task returns the underlying constructed task.
func (h *HeldTask) Task() *Task { return h.task }

// Unlock releases the held task's setup lock, permitting dispatch once
// its remaining prerequisites (if any) complete. Calling Unlock more
// than once is a programming error, since PrerequisitesComplete may
// only run once per task.
func (h *HeldTask) Unlock() {
	if h.unlocked {
		panic(Namespace + ": HeldTask.Unlock called more than once")
	}
	h.unlocked = true
	h.task.inner.PrerequisitesComplete(h.task.alreadyDone, true, h.currentThread)
}

// TaskFactory is the "generic constructor" from spec §6: bound to a
// scheduler, a fixed prerequisite set, and a thread-identity hint, it
// builds tasks via ConstructAndDispatchWhenReady or ConstructAndHold.
type TaskFactory struct {
	sched         *Scheduler
	prereqs       []*Event
	currentThread uint32
}

// NewTaskFactory returns a factory that wires every constructed task to
// prereqs. currentThreadIfKnown lets Route take the same-thread fast
// path; pass nil if the caller has no stable thread identity.
func NewTaskFactory(sched *Scheduler, prereqs []*Event, currentThreadIfKnown *ThreadHandle) *TaskFactory {
	ct := graph.UnknownThread
	if currentThreadIfKnown != nil {
		ct = uint32(currentThreadIfKnown.id)
	}
	return &TaskFactory{sched: sched, prereqs: prereqs, currentThread: ct}
}

func (f *TaskFactory) build(payload Payload) *Task {
	adapter := &payloadAdapter{user: payload, sched: f.sched}
	prereqEvents := make([]*graph.Event, len(f.prereqs))
	for i, e := range f.prereqs {
		prereqEvents[i] = e.inner
	}
	gt := graph.New(f.sched, adapter, prereqEvents)
	t := &Task{inner: gt, sched: f.sched}
	for _, e := range f.prereqs {
		if !e.AddSubsequent(t) {
			t.alreadyDone++
		}
	}
	return t
}

// ConstructAndDispatchWhenReady builds payload into a task, wires it to
// the factory's prerequisites, and releases the setup lock immediately:
// the task dispatches as soon as any remaining prerequisites complete.
func (f *TaskFactory) ConstructAndDispatchWhenReady(payload Payload) *Task {
	t := f.build(payload)
	t.inner.PrerequisitesComplete(t.alreadyDone, true, f.currentThread)
	return t
}

// ConstructAndHold builds payload into a task and wires it to the
// factory's prerequisites, but withholds the setup lock: the returned
// HeldTask must have Unlock called before the task can dispatch.
func (f *TaskFactory) ConstructAndHold(payload Payload) *HeldTask {
	t := f.build(payload)
	return &HeldTask{task: t, currentThread: f.currentThread}
}

package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// syncRouter queues routed tasks and runs them synchronously on the
// calling goroutine when drain is called — enough to exercise the prerequisite/dispatch
// protocol without a real scheduler, mirroring the package doc's note that
// Router lets this model be driven by tests standalone.
type syncRouter struct {
	mu      sync.Mutex
	pending []*Task
}

func (r *syncRouter) Route(t *Task, currentThread uint32) {
	r.mu.Lock()
	r.pending = append(r.pending, t)
	r.mu.Unlock()
}

func (r *syncRouter) GatherDestination() Destination { return 0 }

// drain runs every task queued so far, including ones queued as a result
// of running earlier ones (gather tasks, dependents), until none remain.
func (r *syncRouter) drain(currentThread uint32) {
	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.mu.Unlock()
			return
		}
		t := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		t.Execute(currentThread)
	}
}

type fnPayload struct {
	mode SubsequentsMode
	fn   func(currentThread uint32, completion *Event)
}

func (p *fnPayload) DesiredDestination() Destination { return 0 }
func (p *fnPayload) SubsequentsMode() SubsequentsMode { return p.mode }
func (p *fnPayload) DoTask(currentThread uint32, completion *Event) {
	if p.fn != nil {
		p.fn(currentThread, completion)
	}
}

func TestTaskRunsImmediatelyWithNoPrerequisites(t *testing.T) {
	r := &syncRouter{}
	var ran bool
	payload := &fnPayload{mode: FireAndForget, fn: func(uint32, *Event) { ran = true }}

	task := New(r, payload, nil)
	task.PrerequisitesComplete(0, true, UnknownThread)
	r.drain(UnknownThread)

	require.True(t, ran, "task with no prerequisites should run once PrerequisitesComplete unlocks it")
}

func TestTaskWaitsForPrerequisite(t *testing.T) {
	r := &syncRouter{}
	prereq := NewEvent()

	var ran bool
	payload := &fnPayload{mode: FireAndForget, fn: func(uint32, *Event) { ran = true }}
	task := New(r, payload, []*Event{prereq})

	require.True(t, prereq.AddSubsequent(task), "AddSubsequent should succeed on an open event")

	task.PrerequisitesComplete(0, true, UnknownThread)
	r.drain(UnknownThread)
	require.False(t, ran, "task must not run before its prerequisite dispatches")

	prereq.DispatchSubsequents(UnknownThread, r)
	r.drain(UnknownThread)
	require.True(t, ran, "task should run once its prerequisite dispatches")
}

func TestAddSubsequentOnAlreadyClosedEvent(t *testing.T) {
	r := &syncRouter{}
	e := NewEvent()
	e.DispatchSubsequents(UnknownThread, r) // closes with no subsequents

	task := New(r, &fnPayload{mode: FireAndForget}, nil)
	require.False(t, e.AddSubsequent(task), "AddSubsequent on a dispatched event should return false")
}

func TestCompletionEventFansOutToMultipleSubsequents(t *testing.T) {
	r := &syncRouter{}
	prereq := NewEvent()

	var count int
	var mu sync.Mutex
	makeDependent := func() *Task {
		return New(r, &fnPayload{mode: FireAndForget, fn: func(uint32, *Event) {
			mu.Lock()
			count++
			mu.Unlock()
		}}, []*Event{prereq})
	}

	tasks := make([]*Task, 5)
	for i := range tasks {
		tasks[i] = makeDependent()
		prereq.AddSubsequent(tasks[i])
		tasks[i].PrerequisitesComplete(0, true, UnknownThread)
	}

	prereq.DispatchSubsequents(UnknownThread, r)
	r.drain(UnknownThread)

	require.Equal(t, 5, count, "every dependent should run exactly once")
}

func TestDontCompleteUntilDelaysDispatch(t *testing.T) {
	r := &syncRouter{}
	owner := NewEvent()
	blocker := NewEvent()

	var subsequentRan bool
	dependent := New(r, &fnPayload{mode: FireAndForget, fn: func(uint32, *Event) { subsequentRan = true }}, []*Event{owner})
	owner.AddSubsequent(dependent)
	dependent.PrerequisitesComplete(0, true, UnknownThread)

	owner.DontCompleteUntil(blocker)
	owner.DispatchSubsequents(UnknownThread, r)
	r.drain(UnknownThread)

	require.False(t, subsequentRan, "owner's subsequents must not run before the don't-complete-until event dispatches")

	blocker.DispatchSubsequents(UnknownThread, r)
	r.drain(UnknownThread)

	require.True(t, subsequentRan, "owner's subsequents should run once the don't-complete-until event dispatches")
}

func TestEventReleaseWhileOpenPanics(t *testing.T) {
	e := NewEvent()
	require.Panics(t, func() { e.Release() }, "Release on an open event's last reference should panic")
}

func TestTaskPrerequisiteCounterNegativePanics(t *testing.T) {
	r := &syncRouter{}
	task := New(r, &fnPayload{mode: FireAndForget}, nil)
	task.PrerequisitesComplete(0, true, UnknownThread)

	require.Panics(t, func() { task.ConditionalQueue(UnknownThread) },
		"an extra ConditionalQueue call should panic on negative underflow")
}

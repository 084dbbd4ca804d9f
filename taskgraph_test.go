package taskgraph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, opts ...Option) *Scheduler {
	t.Helper()
	sched, err := Startup(opts...)
	require.NoError(t, err)
	t.Cleanup(sched.Shutdown)
	return sched
}

type fnTask struct {
	dest Destination
	mode SubsequentsMode
	fn   func(currentThread uint32, completion *Event)
}

func (f *fnTask) DesiredDestination() Destination { return f.dest }
func (f *fnTask) SubsequentsMode() SubsequentsMode { return f.mode }
func (f *fnTask) DoTask(currentThread uint32, completion *Event) {
	if f.fn != nil {
		f.fn(currentThread, completion)
	}
}

func anyNormal() Destination {
	return MakeDestination(AnyWorker, QueueMain, BandNormal, PriorityNormal)
}

func TestStartupRequiresAtLeastOneNamedThread(t *testing.T) {
	_, err := Startup(WithNamedThreads())
	require.Error(t, err)
}

func TestSingleTaskRunsAndCompletes(t *testing.T) {
	sched := newTestScheduler(t)
	var ran atomic.Bool

	task := NewTaskFactory(sched, nil, nil).ConstructAndDispatchWhenReady(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
		fn:   func(uint32, *Event) { ran.Store(true) },
	})

	sched.WaitUntilTasksComplete([]*Event{task.Completion()}, nil)
	require.True(t, ran.Load(), "task never ran")
}

func TestChainOfThreeRunsInOrder(t *testing.T) {
	sched := newTestScheduler(t)
	var order []int
	var mu sync.Mutex
	record := func(n int) func(uint32, *Event) {
		return func(uint32, *Event) {
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
		}
	}

	first := NewTaskFactory(sched, nil, nil).ConstructAndDispatchWhenReady(
		&fnTask{dest: anyNormal(), mode: TrackSubsequents, fn: record(1)})
	second := NewTaskFactory(sched, []*Event{first.Completion()}, nil).ConstructAndDispatchWhenReady(
		&fnTask{dest: anyNormal(), mode: TrackSubsequents, fn: record(2)})
	third := NewTaskFactory(sched, []*Event{second.Completion()}, nil).ConstructAndDispatchWhenReady(
		&fnTask{dest: anyNormal(), mode: TrackSubsequents, fn: record(3)})

	sched.WaitUntilTasksComplete([]*Event{third.Completion()}, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestFanOutFanIn(t *testing.T) {
	sched := newTestScheduler(t)
	const n = 20
	var count atomic.Int32

	factory := NewTaskFactory(sched, nil, nil)
	events := make([]*Event, n)
	for i := 0; i < n; i++ {
		task := factory.ConstructAndDispatchWhenReady(&fnTask{
			dest: anyNormal(),
			mode: TrackSubsequents,
			fn:   func(uint32, *Event) { count.Add(1) },
		})
		events[i] = task.Completion()
	}

	var joinRan atomic.Bool
	join := NewTaskFactory(sched, events, nil).ConstructAndDispatchWhenReady(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
		fn:   func(uint32, *Event) { joinRan.Store(true) },
	})

	sched.WaitUntilTasksComplete([]*Event{join.Completion()}, nil)
	require.True(t, joinRan.Load(), "join task never ran")
	require.EqualValues(t, n, count.Load())
}

func TestDontCompleteUntilDelaysDownstream(t *testing.T) {
	sched := newTestScheduler(t)
	var lateRan, downstreamRan atomic.Bool

	late := NewTaskFactory(sched, nil, nil).ConstructAndDispatchWhenReady(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
		fn: func(uint32, *Event) {
			time.Sleep(10 * time.Millisecond)
			lateRan.Store(true)
		},
	})

	owner := NewTaskFactory(sched, nil, nil).ConstructAndDispatchWhenReady(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
		fn: func(_ uint32, completion *Event) {
			completion.DontCompleteUntil(late.Completion())
		},
	})

	downstream := NewTaskFactory(sched, []*Event{owner.Completion()}, nil).ConstructAndDispatchWhenReady(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
		fn:   func(uint32, *Event) { downstreamRan.Store(true) },
	})

	sched.WaitUntilTasksComplete([]*Event{downstream.Completion()}, nil)

	require.True(t, lateRan.Load())
	require.True(t, downstreamRan.Load())
}

func TestAttachToThreadTwiceFails(t *testing.T) {
	sched := newTestScheduler(t, WithNamedThreads("game"))
	h, err := sched.AttachToThread("game")
	require.NoError(t, err)
	go func() {
		sched.ProcessThreadUntilRequestReturn(h)
	}()
	defer sched.RequestReturn(h.ID())

	_, err = sched.AttachToThread("game")
	require.Error(t, err, "a second AttachToThread for the same name should fail")
}

func TestAttachToUnknownThreadFails(t *testing.T) {
	sched := newTestScheduler(t)
	_, err := sched.AttachToThread("nonexistent")
	require.ErrorIs(t, err, ErrUnknownThread)
}

func TestWaitFromNamedThreadPumpsOwnQueue(t *testing.T) {
	sched := newTestScheduler(t, WithNamedThreads("game"))
	h, err := sched.AttachToThread("game")
	require.NoError(t, err)

	var workRan atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		work := NewTaskFactory(sched, nil, h).ConstructAndDispatchWhenReady(&fnTask{
			dest: MakeDestination(h.ID(), QueueMain, BandNormal, PriorityNormal),
			mode: TrackSubsequents,
			fn:   func(uint32, *Event) { workRan.Store(true) },
		})
		sched.WaitUntilTasksComplete([]*Event{work.Completion()}, h)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("wait on own named-thread queue never returned")
	}
	require.True(t, workRan.Load(), "task targeted at the named thread never ran")
}

func TestWaitUntilTasksCompleteTimeout(t *testing.T) {
	sched := newTestScheduler(t)
	released := make(chan struct{})
	blocker := NewTaskFactory(sched, nil, nil).ConstructAndDispatchWhenReady(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
		fn:   func(uint32, *Event) { <-released },
	})
	defer close(released)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sched.WaitUntilTasksCompleteTimeout(ctx, []*Event{blocker.Completion()}, nil)
	require.ErrorIs(t, err, ErrWaitTimeout)
}

func TestTriggerEventWhenTasksComplete(t *testing.T) {
	sched := newTestScheduler(t)
	task := NewTaskFactory(sched, nil, nil).ConstructAndDispatchWhenReady(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
	})

	ev := sched.AcquireOSEvent()
	defer sched.ReleaseOSEvent(ev)

	sched.TriggerEventWhenTasksComplete(ev, []*Event{task.Completion()}, nil)
	select {
	case <-ev.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("OSEvent never triggered")
	}
}

func TestHeldTaskDoesNotDispatchUntilUnlock(t *testing.T) {
	sched := newTestScheduler(t)
	var ran atomic.Bool

	held := NewTaskFactory(sched, nil, nil).ConstructAndHold(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
		fn:   func(uint32, *Event) { ran.Store(true) },
	})

	time.Sleep(10 * time.Millisecond)
	require.False(t, ran.Load(), "held task dispatched before Unlock")

	held.Unlock()
	sched.WaitUntilTasksComplete([]*Event{held.Task().Completion()}, nil)
	require.True(t, ran.Load(), "held task never dispatched after Unlock")
}

func TestBroadcastSlowRunsOnEveryWorker(t *testing.T) {
	sched := newTestScheduler(t, WithNamedThreads("game"), WithWorkersPerBand(4))
	h, err := sched.AttachToThread("game")
	require.NoError(t, err)
	go sched.ProcessThreadUntilRequestReturn(h)
	defer sched.RequestReturn(h.ID())

	var count atomic.Int32
	sched.BroadcastSlow(true, false, func(uint32) { count.Add(1) })

	want := int32(1 + sched.GetNumWorkerThreads())
	require.Equal(t, want, count.Load())
}

func TestMultithreadingDisabledRoutesToFirstNamedThread(t *testing.T) {
	sched := newTestScheduler(t, WithNamedThreads("game"), WithMultithreadingDisabled())
	h, err := sched.AttachToThread("game")
	require.NoError(t, err)

	var ran atomic.Bool
	task := NewTaskFactory(sched, nil, nil).ConstructAndDispatchWhenReady(&fnTask{
		dest: anyNormal(),
		mode: TrackSubsequents,
		fn:   func(uint32, *Event) { ran.Store(true) },
	})

	go sched.ProcessThreadUntilRequestReturn(h)
	defer sched.RequestReturn(h.ID())

	sched.WaitUntilTasksComplete([]*Event{task.Completion()}, nil)
	require.True(t, ran.Load(), "any-worker task never ran under MultithreadingDisabled")
	require.Zero(t, sched.GetNumWorkerThreads(), "no worker threads should exist when multithreading is disabled")
}

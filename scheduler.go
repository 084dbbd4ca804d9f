package taskgraph

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ygrebnov/taskgraph/internal/graph"
	"github.com/ygrebnov/taskgraph/internal/link"
	"github.com/ygrebnov/taskgraph/metrics"
	"github.com/ygrebnov/taskgraph/pool"
)

// Scheduler owns the named threads and per-priority-band worker pools
// described in spec §4.E. It is created by Startup and threaded through
// the API explicitly (spec §9's design note: "expose it as a handle
// returned by startup ... rather than a mutable global").
type Scheduler struct {
	cfg Config

	links *link.Allocator

	named     []*namedThread
	namedByID map[string]ThreadID

	bands [numBands]*bandPool // nil entry means that band is disabled

	running      atomic.Bool
	shuttingDown atomic.Bool

	events pool.Pool // recycles *OSEvent for the Wait API

	dispatched metrics.Counter
	waits      metrics.Histogram
}

// OSEvent is the channel-backed OS-event stand-in spec §6's
// trigger_event_when_tasks_complete is written against. Callers obtain
// one from AcquireOSEvent (backed by Scheduler's internal pool) rather
// than constructing it directly, so the Wait API's own internal use of
// the same pool stays cheap.
type OSEvent struct {
	ch chan struct{}
}

func newOSEvent() *OSEvent { return &OSEvent{ch: make(chan struct{}, 1)} }

// Trigger signals the event. Safe to call from any goroutine, any number
// of times; redundant signals before a Wait are coalesced, matching an
// auto-reset Win32-style event.
func (e *OSEvent) Trigger() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Trigger has been called at least once since the last
// Wait or Reset.
func (e *OSEvent) Wait() { <-e.ch }

// Reset clears any pending signal without blocking.
func (e *OSEvent) Reset() {
	select {
	case <-e.ch:
	default:
	}
}

// Startup computes the named-thread and worker-band layout from opts and
// spawns the worker pools. It is the only constructor; there is no
// global singleton (spec §9).
func Startup(opts ...Option) (*Scheduler, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	// Waiters-in-flight is bounded by the thread count (each named thread
	// and each worker can wait on at most one set of events at a time),
	// plus a handful of slack for producer goroutines that are not
	// scheduler threads at all; a fixed pool sized this way never grows
	// under steady state, matching the teacher's NewFixed contract.
	eventPoolCapacity := uint(len(cfg.NamedThreads)) + eventPoolSlack

	s := &Scheduler{
		cfg:       cfg,
		links:     link.New(),
		namedByID: make(map[string]ThreadID),
	}
	s.dispatched = cfg.Metrics.Counter("taskgraph.scheduler.dispatched")
	s.waits = cfg.Metrics.Histogram("taskgraph.scheduler.wait_seconds", metrics.WithUnit("seconds"))

	s.named = make([]*namedThread, len(cfg.NamedThreads))
	for i, name := range cfg.NamedThreads {
		id := ThreadID(i)
		s.named[i] = newNamedThread(id, name, s.links)
		s.namedByID[name] = id
	}

	if !cfg.MultithreadingDisabled {
		workers := cfg.WorkersPerBand
		if workers == 0 {
			workers = defaultWorkersPerBand()
		}
		if cfg.StallMaskWidth != 0 && workers > cfg.StallMaskWidth {
			return nil, &configError{fmt.Sprintf(
				"workers per band %d exceeds configured stall mask width %d", workers, cfg.StallMaskWidth)}
		}
		s.bands[BandNormal] = newBandPool(s, BandNormal, workers)
		eventPoolCapacity += workers
		if cfg.EnableHighPriorityWorkers {
			s.bands[BandHigh] = newBandPool(s, BandHigh, workers)
			eventPoolCapacity += workers
		}
		if cfg.EnableBackgroundPriorityWorkers {
			s.bands[BandBackground] = newBandPool(s, BandBackground, workers)
			eventPoolCapacity += workers
		}
	}

	s.events = pool.NewFixed(eventPoolCapacity, func() interface{} { return newOSEvent() })

	s.running.Store(true)
	return s, nil
}

// eventPoolSlack covers producer goroutines that are not scheduler
// threads at all (ordinary application goroutines calling
// WaitUntilTasksComplete without a ThreadHandle) waiting concurrently.
const eventPoolSlack = 8

// IsRunning reports whether the scheduler has completed Startup and has
// not yet begun Shutdown.
func (s *Scheduler) IsRunning() bool { return s.running.Load() && !s.shuttingDown.Load() }

// AcquireOSEvent returns a pooled OSEvent ready for use with
// TriggerEventWhenTasksComplete. Pair with ReleaseOSEvent once the
// caller is done waiting on it.
func (s *Scheduler) AcquireOSEvent() *OSEvent {
	ev := s.events.Get().(*OSEvent)
	ev.Reset()
	return ev
}

// ReleaseOSEvent returns ev to the pool.
func (s *Scheduler) ReleaseOSEvent(ev *OSEvent) { s.events.Put(ev) }

// GetNumWorkerThreads returns the total number of worker OS threads
// (goroutines) across every enabled band.
func (s *Scheduler) GetNumWorkerThreads() int {
	n := 0
	for _, bp := range s.bands {
		if bp != nil {
			n += len(bp.workers)
		}
	}
	return n
}

// AttachToThread registers the caller as the named thread identified by
// name, returning a handle the caller retains and passes to
// ProcessThreadUntilIdle/ProcessThreadUntilRequestReturn/RequestReturn
// (see ThreadHandle's doc comment for why this replaces TLS).
func (s *Scheduler) AttachToThread(name string) (*ThreadHandle, error) {
	id, ok := s.namedByID[name]
	if !ok {
		return nil, ErrUnknownThread
	}
	nt := s.named[id]
	if !nt.attached.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%s: thread %q already attached", Namespace, name)
	}
	return &ThreadHandle{id: id, sched: s}, nil
}

// IsThreadProcessingTasks reports whether the named thread identified by
// id has attached and is not past its return request.
func (s *Scheduler) IsThreadProcessingTasks(id ThreadID) bool {
	if int(id) >= len(s.named) {
		return false
	}
	nt := s.named[id]
	return nt.attached.Load() && !nt.quit.Load()
}

// ProcessThreadUntilIdle runs handle's queue drain loop without ever
// stalling (process_tasks_until_idle).
func (s *Scheduler) ProcessThreadUntilIdle(handle *ThreadHandle) {
	s.named[handle.id].processUntilIdle(uint32(handle.id))
}

// ProcessThreadUntilRequestReturn runs handle's processing loop
// (process_tasks_until_quit) until RequestReturn(handle.ID()) is called.
func (s *Scheduler) ProcessThreadUntilRequestReturn(handle *ThreadHandle) {
	s.named[handle.id].processUntilQuit(uint32(handle.id))
}

// RequestReturn posts a sentinel return-task to id's queue; when that
// thread's processing loop reaches it, ProcessThreadUntilRequestReturn
// returns.
func (s *Scheduler) RequestReturn(id ThreadID) {
	nt := s.named[id]
	s.enqueueCallback(MakeDestination(id, QueueMain, BandNormal, PriorityHigh), func(uint32) {
		nt.quit.Store(true)
	}, graph.UnknownThread)
}

// Route implements graph.Router: it decides, per spec §4.E, whether a
// task goes to a named thread's own queue (directly, if currentThread
// already is that thread), a named thread's cross-thread queue (waking
// it if it was stalled), or a priority-banded worker pool (with the
// demotion fallback rules for disabled bands).
func (s *Scheduler) Route(t *graph.Task, currentThread uint32) {
	if s.shuttingDown.Load() {
		// Shutdown race (spec §7): the enqueue is a no-op; the task is
		// leaked by design rather than introducing a lock on the hot
		// path.
		return
	}
	s.dispatched.Add(1)

	d := t.Destination()
	thread := destThread(d)

	if thread == AnyWorker {
		s.routeToWorker(t, d)
		return
	}

	if int(thread) >= len(s.named) {
		panic(fmt.Sprintf("%s: task routed to unknown named thread %d", Namespace, thread))
	}
	nt := s.named[thread]
	if uint32(thread) == currentThread {
		nt.queue(destQueue(d)).push(destPriority(d), t)
		return
	}
	nt.push(destQueue(d), destPriority(d), t)
}

func (s *Scheduler) routeToWorker(t *graph.Task, d graph.Destination) {
	if s.cfg.MultithreadingDisabled {
		s.named[0].push(QueueMain, destPriority(d), t)
		return
	}

	band := destBand(d)
	priority := destPriority(d)
	if s.bands[band] == nil {
		band, priority = demote(band, priority)
	}
	bp := s.bands[band]
	if bp == nil {
		// Normal band must always exist once multithreading is enabled;
		// this would indicate Startup let every band disable itself.
		panic(Namespace + ": no worker band available to route to")
	}
	bp.push(priority, t)
}

// GatherDestination implements graph.Router: gather tasks (spec §4.D's
// don't-complete-until machinery) have no user-assigned destination, so
// they run on any worker at high priority once their wait-for list
// dispatches.
func (s *Scheduler) GatherDestination() graph.Destination {
	return MakeDestination(AnyWorker, QueueMain, BandHigh, PriorityHigh)
}

// demote implements the fallback rules from spec §4.E: "demote
// background to normal/normal-task-pri, high to normal/high-task-pri."
func demote(band ThreadBand, priority TaskPriority) (ThreadBand, TaskPriority) {
	switch band {
	case BandBackground:
		return BandNormal, PriorityNormal
	case BandHigh:
		return BandNormal, PriorityHigh
	default:
		return BandNormal, priority
	}
}

func defaultWorkersPerBand() uint {
	n := runtime.NumCPU()
	if n < 1 {
		n = 1
	}
	return uint(n)
}

// enqueueCallback wraps fn in a fire-and-forget task and routes it
// directly, bypassing the public task-construction API — used internally
// for shutdown/return-task/broadcast plumbing that has no prerequisites
// and no user-visible completion event.
func (s *Scheduler) enqueueCallback(d graph.Destination, fn func(uint32), currentThread uint32) *graph.Task {
	t := graph.New(s, &callbackPayload{dest: d, fn: fn}, nil)
	t.PrerequisitesComplete(0, true, currentThread)
	return t
}

type callbackPayload struct {
	dest graph.Destination
	fn   func(uint32)
}

func (c *callbackPayload) DesiredDestination() graph.Destination { return c.dest }
func (c *callbackPayload) SubsequentsMode() graph.SubsequentsMode { return graph.FireAndForget }
func (c *callbackPayload) DoTask(currentThread uint32, _ *graph.Event) { c.fn(currentThread) }

// Shutdown sets every named thread's quit flag and wakes it, then sets
// each band's quit flag, wakes every worker and joins all worker
// goroutines; it does not queue return-tasks. Named threads are expected to be
// inside ProcessThreadUntilRequestReturn already (Shutdown does not spawn
// or join named-thread loops, since it never created them).
func (s *Scheduler) Shutdown() {
	s.shuttingDown.Store(true)
	for _, nt := range s.named {
		nt.quit.Store(true)
		select {
		case nt.wake <- struct{}{}:
		default:
		}
	}
	for _, bp := range s.bands {
		if bp != nil {
			bp.shutdown()
		}
	}
	s.running.Store(false)
}

// BroadcastSlow runs callback(currentThread) exactly once on every known
// thread: every attached named thread and every worker of every enabled
// band gated by doTaskThreads/doBackgroundThreads. It blocks until every
// invocation has completed. Grounded on the teacher's RunAll
// (enqueue-then-wait-on-a-done-channel pattern), generalized from "N
// user tasks" to "one callback per known thread" — see SPEC_FULL.md §3.
func (s *Scheduler) BroadcastSlow(doTaskThreads, doBackgroundThreads bool, callback func(currentThread uint32)) {
	var wg sync.WaitGroup

	for _, nt := range s.named {
		if !nt.attached.Load() {
			continue
		}
		wg.Add(1)
		s.enqueueCallback(MakeDestination(nt.id, QueueMain, BandNormal, PriorityHigh), func(ct uint32) {
			defer wg.Done()
			callback(ct)
		}, graph.UnknownThread)
	}

	if doTaskThreads {
		s.broadcastBand(BandNormal, &wg, callback)
		s.broadcastBand(BandHigh, &wg, callback)
	}
	if doBackgroundThreads {
		s.broadcastBand(BandBackground, &wg, callback)
	}

	wg.Wait()
}

func (s *Scheduler) broadcastBand(band ThreadBand, wg *sync.WaitGroup, callback func(uint32)) {
	bp := s.bands[band]
	if bp == nil {
		return
	}
	// Each callback blocks until all of this band's callbacks have started,
	// so no worker can take a second one: every worker runs exactly one.
	var started sync.WaitGroup
	started.Add(len(bp.workers))
	for range bp.workers {
		wg.Add(1)
		t := graph.New(s, &callbackPayload{
			dest: MakeDestination(AnyWorker, QueueMain, band, PriorityHigh),
			fn: func(ct uint32) {
				defer wg.Done()
				started.Done()
				started.Wait()
				callback(ct)
			},
		}, nil)
		t.PrerequisitesComplete(0, true, graph.UnknownThread)
	}
}

// shortCircuitComplete implements spec §9's open-question resolution for
// small wait sets: below WaitShortCircuitThreshold, check IsComplete on
// each event directly rather than paying for the gather-task machinery.
func (s *Scheduler) shortCircuitComplete(events []*graph.Event) bool {
	if len(events) > s.cfg.WaitShortCircuitThreshold {
		return false
	}
	for _, e := range events {
		if !e.IsComplete() {
			return false
		}
	}
	return true
}

// WaitUntilTasksComplete blocks the calling thread until every event in
// events has dispatched. If currentThreadIfKnown identifies a named
// thread, the wait is implemented by pumping that thread's own queue
// (processUntilDone, with a wait-local done flag) so other tasks targeted at it keep
// making progress; otherwise the caller blocks on a pooled OS-event
// stand-in triggered from a high-priority worker task.
func (s *Scheduler) WaitUntilTasksComplete(events []*Event, currentThreadIfKnown *ThreadHandle) {
	start := time.Now()
	defer func() { s.waits.Record(time.Since(start).Seconds()) }()

	inner := unwrapEvents(events)
	if s.shortCircuitComplete(inner) {
		return
	}

	if currentThreadIfKnown != nil {
		nt := s.named[currentThreadIfKnown.id]
		var done atomic.Bool
		t := graph.New(s, &namedWaitDonePayload{nt: nt, done: &done}, inner)
		wireAlreadyDone(t, inner, uint32(currentThreadIfKnown.id))
		nt.processUntilDone(uint32(currentThreadIfKnown.id), &done)
		return
	}

	ev := s.AcquireOSEvent()
	defer s.ReleaseOSEvent(ev)

	t := graph.New(s, &triggerPayload{ev: ev}, inner)
	wireAlreadyDone(t, inner, graph.UnknownThread)
	ev.Wait()
}

// WaitUntilTasksCompleteTimeout is the timed variant noted in
// SPEC_FULL.md §3: it returns ErrWaitTimeout if ctx expires first,
// without cancelling the underlying tasks, per spec §5's cancellation
// model.
func (s *Scheduler) WaitUntilTasksCompleteTimeout(ctx context.Context, events []*Event, currentThreadIfKnown *ThreadHandle) error {
	inner := unwrapEvents(events)
	if s.shortCircuitComplete(inner) {
		return nil
	}

	if currentThreadIfKnown != nil {
		// Named threads pump their own loop; the deadline is a second,
		// independent signal on the same done flag rather than the
		// thread's real quit flag, so a timeout here never mistakenly
		// ends the thread's outer ProcessThreadUntilRequestReturn loop.
		nt := s.named[currentThreadIfKnown.id]
		var done atomic.Bool
		timedOut := make(chan struct{})
		t := graph.New(s, &namedWaitDonePayload{nt: nt, done: &done}, inner)
		wireAlreadyDone(t, inner, uint32(currentThreadIfKnown.id))

		stop := context.AfterFunc(ctx, func() {
			if done.CompareAndSwap(false, true) {
				close(timedOut)
				select {
				case nt.wake <- struct{}{}:
				default:
				}
			}
		})
		defer stop()

		nt.processUntilDone(uint32(currentThreadIfKnown.id), &done)
		select {
		case <-timedOut:
			return ErrWaitTimeout
		default:
			return nil
		}
	}

	ev := s.AcquireOSEvent()
	defer s.ReleaseOSEvent(ev)

	t := graph.New(s, &triggerPayload{ev: ev}, inner)
	wireAlreadyDone(t, inner, graph.UnknownThread)

	select {
	case <-ev.ch:
		return nil
	case <-ctx.Done():
		return ErrWaitTimeout
	}
}

func durationUntil(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 0
}

// TriggerEventWhenTasksComplete arranges for osEvent to be triggered once
// every event in events has dispatched, without blocking the caller.
func (s *Scheduler) TriggerEventWhenTasksComplete(osEvent *OSEvent, events []*Event, currentThreadIfKnown *ThreadHandle) {
	ct := graph.UnknownThread
	if currentThreadIfKnown != nil {
		ct = uint32(currentThreadIfKnown.id)
	}
	inner := unwrapEvents(events)
	t := graph.New(s, &triggerPayload{ev: osEvent}, inner)
	wireAlreadyDone(t, inner, ct)
}

func unwrapEvents(events []*Event) []*graph.Event {
	inner := make([]*graph.Event, len(events))
	for i, e := range events {
		inner[i] = e.inner
	}
	return inner
}

// wireAlreadyDone finishes the two-phase prerequisite wiring protocol
// every task-construction path in this package follows: AddSubsequent on
// each prerequisite event, counting those that were already closed, then
// releasing the setup lock.
func wireAlreadyDone(t *graph.Task, events []*graph.Event, currentThread uint32) {
	alreadyDone := 0
	for _, e := range events {
		if !e.AddSubsequent(t) {
			alreadyDone++
		}
	}
	t.PrerequisitesComplete(alreadyDone, true, currentThread)
}

// namedWaitDonePayload is the sentinel gather-side task used by the Wait
// API's named-thread branch: it sets a wait-local done flag (never the
// thread's real quit flag — see processUntilDone) and wakes the thread
// in case it is currently parked with empty queues.
type namedWaitDonePayload struct {
	nt   *namedThread
	done *atomic.Bool
}

func (p *namedWaitDonePayload) DesiredDestination() graph.Destination {
	return MakeDestination(p.nt.id, QueueMain, BandNormal, PriorityHigh)
}
func (p *namedWaitDonePayload) SubsequentsMode() graph.SubsequentsMode { return graph.FireAndForget }
func (p *namedWaitDonePayload) DoTask(uint32, *graph.Event) {
	p.done.Store(true)
	select {
	case p.nt.wake <- struct{}{}:
	default:
	}
}

// triggerPayload is the high-priority worker task queued by the
// non-named-thread branch of the Wait API.
type triggerPayload struct{ ev *OSEvent }

func (tp *triggerPayload) DesiredDestination() graph.Destination {
	return MakeDestination(AnyWorker, QueueMain, BandHigh, PriorityHigh)
}
func (tp *triggerPayload) SubsequentsMode() graph.SubsequentsMode { return graph.FireAndForget }
func (tp *triggerPayload) DoTask(uint32, *graph.Event)            { tp.ev.Trigger() }

package taskgraph

import "errors"

// Namespace prefixes every sentinel error this package defines, matching
// the teacher's error_tagging.go/errors.go convention.
const Namespace = "taskgraph"

// Per spec §7's error taxonomy: invariant violations and capacity
// exhaustion are fatal (the task graph and lockfree packages panic
// directly); only "late subsequent" and "wait timeout" are recoverable
// and surfaced as ordinary values here.
var (
	// ErrNotRunning reports a scheduler that has not started or has begun
	// shutting down. No Scheduler method returns it: once Shutdown has
	// begun, Route drops newly queued tasks without an error.
	ErrNotRunning = errors.New(Namespace + ": scheduler is not running")

	// ErrUnknownThread is returned when a named-thread operation
	// references a ThreadID that was never attached.
	ErrUnknownThread = errors.New(Namespace + ": unknown named thread")

	// ErrWaitTimeout is returned by the timed wait variant when the
	// deadline elapses before every prerequisite event completes. The
	// underlying tasks are never cancelled; they continue running.
	ErrWaitTimeout = errors.New(Namespace + ": wait timed out")
)

package taskgraph

import "github.com/ygrebnov/taskgraph/internal/graph"

// ThreadBand identifies a worker-thread priority band. Independent FIFOs
// back each band; per the spec's Non-goal, there is no work stealing
// between them.
type ThreadBand uint8

const (
	BandNormal ThreadBand = iota
	BandHigh
	BandBackground

	numBands = int(BandBackground) + 1
)

// TaskPriority is the in-band task priority (spec §4.E destination
// encoding: "task priority within the band (normal, high)").
type TaskPriority uint8

const (
	PriorityNormal TaskPriority = iota
	PriorityHigh

	numPriorities = int(PriorityHigh) + 1
)

// AnyWorker is the sentinel thread index meaning "route to a
// priority-banded worker pool rather than a specific named thread."
const AnyWorker ThreadID = 0xFFFFFFFF

// ThreadID identifies either a named thread (a small dense index assigned
// at Startup) or AnyWorker.
type ThreadID uint32

// QueueSelector picks between a named thread's two queues.
type QueueSelector uint8

const (
	QueueMain QueueSelector = iota
	QueueLocal
)

// destination bit layout: [thread:20][queue:1][band:2][priority:1]
const (
	priorityShift = 0
	bandShift     = priorityShift + 1
	queueShift    = bandShift + 2
	threadShift   = queueShift + 1

	priorityMask = 0x1
	bandMask     = 0x3
	queueMask    = 0x1
	threadMask   = 0xFFFFF
)

// MakeDestination packs thread, queue, band, and priority into a single
// graph.Destination value.
func MakeDestination(thread ThreadID, queue QueueSelector, band ThreadBand, priority TaskPriority) graph.Destination {
	v := uint32(priority)&priorityMask<<priorityShift |
		uint32(band)&bandMask<<bandShift |
		uint32(queue)&queueMask<<queueShift |
		(uint32(thread)&threadMask)<<threadShift
	return graph.Destination(v)
}

func destThread(d graph.Destination) ThreadID {
	t := (uint32(d) >> threadShift) & threadMask
	if t == threadMask {
		return AnyWorker
	}
	return ThreadID(t)
}

func destQueue(d graph.Destination) QueueSelector {
	return QueueSelector((uint32(d) >> queueShift) & queueMask)
}

func destBand(d graph.Destination) ThreadBand {
	return ThreadBand((uint32(d) >> bandShift) & bandMask)
}

func destPriority(d graph.Destination) TaskPriority {
	return TaskPriority((uint32(d) >> priorityShift) & priorityMask)
}

// withBandAndPriority overrides a destination's band and priority fields,
// used by the demotion fallback rules in routing (background -> normal
// when no background pool exists, etc).
func withBandAndPriority(d graph.Destination, band ThreadBand, priority TaskPriority) graph.Destination {
	return MakeDestination(destThread(d), destQueue(d), band, priority)
}

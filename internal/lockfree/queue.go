package lockfree

import (
	"github.com/ygrebnov/taskgraph/internal/link"
	"github.com/ygrebnov/taskgraph/internal/tagged"
)

// queueCounterIncrement is the ABA increment used for the queue's head
// and tail tagged pointers.
const queueCounterIncrement = 1

// Queue is a Michael-Scott FIFO over link indices, with one sentinel link
// allocated at construction. Push advances the tail in two CAS steps
// (link-in, then swing tail); Pop advances head. Both tolerate seeing a
// lagging tail and help it along before retrying, exactly as in the
// s3ry reference (see package doc).
//
// Freed nodes (the sentinel-replacement consumed by Pop) are returned to
// an internal recycling Stack rather than discarded, so steady-state
// push/pop traffic does not keep allocating fresh links from the shared
// Allocator.
type Queue struct {
	alloc *link.Allocator
	head  tagged.Ptr
	tail  tagged.Ptr
	free  *Stack
}

// NewQueue returns an empty Queue with a freshly allocated sentinel node.
func NewQueue(alloc *link.Allocator) *Queue {
	sentinel := alloc.Alloc(1)
	alloc.Get(sentinel).FIFONext.Store(uint64(tagged.Pack(link.Null, 0)))

	q := &Queue{alloc: alloc, free: NewStack(alloc)}
	v := tagged.Pack(sentinel, 0)
	q.head.Store(v)
	q.tail.Store(v)
	return q
}

// newNode returns a link index ready to hold payload, preferring a
// recycled node over a fresh allocation.
func (q *Queue) newNode(payload any) uint32 {
	idx, ok := q.free.Pop()
	if !ok {
		idx = q.alloc.Alloc(1)
	}
	lk := q.alloc.Get(idx)
	lk.Payload = payload
	// Keep advancing a recycled node's counter rather than resetting it,
	// so a stale CAS against its previous incarnation still fails.
	prev := tagged.Value(lk.FIFONext.Load())
	lk.FIFONext.Store(uint64(tagged.Pack(link.Null, prev.Counter()+queueCounterIncrement)))
	return idx
}

// Push enqueues payload.
func (q *Queue) Push(payload any) {
	node := q.newNode(payload)
	for {
		tail := q.tail.Load()
		tailLink := q.alloc.Get(tail.Index())
		next := tagged.Value(tailLink.FIFONext.Load())

		if tail != q.tail.Load() {
			continue // tail moved under us, restart
		}

		if next.Index() == link.Null {
			linked := tagged.Pack(node, next.Counter()+queueCounterIncrement)
			if tailLink.FIFONext.CompareAndSwap(uint64(next), uint64(linked)) {
				// Help swing the tail; ignore failure, another pusher
				// (or our own next loop iteration) will finish it.
				swung := tagged.Pack(node, tail.Counter()+queueCounterIncrement)
				q.tail.CompareAndSwap(tail, swung)
				return
			}
			continue
		}

		// Tail is lagging: help advance it before retrying.
		swung := tagged.Pack(next.Index(), tail.Counter()+queueCounterIncrement)
		q.tail.CompareAndSwap(tail, swung)
	}
}

// Pop dequeues and returns the oldest payload, or (nil, false) if empty.
func (q *Queue) Pop() (any, bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		headLink := q.alloc.Get(head.Index())
		next := tagged.Value(headLink.FIFONext.Load())

		if head != q.head.Load() {
			continue
		}

		if head.Index() == tail.Index() {
			if next.Index() == link.Null {
				return nil, false // genuinely empty
			}
			// Tail is lagging behind a linked-in node; help it along.
			swung := tagged.Pack(next.Index(), tail.Counter()+queueCounterIncrement)
			q.tail.CompareAndSwap(tail, swung)
			continue
		}

		nextLink := q.alloc.Get(next.Index())
		payload := nextLink.Payload

		advanced := tagged.Pack(next.Index(), head.Counter()+queueCounterIncrement)
		if q.head.CompareAndSwap(head, advanced) {
			// next is now the sentinel and may be popped past and recycled
			// by another thread at any moment; only the old head is ours.
			headLink.Payload = nil
			q.free.Push(head.Index())
			return payload, true
		}
	}
}

// Empty reports whether the queue currently has no payload-bearing nodes.
// It is a snapshot, not a linearizable guarantee under concurrent use.
func (q *Queue) Empty() bool {
	head := q.head.Load()
	tail := q.tail.Load()
	return head.Index() == tail.Index()
}

// Package lockfree implements the lock-free containers the scheduler and
// task graph are built on: a LIFO stack, a Michael-Scott FIFO queue, a
// closable single-consumer list, and a stalling multi-priority FIFO. All
// of them address nodes by internal/link index rather than by pointer, and
// resolve ABA via internal/tagged's counter rather than via retained
// memory — grounded on the Michael-Scott CAS-loop shape found in
// other_examples/5eb07391_seike460-s3ry__internal-worker-lock_free_queue.go.go
// and the per-worker lock-free queues in
// other_examples/062b69fb_momentics-hioload-ws__core-concurrency-executor.go.go,
// generalized from raw unsafe.Pointer swings to packed index+counter
// words because link identity here is a small integer, not an address.
package lockfree

import (
	"errors"

	"github.com/ygrebnov/taskgraph/internal/link"
	"github.com/ygrebnov/taskgraph/internal/tagged"
)

// ErrClosed is the sentinel error for a closed single-consumer list.
// Named after the WouldBlock-style sentinel convention in
// other_examples/185cc3a3_hayabusa-cloud-lfq__doc.go.go. ClosableList
// does not return it: PushIfNotClosed reports a closed list by
// returning false.
var ErrClosed = errors.New("lockfree: list is closed")

// stackCounterIncrement is the structure-specific ABA increment for a
// plain LIFO stack that reserves no state bits in its counter field (push
// and pop each advance it by one).
const stackCounterIncrement = 1

// closableCounterIncrement is the ABA increment for a Stack backing a
// ClosableList. The closable list's lowest counter bit is the closed flag
// (closable.go's closedBit); advancing by 1 would flip that reserved bit
// on the very first push or pop, making an open list look closed. 2 is
// the smallest increment whose own bit0 is 0, so it can never change
// bit0 of the sum regardless of carries from higher bits — only
// PopAllAndChangeState's explicit OR ever sets the closed bit.
const closableCounterIncrement = 2

// Stack is a lock-free LIFO of link indices. It is used directly as the
// internal freelist backing node recycling in Queue, and underlies
// ClosableList, which needs its state bits preserved across ordinary
// push/pop traffic.
type Stack struct {
	alloc            *link.Allocator
	head             tagged.Ptr
	counterIncrement uint64
}

// NewStack returns an empty Stack over alloc, using the plain
// stackCounterIncrement. alloc may be shared with other containers;
// index 0 (link.Null) is reserved and never pushed.
func NewStack(alloc *link.Allocator) *Stack {
	return &Stack{alloc: alloc, counterIncrement: stackCounterIncrement}
}

// newStackWithIncrement returns an empty Stack over alloc whose ABA
// counter advances by increment on every push/pop. Used by
// NewClosableList to reserve its closed-flag bit.
func newStackWithIncrement(alloc *link.Allocator, increment uint64) *Stack {
	return &Stack{alloc: alloc, counterIncrement: increment}
}

// Push pushes index onto the stack.
func (s *Stack) Push(index uint32) {
	s.pushIf(index, func(uint64) bool { return true })
}

// PushIf pushes index onto the stack only if ok returns true when given
// the head's current state bits (the low bits of the counter field).
// Used by the closable list to implement "push if not closed." Returns
// false without modifying the stack as soon as ok rejects the state it
// is offered; if the CAS loses a race, the head is re-read and ok is
// asked again about the new state.
func (s *Stack) PushIf(index uint32, ok func(state uint64) bool) bool {
	return s.pushIf(index, ok)
}

func (s *Stack) pushIf(index uint32, ok func(state uint64) bool) bool {
	lk := s.alloc.Get(index)
	for {
		head := s.head.Load()
		if !ok(head.Counter()) {
			return false
		}
		lk.LIFONext = head.Index()
		next, wrapped := tagged.AdvanceCounterAndState(head, index, s.counterIncrement)
		if wrapped {
			tagged.RecoveryPause()
		}
		if s.head.CompareAndSwap(head, next) {
			return true
		}
	}
}

// Pop removes and returns the top link index, or (link.Null, false) if
// the stack is empty.
func (s *Stack) Pop() (uint32, bool) {
	for {
		head := s.head.Load()
		top := head.Index()
		if top == link.Null {
			return link.Null, false
		}
		lk := s.alloc.Get(top)
		next := lk.LIFONext
		newHead, wrapped := tagged.AdvanceCounterAndState(head, next, s.counterIncrement)
		if wrapped {
			tagged.RecoveryPause()
		}
		if s.head.CompareAndSwap(head, newHead) {
			lk.LIFONext = link.Null
			return top, true
		}
	}
}

// PopAllAndChangeState atomically swaps the entire chain out for an empty
// stack whose state bits are f(current state bits), returning the index
// of the former head (link.Null if the stack was already empty). Walk the
// chain via the allocator's LIFONext field to enumerate it; the order is
// LIFO with respect to push order.
func (s *Stack) PopAllAndChangeState(f func(state uint64) uint64) (uint32, uint64) {
	for {
		head := s.head.Load()
		newHead := tagged.Pack(link.Null, f(head.Counter()))
		if s.head.CompareAndSwap(head, newHead) {
			return head.Index(), head.Counter()
		}
	}
}

// State returns the current state/counter bits without touching the
// chain. Used by pollable "is it closed yet" checks.
func (s *Stack) State() uint64 { return s.head.Load().Counter() }

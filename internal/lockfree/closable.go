package lockfree

import "github.com/ygrebnov/taskgraph/internal/link"

// ClosableList is a LIFO single-consumer list whose low state bit is a
// closed flag. It is the structure graph events use for their subsequents
// list: dependents push themselves on while the event is open;
// dispatching the event closes the list exactly once and hands the whole
// chain to the single consumer.
//
// Built directly on Stack's push-if/pop-all-and-change-state primitives
// per the spec: "push_if_not_closed uses push_if with the predicate
// state&1==0; pop_all_and_close uses pop_all_and_change_state asserting
// the previous state was open and setting the closed bit."
type ClosableList struct {
	s *Stack
}

const closedBit = uint64(1)

// NewClosableList returns an open, empty list backed by alloc. It builds
// its own Stack internally, advancing its counter by closableCounterIncrement
// rather than the plain stackCounterIncrement, so that ordinary push/pop
// traffic never disturbs the closed flag living in the counter's low bit.
func NewClosableList(alloc *link.Allocator) *ClosableList {
	return &ClosableList{s: newStackWithIncrement(alloc, closableCounterIncrement)}
}

// PushIfNotClosed appends index to the list if it is still open. Returns
// false, leaving the list untouched, if it has already been closed.
func (c *ClosableList) PushIfNotClosed(index uint32) bool {
	return c.s.PushIf(index, func(state uint64) bool { return state&closedBit == 0 })
}

// PopAllAndClose closes the list — irreversibly — and returns the head
// index of the entire prior chain (link.Null if it was empty). It is a
// fatal precondition violation to call PopAllAndClose on an
// already-closed list; that can only happen from a bug in the owning
// event's dispatch bookkeeping (dispatch runs at most once), so it
// panics rather than returning an error.
func (c *ClosableList) PopAllAndClose() uint32 {
	head, prevState := c.s.PopAllAndChangeState(func(state uint64) uint64 {
		if state&closedBit != 0 {
			panic("lockfree: PopAllAndClose on an already-closed list")
		}
		return state | closedBit
	})
	_ = prevState
	return head
}

// IsClosed polls the closed flag without draining the list.
func (c *ClosableList) IsClosed() bool {
	return c.s.State()&closedBit != 0
}

package lockfree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ygrebnov/taskgraph/internal/link"
)

func TestStackLIFOOrder(t *testing.T) {
	alloc := link.New()
	s := NewStack(alloc)

	a := alloc.Alloc(1)
	b := alloc.Alloc(1)
	c := alloc.Alloc(1)

	s.Push(a)
	s.Push(b)
	s.Push(c)

	for _, want := range []uint32{c, b, a} {
		got, ok := s.Pop()
		require.True(t, ok)
		require.Equal(t, want, got)
	}
	_, ok := s.Pop()
	require.False(t, ok, "Pop() on empty stack should report ok=false")
}

func TestStackPushIfRejectsWhenPredicateFails(t *testing.T) {
	alloc := link.New()
	s := NewStack(alloc)
	idx := alloc.Alloc(1)

	ok := s.PushIf(idx, func(uint64) bool { return false })
	require.False(t, ok, "PushIf should return false when the predicate rejects")

	_, popped := s.Pop()
	require.False(t, popped, "nothing should have been pushed")
}

func TestStackPopAllAndChangeState(t *testing.T) {
	alloc := link.New()
	s := NewStack(alloc)
	a := alloc.Alloc(1)
	b := alloc.Alloc(1)
	s.Push(a)
	s.Push(b)

	head, _ := s.PopAllAndChangeState(func(state uint64) uint64 { return state + 1 })
	require.Equal(t, b, head, "PopAllAndChangeState should return the last-pushed head")

	_, ok := s.Pop()
	require.False(t, ok, "stack should be empty after PopAllAndChangeState")
	require.NotZero(t, s.State(), "State() should reflect the state transform applied")
}

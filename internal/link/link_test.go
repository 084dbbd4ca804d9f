package link

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocReturnsDistinctIndices(t *testing.T) {
	a := New()
	first := a.Alloc(1)
	second := a.Alloc(1)
	require.NotEqual(t, first, second, "Alloc returned the same index twice")
	require.NotEqual(t, Null, first)
	require.NotEqual(t, Null, second)
}

func TestAllocRun(t *testing.T) {
	a := New()
	start := a.Alloc(10)
	next := a.Alloc(1)
	require.Equal(t, start+10, next)
}

func TestGetIsStablePerIndex(t *testing.T) {
	a := New()
	idx := a.Alloc(1)
	l := a.Get(idx)
	l.Payload = "hello"
	require.Equal(t, "hello", a.Get(idx).Payload, "Get(idx) did not return the same backing Link across calls")
}

func TestGetAcrossPageBoundary(t *testing.T) {
	a := New()
	// pageSize is 4096; allocate enough to cross into a second page.
	start := a.Alloc(pageSize + 1)
	first := a.Get(start)
	last := a.Get(start + pageSize)
	first.Payload = "first"
	last.Payload = "last"
	require.Equal(t, "first", a.Get(start).Payload)
	require.Equal(t, "last", a.Get(start+pageSize).Payload)
}

func TestGetNullPanics(t *testing.T) {
	require.Panics(t, func() { New().Get(Null) })
}

func TestAllocZeroPanics(t *testing.T) {
	require.Panics(t, func() { New().Alloc(0) })
}

package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type worker struct{ id int }

func newCountingPool(capacity uint) (*fixed, *int32) {
	var counter int32
	newFn := func() interface{} {
		id := int(atomic.AddInt32(&counter, 1))
		return &worker{id: id}
	}
	return NewFixed(capacity, newFn).(*fixed), &counter
}

func TestFixedPool_CreatesUpToCapacityThenBlocks(t *testing.T) {
	p, counter := newCountingPool(2)

	w1 := p.Get().(*worker)
	w2 := p.Get().(*worker)
	require.NotEqual(t, w1, w2, "expected two distinct workers")
	require.EqualValues(t, 2, atomic.LoadInt32(counter), "newFn should be called exactly twice")

	gotCh := make(chan any, 1)
	go func() { gotCh <- p.Get() }()

	select {
	case <-gotCh:
		t.Fatal("third Get should block until a Put, returned early")
	case <-time.After(50 * time.Millisecond):
	}

	p.Put(w1)
	select {
	case got := <-gotCh:
		require.Equal(t, w1, got, "blocked Get should resume with the recycled worker")
	case <-time.After(time.Second):
		t.Fatal("blocked Get never resumed after Put")
	}
	require.EqualValues(t, 2, atomic.LoadInt32(counter), "newFn should not be called again after recycling")
}

func TestFixedPool_PutThenGetReturnsSameInstance(t *testing.T) {
	p, _ := newCountingPool(1)
	w := p.Get()
	p.Put(w)
	require.Equal(t, w, p.Get(), "Get after Put should return the same instance")
}

func TestFixedPool_ConcurrentGetPutNeverExceedsCapacity(t *testing.T) {
	const capacity = 5
	p, counter := newCountingPool(capacity)

	const goroutines = 30
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			w := p.Get()
			time.Sleep(time.Millisecond)
			p.Put(w)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, atomic.LoadInt32(counter), int32(capacity), "newFn calls must not exceed capacity")
}

func TestFixedPool_ZeroCapacityBlocksForever(t *testing.T) {
	p, counter := newCountingPool(0)

	done := make(chan struct{})
	go func() {
		_ = p.Get()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Get with zero capacity should never return")
	case <-time.After(50 * time.Millisecond):
	}
	require.EqualValues(t, 0, atomic.LoadInt32(counter), "newFn should never be called with zero capacity")
}

// Package link implements the bounded, index-addressed link allocator that
// every lock-free container in internal/lockfree is built on. Links are
// handed out by a monotonically increasing index rather than a pointer, so
// the ABA counter carried alongside the index (see internal/tagged) is the
// only thing that needs to change for a lock-free structure to detect that
// a link was recycled.
package link

import (
	"sync/atomic"
)

// Null is the sentinel index meaning "no link." Index zero is reserved and
// never handed out by Alloc.
const Null uint32 = 0

// pageSize is the number of links backing a single allocated page. Chosen
// small enough that a page allocation is cheap, large enough that the
// allocator does not thrash pages under steady load.
const pageSize = 4096

// maxIndexBits bounds the total number of simultaneously allocated links.
// It must match internal/tagged's index-field width; see tagged.IndexBits.
const maxIndexBits = 26
const maxIndex = 1 << maxIndexBits

// MaxIndex is the hard compile-time cap on simultaneously-allocated
// links, exported so Config validation can check an advisory
// configuration knob (WithMaxLinks) against it.
const MaxIndex = maxIndex

// Link is a single record in the allocator. FIFONext is the tagged
// "double-next" pointer used by the Michael-Scott queue; LIFONext is a
// plain index used by the LIFO stack and the closable list; Payload is an
// opaque reference the owning container stashes its data in (a task
// pointer, a stalling-queue item, etc).
type Link struct {
	FIFONext atomic.Uint64
	LIFONext uint32
	Payload  any
}

type page struct {
	links [pageSize]Link
}

// Allocator hands out contiguous runs of link indices from a single atomic
// counter, backing them with lazily-allocated pages. Indices are never
// reused: the single-use property is what lets internal/tagged's ABA
// counter assume "same index, different value implies an intervening
// write" without also needing to track a generation per link.
type Allocator struct {
	next  atomic.Uint64
	pages [maxIndex/pageSize + 1]atomic.Pointer[page]
}

// New returns a ready-to-use Allocator. Index 0 is pre-consumed so it can
// serve as the Null sentinel.
func New() *Allocator {
	a := &Allocator{}
	a.next.Store(1)
	return a
}

// Alloc allocates n contiguous link indices and returns the first one.
// The caller treats [start, start+n) as reserved for its own use.
//
// Alloc panics if the allocator's capacity (2^26 links) would be exceeded;
// per the spec's error taxonomy this is a capacity-exhaustion fault and is
// always fatal, never recoverable.
func (a *Allocator) Alloc(n uint32) uint32 {
	if n == 0 {
		panic("link: Alloc(0)")
	}
	start := a.next.Add(uint64(n)) - uint64(n)
	if start+uint64(n) > maxIndex {
		panic("link: allocator capacity exhausted")
	}
	return uint32(start)
}

// Get returns the Link record for index, lazily installing its backing
// page on first touch. index must have been returned by Alloc (or be
// within a range returned by Alloc); Get(Null) is a programmer error.
func (a *Allocator) Get(index uint32) *Link {
	if index == Null {
		panic("link: Get(Null)")
	}
	pageIdx := index / pageSize
	slot := index % pageSize

	p := a.pages[pageIdx].Load()
	if p == nil {
		fresh := &page{}
		if a.pages[pageIdx].CompareAndSwap(nil, fresh) {
			p = fresh
		} else {
			// Lost the race: the winner's page is authoritative, our
			// fresh page is simply dropped for the GC to reclaim.
			p = a.pages[pageIdx].Load()
		}
	}
	return &p.links[slot]
}

// Package tagged implements the 64-bit tagged pointer that every
// lock-free container in internal/lockfree builds its CAS loops on: a
// link index in the low bits, an ABA-protecting counter (optionally
// carrying extra state bits) in the high bits.
//
// Grounded on the CAS-loop shape used throughout the pack's lock-free
// queues (see internal/lockfree's doc comment for the specific sources);
// generalized here from a raw unsafe.Pointer swing to a packed index+
// counter word, because the spec requires ABA safety to come from a
// monotonic counter rather than from pointer identity.
package tagged

import (
	"sync/atomic"
	"time"
)

// IndexBits is the number of low bits dedicated to the link index. It must
// match internal/link's maxIndexBits. 2^26 simultaneously-allocated links
// leaves 38 bits for the counter/state field, comfortably above the
// 2^23-operations-between-wraps budget noted in the spec's design notes.
const IndexBits = 26

const (
	indexMask   = (uint64(1) << IndexBits) - 1
	counterBits = 64 - IndexBits
	counterMask = (uint64(1) << counterBits) - 1
)

// Value is the packed (index, counter) word. The zero Value has index 0
// (the link.Null sentinel) and counter 0.
type Value uint64

// Pack combines an index and a counter/state field into a Value. counter
// is masked to the bits available; callers that use low counter bits as
// state (the closable list) must keep that bit width in mind when calling
// AdvanceCounterAndState.
func Pack(index uint32, counter uint64) Value {
	return Value(uint64(index)&indexMask | (counter&counterMask)<<IndexBits)
}

// Index extracts the link index.
func (v Value) Index() uint32 { return uint32(uint64(v) & indexMask) }

// Counter extracts the full counter/state field.
func (v Value) Counter() uint64 { return (uint64(v) >> IndexBits) & counterMask }

// Ptr is an aligned atomic 64-bit word holding a Value.
type Ptr struct {
	word atomic.Uint64
}

// Load performs an aligned atomic load.
func (p *Ptr) Load() Value { return Value(p.word.Load()) }

// Store performs an aligned atomic store. Only used at construction time;
// all later mutation must go through CompareAndSwap.
func (p *Ptr) Store(v Value) { p.word.Store(uint64(v)) }

// CompareAndSwap performs a 64-bit atomic CAS.
func (p *Ptr) CompareAndSwap(old, new Value) bool {
	return p.word.CompareAndSwap(uint64(old), uint64(new))
}

// AdvanceCounterAndState builds the next Value for index, copying from's
// counter field and adding increment (increment must be >= 1; each
// structure picks its own constant per the spec's "structure-specific
// increment" contract). If the addition wraps past counterMask, the new
// counter is numerically smaller than the old one; the wrapped result
// reports this case to the caller so it can apply the defensive pause
// (RecoveryPause) the spec calls for. Operational wraps are not expected given the bit
// budget above; this path exists purely as the documented fallback.
func AdvanceCounterAndState(from Value, index uint32, increment uint64) (next Value, wrapped bool) {
	oldCounter := from.Counter()
	newCounter := (oldCounter + increment) & counterMask
	wrapped = newCounter < oldCounter
	return Pack(index, newCounter), wrapped
}

// RecoveryPause is the defensive pause called for after a detected counter
// wrap. The ABA window is large enough that this is not expected to fire
// under any supported workload; it exists only so a wrap does not race a
// second wrap before other threads observe the first one.
func RecoveryPause() { time.Sleep(time.Microsecond) }

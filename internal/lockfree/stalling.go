package lockfree

import "github.com/ygrebnov/taskgraph/internal/tagged"

// maxStallMaskWidth caps the number of workers a single StallingFIFO can
// track, per the spec: "Mask width must be at least the worker count and
// never exceeds the platform pointer bit width minus one." The mask
// occupies the tagged word's index field (see StallingFIFO.mask), so the
// usable width is also capped by tagged.IndexBits.
const maxStallMaskWidth = tagged.IndexBits

// MaxStallMaskWidth is the hard compile-time cap on a StallingFIFO's mask
// width, exported so Config validation can check an advisory
// configuration knob (WithStallMaskWidth) against it.
const MaxStallMaskWidth = maxStallMaskWidth

const maskCounterIncrement = 1

// StallingFIFO is a single worker-priority-band's queue: an independent
// task-priority-ordered FIFO set (normally two levels, "high" and
// "normal" task priority within the band) plus the band's master stall
// mask. One StallingFIFO instance exists per enabled worker-priority band
// (normal/high/background) in the scheduler; workers never cross between
// instances, matching the spec's Non-goal rejecting cross-band stealing.
//
// The mask's index field (repurposed as a bitmask of stalled worker
// indices rather than a link index — called out explicitly in the spec)
// tracks which of this band's workers are currently parked.
type StallingFIFO struct {
	fifos []*Queue // fifos[0] is highest task priority
	mask  tagged.Ptr
}

// NewStallingFIFO returns a StallingFIFO with the given task-priority
// sub-queues, ordered highest priority first.
func NewStallingFIFO(fifos []*Queue) *StallingFIFO {
	return &StallingFIFO{fifos: fifos}
}

// Push enqueues item at the given task-priority level and, if any worker
// in this band was stalled, clears the lowest-numbered stalled worker's
// bit and returns its index so the caller can wake exactly that worker.
func (s *StallingFIFO) Push(priority int, item any) (workerIndex uint32, ok bool) {
	s.fifos[priority].Push(item)
	for {
		cur := s.mask.Load()
		bits := uint32(cur.Index())
		if bits == 0 {
			return 0, false
		}
		lowest := lowestSetBit(bits)
		cleared := bits &^ (1 << lowest)
		next := tagged.Pack(cleared, cur.Counter()+maskCounterIncrement)
		if s.mask.CompareAndSwap(cur, next) {
			return lowest, true
		}
		// Lost the CAS race (another push or a concurrent mark changed
		// the mask). If a concurrent Pop has meanwhile drained every
		// sub-queue, the pushed item is already taken and the wake is
		// abandoned; otherwise re-read and retry.
		empty := true
		for _, f := range s.fifos {
			if !f.Empty() {
				empty = false
				break
			}
		}
		if empty {
			return 0, false
		}
	}
}

// Pop scans this band's task-priority sub-queues, highest first. If none
// yield work and mayStall is true, it atomically sets workerIndex's bit in
// the stall mask and reports stalled=true; the caller is then expected to
// block on its own OS-level event. If a push races in before the stall
// bit commits, Pop reports stalled=false instead, telling the caller to
// re-scan rather than block on an event nothing will ever signal.
// StallingFIFO never blocks itself.
func (s *StallingFIFO) Pop(workerIndex uint32, mayStall bool) (item any, found bool, stalled bool) {
	for _, f := range s.fifos {
		if v, ok := f.Pop(); ok {
			return v, true, false
		}
	}
	if !mayStall {
		return nil, false, false
	}
	for {
		allEmpty := true
		for _, f := range s.fifos {
			if !f.Empty() {
				allEmpty = false
				break
			}
		}
		if !allEmpty {
			return nil, false, false // something arrived; caller should re-scan instead of stalling
		}
		cur := s.mask.Load()
		bits := uint32(cur.Index())
		next := tagged.Pack(bits|(1<<workerIndex), cur.Counter()+maskCounterIncrement)
		if s.mask.CompareAndSwap(cur, next) {
			for _, f := range s.fifos {
				for !f.Empty() {
					// A Push that landed after the emptiness check read the
					// mask before this bit was set; withdraw the bit.
					cur = s.mask.Load()
					if cur.Index()&(1<<workerIndex) == 0 {
						return nil, false, true // a Push cleared it and is waking this worker
					}
					if s.mask.CompareAndSwap(cur, tagged.Pack(cur.Index()&^(1<<workerIndex), cur.Counter()+maskCounterIncrement)) {
						return nil, false, false
					}
				}
			}
			return nil, false, true
		}
	}
}

// WakeCandidate reports which worker index would currently be selected by
// Push, without mutating any state. Exposed for the boundary test in
// spec.md §8 ("exactly one wake-signal is issued; chosen worker has the
// lowest index").
func (s *StallingFIFO) WakeCandidate() (workerIndex uint32, ok bool) {
	bits := uint32(s.mask.Load().Index())
	if bits == 0 {
		return 0, false
	}
	return lowestSetBit(bits), true
}

func lowestSetBit(bits uint32) uint32 {
	for i := uint32(0); i < maxStallMaskWidth; i++ {
		if bits&(1<<i) != 0 {
			return i
		}
	}
	panic("lockfree: lowestSetBit(0)")
}

package engine

// MaxSlots is the largest rendezvous any engine needs (a full deduction table).
const MaxSlots = 10

// Signal is the tri-state of one rendezvous slot.
type Signal uint8

const (
	SignalAbsent  Signal = iota // slot not part of this barrier
	SignalWaiting               // participant has not signalled yet
	SignalDone                  // participant has signalled
)

// Barrier is a fixed-size rendezvous: resolution may proceed only once every
// participating slot has signalled. It is a value type, so copying a state
// copies its barrier and the original is never mutated.
type Barrier struct {
	Slots [MaxSlots]Signal `json:"slots"`
	Size  uint8            `json:"size"`
}

// NewBarrier returns a barrier whose first n slots are waiting.
func NewBarrier(n int) Barrier {
	var b Barrier
	if n > MaxSlots {
		n = MaxSlots
	}
	if n < 0 {
		n = 0
	}
	for i := 0; i < n; i++ {
		b.Slots[i] = SignalWaiting
	}
	b.Size = uint8(n)
	return b
}

// Signal marks slot i as done. ok is false when the slot is outside the
// barrier or has already signalled, in which case b is returned unchanged.
func (b Barrier) Signal(i int) (next Barrier, ok bool) {
	if i < 0 || i >= int(b.Size) || b.Slots[i] != SignalWaiting {
		return b, false
	}
	b.Slots[i] = SignalDone
	return b, true
}

// Signalled reports whether slot i has signalled.
func (b Barrier) Signalled(i int) bool {
	return i >= 0 && i < int(b.Size) && b.Slots[i] == SignalDone
}

// Count returns how many slots have signalled.
func (b Barrier) Count() int {
	n := 0
	for i := 0; i < int(b.Size); i++ {
		if b.Slots[i] == SignalDone {
			n++
		}
	}
	return n
}

// Len returns the number of participating slots.
func (b Barrier) Len() int { return int(b.Size) }

// All reports whether every participating slot has signalled. An empty
// barrier is never complete.
func (b Barrier) All() bool {
	return b.Size > 0 && b.Count() == int(b.Size)
}

// Reset returns the barrier with every participating slot waiting again.
func (b Barrier) Reset() Barrier {
	return NewBarrier(int(b.Size))
}

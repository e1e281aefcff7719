package host

import (
	"time"

	"github.com/PMK765/WebPartyGames/engine"
)

// Timing controls how long a peer waits for an existing state before seeding
// the room itself.
type Timing struct {
	CreatorDelay time.Duration
	BaseDelay    time.Duration
	Window       time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		CreatorDelay: 0,
		BaseDelay:    300 * time.Millisecond,
		Window:       700 * time.Millisecond,
	}
}

// ElectionDelay is the wait before a peer may seed roomID. The room creator
// waits CreatorDelay; everyone else waits BaseDelay plus an offset derived
// from the room and player ids, so joiners are staggered the same way on
// every run.
func ElectionDelay(roomID, playerID string, creator bool, t Timing) time.Duration {
	if creator {
		return t.CreatorDelay
	}
	offset := engine.NewRand(engine.SeedFor(roomID, playerID)).IntN(int(t.Window))
	return t.BaseDelay + time.Duration(offset)
}

package battle

import "fmt"

// Phase is the battle table's lifecycle stage.
type Phase uint8

const (
	PhaseLobby    Phase = iota // waiting for two players and a host start
	PhaseBattle                // flips accepted; resolution when both seats are ready
	PhaseWar                   // ranks tied; each next flip burns BurnCount cards first
	PhaseResolved              // a pot was just awarded; flips accepted again
	PhaseFinished              // terminal until a host restart
	numPhases
)

var phaseNames = [numPhases]string{
	PhaseLobby:    "lobby",
	PhaseBattle:   "battle",
	PhaseWar:      "war",
	PhaseResolved: "resolved",
	PhaseFinished: "finished",
}

func (p Phase) String() string {
	if p >= numPhases {
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
	return phaseNames[p]
}

// AcceptsFlips reports whether a flip can be applied in this phase.
func (p Phase) AcceptsFlips() bool {
	return p == PhaseBattle || p == PhaseWar || p == PhaseResolved
}

func (p Phase) MarshalText() ([]byte, error) {
	if p >= numPhases {
		return nil, fmt.Errorf("battle: unknown phase %d", uint8(p))
	}
	return []byte(phaseNames[p]), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for i, name := range phaseNames {
		if name == string(text) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("battle: unknown phase %q", text)
}

package deduction

import "fmt"

// Phase is the deduction table's lifecycle stage.
type Phase uint8

const (
	PhaseLobby Phase = iota
	PhaseRoleReveal
	PhaseProposing
	PhaseVoting
	PhaseMission
	PhaseMissionResult
	PhaseFinished
	numPhases
)

var phaseNames = [numPhases]string{
	PhaseLobby:         "lobby",
	PhaseRoleReveal:    "roleReveal",
	PhaseProposing:     "proposing",
	PhaseVoting:        "voting",
	PhaseMission:       "mission",
	PhaseMissionResult: "missionResult",
	PhaseFinished:      "finished",
}

func (p Phase) String() string {
	if p >= numPhases {
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
	return phaseNames[p]
}

// InGame reports whether a game is underway.
func (p Phase) InGame() bool {
	return p != PhaseLobby && p != PhaseFinished
}

func (p Phase) MarshalText() ([]byte, error) {
	if p >= numPhases {
		return nil, fmt.Errorf("deduction: unknown phase %d", uint8(p))
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
	return fmt.Errorf("deduction: unknown phase %q", text)
}

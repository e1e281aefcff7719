// Package deduction implements the hidden-role table: 5 to 10 players, a
// secret spy minority, and a propose/vote/mission cycle over five missions.
//
// The reducer only ever sees public facts. Who holds which role, how each
// player voted before the reveal, and which card each team member played are
// kept by the secret store; the host folds aggregates back in through the
// VoteResult and MissionResult events.
package deduction

import (
	"maps"
	"slices"

	"github.com/PMK765/WebPartyGames/engine"
)

// Finish reasons.
const (
	ReasonMissions  = "missions"
	ReasonDeadlock  = "deadlock"
	ReasonAbandoned = "abandoned"
)

// VoteTally is a revealed proposal vote. Votes is published together with the
// counts, never before the store has a full quorum.
type VoteTally struct {
	Mission  int             `json:"mission"`
	Proposal int             `json:"proposal"`
	Leader   string          `json:"leader"`
	Team     []string        `json:"team"`
	Approve  int             `json:"approve"`
	Reject   int             `json:"reject"`
	Approved bool            `json:"approved"`
	Votes    map[string]bool `json:"votes,omitempty"`
}

// MissionOutcome is a finalized mission.
type MissionOutcome struct {
	Mission int      `json:"mission"`
	Team    []string `json:"team"`
	Fails   int      `json:"fails"`
	Failed  bool     `json:"failed"`
}

// State is the replicated public state of a deduction table.
type State struct {
	RoomID  string          `json:"roomId"`
	HostID  string          `json:"hostId"`
	Phase   Phase           `json:"phase"`
	Players []engine.Player `json:"players"`
	Game    int             `json:"game"`

	// Active holds the seated player ids in join order; everyone else in
	// Players is a spectator.
	Active   []string `json:"active"`
	Leader   string   `json:"leader"`
	Mission  int      `json:"mission"`
	Proposal int      `json:"proposal"`
	Team     []string `json:"team"`

	// Acks, Votes and Submitted record that a player acted, never what they
	// chose. Acks and Votes are indexed like Active, Submitted like Team.
	Acks      engine.Barrier `json:"acks"`
	Votes     engine.Barrier `json:"votes"`
	Submitted engine.Barrier `json:"submitted"`

	LastVote       *VoteTally       `json:"lastVote,omitempty"`
	Results        []MissionOutcome `json:"results"`
	ResistanceWins int              `json:"resistanceWins"`
	SpyWins        int              `json:"spyWins"`

	Winner       Role   `json:"winner,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

func (s *State) clone() *State {
	out := *s
	out.Players = engine.ClonePlayers(s.Players)
	out.Active = slices.Clone(s.Active)
	out.Team = slices.Clone(s.Team)
	if s.LastVote != nil {
		lv := *s.LastVote
		lv.Team = slices.Clone(lv.Team)
		lv.Votes = maps.Clone(lv.Votes)
		out.LastVote = &lv
	}
	if s.Results != nil {
		out.Results = make([]MissionOutcome, len(s.Results))
		for i, r := range s.Results {
			r.Team = slices.Clone(r.Team)
			out.Results[i] = r
		}
	}
	return &out
}

// ActiveIndex returns the seat of playerID among active players, or -1.
func (s *State) ActiveIndex(playerID string) int {
	return slices.Index(s.Active, playerID)
}

// IsActive reports whether playerID holds a seat in the current game.
func (s *State) IsActive(playerID string) bool { return s.ActiveIndex(playerID) >= 0 }

// TeamIndex returns playerID's position on the current team, or -1.
func (s *State) TeamIndex(playerID string) int {
	return slices.Index(s.Team, playerID)
}

// TeamSize returns the team size the current mission requires.
func (s *State) TeamSize() int { return TeamSize(len(s.Active), s.Mission) }

// Round returns the secret store key of the current proposal.
func (s *State) Round() int { return RoundNumber(s.Mission, s.Proposal) }

// Spectators returns players who are not seated in the current game.
func (s *State) Spectators() []engine.Player {
	var out []engine.Player
	for _, p := range s.Players {
		if !s.IsActive(p.ID) {
			out = append(out, p)
		}
	}
	return out
}

// Terminal reports whether the game has finished.
func (s *State) Terminal() bool { return s.Phase == PhaseFinished }

// nextLeader returns the active player after the current leader.
func (s *State) nextLeader() string {
	if len(s.Active) == 0 {
		return ""
	}
	i := s.ActiveIndex(s.Leader)
	return s.Active[(i+1)%len(s.Active)]
}

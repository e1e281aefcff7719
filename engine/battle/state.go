// Package battle implements the two-player card battle ("war") table.
//
// A 52-card deck is shuffled from the room seed and split between two
// seats. Each round both seats flip their top card; the higher card takes
// the pot. Tied cards escalate to war: each seat burns BurnCount cards face
// down and flips again, recursively, until the cards differ. Running out of
// cards is a loss, never an error.
package battle

import "github.com/PMK765/WebPartyGames/engine"

const (
	Seats     = 2
	BurnCount = 3
)

// Rules holds per-room table settings.
type Rules struct {
	// MaxRounds ends the game after this many resolved rounds; the seat with
	// the larger pile wins. 0 means unlimited.
	MaxRounds int `json:"maxRounds"`
}

// DefaultRules returns the standard table rules.
func DefaultRules() Rules {
	return Rules{MaxRounds: 0}
}

// Outcome summarizes the most recently resolved round for display.
type Outcome struct {
	Seat     int                `json:"seat"`
	Cards    int                `json:"cards"`
	WarDepth int                `json:"warDepth"`
	FaceUp   [Seats]engine.Card `json:"faceUp"`
}

// Finish reasons.
const (
	ReasonExhausted = "exhausted"
	ReasonRoundCap  = "round_cap"
	ReasonForfeit   = "forfeit"
)

// State is the replicated room state of a battle table. It is always
// broadcast as a full snapshot.
type State struct {
	RoomID  string          `json:"roomId"`
	HostID  string          `json:"hostId"`
	Phase   Phase           `json:"phase"`
	Players []engine.Player `json:"players"`
	Round   int             `json:"round"`
	Game    int             `json:"game"`
	Rules   Rules           `json:"rules"`

	// Piles[seat][0] is the top of that seat's pile.
	Piles [Seats][]engine.Card `json:"piles"`
	// Pot holds each seat's contribution to the current round (flips and
	// burns), so the awarded order does not depend on flip arrival order.
	Pot      [Seats][]engine.Card `json:"pot"`
	FaceUp   [Seats]engine.Card   `json:"faceUp"`
	Ready    engine.Barrier       `json:"ready"`
	WarDepth int                  `json:"warDepth"`
	Last     *Outcome             `json:"last,omitempty"`

	Winner       string `json:"winner,omitempty"`
	Draw         bool   `json:"draw,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

// clone returns a deep copy; reducers only ever modify clones.
func (s *State) clone() *State {
	out := *s
	out.Players = engine.ClonePlayers(s.Players)
	for seat := 0; seat < Seats; seat++ {
		out.Piles[seat] = cloneCards(s.Piles[seat])
		out.Pot[seat] = cloneCards(s.Pot[seat])
	}
	if s.Last != nil {
		last := *s.Last
		out.Last = &last
	}
	return &out
}

func cloneCards(cards []engine.Card) []engine.Card {
	if cards == nil {
		return nil
	}
	out := make([]engine.Card, len(cards))
	copy(out, cards)
	return out
}

// Seat returns the seat of playerID, or -1 for spectators and strangers.
func (s *State) Seat(playerID string) int {
	i := engine.IndexOf(s.Players, playerID)
	if i >= Seats {
		return -1
	}
	return i
}

// PotSize returns the number of cards currently staked.
func (s *State) PotSize() int {
	return len(s.Pot[0]) + len(s.Pot[1])
}

// CardCount returns the cards held across both piles and the pot. Once dealt
// it is always engine.DeckSize.
func (s *State) CardCount() int {
	return len(s.Piles[0]) + len(s.Piles[1]) + s.PotSize()
}

// Terminal reports whether the game has finished.
func (s *State) Terminal() bool { return s.Phase == PhaseFinished }

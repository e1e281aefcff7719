package engine

import "testing"

// TestCardStrength verifies head-to-head ordering with aces high.
func TestCardStrength(t *testing.T) {
	tests := []struct {
		suit uint8
		rank uint8
		want int
	}{
		{SuitHearts, RankTwo, 2},
		{SuitSpades, RankNine, 9},
		{SuitClubs, RankTen, 10},
		{SuitDiamonds, RankJack, 11},
		{SuitHearts, RankQueen, 12},
		{SuitSpades, RankKing, 13},
		{SuitClubs, RankAce, 14},
	}
	for _, tt := range tests {
		c := NewCard(tt.suit, tt.rank)
		if got := c.Strength(); got != tt.want {
			t.Errorf("%s.Strength() = %d, want %d", c, got, tt.want)
		}
	}
	if NewCard(SuitHearts, RankFive).Strength() != NewCard(SuitSpades, RankFive).Strength() {
		t.Error("suit affected strength")
	}
}

// TestCardPacking verifies suit/rank round-trip through the packed byte.
func TestCardPacking(t *testing.T) {
	for suit := uint8(0); suit < NumSuits; suit++ {
		for rank := uint8(0); rank < NumRanks; rank++ {
			c := NewCard(suit, rank)
			if c.Suit() != suit || c.Rank() != rank || !c.Valid() {
				t.Errorf("NewCard(%d,%d) = suit %d rank %d valid %v", suit, rank, c.Suit(), c.Rank(), c.Valid())
			}
		}
	}
	if EmptyCard.Valid() {
		t.Error("EmptyCard is valid")
	}
}

func TestCardText(t *testing.T) {
	tests := []struct {
		card Card
		text string
	}{
		{NewCard(SuitHearts, RankAce), "AH"},
		{NewCard(SuitSpades, RankTen), "TS"},
		{NewCard(SuitDiamonds, RankSeven), "7D"},
		{NewCard(SuitClubs, RankKing), "KC"},
		{EmptyCard, ""},
	}
	for _, tt := range tests {
		b, err := tt.card.MarshalText()
		if err != nil || string(b) != tt.text {
			t.Errorf("MarshalText(%v) = %q, %v; want %q", tt.card, b, err, tt.text)
		}
		var back Card
		if err := back.UnmarshalText([]byte(tt.text)); err != nil || back != tt.card {
			t.Errorf("UnmarshalText(%q) = %v, %v", tt.text, back, err)
		}
	}
	for _, bad := range []string{"A", "1H", "AX", "10H"} {
		var c Card
		if err := c.UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("UnmarshalText(%q) accepted", bad)
		}
	}
}

func TestNewDeck(t *testing.T) {
	deck := NewDeck()
	if len(deck) != DeckSize {
		t.Fatalf("len = %d, want %d", len(deck), DeckSize)
	}
	seen := make(map[Card]bool)
	for _, c := range deck {
		if seen[c] {
			t.Errorf("duplicate %s", c)
		}
		seen[c] = true
	}
}

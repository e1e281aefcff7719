package engine

import "fmt"

// Suit constants packed into the upper 4 bits of Card.
const (
	SuitHearts   uint8 = 0
	SuitDiamonds uint8 = 1
	SuitClubs    uint8 = 2
	SuitSpades   uint8 = 3
)

// Rank constants packed into the lower 4 bits of Card.
const (
	RankAce   uint8 = 0
	RankTwo   uint8 = 1
	RankThree uint8 = 2
	RankFour  uint8 = 3
	RankFive  uint8 = 4
	RankSix   uint8 = 5
	RankSeven uint8 = 6
	RankEight uint8 = 7
	RankNine  uint8 = 8
	RankTen   uint8 = 9
	RankJack  uint8 = 10
	RankQueen uint8 = 11
	RankKing  uint8 = 12
)

const (
	NumSuits = 4
	NumRanks = 13
	DeckSize = NumSuits * NumRanks
)

// Card is a packed uint8: upper 4 bits = suit, lower 4 bits = rank.
type Card uint8

// EmptyCard represents the absence of a card.
const EmptyCard Card = 0xFF

const (
	rankChars = "A23456789TJQK"
	suitChars = "HDCS"
)

// NewCard constructs a Card from suit and rank.
func NewCard(suit, rank uint8) Card {
	return Card((suit << 4) | (rank & 0x0F))
}

// Suit returns the suit bits (upper 4).
func (c Card) Suit() uint8 { return uint8(c) >> 4 }

// Rank returns the rank bits (lower 4).
func (c Card) Rank() uint8 { return uint8(c) & 0x0F }

// Valid reports whether c encodes one of the 52 standard cards.
func (c Card) Valid() bool {
	return c != EmptyCard && c.Suit() < NumSuits && c.Rank() < NumRanks
}

// Strength orders cards for head-to-head comparison, aces high.
//   - Two–King → 2–13
//   - Ace → 14
func (c Card) Strength() int {
	if c.Rank() == RankAce {
		return 14
	}
	return int(c.Rank()) + 1
}

// String renders the card as rank+suit, e.g. "TS" or "AH".
func (c Card) String() string {
	if !c.Valid() {
		return "--"
	}
	return string([]byte{rankChars[c.Rank()], suitChars[c.Suit()]})
}

// MarshalText encodes the card as its two-letter form. EmptyCard encodes as "".
func (c Card) MarshalText() ([]byte, error) {
	if c == EmptyCard {
		return []byte{}, nil
	}
	if !c.Valid() {
		return nil, fmt.Errorf("engine: invalid card 0x%02x", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText parses the two-letter form produced by MarshalText.
func (c *Card) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = EmptyCard
		return nil
	}
	if len(text) != 2 {
		return fmt.Errorf("engine: malformed card %q", text)
	}
	rank, suit := -1, -1
	for i := 0; i < len(rankChars); i++ {
		if rankChars[i] == text[0] {
			rank = i
		}
	}
	for i := 0; i < len(suitChars); i++ {
		if suitChars[i] == text[1] {
			suit = i
		}
	}
	if rank < 0 || suit < 0 {
		return fmt.Errorf("engine: malformed card %q", text)
	}
	*c = NewCard(uint8(suit), uint8(rank))
	return nil
}

// NewDeck returns the 52 standard cards in suit-major order, unshuffled.
func NewDeck() []Card {
	deck := make([]Card, 0, DeckSize)
	for suit := uint8(0); suit < NumSuits; suit++ {
		for rank := uint8(0); rank < NumRanks; rank++ {
			deck = append(deck, NewCard(suit, rank))
		}
	}
	return deck
}

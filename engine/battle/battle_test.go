package battle

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/PMK765/WebPartyGames/engine"
)

func card(rank, suit uint8) engine.Card { return engine.NewCard(suit, rank) }

// seated returns a lobby hosted by alice with bob joined.
func seated(rules Rules) *State {
	m := NewMachine(rules)
	s := m.Init("room-1", engine.Player{ID: "alice", DisplayName: "Alice"})
	return m.Reduce(s, m.JoinEvent(engine.Player{ID: "bob", DisplayName: "Bob"}))
}

func started(t *testing.T) *State {
	t.Helper()
	s := seated(DefaultRules())
	next := Reduce(s, Event{Type: EventStart, Actor: "alice"})
	if !engine.Changed(s, next) {
		t.Fatal("start was a no-op")
	}
	return next
}

// rigged returns a started game whose piles begin with a and b. The rest of
// the deck is dealt alternately below them so the table still holds 52 cards.
func rigged(t *testing.T, a, b []engine.Card) *State {
	t.Helper()
	used := make(map[engine.Card]bool)
	for _, c := range append(append([]engine.Card{}, a...), b...) {
		if used[c] {
			t.Fatalf("rigged: duplicate card %s", c)
		}
		used[c] = true
	}
	s := started(t).clone()
	s.Piles[0] = append([]engine.Card{}, a...)
	s.Piles[1] = append([]engine.Card{}, b...)
	i := 0
	for _, c := range engine.NewDeck() {
		if used[c] {
			continue
		}
		s.Piles[i%Seats] = append(s.Piles[i%Seats], c)
		i++
	}
	return s
}

func flip(s *State, id string) *State {
	return Reduce(s, Event{Type: EventFlip, Actor: id})
}

func TestStartDealsWholeDeck(t *testing.T) {
	s := started(t)
	if s.Phase != PhaseBattle {
		t.Fatalf("Phase = %s, want battle", s.Phase)
	}
	if len(s.Piles[0]) != 26 || len(s.Piles[1]) != 26 {
		t.Fatalf("piles = %d/%d, want 26/26", len(s.Piles[0]), len(s.Piles[1]))
	}
	seen := make(map[engine.Card]bool)
	for seat := 0; seat < Seats; seat++ {
		for _, c := range s.Piles[seat] {
			if !c.Valid() || seen[c] {
				t.Errorf("bad or duplicate card %s", c)
			}
			seen[c] = true
		}
	}
	if len(seen) != engine.DeckSize {
		t.Errorf("got %d unique cards, want %d", len(seen), engine.DeckSize)
	}
	if s.Game != 1 || s.Round != 0 {
		t.Errorf("Game/Round = %d/%d, want 1/0", s.Game, s.Round)
	}
}

func TestDealIsReproducible(t *testing.T) {
	a, b := started(t), started(t)
	if !reflect.DeepEqual(a.Piles, b.Piles) {
		t.Fatal("same room id dealt different piles")
	}

	other := seated(DefaultRules()).clone()
	other.RoomID = "room-2"
	other = Reduce(other, Event{Type: EventStart, Actor: "alice"})
	if reflect.DeepEqual(a.Piles, other.Piles) {
		t.Error("different room ids dealt identical piles")
	}
}

func TestStartRequiresHostAndTwoPlayers(t *testing.T) {
	s := seated(DefaultRules())
	if next := Reduce(s, Event{Type: EventStart, Actor: "bob"}); next != s {
		t.Error("non-host start changed state")
	}

	m := NewMachine(DefaultRules())
	alone := m.Init("room-1", engine.Player{ID: "alice"})
	if next := Reduce(alone, Event{Type: EventStart, Actor: "alice"}); next != alone {
		t.Error("start with one player changed state")
	}
}

func TestThirdPlayerCannotJoin(t *testing.T) {
	s := seated(DefaultRules())
	next := Reduce(s, Event{Type: EventJoin, Actor: "carol", Player: engine.Player{ID: "carol"}})
	if next != s {
		t.Fatal("third join changed state")
	}
}

func TestRejoinRefreshesName(t *testing.T) {
	s := seated(DefaultRules())
	next := Reduce(s, Event{Type: EventJoin, Actor: "bob", Player: engine.Player{ID: "bob", DisplayName: "Robert", CreditsAtJoin: 7}})
	if !engine.Changed(s, next) {
		t.Fatal("rejoin with new name was a no-op")
	}
	if len(next.Players) != 2 || next.Players[1].DisplayName != "Robert" || next.Players[1].CreditsAtJoin != 7 {
		t.Errorf("Players = %+v", next.Players)
	}
	if s.Players[1].DisplayName != "Bob" {
		t.Error("reduce mutated its input")
	}
}

func TestFlipOrderIndependent(t *testing.T) {
	s := started(t)
	ab := flip(flip(s, "alice"), "bob")
	ba := flip(flip(s, "bob"), "alice")
	if !reflect.DeepEqual(ab, ba) {
		t.Fatalf("flip order changed the result:\n%+v\n%+v", ab, ba)
	}

	tie := rigged(t, []engine.Card{card(engine.RankNine, engine.SuitHearts)}, []engine.Card{card(engine.RankNine, engine.SuitClubs)})
	ab = flip(flip(tie, "alice"), "bob")
	ba = flip(flip(tie, "bob"), "alice")
	if ab.Phase != PhaseWar || !reflect.DeepEqual(ab, ba) {
		t.Fatalf("tie resolved differently by order: %s vs %s", ab.Phase, ba.Phase)
	}
}

func TestDuplicateFlipIsNoop(t *testing.T) {
	s := flip(started(t), "alice")
	if next := flip(s, "alice"); next != s {
		t.Fatal("second flip by same seat changed state")
	}
	if next := flip(s, "mallory"); next != s {
		t.Fatal("flip by stranger changed state")
	}
	if s.Ready.Count() != 1 || len(s.Pot[0]) != 1 {
		t.Errorf("Ready=%d Pot=%d, want 1/1", s.Ready.Count(), len(s.Pot[0]))
	}
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := started(t)
	before := s.clone()
	_ = flip(flip(s, "alice"), "bob")
	if !reflect.DeepEqual(s, before) {
		t.Fatal("reduce mutated its input state")
	}
}

func TestWarChain(t *testing.T) {
	a := []engine.Card{
		card(engine.RankFive, engine.SuitHearts),
		card(engine.RankTwo, engine.SuitHearts), card(engine.RankThree, engine.SuitHearts), card(engine.RankFour, engine.SuitHearts),
		card(engine.RankKing, engine.SuitHearts),
	}
	b := []engine.Card{
		card(engine.RankFive, engine.SuitSpades),
		card(engine.RankTwo, engine.SuitSpades), card(engine.RankThree, engine.SuitSpades), card(engine.RankFour, engine.SuitSpades),
		card(engine.RankQueen, engine.SuitSpades),
	}
	s := rigged(t, a, b)

	var phases []Phase
	record := func(s *State) {
		if n := len(phases); n == 0 || phases[n-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
		if got := s.CardCount(); got != engine.DeckSize {
			t.Fatalf("CardCount = %d, want %d", got, engine.DeckSize)
		}
	}
	record(s)
	for _, id := range []string{"alice", "bob", "alice", "bob"} {
		s = flip(s, id)
		record(s)
	}

	want := []Phase{PhaseBattle, PhaseWar, PhaseResolved}
	if !reflect.DeepEqual(phases, want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	if s.Last == nil || s.Last.Seat != 0 || s.Last.Cards != 2+2*(BurnCount+1) || s.Last.WarDepth != 1 {
		t.Fatalf("Last = %+v, want seat 0 winning 10 cards at depth 1", s.Last)
	}
	if s.PotSize() != 0 || s.WarDepth != 0 || s.Round != 1 {
		t.Errorf("Pot=%d WarDepth=%d Round=%d after resolution", s.PotSize(), s.WarDepth, s.Round)
	}
	if s.Players[0].Score != 1 {
		t.Errorf("alice Score = %d, want 1", s.Players[0].Score)
	}
	tail := s.Piles[0][len(s.Piles[0])-10:]
	if !reflect.DeepEqual(tail, append(append([]engine.Card{}, a...), b...)) {
		t.Errorf("awarded pot = %v, want seat-ordered %v then %v", tail, a, b)
	}
}

// tiedWithPiles returns a started game whose next flip ties, with a and b
// as the cards left under each tied card.
func tiedWithPiles(t *testing.T, a, b []engine.Card) *State {
	t.Helper()
	s := started(t).clone()
	s.Piles[0] = append([]engine.Card{card(engine.RankSeven, engine.SuitHearts)}, a...)
	s.Piles[1] = append([]engine.Card{card(engine.RankSeven, engine.SuitClubs)}, b...)
	return s
}

func TestWarWithShortPileLoses(t *testing.T) {
	// Alice keeps two cards behind the tie; bob holds the rest of the deck.
	tied := map[engine.Card]bool{
		card(engine.RankSeven, engine.SuitHearts): true,
		card(engine.RankSeven, engine.SuitClubs):  true,
	}
	var rest []engine.Card
	for _, c := range engine.NewDeck() {
		if !tied[c] {
			rest = append(rest, c)
		}
	}
	s := tiedWithPiles(t, rest[:2], rest[2:])

	for _, order := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		next := flip(flip(s, order[0]), order[1])
		if next.Phase != PhaseFinished || next.Winner != "bob" || next.FinishReason != ReasonExhausted {
			t.Fatalf("%v: Phase=%s Winner=%q Reason=%q, want bob winning by exhaustion",
				order, next.Phase, next.Winner, next.FinishReason)
		}
		if next.CardCount() != engine.DeckSize {
			t.Errorf("%v: CardCount = %d", order, next.CardCount())
		}
	}
}

func TestWarWithBothPilesShortIsDraw(t *testing.T) {
	s := tiedWithPiles(t,
		[]engine.Card{card(engine.RankTwo, engine.SuitHearts), card(engine.RankThree, engine.SuitHearts)},
		[]engine.Card{card(engine.RankTwo, engine.SuitSpades), card(engine.RankThree, engine.SuitSpades), card(engine.RankFour, engine.SuitSpades)},
	)
	ab := flip(flip(s, "alice"), "bob")
	ba := flip(flip(s, "bob"), "alice")
	if !reflect.DeepEqual(ab, ba) {
		t.Fatalf("flip order changed the result: winner %q vs %q", ab.Winner, ba.Winner)
	}
	if ab.Phase != PhaseFinished || !ab.Draw || ab.Winner != "" || ab.FinishReason != ReasonExhausted {
		t.Fatalf("Phase=%s Draw=%v Winner=%q Reason=%q, want a draw by exhaustion", ab.Phase, ab.Draw, ab.Winner, ab.FinishReason)
	}
}

func TestEmptyPileAfterRoundLoses(t *testing.T) {
	king := card(engine.RankKing, engine.SuitHearts)
	two := card(engine.RankTwo, engine.SuitSpades)
	s := started(t).clone()
	s.Piles[0] = []engine.Card{king}
	s.Piles[1] = []engine.Card{two}
	for _, c := range engine.NewDeck() {
		if c != king && c != two {
			s.Piles[0] = append(s.Piles[0], c)
		}
	}

	s = flip(flip(s, "bob"), "alice")
	if s.Phase != PhaseFinished || s.Winner != "alice" {
		t.Fatalf("Phase=%s Winner=%q, want finished with alice", s.Phase, s.Winner)
	}
	if len(s.Piles[1]) != 0 || len(s.Piles[0]) != engine.DeckSize {
		t.Errorf("piles = %d/%d", len(s.Piles[0]), len(s.Piles[1]))
	}
	if next := flip(s, "alice"); next != s {
		t.Error("flip after finish changed state")
	}
}

func TestConservationOverFullGame(t *testing.T) {
	s := started(t)
	for i := 0; i < 5000 && !s.Terminal(); i++ {
		s = flip(flip(s, "alice"), "bob")
		if got := s.CardCount(); got != engine.DeckSize {
			t.Fatalf("step %d: CardCount = %d, want %d", i, got, engine.DeckSize)
		}
		if s.Phase == PhaseBattle {
			t.Fatalf("step %d: both seats flipped but round not resolved", i)
		}
	}
}

func TestRoundCap(t *testing.T) {
	s := rigged(t, []engine.Card{card(engine.RankKing, engine.SuitHearts)}, []engine.Card{card(engine.RankTwo, engine.SuitSpades)})
	s = s.clone()
	s.Rules.MaxRounds = 1
	s = flip(flip(s, "alice"), "bob")
	if s.Phase != PhaseFinished || s.FinishReason != ReasonRoundCap || s.Winner != "alice" {
		t.Fatalf("Phase=%s Reason=%q Winner=%q", s.Phase, s.FinishReason, s.Winner)
	}
}

func TestLeaveMidGameForfeits(t *testing.T) {
	s := started(t)
	if next := Reduce(s, Event{Type: EventKick, Actor: "bob", Target: "alice"}); next != s {
		t.Fatal("kick by non-host changed state")
	}

	next := Reduce(s, Event{Type: EventLeave, Actor: "bob"})
	if next.Phase != PhaseFinished || next.Winner != "alice" || next.FinishReason != ReasonForfeit {
		t.Fatalf("Phase=%s Winner=%q Reason=%q", next.Phase, next.Winner, next.FinishReason)
	}
}

func TestHostLeavePromotesFirstPlayer(t *testing.T) {
	s := seated(DefaultRules())
	next := Reduce(s, Event{Type: EventLeave, Actor: "alice"})
	if next.HostID != "bob" || len(next.Players) != 1 {
		t.Fatalf("HostID=%q Players=%v", next.HostID, next.Players)
	}
	if next.Phase != PhaseLobby {
		t.Errorf("Phase = %s, want lobby", next.Phase)
	}
}

func TestRestart(t *testing.T) {
	s := flip(flip(started(t), "alice"), "bob")
	if next := Reduce(s, Event{Type: EventRestart, Actor: "bob"}); next != s {
		t.Fatal("restart by non-host changed state")
	}

	lobby := Reduce(s, Event{Type: EventRestart, Actor: "alice"})
	if lobby.Phase != PhaseLobby || lobby.Round != 0 || lobby.CardCount() != 0 || lobby.Last != nil {
		t.Fatalf("restart left round state behind: %+v", lobby)
	}
	if len(lobby.Players) != 2 || lobby.Players[0].Score != 0 || lobby.Players[1].Score != 0 {
		t.Errorf("Players = %+v", lobby.Players)
	}
	if again := Reduce(lobby, Event{Type: EventRestart, Actor: "alice"}); again != lobby {
		t.Error("restart of a lobby changed state")
	}

	second := Reduce(lobby, Event{Type: EventStart, Actor: "alice"})
	if second.Game != 2 {
		t.Fatalf("Game = %d, want 2", second.Game)
	}
	if reflect.DeepEqual(second.Piles, started(t).Piles) {
		t.Error("second game reused the first game's deal")
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	s := flip(flip(flip(started(t), "alice"), "bob"), "alice")
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got State
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(&got, s) {
		t.Fatalf("round trip differs:\n got %+v\nwant %+v", &got, s)
	}
}

func TestDecodeIntent(t *testing.T) {
	m := NewMachine(DefaultRules())

	ev, err := m.DecodeIntent("bob", "kick", []byte(`{"playerId":"carol"}`))
	if err != nil || ev.Type != EventKick || ev.Actor != "bob" || ev.Target != "carol" {
		t.Fatalf("kick = %+v, %v", ev, err)
	}

	ev, err = m.DecodeIntent("bob", "join", []byte(`{"displayName":"Bob","credits":5}`))
	if err != nil || ev.Player.ID != "bob" || ev.Player.DisplayName != "Bob" || ev.Player.CreditsAtJoin != 5 {
		t.Fatalf("join = %+v, %v", ev, err)
	}

	if _, err := m.DecodeIntent("bob", "kick", []byte(`{`)); err == nil {
		t.Error("malformed payload decoded")
	}
	if _, err := m.DecodeIntent("bob", "cast-spell", nil); !errors.Is(err, engine.ErrUnknownIntent) {
		t.Errorf("unknown intent err = %v", err)
	}
}

func TestPhaseText(t *testing.T) {
	for p := PhaseLobby; p < numPhases; p++ {
		text, err := p.MarshalText()
		if err != nil {
			t.Fatalf("%d: %v", p, err)
		}
		var back Phase
		if err := back.UnmarshalText(text); err != nil || back != p {
			t.Errorf("%s round-tripped to %s (%v)", p, back, err)
		}
	}
	if err := new(Phase).UnmarshalText([]byte("intermission")); err == nil {
		t.Error("unknown phase name accepted")
	}
}

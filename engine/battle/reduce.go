package battle

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/PMK765/WebPartyGames/engine"
)

// EventType identifies a battle event.
type EventType string

const (
	EventJoin    EventType = engine.IntentJoin
	EventLeave   EventType = engine.IntentLeave
	EventKick    EventType = engine.IntentKick
	EventStart   EventType = engine.IntentStart
	EventRestart EventType = engine.IntentRestart
	EventFlip    EventType = "flip-ready"
)

// Event is the input to Reduce. Actor is the player the event is attributed
// to; Player carries the joining player and Target the player being removed.
type Event struct {
	Type   EventType
	Actor  string
	Player engine.Player
	Target string
}

type phaseRule func(s *State, ev Event) *State

// phaseRules maps every phase to the reducer for its phase-specific events. A phase
// without a rule is a programming error caught at startup.
var phaseRules [numPhases]phaseRule

func init() {
	phaseRules = [numPhases]phaseRule{
		PhaseLobby:    reduceLobby,
		PhaseBattle:   reduceFlip,
		PhaseWar:      reduceFlip,
		PhaseResolved: reduceFlip,
		PhaseFinished: reduceFinished,
	}
	for p, rule := range phaseRules {
		if rule == nil {
			panic(fmt.Sprintf("battle: no rule for phase %s", Phase(p)))
		}
	}
}

// Reduce applies ev to s. It never mutates s; when ev is not legal in s the
// same pointer is returned.
func Reduce(s *State, ev Event) *State {
	if s == nil {
		return s
	}
	switch ev.Type {
	case EventJoin:
		return reduceJoin(s, ev.Player)
	case EventLeave:
		return reduceRemove(s, ev.Actor)
	case EventKick:
		if ev.Actor != s.HostID {
			return s
		}
		return reduceRemove(s, ev.Target)
	case EventRestart:
		return reduceRestart(s, ev.Actor)
	}
	if s.Phase >= numPhases {
		return s
	}
	return phaseRules[s.Phase](s, ev)
}

func reduceJoin(s *State, p engine.Player) *State {
	if engine.IndexOf(s.Players, p.ID) < 0 && (s.Phase != PhaseLobby || len(s.Players) >= Seats) {
		return s
	}
	players, changed := engine.WithPlayer(s.Players, p)
	if !changed {
		return s
	}
	next := s.clone()
	next.Players = players
	if next.HostID == "" {
		next.HostID = p.ID
	}
	return next
}

func reduceRemove(s *State, playerID string) *State {
	seat := s.Seat(playerID)
	players, host, changed := engine.WithoutPlayer(s.Players, s.HostID, playerID)
	if !changed {
		return s
	}
	next := s.clone()
	next.Players = players
	next.HostID = host
	if seat >= 0 && s.Phase.AcceptsFlips() {
		next.Phase = PhaseFinished
		next.FinishReason = ReasonForfeit
		next.Winner = ""
		if len(players) > 0 {
			next.Winner = players[0].ID
		}
	}
	return next
}

func reduceRestart(s *State, actor string) *State {
	if actor != s.HostID || s.Phase == PhaseLobby {
		return s
	}
	return &State{
		RoomID:  s.RoomID,
		HostID:  s.HostID,
		Phase:   PhaseLobby,
		Players: engine.ResetScores(s.Players),
		Game:    s.Game,
		Rules:   s.Rules,
		FaceUp:  [Seats]engine.Card{engine.EmptyCard, engine.EmptyCard},
	}
}

func reduceLobby(s *State, ev Event) *State {
	if ev.Type != EventStart || ev.Actor != s.HostID || len(s.Players) != Seats {
		return s
	}
	next := s.clone()
	next.Game = s.Game + 1
	next.Phase = PhaseBattle
	next.Round = 0
	next.Players = engine.ResetScores(s.Players)
	next.Piles = [Seats][]engine.Card{}
	next.Pot = [Seats][]engine.Card{}
	for i, c := range engine.ShuffledCards(DeckSeed(s.RoomID, next.Game), engine.NewDeck()) {
		next.Piles[i%Seats] = append(next.Piles[i%Seats], c)
	}
	next.FaceUp = [Seats]engine.Card{engine.EmptyCard, engine.EmptyCard}
	next.Ready = engine.NewBarrier(Seats)
	next.WarDepth = 0
	next.Last = nil
	next.Winner = ""
	next.Draw = false
	next.FinishReason = ""
	return next
}

// DeckSeed returns the shuffle seed for the given game number of a room.
func DeckSeed(roomID string, game int) string {
	if game <= 1 {
		return roomID
	}
	return roomID + "#" + strconv.Itoa(game)
}

func reduceFlip(s *State, ev Event) *State {
	if ev.Type != EventFlip {
		return s
	}
	seat := s.Seat(ev.Actor)
	if seat < 0 || s.Ready.Signalled(seat) {
		return s
	}
	next := s.clone()
	pile := next.Piles[seat]
	if next.Phase == PhaseWar {
		if len(pile) < BurnCount+1 {
			next.finish(1-seat, ReasonExhausted)
			return next
		}
		next.Pot[seat] = append(next.Pot[seat], pile[:BurnCount]...)
		pile = pile[BurnCount:]
	} else if len(pile) == 0 {
		next.finish(1-seat, ReasonExhausted)
		return next
	}
	card := pile[0]
	next.Piles[seat] = pile[1:]
	next.Pot[seat] = append(next.Pot[seat], card)
	next.FaceUp[seat] = card
	next.Ready, _ = next.Ready.Signal(seat)
	if next.Phase == PhaseResolved {
		next.Phase = PhaseBattle
	}
	if next.Ready.All() {
		next.resolve()
	}
	return next
}

// resolve settles a round once both seats have flipped. Called on a clone.
func (s *State) resolve() {
	a, b := s.FaceUp[0].Strength(), s.FaceUp[1].Strength()
	s.Ready = s.Ready.Reset()
	if a == b {
		s.WarDepth++
		s.Phase = PhaseWar
		// A seat that cannot burn and flip loses now, not when it next flips.
		short0, short1 := len(s.Piles[0]) < BurnCount+1, len(s.Piles[1]) < BurnCount+1
		switch {
		case short0 && short1:
			s.finish(-1, ReasonExhausted)
		case short0:
			s.finish(1, ReasonExhausted)
		case short1:
			s.finish(0, ReasonExhausted)
		}
		return
	}
	winner := 0
	if b > a {
		winner = 1
	}
	won := s.PotSize()
	s.Piles[winner] = append(s.Piles[winner], s.Pot[0]...)
	s.Piles[winner] = append(s.Piles[winner], s.Pot[1]...)
	s.Pot = [Seats][]engine.Card{}
	s.Round++
	s.Players[winner].Score++
	s.Last = &Outcome{Seat: winner, Cards: won, WarDepth: s.WarDepth, FaceUp: s.FaceUp}
	s.WarDepth = 0
	s.Phase = PhaseResolved

	switch {
	case len(s.Piles[1-winner]) == 0:
		s.finish(winner, ReasonExhausted)
	case s.Rules.MaxRounds > 0 && s.Round >= s.Rules.MaxRounds:
		switch la, lb := len(s.Piles[0]), len(s.Piles[1]); {
		case la > lb:
			s.finish(0, ReasonRoundCap)
		case lb > la:
			s.finish(1, ReasonRoundCap)
		default:
			s.finish(-1, ReasonRoundCap)
		}
	}
}

// finish ends the game in favor of seat, or as a draw when seat is -1.
func (s *State) finish(seat int, reason string) {
	s.Phase = PhaseFinished
	s.FinishReason = reason
	if seat < 0 {
		s.Draw = true
		s.Winner = ""
		return
	}
	s.Winner = s.Players[seat].ID
}

func reduceFinished(s *State, _ Event) *State { return s }

// Machine adapts the battle reducer to engine.Machine.
type Machine struct {
	Rules Rules
}

// NewMachine returns a battle machine using rules.
func NewMachine(rules Rules) Machine { return Machine{Rules: rules} }

var _ engine.Machine[*State, Event] = Machine{}

func (m Machine) Init(roomID string, host engine.Player) *State {
	host.Score = 0
	return &State{
		RoomID:  roomID,
		HostID:  host.ID,
		Phase:   PhaseLobby,
		Players: []engine.Player{host},
		Rules:   m.Rules,
		FaceUp:  [Seats]engine.Card{engine.EmptyCard, engine.EmptyCard},
	}
}

func (Machine) Reduce(s *State, ev Event) *State { return Reduce(s, ev) }
func (Machine) Terminal(s *State) bool            { return s != nil && s.Terminal() }

func (Machine) HostOf(s *State) string {
	if s == nil {
		return ""
	}
	return s.HostID
}

func (Machine) Has(s *State, playerID string) bool {
	return s != nil && engine.IndexOf(s.Players, playerID) >= 0
}

func (Machine) JoinEvent(p engine.Player) Event {
	return Event{Type: EventJoin, Actor: p.ID, Player: p}
}

func (Machine) RemoveEvent(actor, playerID string) Event {
	if actor == playerID {
		return Event{Type: EventLeave, Actor: actor}
	}
	return Event{Type: EventKick, Actor: actor, Target: playerID}
}

func (Machine) DecodeIntent(actor, intent string, payload []byte) (Event, error) {
	ev := Event{Type: EventType(intent), Actor: actor}
	switch ev.Type {
	case EventStart, EventRestart, EventFlip, EventLeave:
		return ev, nil
	case EventJoin:
		var body engine.JoinPayload
		if err := decode(payload, &body); err != nil {
			return Event{}, err
		}
		ev.Player = engine.Player{ID: actor, DisplayName: body.DisplayName, CreditsAtJoin: body.Credits}
		return ev, nil
	case EventKick:
		var body engine.KickPayload
		if err := decode(payload, &body); err != nil {
			return Event{}, err
		}
		ev.Target = body.PlayerID
		return ev, nil
	}
	return Event{}, fmt.Errorf("battle: %w %q", engine.ErrUnknownIntent, intent)
}

func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("battle: decode payload: %w", err)
	}
	return nil
}

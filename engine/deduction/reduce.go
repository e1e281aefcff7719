package deduction

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/PMK765/WebPartyGames/engine"
)

// EventType identifies a deduction event.
type EventType string

const (
	EventJoin    EventType = engine.IntentJoin
	EventLeave   EventType = engine.IntentLeave
	EventKick    EventType = engine.IntentKick
	EventStart   EventType = engine.IntentStart
	EventRestart EventType = engine.IntentRestart

	EventAcknowledge   EventType = "acknowledge"
	EventPropose       EventType = "propose"
	EventVoteCast      EventType = "vote-cast"
	EventVoteResult    EventType = "vote-result"
	EventCardSubmitted EventType = "card-submitted"
	EventMissionResult EventType = "mission-result"
	EventAdvance       EventType = "advance"
)

// Event is the input to Reduce. Only the fields relevant to Type are read.
type Event struct {
	Type   EventType
	Actor  string
	Player engine.Player
	Target string

	Team     []string
	Mission  int
	Proposal int
	Approve  int
	Reject   int
	Votes    map[string]bool
	Fails    int
}

// ProposePayload is the body of a propose intent.
type ProposePayload struct {
	Team []string `json:"team"`
}

// VoteResultPayload is the body of a vote-result event, built by the host
// from the secret store's finalized tally.
type VoteResultPayload struct {
	Mission  int             `json:"mission"`
	Proposal int             `json:"proposal"`
	Approve  int             `json:"approve"`
	Reject   int             `json:"reject"`
	Votes    map[string]bool `json:"votes,omitempty"`
}

// MissionResultPayload is the body of a mission-result event.
type MissionResultPayload struct {
	Mission int `json:"mission"`
	Fails   int `json:"fails"`
}

type phaseRule func(s *State, ev Event) *State

var phaseRules [numPhases]phaseRule

func init() {
	phaseRules = [numPhases]phaseRule{
		PhaseLobby:         reduceLobby,
		PhaseRoleReveal:    reduceRoleReveal,
		PhaseProposing:     reduceProposing,
		PhaseVoting:        reduceVoting,
		PhaseMission:       reduceMission,
		PhaseMissionResult: reduceMissionResult,
		PhaseFinished:      func(s *State, _ Event) *State { return s },
	}
	for p, rule := range phaseRules {
		if rule == nil {
			panic(fmt.Sprintf("deduction: no rule for phase %s", Phase(p)))
		}
	}
}

// Reduce applies ev to s without mutating s. Events that are not legal in s
// return s itself.
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
		if ev.Actor != s.HostID || ev.Target == s.HostID {
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

// Players joining mid-game are spectators until the next start.
func reduceJoin(s *State, p engine.Player) *State {
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
	players, host, changed := engine.WithoutPlayer(s.Players, s.HostID, playerID)
	if !changed {
		return s
	}
	next := s.clone()
	next.Players = players
	next.HostID = host
	if s.Phase.InGame() && s.IsActive(playerID) {
		next.Phase = PhaseFinished
		next.FinishReason = ReasonAbandoned
		next.Winner = ""
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
	}
}

func reduceLobby(s *State, ev Event) *State {
	if ev.Type != EventStart || ev.Actor != s.HostID || len(s.Players) < MinPlayers {
		return s
	}
	n := min(len(s.Players), MaxPlayers)
	next := s.clone()
	next.Game = s.Game + 1
	next.Phase = PhaseRoleReveal
	next.Active = make([]string, n)
	for i := range n {
		next.Active[i] = s.Players[i].ID
	}
	next.Leader = next.Active[0]
	next.Mission = 1
	next.Proposal = 1
	next.Team = nil
	next.Acks = engine.NewBarrier(n)
	next.Votes = engine.Barrier{}
	next.Submitted = engine.Barrier{}
	next.LastVote = nil
	next.Results = nil
	next.ResistanceWins = 0
	next.SpyWins = 0
	next.Winner = ""
	next.FinishReason = ""
	return next
}

func reduceRoleReveal(s *State, ev Event) *State {
	if ev.Type != EventAcknowledge {
		return s
	}
	acks, ok := s.Acks.Signal(s.ActiveIndex(ev.Actor))
	if !ok {
		return s
	}
	next := s.clone()
	next.Acks = acks
	if acks.All() {
		next.Phase = PhaseProposing
	}
	return next
}

func reduceProposing(s *State, ev Event) *State {
	if ev.Type != EventPropose || ev.Actor != s.Leader || len(ev.Team) != s.TeamSize() {
		return s
	}
	seen := make(map[string]bool, len(ev.Team))
	for _, id := range ev.Team {
		if seen[id] || !s.IsActive(id) {
			return s
		}
		seen[id] = true
	}
	next := s.clone()
	next.Team = slices.Clone(ev.Team)
	next.Votes = engine.NewBarrier(len(s.Active))
	next.Phase = PhaseVoting
	return next
}

func reduceVoting(s *State, ev Event) *State {
	switch ev.Type {
	case EventVoteCast:
		votes, ok := s.Votes.Signal(s.ActiveIndex(ev.Actor))
		if !ok {
			return s
		}
		next := s.clone()
		next.Votes = votes
		return next
	case EventVoteResult:
		return applyVoteResult(s, ev)
	}
	return s
}

func applyVoteResult(s *State, ev Event) *State {
	n := len(s.Active)
	if ev.Actor != s.HostID || ev.Mission != s.Mission || ev.Proposal != s.Proposal ||
		ev.Approve < 0 || ev.Reject < 0 || ev.Approve+ev.Reject != n {
		return s
	}
	if ev.Votes != nil {
		approve := 0
		for id, yes := range ev.Votes {
			if !s.IsActive(id) {
				return s
			}
			if yes {
				approve++
			}
		}
		if len(ev.Votes) != n || approve != ev.Approve {
			return s
		}
	}

	next := s.clone()
	approved := Approved(ev.Approve, n)
	next.LastVote = &VoteTally{
		Mission:  s.Mission,
		Proposal: s.Proposal,
		Leader:   s.Leader,
		Team:     slices.Clone(s.Team),
		Approve:  ev.Approve,
		Reject:   ev.Reject,
		Approved: approved,
		Votes:    maps.Clone(ev.Votes),
	}
	next.Votes = engine.NewBarrier(n)
	for i := range n {
		next.Votes, _ = next.Votes.Signal(i)
	}

	if approved {
		next.Phase = PhaseMission
		next.Submitted = engine.NewBarrier(len(s.Team))
		return next
	}
	if s.Proposal >= MaxProposals {
		next.Phase = PhaseFinished
		next.Winner = RoleSpy
		next.FinishReason = ReasonDeadlock
		return next
	}
	next.Proposal++
	next.Leader = s.nextLeader()
	next.Team = nil
	next.Phase = PhaseProposing
	return next
}

func reduceMission(s *State, ev Event) *State {
	switch ev.Type {
	case EventCardSubmitted:
		submitted, ok := s.Submitted.Signal(s.TeamIndex(ev.Actor))
		if !ok {
			return s
		}
		next := s.clone()
		next.Submitted = submitted
		return next
	case EventMissionResult:
		if ev.Actor != s.HostID || ev.Mission != s.Mission || ev.Fails < 0 || ev.Fails > len(s.Team) {
			return s
		}
		next := s.clone()
		failed := MissionFailed(ev.Fails)
		next.Results = append(next.Results, MissionOutcome{
			Mission: s.Mission,
			Team:    slices.Clone(s.Team),
			Fails:   ev.Fails,
			Failed:  failed,
		})
		if failed {
			next.SpyWins++
		} else {
			next.ResistanceWins++
		}
		switch {
		case next.SpyWins >= WinsNeeded:
			next.Winner = RoleSpy
		case next.ResistanceWins >= WinsNeeded:
			next.Winner = RoleResistance
		}
		next.Submitted = engine.Barrier{}
		next.Phase = PhaseMissionResult
		return next
	}
	return s
}

func reduceMissionResult(s *State, ev Event) *State {
	if ev.Type != EventAdvance || ev.Actor != s.HostID {
		return s
	}
	next := s.clone()
	if s.Winner != "" || s.Mission >= Missions {
		next.Phase = PhaseFinished
		next.FinishReason = ReasonMissions
		return next
	}
	next.Mission++
	next.Proposal = 1
	next.Leader = s.nextLeader()
	next.Team = nil
	next.Votes = engine.Barrier{}
	next.Phase = PhaseProposing
	return next
}

// Machine adapts the deduction reducer to engine.Machine.
type Machine struct{}

var _ engine.Machine[*State, Event] = Machine{}

func (Machine) Init(roomID string, host engine.Player) *State {
	host.Score = 0
	return &State{
		RoomID:  roomID,
		HostID:  host.ID,
		Phase:   PhaseLobby,
		Players: []engine.Player{host},
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
	case EventStart, EventRestart, EventLeave, EventAcknowledge, EventVoteCast, EventCardSubmitted, EventAdvance:
		return ev, nil
	case EventJoin:
		var body engine.JoinPayload
		if err := decode(payload, &body); err != nil {
			return Event{}, err
		}
		ev.Player = engine.Player{ID: actor, DisplayName: body.DisplayName, CreditsAtJoin: body.Credits}
	case EventKick:
		var body engine.KickPayload
		if err := decode(payload, &body); err != nil {
			return Event{}, err
		}
		ev.Target = body.PlayerID
	case EventPropose:
		var body ProposePayload
		if err := decode(payload, &body); err != nil {
			return Event{}, err
		}
		ev.Team = body.Team
	case EventVoteResult:
		var body VoteResultPayload
		if err := decode(payload, &body); err != nil {
			return Event{}, err
		}
		ev.Mission, ev.Proposal = body.Mission, body.Proposal
		ev.Approve, ev.Reject, ev.Votes = body.Approve, body.Reject, body.Votes
	case EventMissionResult:
		var body MissionResultPayload
		if err := decode(payload, &body); err != nil {
			return Event{}, err
		}
		ev.Mission, ev.Fails = body.Mission, body.Fails
	default:
		return Event{}, fmt.Errorf("deduction: %w %q", engine.ErrUnknownIntent, intent)
	}
	return ev, nil
}

func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("deduction: decode payload: %w", err)
	}
	return nil
}

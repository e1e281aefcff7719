// Package secrets is the authoritative store for everything a deduction game
// must hide: roles, individual votes and mission cards. Every call is made
// as a verified identity and checked against the room's stored public state
// before anything is read or written. Clients only ever get aggregates back,
// apart from their own role.
package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/PMK765/WebPartyGames/engine/deduction"
	"github.com/PMK765/WebPartyGames/internal/auth"
	"github.com/PMK765/WebPartyGames/internal/logging"
	"github.com/PMK765/WebPartyGames/internal/relay"
)

// API is the store as seen by one caller. Service.As and Client implement it.
type API interface {
	JoinRoom(ctx context.Context, roomID, name string, credits int64) (JoinResult, error)
	UpdatePublicState(ctx context.Context, roomID string, state json.RawMessage) error
	DealRoles(ctx context.Context, roomID string, playerIDs []string) error
	CastVote(ctx context.Context, roomID string, mission, proposal int, approve bool) error
	FinalizeVote(ctx context.Context, roomID string, mission, proposal int) (VoteTally, error)
	SubmitMissionCard(ctx context.Context, roomID string, mission int, card deduction.MissionCard) error
	FinalizeMission(ctx context.Context, roomID string, mission int) (int, error)
	MyRole(ctx context.Context, roomID string) (deduction.Role, error)
	GetMySpies(ctx context.Context, roomID string) ([]string, error)
	RevealRoles(ctx context.Context, roomID string) (map[string]deduction.Role, error)
	LeaveRoom(ctx context.Context, roomID string) (string, error)
}

type JoinResult struct {
	HostID      string          `json:"host_id"`
	PublicState json.RawMessage `json:"public_state,omitempty"`
}

// VoteTally is a finalized vote. Votes is revealed together with the counts
// and only once every role holder has voted.
type VoteTally struct {
	Approve int             `json:"approve"`
	Reject  int             `json:"reject"`
	Votes   map[string]bool `json:"votes"`
}

// publicHeader is the part of a stored deduction state the store checks
// permissions against.
type publicHeader struct {
	HostID   string          `json:"hostId"`
	Phase    deduction.Phase `json:"phase"`
	Leader   string          `json:"leader"`
	Mission  int             `json:"mission"`
	Proposal int             `json:"proposal"`
	Team     []string        `json:"team"`
	Active   []string        `json:"active"`
}

func parseHeader(state json.RawMessage) (publicHeader, error) {
	var h publicHeader
	if len(state) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(state, &h); err != nil {
		return h, badRequest("public state: %v", err)
	}
	return h, nil
}

type Service struct {
	repo Repository
	salt string
	log  *logrus.Entry
}

// NewService serves repo. salt is mixed into role seeds; empty keeps deals
// reproducible from the room id alone.
func NewService(repo Repository, salt string, log *logrus.Entry) *Service {
	return &Service{repo: repo, salt: salt, log: logging.OrDiscard(log).WithField("component", "secrets")}
}

// As binds the service to caller.
func (s *Service) As(caller auth.Identity) API {
	return boundAPI{s: s, caller: caller}
}

// JoinRoom creates roomID with the caller as host if it does not exist yet,
// and records the caller as a member. Credits come from the verified
// identity; the credits argument is informational.
func (s *Service) JoinRoom(ctx context.Context, caller auth.Identity, roomID, name string, credits int64) (JoinResult, error) {
	if !relay.ValidRoomID(roomID) {
		return JoinResult{}, badRequest("invalid room id")
	}
	if name == "" {
		name = caller.Name
	}
	room, err := s.repo.EnsureRoom(ctx, roomID, caller.ID)
	if err != nil {
		return JoinResult{}, err
	}
	err = s.repo.UpsertMember(ctx, Member{
		RoomID:      roomID,
		UserID:      caller.ID,
		DisplayName: auth.NormalizeName(name),
		Credits:     caller.Credits,
	})
	if err != nil {
		return JoinResult{}, err
	}
	if credits != caller.Credits {
		s.log.WithFields(logrus.Fields{"room": roomID, "user": caller.ID}).Debug("ignoring client-supplied credits")
	}
	return JoinResult{HostID: room.HostID, PublicState: room.PublicState}, nil
}

// UpdatePublicState stores the mirrored public state. The host may always
// write. The current leader may write while a team is being proposed, but
// only the state their proposal leads to. Only the host can move host_id,
// and only to another member.
func (s *Service) UpdatePublicState(ctx context.Context, caller auth.Identity, roomID string, state json.RawMessage) error {
	room, err := s.memberRoom(ctx, caller, roomID)
	if err != nil {
		return err
	}
	if len(state) == 0 || !json.Valid(state) {
		return badRequest("state must be a JSON document")
	}
	stored, err := parseHeader(room.PublicState)
	if err != nil {
		return err
	}
	next, err := parseHeader(state)
	if err != nil {
		return err
	}

	isHost := caller.ID == room.HostID
	isLeader := stored.Phase == deduction.PhaseProposing && stored.Leader == caller.ID
	if !isHost && !isLeader {
		return ErrForbidden
	}
	if !isHost {
		if state, err = proposalState(caller.ID, room.PublicState, state); err != nil {
			return err
		}
		next.HostID = room.HostID
	}
	hostID := room.HostID
	if next.HostID != "" && next.HostID != room.HostID {
		if !isHost {
			return ErrForbidden
		}
		if _, err := s.repo.Member(ctx, roomID, next.HostID); err != nil {
			return badRequest("new host %s is not a member", next.HostID)
		}
		hostID = next.HostID
	}
	return s.repo.SetPublicState(ctx, roomID, hostID, state)
}

// proposalState checks that next is exactly what stored becomes when leader
// proposes next's team, and returns its canonical encoding.
func proposalState(leader string, stored, next json.RawMessage) (json.RawMessage, error) {
	var cur, proposed deduction.State
	if err := json.Unmarshal(stored, &cur); err != nil {
		return nil, badRequest("stored state: %v", err)
	}
	if err := json.Unmarshal(next, &proposed); err != nil {
		return nil, badRequest("public state: %v", err)
	}
	want := deduction.Reduce(&cur, deduction.Event{Type: deduction.EventPropose, Actor: leader, Team: proposed.Team})
	if want == &cur {
		return nil, ErrForbidden
	}
	wantData, err := json.Marshal(want)
	if err != nil {
		return nil, err
	}
	gotData, err := json.Marshal(&proposed)
	if err != nil {
		return nil, badRequest("public state: %v", err)
	}
	if !bytes.Equal(wantData, gotData) {
		return nil, ErrForbidden
	}
	return wantData, nil
}

// DealRoles assigns roles to playerIDs, replacing any previous deal. The
// shuffle is seeded from the room id and deal number, and the server salt
// when one is configured.
func (s *Service) DealRoles(ctx context.Context, caller auth.Identity, roomID string, playerIDs []string) error {
	room, err := s.hostRoom(ctx, caller, roomID)
	if err != nil {
		return err
	}
	for _, id := range playerIDs {
		if _, err := s.repo.Member(ctx, roomID, id); err != nil {
			return badRequest("player %s is not a member", id)
		}
	}
	deal := room.DealCount + 1
	roles, err := deduction.AssignRoles(deduction.RoleSeed(s.salt, roomID, deal), playerIDs)
	if err != nil {
		return badRequest("%v", err)
	}
	if err := s.repo.ReplaceRoles(ctx, roomID, deal, roles); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"room": roomID, "deal": deal, "players": len(playerIDs)}).Info("roles dealt")
	return nil
}

// CastVote records the caller's vote on the proposal currently up for vote.
// Only the first vote counts; repeats succeed without changing it.
func (s *Service) CastVote(ctx context.Context, caller auth.Identity, roomID string, mission, proposal int, approve bool) error {
	room, err := s.memberRoom(ctx, caller, roomID)
	if err != nil {
		return err
	}
	if _, err := s.repo.Role(ctx, roomID, caller.ID); err != nil {
		return err
	}
	h, err := parseHeader(room.PublicState)
	if err != nil {
		return err
	}
	if h.Phase != deduction.PhaseVoting || h.Mission != mission || h.Proposal != proposal {
		return ErrWrongPhase
	}
	_, err = s.repo.InsertVote(ctx, roomID, deduction.RoundNumber(mission, proposal), caller.ID, approve)
	return err
}

// FinalizeVote reveals the vote once every role holder has voted and clears
// it from the store.
func (s *Service) FinalizeVote(ctx context.Context, caller auth.Identity, roomID string, mission, proposal int) (VoteTally, error) {
	if _, err := s.hostRoom(ctx, caller, roomID); err != nil {
		return VoteTally{}, err
	}
	if mission < 1 || mission > deduction.Missions || proposal < 1 || proposal > deduction.MaxProposals {
		return VoteTally{}, badRequest("mission %d proposal %d out of range", mission, proposal)
	}
	roles, err := s.repo.Roles(ctx, roomID)
	if err != nil {
		return VoteTally{}, err
	}
	if len(roles) == 0 {
		return VoteTally{}, ErrNoRole
	}
	votes, err := s.repo.TakeVotes(ctx, roomID, deduction.RoundNumber(mission, proposal), len(roles))
	if err != nil {
		return VoteTally{}, err
	}
	tally := VoteTally{Votes: votes}
	for _, approve := range votes {
		if approve {
			tally.Approve++
		} else {
			tally.Reject++
		}
	}
	return tally, nil
}

// SubmitMissionCard records the caller's card for the running mission. The
// caller must be on the stored team, and only the minority may fail.
func (s *Service) SubmitMissionCard(ctx context.Context, caller auth.Identity, roomID string, mission int, card deduction.MissionCard) error {
	if !card.Valid() {
		return badRequest("unknown card %q", card)
	}
	room, err := s.memberRoom(ctx, caller, roomID)
	if err != nil {
		return err
	}
	role, err := s.repo.Role(ctx, roomID, caller.ID)
	if err != nil {
		return err
	}
	h, err := parseHeader(room.PublicState)
	if err != nil {
		return err
	}
	if h.Phase != deduction.PhaseMission || h.Mission != mission {
		return ErrWrongPhase
	}
	if !slices.Contains(h.Team, caller.ID) {
		return ErrForbidden
	}
	if card == deduction.CardFail && role != deduction.RoleSpy {
		return ErrForbidden
	}
	_, err = s.repo.InsertCard(ctx, roomID, mission, caller.ID, card)
	return err
}

// FinalizeMission returns the number of fail cards once the whole team has
// submitted, and clears the cards.
func (s *Service) FinalizeMission(ctx context.Context, caller auth.Identity, roomID string, mission int) (int, error) {
	if _, err := s.hostRoom(ctx, caller, roomID); err != nil {
		return 0, err
	}
	roles, err := s.repo.Roles(ctx, roomID)
	if err != nil {
		return 0, err
	}
	quorum := deduction.TeamSize(len(roles), mission)
	if quorum == 0 {
		return 0, badRequest("no team size for mission %d at %d players", mission, len(roles))
	}
	cards, err := s.repo.TakeCards(ctx, roomID, mission, quorum)
	if err != nil {
		return 0, err
	}
	fails := 0
	for _, c := range cards {
		if c == deduction.CardFail {
			fails++
		}
	}
	return fails, nil
}

func (s *Service) MyRole(ctx context.Context, caller auth.Identity, roomID string) (deduction.Role, error) {
	if _, err := s.memberRoom(ctx, caller, roomID); err != nil {
		return "", err
	}
	return s.repo.Role(ctx, roomID, caller.ID)
}

// GetMySpies lists the caller's fellow minority members, sorted. Anyone else
// is refused.
func (s *Service) GetMySpies(ctx context.Context, caller auth.Identity, roomID string) ([]string, error) {
	role, err := s.MyRole(ctx, caller, roomID)
	if err != nil {
		return nil, err
	}
	if role != deduction.RoleSpy {
		return nil, ErrForbidden
	}
	roles, err := s.repo.Roles(ctx, roomID)
	if err != nil {
		return nil, err
	}
	spies := []string{}
	for id, r := range roles {
		if r == deduction.RoleSpy && id != caller.ID {
			spies = append(spies, id)
		}
	}
	slices.Sort(spies)
	return spies, nil
}

// RevealRoles returns every role once the stored game is finished.
func (s *Service) RevealRoles(ctx context.Context, caller auth.Identity, roomID string) (map[string]deduction.Role, error) {
	room, err := s.memberRoom(ctx, caller, roomID)
	if err != nil {
		return nil, err
	}
	h, err := parseHeader(room.PublicState)
	if err != nil {
		return nil, err
	}
	if h.Phase != deduction.PhaseFinished {
		return nil, ErrWrongPhase
	}
	return s.repo.Roles(ctx, roomID)
}

// LeaveRoom removes the caller and returns the room's host afterwards,
// which is empty when the room was deleted.
func (s *Service) LeaveRoom(ctx context.Context, caller auth.Identity, roomID string) (string, error) {
	host, err := s.repo.RemoveMember(ctx, roomID, caller.ID)
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"room": roomID, "user": caller.ID, "host": host}).Debug("member left")
	return host, nil
}

func (s *Service) memberRoom(ctx context.Context, caller auth.Identity, roomID string) (Room, error) {
	room, err := s.repo.Room(ctx, roomID)
	if err != nil {
		return Room{}, err
	}
	if _, err := s.repo.Member(ctx, roomID, caller.ID); err != nil {
		return Room{}, err
	}
	return room, nil
}

func (s *Service) hostRoom(ctx context.Context, caller auth.Identity, roomID string) (Room, error) {
	room, err := s.memberRoom(ctx, caller, roomID)
	if err != nil {
		return Room{}, err
	}
	if room.HostID != caller.ID {
		return Room{}, ErrNotHost
	}
	return room, nil
}

// boundAPI is Service with the caller fixed.
type boundAPI struct {
	s      *Service
	caller auth.Identity
}

func (b boundAPI) JoinRoom(ctx context.Context, roomID, name string, credits int64) (JoinResult, error) {
	return b.s.JoinRoom(ctx, b.caller, roomID, name, credits)
}

func (b boundAPI) UpdatePublicState(ctx context.Context, roomID string, state json.RawMessage) error {
	return b.s.UpdatePublicState(ctx, b.caller, roomID, state)
}

func (b boundAPI) DealRoles(ctx context.Context, roomID string, playerIDs []string) error {
	return b.s.DealRoles(ctx, b.caller, roomID, playerIDs)
}

func (b boundAPI) CastVote(ctx context.Context, roomID string, mission, proposal int, approve bool) error {
	return b.s.CastVote(ctx, b.caller, roomID, mission, proposal, approve)
}

func (b boundAPI) FinalizeVote(ctx context.Context, roomID string, mission, proposal int) (VoteTally, error) {
	return b.s.FinalizeVote(ctx, b.caller, roomID, mission, proposal)
}

func (b boundAPI) SubmitMissionCard(ctx context.Context, roomID string, mission int, card deduction.MissionCard) error {
	return b.s.SubmitMissionCard(ctx, b.caller, roomID, mission, card)
}

func (b boundAPI) FinalizeMission(ctx context.Context, roomID string, mission int) (int, error) {
	return b.s.FinalizeMission(ctx, b.caller, roomID, mission)
}

func (b boundAPI) MyRole(ctx context.Context, roomID string) (deduction.Role, error) {
	return b.s.MyRole(ctx, b.caller, roomID)
}

func (b boundAPI) GetMySpies(ctx context.Context, roomID string) ([]string, error) {
	return b.s.GetMySpies(ctx, b.caller, roomID)
}

func (b boundAPI) RevealRoles(ctx context.Context, roomID string) (map[string]deduction.Role, error) {
	return b.s.RevealRoles(ctx, b.caller, roomID)
}

func (b boundAPI) LeaveRoom(ctx context.Context, roomID string) (string, error) {
	return b.s.LeaveRoom(ctx, b.caller, roomID)
}

package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PMK765/WebPartyGames/engine"
	"github.com/PMK765/WebPartyGames/engine/deduction"
	"github.com/PMK765/WebPartyGames/internal/host"
	"github.com/PMK765/WebPartyGames/internal/logging"
	"github.com/PMK765/WebPartyGames/internal/relay"
	"github.com/PMK765/WebPartyGames/internal/secrets"
)

const (
	finalizeRetry    = 100 * time.Millisecond
	finalizeAttempts = 50
)

var (
	ErrNotStarted = errors.New("game: table not started")
	ErrNoState    = errors.New("game: no room state yet")
)

type deductionSession = host.Session[*deduction.State, deduction.Event]

// DeductionTable is one player's seat at a hidden-role room. The public
// state travels through the room like any other game; roles, votes and
// mission cards go to the secret store, and the host folds the store's
// aggregates back in.
type DeductionTable struct {
	// OnState, if set before Start, sees every adopted snapshot.
	OnState func(*deduction.State)

	cfg     host.Config
	api     secrets.API
	log     *logrus.Entry
	session *deductionSession
}

// NewDeductionTable seats cfg.Player. api must act as that player.
func NewDeductionTable(cfg host.Config, api secrets.API) *DeductionTable {
	cfg.Log = logging.OrDiscard(cfg.Log).WithField("game", "deduction")
	return &DeductionTable{
		cfg: cfg,
		api: api,
		log: cfg.Log.WithFields(logrus.Fields{"room": cfg.RoomID, "player": cfg.Player.ID}),
	}
}

// Start registers with the secret store and joins the room. The player the
// store names as host seeds without waiting. Start must return before any
// other method is used.
func (t *DeductionTable) Start(ctx context.Context, p *relay.Provider) error {
	if t.session != nil {
		return host.ErrStarted
	}
	res, err := t.api.JoinRoom(ctx, t.cfg.RoomID, t.cfg.Player.DisplayName, t.cfg.Player.CreditsAtJoin)
	if err != nil {
		return fmt.Errorf("game: join secret store: %w", err)
	}
	cfg := t.cfg
	cfg.Creator = cfg.Creator || res.HostID == cfg.Player.ID

	s := host.New[*deduction.State, deduction.Event](deduction.Machine{}, cfg)
	s.Mirror = t.mirror
	s.OnState = t.OnState
	s.Effects = []host.Effect[*deduction.State, deduction.Event]{t.finalizeVote, t.finalizeMission}
	if err := s.Start(ctx, p); err != nil {
		return err
	}
	t.session = s
	return nil
}

func (t *DeductionTable) State() (*deduction.State, bool) {
	if t.session == nil {
		return nil, false
	}
	return t.session.State()
}

func (t *DeductionTable) IsHost() bool { return t.session != nil && t.session.IsHost() }

func (t *DeductionTable) PlayerID() string { return t.cfg.Player.ID }

func (t *DeductionTable) send(ctx context.Context, intent deduction.EventType, payload any) error {
	if t.session == nil {
		return ErrNotStarted
	}
	return t.session.Send(ctx, string(intent), payload)
}

// current returns the local state, failing when none has arrived yet.
func (t *DeductionTable) current() (*deduction.State, error) {
	st, ok := t.State()
	if !ok {
		return nil, ErrNoState
	}
	return st, nil
}

// StartGame asks the host to seat the first players and deal.
func (t *DeductionTable) StartGame(ctx context.Context) error {
	return t.send(ctx, deduction.EventStart, nil)
}

// Acknowledge confirms the local player has seen their role.
func (t *DeductionTable) Acknowledge(ctx context.Context) error {
	return t.send(ctx, deduction.EventAcknowledge, nil)
}

// Propose puts team forward. Only the current leader's proposal counts.
func (t *DeductionTable) Propose(ctx context.Context, team []string) error {
	return t.send(ctx, deduction.EventPropose, deduction.ProposePayload{Team: team})
}

// Vote records the ballot in the secret store, then tells the room a vote
// was cast. The room never learns which way until the tally is revealed.
func (t *DeductionTable) Vote(ctx context.Context, approve bool) error {
	st, err := t.current()
	if err != nil {
		return err
	}
	if err := t.api.CastVote(ctx, t.cfg.RoomID, st.Mission, st.Proposal, approve); err != nil {
		return fmt.Errorf("game: cast vote: %w", err)
	}
	return t.send(ctx, deduction.EventVoteCast, nil)
}

// SubmitCard plays card for the current mission.
func (t *DeductionTable) SubmitCard(ctx context.Context, card deduction.MissionCard) error {
	st, err := t.current()
	if err != nil {
		return err
	}
	if err := t.api.SubmitMissionCard(ctx, t.cfg.RoomID, st.Mission, card); err != nil {
		return fmt.Errorf("game: submit card: %w", err)
	}
	return t.send(ctx, deduction.EventCardSubmitted, nil)
}

// Advance moves on from a mission result. Host only.
func (t *DeductionTable) Advance(ctx context.Context) error {
	return t.send(ctx, deduction.EventAdvance, nil)
}

func (t *DeductionTable) Restart(ctx context.Context) error {
	return t.send(ctx, deduction.EventRestart, nil)
}

func (t *DeductionTable) Kick(ctx context.Context, playerID string) error {
	return t.send(ctx, deduction.EventKick, engine.KickPayload{PlayerID: playerID})
}

// Leave gives up the seat in the room and then the store membership. A
// leaving host hands the room to the next player before going.
func (t *DeductionTable) Leave(ctx context.Context) error {
	if t.session == nil {
		return ErrNotStarted
	}
	err := t.session.Leave(ctx)
	if _, lerr := t.api.LeaveRoom(ctx, t.cfg.RoomID); lerr != nil && !errors.Is(lerr, secrets.ErrNotMember) {
		err = errors.Join(err, fmt.Errorf("game: leave secret store: %w", lerr))
	}
	return err
}

// Close stops the session without leaving the store.
func (t *DeductionTable) Close() {
	if t.session != nil {
		t.session.Close()
	}
}

// mirror writes the public state to the store before it is broadcast. Roles
// are dealt first when a game starts, so nobody sees the reveal phase
// before their role exists.
func (t *DeductionTable) mirror(ctx context.Context, prev, next *deduction.State) error {
	if prev != nil && prev.Phase == deduction.PhaseLobby && next.Phase == deduction.PhaseRoleReveal {
		if err := t.api.DealRoles(ctx, t.cfg.RoomID, next.Active); err != nil {
			return fmt.Errorf("game: deal roles: %w", err)
		}
		t.log.WithField("game", next.Game).Info("roles dealt")
	}
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("game: encode public state: %w", err)
	}
	return t.api.UpdatePublicState(ctx, t.cfg.RoomID, data)
}

// finalizeVote reveals the tally once every seat has voted.
func (t *DeductionTable) finalizeVote(ctx context.Context, prev, next *deduction.State) ([]deduction.Event, error) {
	if next.Phase != deduction.PhaseVoting || !next.Votes.All() {
		return nil, nil
	}
	if prev != nil && prev.Phase == deduction.PhaseVoting && prev.Votes.All() && prev.Round() == next.Round() {
		return nil, nil
	}
	tally, err := retryQuorum(ctx, func(ctx context.Context) (secrets.VoteTally, error) {
		return t.api.FinalizeVote(ctx, t.cfg.RoomID, next.Mission, next.Proposal)
	})
	if err != nil {
		return nil, fmt.Errorf("game: finalize vote: %w", err)
	}
	return []deduction.Event{{
		Type:     deduction.EventVoteResult,
		Actor:    t.cfg.Player.ID,
		Mission:  next.Mission,
		Proposal: next.Proposal,
		Approve:  tally.Approve,
		Reject:   tally.Reject,
		Votes:    tally.Votes,
	}}, nil
}

// finalizeMission counts the fails once every team member has played.
func (t *DeductionTable) finalizeMission(ctx context.Context, prev, next *deduction.State) ([]deduction.Event, error) {
	if next.Phase != deduction.PhaseMission || !next.Submitted.All() {
		return nil, nil
	}
	if prev != nil && prev.Phase == deduction.PhaseMission && prev.Submitted.All() && prev.Mission == next.Mission {
		return nil, nil
	}
	fails, err := retryQuorum(ctx, func(ctx context.Context) (int, error) {
		return t.api.FinalizeMission(ctx, t.cfg.RoomID, next.Mission)
	})
	if err != nil {
		return nil, fmt.Errorf("game: finalize mission: %w", err)
	}
	return []deduction.Event{{
		Type:    deduction.EventMissionResult,
		Actor:   t.cfg.Player.ID,
		Mission: next.Mission,
		Fails:   fails,
	}}, nil
}

// retryQuorum calls fn until the store stops answering with a quorum error.
// A barrier can fill before the last ballot reaches the store.
func retryQuorum[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil || !secrets.IsRetryable(err) || attempt == finalizeAttempts {
			return v, err
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-time.After(finalizeRetry):
		}
	}
}

// Package host runs the authoritative side of a room. Every peer runs a
// Session; the one whose player id matches the replicated state's host id
// reduces intents and broadcasts the result. Everyone else only watches.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PMK765/WebPartyGames/engine"
	"github.com/PMK765/WebPartyGames/internal/logging"
	"github.com/PMK765/WebPartyGames/internal/relay"
)

// commandTimeout bounds the work done for one received intent.
const commandTimeout = 5 * time.Second

// Backoff between attempts at a failed effect or follow-up event.
const (
	effectRetryMin = 100 * time.Millisecond
	effectRetryMax = 5 * time.Second
)

var (
	// ErrNotHost is returned by Apply on a peer that does not hold authority.
	ErrNotHost = errors.New("host: not the room host")
	ErrStarted = errors.New("host: session already started")
)

// Config describes the local peer in one room.
type Config struct {
	RoomID  string
	Player  engine.Player
	Creator bool // the peer that created the room seeds without waiting
	Timing  Timing
	Journal Journal // optional
	Log     *logrus.Entry
}

// Effect runs on the host after a committed transition and returns follow-up
// events to apply. prev is the zero value when the transition was not made
// locally (seed, or a snapshot adopted on promotion). A failed effect is
// retried with backoff for as long as next is still the host's state.
type Effect[S comparable, E any] func(ctx context.Context, prev, next S) ([]E, error)

// Session is one peer's view of a room driven by machine m.
//
// Exported hooks must be set before Start.
type Session[S comparable, E any] struct {
	// Mirror, if set, runs on the host before a new state is broadcast.
	// prev is the zero value when seeding. Returning an error aborts the
	// transition.
	Mirror func(ctx context.Context, prev, next S) error
	// OnState is called with every snapshot the session adopts.
	OnState func(state S)
	Effects []Effect[S, E]

	m   engine.Machine[S, E]
	cfg Config
	log *logrus.Entry

	room *relay.Room[S]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	// applyMu serializes reduce and publish so the host never reduces from
	// a state it is still broadcasting over.
	applyMu sync.Mutex

	mu        sync.Mutex
	working   S
	hasState  bool
	wasHost   bool
	inflight  int // own snapshots published but not yet echoed back
	published S   // the last snapshot this peer published
	// joinedUnder is the host a join was last sent to (or self after
	// seeding); memberOf is the host of the last foreign snapshot that
	// listed the local player. Together they stop a kicked player from
	// asking back in while still letting a losing seeder join the winner.
	joinedUnder string
	memberOf    string

	seq     int64
	seed    *time.Timer
	pending []effectJob[S]
	wake    chan struct{}
}

type effectJob[S any] struct {
	prev, next S
}

func New[S comparable, E any](m engine.Machine[S, E], cfg Config) *Session[S, E] {
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session[S, E]{
		m:      m,
		cfg:    cfg,
		log:    logging.OrDiscard(cfg.Log).WithFields(logrus.Fields{"room": cfg.RoomID, "player": cfg.Player.ID}),
		ctx:    ctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
	}
}

// Start joins the room and arms the seed timer.
func (s *Session[S, E]) Start(ctx context.Context, p *relay.Provider) error {
	s.mu.Lock()
	if s.room != nil {
		s.mu.Unlock()
		return ErrStarted
	}
	s.mu.Unlock()

	room, err := relay.JoinWithMeta(ctx, p, s.cfg.RoomID, s.observe)
	if err != nil {
		return fmt.Errorf("host: join %s: %w", s.cfg.RoomID, err)
	}
	room.OnCommand(s.handleCommand)

	delay := ElectionDelay(s.cfg.RoomID, s.cfg.Player.ID, s.cfg.Creator, s.cfg.Timing)
	s.mu.Lock()
	s.room = room
	s.seed = time.AfterFunc(delay, s.seedIfEmpty)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runEffects()

	// A snapshot may have arrived while Join was in flight.
	s.ensureJoined()
	s.log.WithField("delay", delay).Debug("joined room")
	return nil
}

// State returns the local copy of the room state.
func (s *Session[S, E]) State() (S, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.working, s.hasState
}

// IsHost reports whether the local player holds authority in the local copy.
func (s *Session[S, E]) IsHost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasState && s.m.HostOf(s.working) == s.cfg.Player.ID
}

func (s *Session[S, E]) PlayerID() string { return s.cfg.Player.ID }

func (s *Session[S, E]) Status() relay.Status {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return relay.StatusJoining
	}
	return room.Status()
}

// Send publishes an intent for the host.
func (s *Session[S, E]) Send(ctx context.Context, intent string, payload any) error {
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		return relay.ErrNotSubscribed
	}
	return room.Send(ctx, intent, payload)
}

// Apply reduces ev against the local state and broadcasts the result. It
// fails with ErrNotHost unless the local player is the host. An event that
// changes nothing is not broadcast.
func (s *Session[S, E]) Apply(ctx context.Context, ev E) (S, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	cur, ok, room := s.working, s.hasState, s.room
	s.mu.Unlock()
	if !ok || room == nil || s.m.HostOf(cur) != s.cfg.Player.ID {
		return cur, ErrNotHost
	}

	next := s.m.Reduce(cur, ev)
	if !engine.Changed(cur, next) {
		return cur, nil
	}
	if s.Mirror != nil {
		if err := s.Mirror(ctx, cur, next); err != nil {
			return cur, fmt.Errorf("host: mirror state: %w", err)
		}
	}
	if err := s.publish(ctx, room, cur, next); err != nil {
		return cur, err
	}
	s.journal(ev, next)
	s.queueEffects(cur, next)
	return next, nil
}

// RemovePlayer takes playerID out of the room as the host. Removing the host
// itself hands authority to the next player in join order.
func (s *Session[S, E]) RemovePlayer(ctx context.Context, playerID string) (S, error) {
	return s.Apply(ctx, s.m.RemoveEvent(s.cfg.Player.ID, playerID))
}

// Leave removes the local player from the room and closes the session. The
// host removes itself directly; anyone else asks the host.
func (s *Session[S, E]) Leave(ctx context.Context) error {
	var err error
	if s.IsHost() {
		_, err = s.RemovePlayer(ctx, s.cfg.Player.ID)
	} else if st, ok := s.State(); ok && s.m.Has(st, s.cfg.Player.ID) {
		err = s.Send(ctx, engine.IntentLeave, nil)
	}
	s.Close()
	return err
}

// Close stops the session and leaves the room. It is idempotent.
func (s *Session[S, E]) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		if s.seed != nil {
			s.seed.Stop()
		}
		room := s.room
		s.mu.Unlock()
		s.cancel()
		if room != nil {
			room.Leave()
		}
		s.wg.Wait()
	})
}

// publish broadcasts next. The local copy moves ahead immediately so the
// following intent reduces from it; a failed publish rolls it back.
func (s *Session[S, E]) publish(ctx context.Context, room *relay.Room[S], cur, next S) error {
	s.mu.Lock()
	s.working = next
	s.published = next
	s.hasState = true
	s.inflight++
	s.mu.Unlock()

	if err := room.Update(ctx, next); err != nil {
		s.mu.Lock()
		s.inflight--
		if s.working == next {
			s.working = cur
		}
		s.mu.Unlock()
		return fmt.Errorf("host: broadcast: %w", err)
	}
	return nil
}

func (s *Session[S, E]) seedIfEmpty() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	seen, room := s.hasState, s.room
	s.mu.Unlock()
	if seen || room == nil {
		return
	}

	var zero S
	st := s.m.Init(s.cfg.RoomID, s.cfg.Player)
	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()
	if s.Mirror != nil {
		if err := s.Mirror(ctx, zero, st); err != nil {
			s.log.WithError(err).Warn("mirror of initial state failed")
		}
	}
	// Set before publishing: the echo must not read as a promotion.
	s.mu.Lock()
	s.wasHost = true
	s.joinedUnder = s.cfg.Player.ID
	s.mu.Unlock()
	if err := s.publish(ctx, room, zero, st); err != nil {
		s.mu.Lock()
		s.hasState = false
		s.wasHost = false
		s.joinedUnder = ""
		s.mu.Unlock()
		s.log.WithError(err).Warn("seeding room failed")
		return
	}
	s.log.Info("seeded room as host")
	s.journal(nil, st)
}

// observe handles every snapshot delivered in the room. The last snapshot
// delivered wins; states are never merged. An echo of our own broadcast is
// skipped while a newer one of ours is still on its way, since the local
// copy is already ahead of it.
func (s *Session[S, E]) observe(st S, meta relay.Meta) {
	s.mu.Lock()
	if meta.From == s.cfg.Player.ID && s.inflight > 0 {
		s.inflight--
		if s.inflight > 0 {
			s.mu.Unlock()
			return
		}
		// The echo of the latest publish keeps the published value, so a
		// pending effect can still tell its state is current.
		if s.working == s.published {
			st = s.working
		}
	}
	s.working = st
	s.hasState = true
	if meta.From != s.cfg.Player.ID && s.m.Has(st, s.cfg.Player.ID) {
		s.memberOf = s.m.HostOf(st)
	}
	isHost := s.m.HostOf(st) == s.cfg.Player.ID
	promoted := isHost && !s.wasHost
	s.wasHost = isHost
	onState := s.OnState
	s.mu.Unlock()

	if promoted {
		s.log.Info("promoted to host")
		var zero S
		s.queueEffects(zero, st)
	}
	if onState != nil {
		onState(st)
	}
	s.ensureJoined()
}

// ensureJoined sends a join intent when the local player is missing from the
// observed state, once per host. A player removed by the host it was a
// member under is not re-added.
func (s *Session[S, E]) ensureJoined() {
	s.mu.Lock()
	host := s.m.HostOf(s.working)
	if !s.hasState || s.room == nil || host == "" || s.m.Has(s.working, s.cfg.Player.ID) ||
		host == s.memberOf || host == s.joinedUnder {
		s.mu.Unlock()
		return
	}
	s.joinedUnder = host
	room := s.room
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()
	payload := engine.JoinPayload{DisplayName: s.cfg.Player.DisplayName, Credits: s.cfg.Player.CreditsAtJoin}
	if err := room.Send(ctx, engine.IntentJoin, payload); err != nil {
		s.log.WithError(err).Warn("join intent failed")
		s.mu.Lock()
		s.joinedUnder = ""
		s.mu.Unlock()
	}
}

func (s *Session[S, E]) handleCommand(cmd relay.Command) {
	log := s.log.WithFields(logrus.Fields{"intent": cmd.Intent, "from": cmd.From})
	if !s.IsHost() {
		return
	}
	ev, err := s.m.DecodeIntent(cmd.From, cmd.Intent, cmd.Payload)
	if err != nil {
		log.WithError(err).Debug("dropping intent")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
	defer cancel()
	if _, err := s.Apply(ctx, ev); err != nil {
		log.WithError(err).Warn("intent not applied")
	}
}

func (s *Session[S, E]) queueEffects(prev, next S) {
	if len(s.Effects) == 0 {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, effectJob[S]{prev: prev, next: next})
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// runEffects runs effects one transition at a time, in commit order.
func (s *Session[S, E]) runEffects() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, job := range batch {
				if s.ctx.Err() != nil {
					return
				}
				s.runEffect(job)
			}
		}
	}
}

func (s *Session[S, E]) runEffect(job effectJob[S]) {
	for _, eff := range s.Effects {
		var events []E
		ok := s.retry("effect", job.next, func() (err error) {
			events, err = eff(s.ctx, job.prev, job.next)
			return err
		})
		if !ok {
			continue
		}
		for _, ev := range events {
			at, _ := s.State()
			s.retry("effect follow-up", at, func() error {
				ctx, cancel := context.WithTimeout(s.ctx, commandTimeout)
				defer cancel()
				_, err := s.Apply(ctx, ev)
				return err
			})
		}
	}
}

// retry calls fn until it succeeds, backing off between attempts. It gives
// up once the session stops or the local host state is no longer at.
func (s *Session[S, E]) retry(what string, at S, fn func() error) bool {
	backoff := effectRetryMin
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return true
		}
		if s.ctx.Err() != nil {
			return false
		}
		if !s.holds(at) {
			s.log.WithError(err).Debugf("%s failed on a superseded state", what)
			return false
		}
		s.log.WithError(err).WithFields(logrus.Fields{"attempt": attempt, "retry_in": backoff}).Warnf("%s failed", what)
		timer := time.NewTimer(backoff)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		backoff = min(2*backoff, effectRetryMax)
		if !s.holds(at) {
			return false
		}
	}
}

// holds reports whether st is still the local state and names this peer as
// host.
func (s *Session[S, E]) holds(st S) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasState && s.working == st && s.m.HostOf(st) == s.cfg.Player.ID
}

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// syncReplyTimeout bounds re-broadcasts made in answer to a sync-request.
const syncReplyTimeout = 2 * time.Second

// Provider owns one peer's room subscriptions over a Transport. Create one per
// peer and Close it on shutdown; nothing in the package is global.
type Provider struct {
	transport Transport
	peerID    string
	log       *logrus.Entry

	mu     sync.Mutex
	rooms  map[leaver]struct{}
	closed bool
}

type leaver interface{ Leave() }

type Option func(*Provider)

func WithLogger(log *logrus.Entry) Option {
	return func(p *Provider) { p.log = log }
}

func NewProvider(t Transport, peerID string, opts ...Option) *Provider {
	p := &Provider{
		transport: t,
		peerID:    peerID,
		rooms:     make(map[leaver]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	p.log = p.log.WithField("peer", peerID)
	return p
}

func (p *Provider) PeerID() string { return p.peerID }

// Close leaves every room joined through p. Further joins fail with ErrClosed.
func (p *Provider) Close() error {
	p.mu.Lock()
	rooms := make([]leaver, 0, len(p.rooms))
	for r := range p.rooms {
		rooms = append(rooms, r)
	}
	p.closed = true
	p.mu.Unlock()
	for _, r := range rooms {
		r.Leave()
	}
	return nil
}

func (p *Provider) track(r leaver) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.rooms[r] = struct{}{}
	return nil
}

func (p *Provider) untrack(r leaver) {
	p.mu.Lock()
	delete(p.rooms, r)
	p.mu.Unlock()
}

// Meta describes the envelope a state or command arrived in.
type Meta struct {
	From   string
	ID     string
	SentAt time.Time
}

// Command is an intent received on the command channel.
type Command struct {
	Intent  string
	Payload json.RawMessage
	Meta
}

// Room is one peer's membership of one room, replicating a state of type S.
type Room[S any] struct {
	p       *Provider
	id      string
	onState func(S, Meta)
	log     *logrus.Entry

	sub  Subscription
	once sync.Once

	mu         sync.Mutex
	latest     S
	hasLatest  bool
	status     Status
	left       bool
	commandFns []func(Command)
	statusFns  []func(Status)
}

// Join subscribes to roomID and asks peers for the current state. onState is
// called for every state snapshot broadcast in the room, including the ones
// this peer publishes. Join returns once the subscription is live.
func Join[S any](ctx context.Context, p *Provider, roomID string, onState func(S)) (*Room[S], error) {
	return JoinWithMeta(ctx, p, roomID, func(s S, _ Meta) { onState(s) })
}

// JoinWithMeta is Join with the sender of each snapshot.
func JoinWithMeta[S any](ctx context.Context, p *Provider, roomID string, onState func(S, Meta)) (*Room[S], error) {
	if !ValidRoomID(roomID) {
		return nil, errors.New("relay: invalid room id")
	}
	r := &Room[S]{
		p:       p,
		id:      roomID,
		onState: onState,
		log:     p.log.WithField("room", roomID),
		status:  StatusJoining,
	}
	if err := p.track(r); err != nil {
		return nil, err
	}
	sub, err := p.transport.Subscribe(ctx, roomID, r.deliver)
	if err != nil {
		p.untrack(r)
		return nil, err
	}
	r.mu.Lock()
	r.sub = sub
	left := r.left
	r.mu.Unlock()
	if left {
		// Leave ran while Subscribe was in flight.
		sub.Close()
		return nil, ErrClosed
	}
	if src, ok := sub.(StatusSource); ok {
		src.OnStatus(r.transportStatus)
	}
	r.setStatus(StatusLive)

	if err := r.requestSync(ctx); err != nil {
		r.Leave()
		return nil, err
	}
	return r, nil
}

func (r *Room[S]) ID() string { return r.id }

// Update broadcasts a full snapshot. The local copy changes only when the
// broadcast comes back through onState.
func (r *Room[S]) Update(ctx context.Context, state S) error {
	return r.publish(ctx, ChannelState, EventState, state)
}

// Send publishes an intent on the command channel.
func (r *Room[S]) Send(ctx context.Context, intent string, payload any) error {
	return r.publish(ctx, ChannelCommand, intent, payload)
}

func (r *Room[S]) publish(ctx context.Context, ch Channel, event string, payload any) error {
	if r.isLeft() {
		return ErrClosed
	}
	env, err := NewEnvelope(r.id, ch, event, r.p.peerID, payload)
	if err != nil {
		return err
	}
	return r.p.transport.Publish(ctx, env)
}

func (r *Room[S]) requestSync(ctx context.Context) error {
	return r.publish(ctx, ChannelState, EventSyncRequest, nil)
}

// OnCommand registers fn for every intent received in the room.
func (r *Room[S]) OnCommand(fn func(Command)) {
	r.mu.Lock()
	r.commandFns = append(r.commandFns, fn)
	r.mu.Unlock()
}

// OnStatus registers fn for connectivity changes.
func (r *Room[S]) OnStatus(fn func(Status)) {
	r.mu.Lock()
	r.statusFns = append(r.statusFns, fn)
	r.mu.Unlock()
}

// Latest returns the last snapshot observed.
func (r *Room[S]) Latest() (S, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest, r.hasLatest
}

func (r *Room[S]) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Leave unsubscribes. It is idempotent and safe to call at any time,
// including from inside a callback or while Join is still waiting.
func (r *Room[S]) Leave() {
	r.once.Do(func() {
		r.mu.Lock()
		r.left = true
		sub := r.sub
		r.mu.Unlock()
		if sub != nil {
			if err := sub.Close(); err != nil {
				r.log.WithError(err).Debug("unsubscribe")
			}
		}
		r.p.untrack(r)
		r.setStatus(StatusClosed)
	})
}

func (r *Room[S]) isLeft() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left
}

func (r *Room[S]) setStatus(st Status) {
	r.mu.Lock()
	if r.status == st || (r.status == StatusClosed) {
		r.mu.Unlock()
		return
	}
	r.status = st
	fns := append([]func(Status){}, r.statusFns...)
	r.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (r *Room[S]) transportStatus(st Status) {
	r.setStatus(st)
	if st == StatusLive {
		// Snapshots broadcast while disconnected were missed.
		ctx, cancel := context.WithTimeout(context.Background(), syncReplyTimeout)
		defer cancel()
		if err := r.requestSync(ctx); err != nil {
			r.log.WithError(err).Warn("sync-request after reconnect failed")
		}
	}
}

func (r *Room[S]) deliver(env Envelope) {
	if r.isLeft() {
		return
	}
	meta := Meta{From: env.From, ID: env.ID, SentAt: env.SentAt}
	switch env.Channel {
	case ChannelState:
		switch env.Event {
		case EventState:
			r.applyState(env.Payload, meta)
		case EventSyncState:
			if _, ok := r.Latest(); !ok {
				r.applyState(env.Payload, meta)
			}
		case EventSyncRequest:
			if env.From != r.p.peerID {
				r.answerSync()
			}
		}
	case ChannelCommand:
		r.mu.Lock()
		fns := append([]func(Command){}, r.commandFns...)
		r.mu.Unlock()
		cmd := Command{Intent: env.Event, Payload: env.Payload, Meta: meta}
		for _, fn := range fns {
			fn(cmd)
		}
	}
}

func (r *Room[S]) applyState(payload json.RawMessage, meta Meta) {
	var state S
	if err := json.Unmarshal(payload, &state); err != nil {
		r.log.WithError(err).WithField("from", meta.From).Warn("dropping undecodable state")
		return
	}
	r.mu.Lock()
	r.latest = state
	r.hasLatest = true
	r.mu.Unlock()
	if r.onState != nil {
		r.onState(state, meta)
	}
}

// answerSync re-broadcasts the last known snapshot for a peer that just joined.
func (r *Room[S]) answerSync() {
	state, ok := r.Latest()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), syncReplyTimeout)
	defer cancel()
	if err := r.publish(ctx, ChannelState, EventSyncState, state); err != nil {
		r.log.WithError(err).Warn("sync reply failed")
	}
}

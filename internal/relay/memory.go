package relay

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Transport. Every subscriber gets its own ordered
// delivery goroutine, and all subscribers of a room observe publishes in the
// same order. Many isolated rooms can share one bus.
type MemoryBus struct {
	mu     sync.Mutex
	rooms  map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{rooms: make(map[string]map[*memorySub]struct{})}
}

func (b *MemoryBus) Subscribe(ctx context.Context, room string, fn Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{
		bus:  b,
		room: room,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[*memorySub]struct{})
	}
	b.rooms[room][sub] = struct{}{}
	go sub.run()
	return sub, nil
}

func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for sub := range b.rooms[env.Room] {
		sub.push(env)
	}
	return nil
}

// Subscribers returns the number of live subscriptions to room.
func (b *MemoryBus) Subscribers(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[room])
}

// Close drops every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	var subs []*memorySub
	for _, room := range b.rooms {
		for sub := range room {
			subs = append(subs, sub)
		}
	}
	b.rooms = make(map[string]map[*memorySub]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

type memorySub struct {
	bus  *MemoryBus
	room string
	fn   Handler

	mu      sync.Mutex
	pending []Envelope
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (s *memorySub) push(env Envelope) {
	s.mu.Lock()
	s.pending = append(s.pending, env)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) run() {
	for {
		select {
		case <-s.done:
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
			for _, env := range batch {
				if s.stopped() {
					return
				}
				s.fn(env)
			}
		}
	}
}

func (s *memorySub) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySub) Close() error {
	s.bus.mu.Lock()
	if subs := s.bus.rooms[s.room]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.rooms, s.room)
		}
	}
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

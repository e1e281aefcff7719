package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ChannelName is the Redis pub/sub channel for a room.
func ChannelName(room string) string { return "room:" + room }

// RedisTransport broadcasts envelopes over Redis pub/sub, so several relayd
// instances (or in-process peers) share rooms. Redis delivers each channel's
// messages to every subscriber in publish order.
type RedisTransport struct {
	rdb *redis.Client
	log *logrus.Entry
}

func NewRedisTransport(rdb *redis.Client, log *logrus.Entry) *RedisTransport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RedisTransport{rdb: rdb, log: log.WithField("component", "redis-transport")}
}

func (t *RedisTransport) Subscribe(ctx context.Context, room string, fn Handler) (Subscription, error) {
	ps := t.rdb.Subscribe(ctx, ChannelName(room))
	// Receive blocks until Redis confirms the subscription.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("relay: subscribe %s: %w", room, err)
	}
	sub := &redisSub{ps: ps, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for msg := range ps.Channel() {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				t.log.WithError(err).WithField("room", room).Warn("dropping malformed envelope")
				continue
			}
			if sub.isClosed() {
				return
			}
			fn(env)
		}
	}()
	return sub, nil
}

func (t *RedisTransport) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	if err := t.rdb.Publish(ctx, ChannelName(env.Room), data).Err(); err != nil {
		return fmt.Errorf("relay: publish %s: %w", env.Room, err)
	}
	return nil
}

type redisSub struct {
	ps     *redis.PubSub
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

func (s *redisSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *redisSub) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	// Closing the PubSub closes its channel and ends the delivery goroutine.
	return s.ps.Close()
}

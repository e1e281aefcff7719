package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// WSTransport connects to a relayd websocket endpoint, one connection per
// subscribed room. Dropped connections are re-dialled with exponential
// backoff; subscribers learn about it through StatusSource.
type WSTransport struct {
	base  string // e.g. ws://localhost:8080
	token string
	log   *logrus.Entry

	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int // consecutive failed dials before going offline; 0 retries forever

	mu   sync.Mutex
	subs map[string]*wsSub
}

func NewWSTransport(baseURL, token string, log *logrus.Entry) *WSTransport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &WSTransport{
		base:        strings.TrimRight(baseURL, "/"),
		token:       token,
		log:         log.WithField("component", "ws-transport"),
		MinBackoff:  100 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		MaxAttempts: 8,
		subs:        make(map[string]*wsSub),
	}
}

func (t *WSTransport) roomURL(room string) string {
	return t.base + "/ws/" + url.PathEscape(room)
}

func (t *WSTransport) dial(ctx context.Context, room string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, t.roomURL(room), &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + t.token}},
	})
	if err != nil {
		return nil, fmt.Errorf("relay: dial %s: %w", room, err)
	}
	conn.SetReadLimit(maxMessageSize)
	return conn, nil
}

// Subscribe dials the room. The relay subscribes to its backplane before it
// accepts the upgrade, so a successful dial means the subscription is live.
func (t *WSTransport) Subscribe(ctx context.Context, room string, fn Handler) (Subscription, error) {
	t.mu.Lock()
	if _, dup := t.subs[room]; dup {
		t.mu.Unlock()
		return nil, fmt.Errorf("relay: already subscribed to %s", room)
	}
	t.mu.Unlock()

	conn, err := t.dial(ctx, room)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	sub := &wsSub{
		t:      t,
		room:   room,
		fn:     fn,
		conn:   conn,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    t.log.WithField("room", room),
	}
	t.mu.Lock()
	t.subs[room] = sub
	t.mu.Unlock()
	go sub.run()
	return sub, nil
}

func (t *WSTransport) Publish(ctx context.Context, env Envelope) error {
	t.mu.Lock()
	sub := t.subs[env.Room]
	t.mu.Unlock()
	if sub == nil {
		return ErrNotSubscribed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	return sub.write(ctx, data)
}

type wsSub struct {
	t    *WSTransport
	room string
	fn   Handler
	log  *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	conn     *websocket.Conn // nil while reconnecting
	offline  bool
	onStatus []func(Status)
}

func (s *wsSub) OnStatus(fn func(Status)) {
	s.mu.Lock()
	s.onStatus = append(s.onStatus, fn)
	s.mu.Unlock()
}

func (s *wsSub) notify(st Status) {
	s.mu.Lock()
	fns := append([]func(Status){}, s.onStatus...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (s *wsSub) write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn, offline := s.conn, s.offline
	s.mu.Unlock()
	switch {
	case s.ctx.Err() != nil:
		return ErrClosed
	case offline:
		return ErrOffline
	case conn == nil:
		return fmt.Errorf("relay: %s is reconnecting: %w", s.room, ErrOffline)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("relay: write %s: %w", s.room, err)
	}
	return nil
}

func (s *wsSub) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readLoop(conn)
		if s.ctx.Err() != nil {
			return
		}
		s.log.WithError(err).Warn("connection lost, reconnecting")
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.notify(StatusReconnecting)

		conn, err = s.redial()
		if err != nil {
			if s.ctx.Err() == nil {
				s.log.WithError(err).Error("giving up on relay")
				s.mu.Lock()
				s.offline = true
				s.mu.Unlock()
				s.notify(StatusOffline)
			}
			return
		}
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.notify(StatusLive)
	}
}

func (s *wsSub) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.WithError(err).Warn("dropping malformed envelope")
			continue
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		s.fn(env)
	}
}

func (s *wsSub) redial() (*websocket.Conn, error) {
	backoff := s.t.MinBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-s.ctx.Done():
			return nil, s.ctx.Err()
		case <-time.After(backoff):
		}
		conn, err := s.t.dial(s.ctx, s.room)
		if err == nil {
			return conn, nil
		}
		if s.t.MaxAttempts > 0 && attempt >= s.t.MaxAttempts {
			return nil, err
		}
		s.log.WithError(err).WithField("attempt", attempt).Debug("redial failed")
		backoff = min(backoff*2, s.t.MaxBackoff)
	}
}

func (s *wsSub) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.t.mu.Lock()
		if s.t.subs[s.room] == s {
			delete(s.t.subs, s.room)
		}
		s.t.mu.Unlock()

		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			err := conn.Close(websocket.StatusNormalClosure, "leaving")
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.WithError(err).Debug("close")
			}
		}
	})
	return nil
}

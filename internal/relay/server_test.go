package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PMK765/WebPartyGames/internal/auth"
	"github.com/PMK765/WebPartyGames/internal/logging"
)

const testSecret = "relay-test-secret"

type relayFixture struct {
	srv    *httptest.Server
	bus    *MemoryBus
	issuer *auth.Issuer
}

func newRelayFixture(t *testing.T, opts ...ServerOption) *relayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bus := NewMemoryBus()
	opts = append([]ServerOption{WithOriginPatterns("*")}, opts...)
	s := NewServer(bus, auth.NewVerifier(testSecret), logging.Discard(), opts...)
	r := gin.New()
	s.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		bus.Close()
	})
	return &relayFixture{srv: srv, bus: bus, issuer: auth.NewIssuer(testSecret, time.Hour)}
}

func (f *relayFixture) wsBase() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *relayFixture) token(t *testing.T, id string) string {
	t.Helper()
	tok, err := f.issuer.Issue(auth.Identity{ID: id, Name: id})
	require.NoError(t, err)
	return tok
}

func (f *relayFixture) peer(t *testing.T, id string) *Provider {
	t.Helper()
	tr := NewWSTransport(f.wsBase(), f.token(t, id), logging.Discard())
	return provider(t, tr, id)
}

func TestServerRejectsMissingToken(t *testing.T) {
	f := newRelayFixture(t)
	resp, err := http.Get(f.srv.URL + "/ws/room-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/ws/room-1?token=garbage")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, f.bus.Subscribers("room-1"))
}

func TestServerRelaysBetweenPeers(t *testing.T) {
	f := newRelayFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	var a recorder
	alice, err := Join(ctx, f.peer(t, "alice"), "room-1", a.add)
	require.NoError(t, err)
	got := make(chan Command, 1)
	alice.OnCommand(func(c Command) {
		if c.From != "alice" {
			got <- c
		}
	})

	var b recorder
	bob, err := Join(ctx, f.peer(t, "bob"), "room-1", b.add)
	require.NoError(t, err)
	assert.Equal(t, 2, f.bus.Subscribers("room-1"))

	require.NoError(t, alice.Update(ctx, counter{N: 3, By: "alice"}))
	require.Eventually(t, func() bool {
		s, ok := b.last()
		return ok && s.N == 3
	}, waitFor, tick)

	require.NoError(t, bob.Send(ctx, "ready", nil))
	select {
	case c := <-got:
		assert.Equal(t, "bob", c.From)
		assert.Equal(t, "ready", c.Intent)
		assert.False(t, c.SentAt.IsZero())
	case <-time.After(waitFor):
		t.Fatal("command not relayed")
	}

	bob.Leave()
	require.Eventually(t, func() bool { return f.bus.Subscribers("room-1") == 1 }, waitFor, tick)
}

func TestServerStampsSender(t *testing.T) {
	f := newRelayFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	host, err := Join(ctx, f.peer(t, "host"), "room-1", func(counter) {})
	require.NoError(t, err)
	got := make(chan Command, 4)
	host.OnCommand(func(c Command) { got <- c })

	conn, _, err := websocket.Dial(ctx, f.wsBase()+"/ws/room-1", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + f.token(t, "mallory")}},
	})
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	forged := Envelope{Room: "other-room", Channel: ChannelCommand, Event: "kick", From: "host", Payload: json.RawMessage(`{"playerId":"bob"}`)}
	data, err := json.Marshal(forged)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	select {
	case c := <-got:
		assert.Equal(t, "mallory", c.From)
		assert.Equal(t, "kick", c.Intent)
		assert.NotEmpty(t, c.ID)
	case <-time.After(waitFor):
		t.Fatal("command not relayed")
	}
	assert.Equal(t, 0, f.bus.Subscribers("other-room"))
}

func TestServerDropsInvalidFrames(t *testing.T) {
	f := newRelayFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	host, err := Join(ctx, f.peer(t, "host"), "room-1", func(counter) {})
	require.NoError(t, err)
	got := make(chan Command, 4)
	host.OnCommand(func(c Command) { got <- c })

	conn, _, err := websocket.Dial(ctx, f.wsBase()+"/ws/room-1?token="+f.token(t, "guest"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	for _, frame := range []string{
		`not json`,
		`{"channel":"gossip","event":"x"}`,
		`{"channel":"command"}`,
		`{"channel":"command","event":"ok"}`,
	} {
		require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
	}

	select {
	case c := <-got:
		assert.Equal(t, "ok", c.Intent)
	case <-time.After(waitFor):
		t.Fatal("valid frame was not relayed")
	}
	select {
	case c := <-got:
		t.Fatalf("unexpected command %q", c.Intent)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWSTransportPublishRequiresSubscription(t *testing.T) {
	tr := NewWSTransport("ws://127.0.0.1:1", "token", logging.Discard())
	env, err := NewEnvelope("room-1", ChannelCommand, "x", "me", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Publish(context.Background(), env), ErrNotSubscribed)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = tr.Subscribe(ctx, "room-1", func(Envelope) {})
	assert.Error(t, err)
}

func TestServerTapSeesStampedEnvelopes(t *testing.T) {
	tapped := make(chan Envelope, 16)
	f := newRelayFixture(t, WithTap(func(env Envelope) { tapped <- env }))
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	room, err := Join(ctx, f.peer(t, "alice"), "room-tap", func(counter) {})
	require.NoError(t, err)
	require.NoError(t, room.Update(ctx, counter{N: 1, By: "mallory"}))

	for {
		select {
		case env := <-tapped:
			if env.Event != EventState {
				continue
			}
			assert.Equal(t, "alice", env.From)
			assert.Equal(t, "room-tap", env.Room)
			assert.Equal(t, ChannelState, env.Channel)
			return
		case <-time.After(waitFor):
			t.Fatal("state envelope not tapped")
		}
	}
}

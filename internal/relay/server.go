package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PMK765/WebPartyGames/internal/auth"
)

const (
	maxMessageSize = 1 << 20
	// outboundQueue is how many envelopes may wait for a slow socket before
	// the relay drops the connection.
	outboundQueue = 256
	writeTimeout  = 5 * time.Second
)

// Server bridges websocket clients onto a backplane Transport. It only
// authenticates and forwards; it never interprets game state.
type Server struct {
	backplane Transport
	verifier  *auth.Verifier
	log       *logrus.Entry
	accept    websocket.AcceptOptions
	taps      []func(Envelope)

	wg sync.WaitGroup
}

type ServerOption func(*Server)

// WithOriginPatterns restricts which browser origins may connect.
func WithOriginPatterns(patterns ...string) ServerOption {
	return func(s *Server) {
		for _, p := range patterns {
			if p == "*" {
				s.accept.InsecureSkipVerify = true
				continue
			}
			s.accept.OriginPatterns = append(s.accept.OriginPatterns, p)
		}
	}
}

// WithTap calls fn with every envelope the relay accepts from a client,
// after it has been stamped and published. fn runs on the connection's read
// loop and must not block.
func WithTap(fn func(Envelope)) ServerOption {
	return func(s *Server) { s.taps = append(s.taps, fn) }
}

func NewServer(backplane Transport, verifier *auth.Verifier, log *logrus.Entry, opts ...ServerOption) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		backplane: backplane,
		verifier:  verifier,
		log:       log.WithField("component", "relay"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the websocket endpoint at /ws/:room.
func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ws/:room", auth.Middleware(s.verifier), s.handleWS)
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) handleWS(c *gin.Context) {
	room := c.Param("room")
	if !ValidRoomID(room) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
		return
	}
	id, _ := auth.FromContext(c)

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	log := s.log.WithFields(logrus.Fields{"room": room, "peer": id.ID, "conn": uuid.NewString()})

	out := make(chan Envelope, outboundQueue)
	sub, err := s.backplane.Subscribe(ctx, room, func(env Envelope) {
		select {
		case out <- env:
		default:
			log.Warn("outbound queue full, dropping connection")
			cancel()
		}
	})
	if err != nil {
		log.WithError(err).Error("backplane subscribe failed")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "relay unavailable"})
		return
	}
	defer sub.Close()

	conn, err := websocket.Accept(c.Writer, c.Request, &s.accept)
	if err != nil {
		log.WithError(err).Warn("websocket accept failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)
	log.Info("peer connected")

	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-out:
				data, err := json.Marshal(env)
				if err != nil {
					log.WithError(err).Error("encode envelope")
					continue
				}
				wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
				err = conn.Write(wctx, websocket.MessageText, data)
				wcancel()
				if err != nil {
					log.WithError(err).Debug("write failed")
					return
				}
			}
		}
	}()

	err = s.readLoop(ctx, conn, room, id, log)
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		log.Info("peer disconnected")
	} else {
		log.WithError(err).Warn("peer dropped")
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, room string, id auth.Identity, log *logrus.Entry) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.WithError(err).Debug("dropping malformed frame")
			continue
		}
		// The socket is bound to one room and one identity.
		env.Room = room
		env.From = id.ID
		env.SentAt = time.Now().UTC()
		if env.ID == "" {
			env.ID = uuid.NewString()
		}
		if err := env.Validate(); err != nil {
			log.WithError(err).Debug("dropping invalid envelope")
			continue
		}
		if err := s.backplane.Publish(ctx, env); err != nil {
			return err
		}
		for _, tap := range s.taps {
			tap(env)
		}
	}
}

package relay

import (
	"context"
	"errors"
)

// Handler receives envelopes for one subscription. Calls for a subscription
// are made from a single goroutine, in the transport's broadcast order.
type Handler func(Envelope)

// Subscription is an active room subscription. Close is idempotent and may be
// called from inside the handler; once it returns nothing new is queued for
// the handler.
type Subscription interface {
	Close() error
}

// Transport is a broadcast substrate. Publish delivers to every subscriber of
// the envelope's room, including the publisher's own subscriptions.
// Subscribe returns only once the subscription is live.
type Transport interface {
	Subscribe(ctx context.Context, room string, fn Handler) (Subscription, error)
	Publish(ctx context.Context, env Envelope) error
}

// StatusSource is implemented by subscriptions whose connectivity can change
// after Subscribe returns.
type StatusSource interface {
	OnStatus(fn func(Status))
}

var (
	ErrClosed        = errors.New("relay: closed")
	ErrNotSubscribed = errors.New("relay: not subscribed to room")
	ErrOffline       = errors.New("relay: offline")
)

// Status is a room's connectivity as seen by the local peer.
type Status uint8

const (
	StatusJoining Status = iota
	StatusLive
	StatusReconnecting
	StatusOffline
	StatusClosed
)

var statusNames = [...]string{
	StatusJoining:      "joining",
	StatusLive:         "live",
	StatusReconnecting: "reconnecting",
	StatusOffline:      "offline",
	StatusClosed:       "closed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

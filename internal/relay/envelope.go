// Package relay is the room channel: a broadcast bus per room with a "state"
// channel carrying full snapshots and a "command" channel carrying intents.
// It knows nothing about games. Transports move envelopes between peers; the
// relay Server bridges websocket clients onto a shared backplane.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel separates replicated snapshots from intents.
type Channel string

const (
	ChannelState   Channel = "state"
	ChannelCommand Channel = "command"
)

func (c Channel) Valid() bool { return c == ChannelState || c == ChannelCommand }

// Events on the state channel.
const (
	EventState       = "state"
	EventSyncRequest = "sync-request"
	// EventSyncState answers a sync-request. Only peers that hold no state
	// yet apply it, so a lagging answer can never roll anyone back.
	EventSyncState = "sync-state"
)

// Envelope is the unit every transport carries. From is the sending peer; the
// relay Server overwrites it with the authenticated identity so clients
// cannot speak for each other.
type Envelope struct {
	Room    string          `json:"room"`
	Channel Channel         `json:"channel"`
	Event   string          `json:"event"`
	From    string          `json:"from,omitempty"`
	ID      string          `json:"id"`
	SentAt  time.Time       `json:"sentAt"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope stamps a fresh id and send time and encodes payload. A nil
// payload is left empty.
func NewEnvelope(room string, ch Channel, event, from string, payload any) (Envelope, error) {
	env := Envelope{
		Room:    room,
		Channel: ch,
		Event:   event,
		From:    from,
		ID:      uuid.NewString(),
		SentAt:  time.Now().UTC(),
	}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("relay: encode %s payload: %w", event, err)
	}
	env.Payload = data
	return env, nil
}

// Validate checks the fields every transport relies on.
func (e Envelope) Validate() error {
	switch {
	case !ValidRoomID(e.Room):
		return fmt.Errorf("relay: invalid room %q", e.Room)
	case !e.Channel.Valid():
		return fmt.Errorf("relay: invalid channel %q", e.Channel)
	case e.Event == "":
		return fmt.Errorf("relay: envelope without event")
	}
	return nil
}

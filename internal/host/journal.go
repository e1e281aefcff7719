package host

import (
	"context"
	"encoding/json"
	"time"
)

// journalTimeout bounds a single journal append.
const journalTimeout = 2 * time.Second

// Record is one committed transition.
type Record struct {
	RoomID string          `json:"roomId"`
	Seq    int64           `json:"seq"`
	Host   string          `json:"host"`
	Event  json.RawMessage `json:"event,omitempty"`
	State  json.RawMessage `json:"state"`
	At     time.Time       `json:"at"`
}

// Journal stores committed transitions for audit. Appends are best effort
// and never block the room.
type Journal interface {
	Append(ctx context.Context, rec Record) error
}

// journal appends asynchronously. Seq is taken under the session lock so
// records of one session are numbered in commit order.
func (s *Session[S, E]) journal(ev any, state S) {
	if s.cfg.Journal == nil {
		return
	}
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	rec := Record{RoomID: s.cfg.RoomID, Seq: seq, Host: s.cfg.Player.ID, At: time.Now().UTC()}
	if ev != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			s.log.WithError(err).Warn("journal: encode event")
			return
		}
		rec.Event = data
	}
	data, err := json.Marshal(state)
	if err != nil {
		s.log.WithError(err).Warn("journal: encode state")
		return
	}
	rec.State = data

	go func(rec Record) {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := s.cfg.Journal.Append(ctx, rec); err != nil {
			s.log.WithError(err).WithField("seq", rec.Seq).Warn("journal append failed")
		}
	}(rec)
}

package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/PMK765/WebPartyGames/internal/host"
	"github.com/PMK765/WebPartyGames/internal/logging"
	"github.com/PMK765/WebPartyGames/internal/relay"
)

const recordTimeout = 2 * time.Second

// Journal appends committed room transitions to a capped Redis stream, one
// entry per transition, for offline audit.
type Journal struct {
	rdb    *redis.Client
	key    string
	maxLen int64
}

// NewJournal writes to stream key. maxLen caps the stream approximately;
// zero leaves it uncapped.
func NewJournal(rdb *redis.Client, key string, maxLen int64) *Journal {
	return &Journal{rdb: rdb, key: key, maxLen: maxLen}
}

func (j *Journal) Append(ctx context.Context, rec host.Record) error {
	args := &redis.XAddArgs{
		Stream: j.key,
		Values: map[string]any{
			"room":  rec.RoomID,
			"seq":   strconv.FormatInt(rec.Seq, 10),
			"host":  rec.Host,
			"event": string(rec.Event),
			"state": string(rec.State),
			"at":    strconv.FormatInt(rec.At.UnixMilli(), 10),
		},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}
	if err := j.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("cache: journal room %s seq %d: %w", rec.RoomID, rec.Seq, err)
	}
	return nil
}

// Recent returns up to n of the newest records for roomID, oldest first.
func (j *Journal) Recent(ctx context.Context, roomID string, n int) ([]host.Record, error) {
	msgs, err := j.rdb.XRevRangeN(ctx, j.key, "+", "-", int64(n)*4).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: read journal: %w", err)
	}
	var out []host.Record
	for _, msg := range msgs {
		if str(msg.Values["room"]) != roomID {
			continue
		}
		seq, _ := strconv.ParseInt(str(msg.Values["seq"]), 10, 64)
		at, _ := strconv.ParseInt(str(msg.Values["at"]), 10, 64)
		rec := host.Record{
			RoomID: roomID,
			Seq:    seq,
			Host:   str(msg.Values["host"]),
			State:  []byte(str(msg.Values["state"])),
			At:     time.UnixMilli(at).UTC(),
		}
		if ev := str(msg.Values["event"]); ev != "" {
			rec.Event = []byte(ev)
		}
		out = append(out, rec)
		if len(out) == n {
			break
		}
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// Recorder journals the state snapshots passing through a relay. The relay
// cannot see host sequence numbers, so Seq counts snapshots per room since
// the recorder was created.
type Recorder struct {
	j   *Journal
	log *logrus.Entry
	sem chan struct{}

	mu  sync.Mutex
	seq map[string]int64
}

// recorderInflight bounds concurrent appends; snapshots beyond it are
// dropped with a warning rather than stalling the relay.
const recorderInflight = 64

func NewRecorder(j *Journal, log *logrus.Entry) *Recorder {
	return &Recorder{
		j:   j,
		log: logging.OrDiscard(log).WithField("component", "journal"),
		sem: make(chan struct{}, recorderInflight),
		seq: make(map[string]int64),
	}
}

// Tap is a relay.WithTap hook.
func (r *Recorder) Tap(env relay.Envelope) {
	if env.Channel != relay.ChannelState || env.Event != relay.EventState {
		return
	}
	r.mu.Lock()
	r.seq[env.Room]++
	rec := host.Record{RoomID: env.Room, Seq: r.seq[env.Room], Host: env.From, State: env.Payload, At: env.SentAt}
	r.mu.Unlock()

	select {
	case r.sem <- struct{}{}:
	default:
		r.log.WithField("room", env.Room).Warn("journal backlog full, dropping snapshot")
		return
	}
	go func() {
		defer func() { <-r.sem }()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := r.j.Append(ctx, rec); err != nil {
			r.log.WithError(err).Warn("journal append failed")
		}
	}()
}

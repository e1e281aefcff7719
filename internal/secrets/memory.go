package secrets

import (
	"context"
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/PMK765/WebPartyGames/engine/deduction"
)

// MemoryRepository keeps everything in process. It is the default when no
// database is configured, and what the tests run against.
type MemoryRepository struct {
	mu    sync.Mutex
	rooms map[string]*memRoom
	now   func() time.Time
}

type memRoom struct {
	room    Room
	members map[string]Member
	order   []string // user ids in join order
	roles   map[string]deduction.Role
	votes   map[int]map[string]bool
	cards   map[int]map[string]deduction.MissionCard
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rooms: make(map[string]*memRoom), now: time.Now}
}

func (r *MemoryRepository) EnsureRoom(_ context.Context, roomID, hostID string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &memRoom{
			room:    Room{ID: roomID, HostID: hostID},
			members: make(map[string]Member),
			roles:   make(map[string]deduction.Role),
			votes:   make(map[int]map[string]bool),
			cards:   make(map[int]map[string]deduction.MissionCard),
		}
		r.rooms[roomID] = rm
	}
	return copyRoom(rm.room), nil
}

func (r *MemoryRepository) Room(_ context.Context, roomID string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	return copyRoom(rm.room), nil
}

func (r *MemoryRepository) SetPublicState(_ context.Context, roomID, hostID string, state json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	rm.room.HostID = hostID
	rm.room.PublicState = append(json.RawMessage(nil), state...)
	return nil
}

func (r *MemoryRepository) UpsertMember(_ context.Context, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[m.RoomID]
	if !ok {
		return ErrNotFound
	}
	if cur, ok := rm.members[m.UserID]; ok {
		m.JoinedAt = cur.JoinedAt
	} else {
		m.JoinedAt = r.now()
		rm.order = append(rm.order, m.UserID)
	}
	rm.members[m.UserID] = m
	return nil
}

func (r *MemoryRepository) Member(_ context.Context, roomID, userID string) (Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return Member{}, ErrNotFound
	}
	m, ok := rm.members[userID]
	if !ok {
		return Member{}, ErrNotMember
	}
	return m, nil
}

func (r *MemoryRepository) RemoveMember(_ context.Context, roomID, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return "", ErrNotFound
	}
	if _, ok := rm.members[userID]; !ok {
		return "", ErrNotMember
	}
	delete(rm.members, userID)
	for i, id := range rm.order {
		if id == userID {
			rm.order = append(rm.order[:i:i], rm.order[i+1:]...)
			break
		}
	}
	if len(rm.order) == 0 {
		delete(r.rooms, roomID)
		return "", nil
	}
	if rm.room.HostID == userID {
		rm.room.HostID = rm.order[0]
	}
	return rm.room.HostID, nil
}

func (r *MemoryRepository) ReplaceRoles(_ context.Context, roomID string, deal int, roles map[string]deduction.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return ErrNotFound
	}
	rm.roles = maps.Clone(roles)
	rm.votes = make(map[int]map[string]bool)
	rm.cards = make(map[int]map[string]deduction.MissionCard)
	rm.room.DealCount = deal
	return nil
}

func (r *MemoryRepository) Role(_ context.Context, roomID, userID string) (deduction.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return "", ErrNotFound
	}
	role, ok := rm.roles[userID]
	if !ok {
		return "", ErrNoRole
	}
	return role, nil
}

func (r *MemoryRepository) Roles(_ context.Context, roomID string) (map[string]deduction.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	return maps.Clone(rm.roles), nil
}

func (r *MemoryRepository) InsertVote(_ context.Context, roomID string, round int, userID string, approve bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return false, ErrNotFound
	}
	votes := rm.votes[round]
	if votes == nil {
		votes = make(map[string]bool)
		rm.votes[round] = votes
	}
	if _, dup := votes[userID]; dup {
		return false, nil
	}
	votes[userID] = approve
	return true, nil
}

func (r *MemoryRepository) TakeVotes(_ context.Context, roomID string, round, quorum int) (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	votes := rm.votes[round]
	if len(votes) < quorum {
		return nil, &QuorumError{Have: len(votes), Want: quorum}
	}
	delete(rm.votes, round)
	if votes == nil {
		votes = make(map[string]bool)
	}
	return votes, nil
}

func (r *MemoryRepository) InsertCard(_ context.Context, roomID string, mission int, userID string, card deduction.MissionCard) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return false, ErrNotFound
	}
	cards := rm.cards[mission]
	if cards == nil {
		cards = make(map[string]deduction.MissionCard)
		rm.cards[mission] = cards
	}
	if _, dup := cards[userID]; dup {
		return false, nil
	}
	cards[userID] = card
	return true, nil
}

func (r *MemoryRepository) TakeCards(_ context.Context, roomID string, mission, quorum int) (map[string]deduction.MissionCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}
	cards := rm.cards[mission]
	if len(cards) < quorum {
		return nil, &QuorumError{Have: len(cards), Want: quorum}
	}
	delete(rm.cards, mission)
	if cards == nil {
		cards = make(map[string]deduction.MissionCard)
	}
	return cards, nil
}

func copyRoom(r Room) Room {
	r.PublicState = append(json.RawMessage(nil), r.PublicState...)
	return r
}

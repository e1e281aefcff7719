package secrets

import (
	"context"
	"encoding/json"
	"time"

	"github.com/PMK765/WebPartyGames/engine/deduction"
)

// Room is the stored room record. PublicState is the last state mirrored by
// the host, opaque to the store apart from a few header fields.
type Room struct {
	ID          string
	HostID      string
	PublicState json.RawMessage
	DealCount   int
}

type Member struct {
	RoomID      string
	UserID      string
	DisplayName string
	Credits     int64
	JoinedAt    time.Time
}

// Repository persists rooms and their secrets. Implementations must make
// the Take calls atomic: a short read consumes nothing.
type Repository interface {
	// EnsureRoom creates roomID hosted by hostID unless it exists.
	EnsureRoom(ctx context.Context, roomID, hostID string) (Room, error)
	Room(ctx context.Context, roomID string) (Room, error)
	SetPublicState(ctx context.Context, roomID, hostID string, state json.RawMessage) error

	UpsertMember(ctx context.Context, m Member) error
	Member(ctx context.Context, roomID, userID string) (Member, error)
	// RemoveMember drops userID and returns the room's host afterwards. A
	// departing host is replaced by the earliest remaining member; a room
	// left empty is deleted with everything in it.
	RemoveMember(ctx context.Context, roomID, userID string) (string, error)

	// ReplaceRoles stores a new deal, clearing all roles, votes and cards of
	// the previous one.
	ReplaceRoles(ctx context.Context, roomID string, deal int, roles map[string]deduction.Role) error
	Role(ctx context.Context, roomID, userID string) (deduction.Role, error)
	Roles(ctx context.Context, roomID string) (map[string]deduction.Role, error)

	// InsertVote keeps the first vote per user and round.
	InsertVote(ctx context.Context, roomID string, round int, userID string, approve bool) (bool, error)
	TakeVotes(ctx context.Context, roomID string, round, quorum int) (map[string]bool, error)
	InsertCard(ctx context.Context, roomID string, mission int, userID string, card deduction.MissionCard) (bool, error)
	TakeCards(ctx context.Context, roomID string, mission, quorum int) (map[string]deduction.MissionCard, error)
}

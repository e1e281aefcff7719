// Package engine holds what every room game shares: the state-machine
// contract the host drives, deterministic seeded randomness, the rendezvous
// barrier, the roster and playing cards.
//
// Everything in this tree is pure: no I/O, no clocks, no global RNG. The same
// state and event produce the same result on every peer.
package engine

import "errors"

// Machine is the contract a game implements to be hosted in a room.
//
// Reduce must never mutate its input. An event that is illegal in the
// current state (wrong phase, wrong actor, unknown player, duplicate signal)
// returns the input state itself, so callers detect "nothing happened" with
// Changed and skip re-broadcasting. S is expected to be a pointer type.
type Machine[S comparable, E any] interface {
	// Init returns a fresh lobby state hosted and joined by host.
	Init(roomID string, host Player) S
	Reduce(state S, ev E) S
	// Terminal reports whether state is in the game's finished phase.
	Terminal(state S) bool
	HostOf(state S) string
	Has(state S, playerID string) bool
	JoinEvent(p Player) E
	RemoveEvent(actor, playerID string) E
	// DecodeIntent turns a command-channel message into an event. actor is
	// the sender as identified by the transport, never read from payload.
	DecodeIntent(actor, intent string, payload []byte) (E, error)
}

// Changed reports whether a reduction produced a new state.
func Changed[S comparable](prev, next S) bool { return prev != next }

// Intent names shared by every engine.
const (
	IntentJoin    = "join"
	IntentLeave   = "leave"
	IntentKick    = "kick"
	IntentStart   = "start"
	IntentRestart = "restart"
)

// ErrUnknownIntent is returned by DecodeIntent for intents a game does not handle.
var ErrUnknownIntent = errors.New("engine: unknown intent")

// JoinPayload is the body of a join intent.
type JoinPayload struct {
	DisplayName string `json:"displayName"`
	Credits     int64  `json:"credits"`
}

// KickPayload is the body of a kick intent.
type KickPayload struct {
	PlayerID string `json:"playerId"`
}

// Package game seats a local player at a room table. A table pairs a host
// session with the player's side of a game: intents it can send, and for
// games with hidden information the effects the host runs against the
// secret store.
package game

import (
	"context"

	"github.com/PMK765/WebPartyGames/engine"
	"github.com/PMK765/WebPartyGames/engine/battle"
	"github.com/PMK765/WebPartyGames/internal/host"
	"github.com/PMK765/WebPartyGames/internal/logging"
)

// BattleTable is one player's seat at a two-player battle room. Everything
// the battle needs is public, so the table is a session plus intents.
type BattleTable struct {
	*host.Session[*battle.State, battle.Event]
}

func NewBattleTable(cfg host.Config, rules battle.Rules) *BattleTable {
	cfg.Log = logging.OrDiscard(cfg.Log).WithField("game", "battle")
	return &BattleTable{Session: host.New[*battle.State, battle.Event](battle.NewMachine(rules), cfg)}
}

// StartGame asks the host to deal. Only the host's own request is honored.
func (t *BattleTable) StartGame(ctx context.Context) error {
	return t.Send(ctx, engine.IntentStart, nil)
}

// Flip marks the local seat ready for the current round.
func (t *BattleTable) Flip(ctx context.Context) error {
	return t.Send(ctx, string(battle.EventFlip), nil)
}

func (t *BattleTable) Restart(ctx context.Context) error {
	return t.Send(ctx, engine.IntentRestart, nil)
}

func (t *BattleTable) Kick(ctx context.Context, playerID string) error {
	return t.Send(ctx, engine.IntentKick, engine.KickPayload{PlayerID: playerID})
}

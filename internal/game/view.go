package game

import (
	"context"
	"fmt"

	"github.com/PMK765/WebPartyGames/engine/deduction"
)

// DeductionView is the table as one player may see it: the public state plus
// what the secret store will tell that player.
type DeductionView struct {
	State *deduction.State `json:"state"`
	// MyRole is set for seated players once roles are dealt.
	MyRole deduction.Role `json:"myRole,omitempty"`
	// FellowSpies is only filled in for spies.
	FellowSpies []string `json:"fellowSpies,omitempty"`
	// Roles is every seat's role, after the game has finished.
	Roles map[string]deduction.Role `json:"roles,omitempty"`
}

// View builds the local player's view. It asks the store only for what the
// current phase allows.
func (t *DeductionTable) View(ctx context.Context) (DeductionView, error) {
	st, err := t.current()
	if err != nil {
		return DeductionView{}, err
	}
	v := DeductionView{State: st}
	if st.Game == 0 || st.Phase == deduction.PhaseLobby {
		return v, nil
	}

	if st.IsActive(t.cfg.Player.ID) {
		role, err := t.api.MyRole(ctx, t.cfg.RoomID)
		if err != nil {
			return v, fmt.Errorf("game: my role: %w", err)
		}
		v.MyRole = role
		if role == deduction.RoleSpy {
			spies, err := t.api.GetMySpies(ctx, t.cfg.RoomID)
			if err != nil {
				return v, fmt.Errorf("game: fellow spies: %w", err)
			}
			v.FellowSpies = spies
		}
	}

	if st.Phase == deduction.PhaseFinished {
		roles, err := t.api.RevealRoles(ctx, t.cfg.RoomID)
		if err != nil {
			return v, fmt.Errorf("game: reveal roles: %w", err)
		}
		v.Roles = roles
	}
	return v, nil
}

package deduction

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/PMK765/WebPartyGames/engine"
)

// Table limits.
const (
	MinPlayers   = 5
	MaxPlayers   = 10
	Missions     = 5
	MaxProposals = 5
	WinsNeeded   = 3
	// FailsToFail is the number of fail cards that fail a mission.
	FailsToFail = 1
)

// Role is a secret faction. Roles live only in the secret store.
type Role string

const (
	RoleResistance Role = "resistance" // majority
	RoleSpy        Role = "spy"        // minority
)

func (r Role) Valid() bool { return r == RoleResistance || r == RoleSpy }

// MissionCard is a team member's secret mission submission.
type MissionCard string

const (
	CardSuccess MissionCard = "success"
	CardFail    MissionCard = "fail"
)

func (c MissionCard) Valid() bool { return c == CardSuccess || c == CardFail }

// ErrPlayerCount is returned for tables outside MinPlayers..MaxPlayers.
var ErrPlayerCount = errors.New("deduction: need 5 to 10 players")

// spyCounts is indexed by active player count.
var spyCounts = [MaxPlayers + 1]int{5: 2, 6: 2, 7: 3, 8: 3, 9: 3, 10: 4}

// teamSizes is indexed by active player count, then mission-1.
var teamSizes = [MaxPlayers + 1][Missions]int{
	5:  {2, 3, 2, 3, 3},
	6:  {2, 3, 4, 3, 4},
	7:  {2, 3, 3, 4, 4},
	8:  {3, 4, 4, 5, 5},
	9:  {3, 4, 4, 5, 5},
	10: {3, 4, 4, 5, 5},
}

// SpyCount returns the minority role count for n active players, or 0 when n
// is out of range.
func SpyCount(n int) int {
	if n < MinPlayers || n > MaxPlayers {
		return 0
	}
	return spyCounts[n]
}

// TeamSize returns the team size for mission (1-based) at a table of n, or 0.
func TeamSize(n, mission int) int {
	if n < MinPlayers || n > MaxPlayers || mission < 1 || mission > Missions {
		return 0
	}
	return teamSizes[n][mission-1]
}

// Approved reports whether approve votes out of n active players pass a
// proposal. Approval needs strictly more than half.
func Approved(approve, n int) bool {
	return approve > n/2
}

// MissionFailed reports whether fails fail a mission.
func MissionFailed(fails int) bool {
	return fails >= FailsToFail
}

// RoundNumber flattens (mission, proposal) into the secret store's vote round key.
func RoundNumber(mission, proposal int) int {
	return (mission-1)*MaxProposals + proposal
}

// RoleSeed derives the role shuffle seed for a room's deal-th deal. salt is a
// server secret and may be empty, in which case the deal is reproducible from
// public information alone.
func RoleSeed(salt, roomID string, deal int) string {
	if salt == "" {
		return engine.SeedFor(roomID, strconv.Itoa(deal))
	}
	return engine.SeedFor(salt, roomID, strconv.Itoa(deal))
}

// AssignRoles deals roles to ids: the ids are shuffled with seed and the first
// SpyCount(len(ids)) become spies. ids must be distinct.
func AssignRoles(seed string, ids []string) (map[string]Role, error) {
	n := len(ids)
	if n < MinPlayers || n > MaxPlayers {
		return nil, fmt.Errorf("%w: got %d", ErrPlayerCount, n)
	}
	seen := make(map[string]bool, n)
	for _, id := range ids {
		if id == "" || seen[id] {
			return nil, fmt.Errorf("deduction: duplicate or empty player id %q", id)
		}
		seen[id] = true
	}
	spies := SpyCount(n)
	roles := make(map[string]Role, n)
	for i, id := range engine.ShuffledStrings(seed, ids) {
		if i < spies {
			roles[id] = RoleSpy
		} else {
			roles[id] = RoleResistance
		}
	}
	return roles, nil
}

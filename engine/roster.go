package engine

// Player is one roster entry. ID comes from the external identity provider
// and is unique within a roster; roster order is join order.
type Player struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	CreditsAtJoin int64  `json:"creditsAtJoin"`
	Score         int    `json:"score"`
}

// IndexOf returns the roster position of id, or -1.
func IndexOf(players []Player, id string) int {
	for i, p := range players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// ClonePlayers returns a copy of the roster slice.
func ClonePlayers(players []Player) []Player {
	if players == nil {
		return nil
	}
	out := make([]Player, len(players))
	copy(out, players)
	return out
}

// WithPlayer returns a roster that contains p. A player already present only
// has DisplayName and CreditsAtJoin refreshed; Score is never taken from p.
// changed is false when the result would be identical to the input, in which
// case the input slice itself is returned.
func WithPlayer(players []Player, p Player) (out []Player, changed bool) {
	if p.ID == "" {
		return players, false
	}
	if i := IndexOf(players, p.ID); i >= 0 {
		cur := players[i]
		if cur.DisplayName == p.DisplayName && cur.CreditsAtJoin == p.CreditsAtJoin {
			return players, false
		}
		out = ClonePlayers(players)
		out[i].DisplayName = p.DisplayName
		out[i].CreditsAtJoin = p.CreditsAtJoin
		return out, true
	}
	out = make([]Player, len(players), len(players)+1)
	copy(out, players)
	p.Score = 0
	return append(out, p), true
}

// WithoutPlayer removes id from the roster. When id was the host, the first
// remaining player becomes host; an emptied roster leaves no host.
func WithoutPlayer(players []Player, hostID, id string) (out []Player, newHost string, changed bool) {
	i := IndexOf(players, id)
	if i < 0 {
		return players, hostID, false
	}
	out = make([]Player, 0, len(players)-1)
	out = append(out, players[:i]...)
	out = append(out, players[i+1:]...)
	newHost = hostID
	if hostID == id {
		newHost = ""
		if len(out) > 0 {
			newHost = out[0].ID
		}
	}
	return out, newHost, true
}

// ResetScores returns a copy of the roster with every score zeroed.
func ResetScores(players []Player) []Player {
	out := ClonePlayers(players)
	for i := range out {
		out[i].Score = 0
	}
	return out
}

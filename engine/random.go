package engine

import (
	"encoding/binary"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// seedDomain separates seed derivation for room randomness from any other
// use of blake2b over the same strings.
const seedDomain = "webpartygames/v1/room-seed"

// Rand is a deterministic xorshift64 generator derived from a string seed.
// Two Rands built from the same seed produce identical sequences on every
// peer, so shuffles and offsets can be re-derived for audit. A Rand is not
// safe for concurrent use; build one per computation instead of sharing.
type Rand struct {
	state uint64
}

// NewRand derives the generator state from blake2b-256(domain || seed).
func NewRand(seed string) *Rand {
	sum := blake2b.Sum256([]byte(seedDomain + "\x00" + seed))
	state := binary.LittleEndian.Uint64(sum[:8])
	if state == 0 {
		state = 1 // xorshift can't start at 0
	}
	return &Rand{state: state}
}

// SeedFor joins seed components with ':' (e.g. room id and round).
func SeedFor(parts ...string) string {
	return strings.Join(parts, ":")
}

// Uint64 advances the generator.
func (r *Rand) Uint64() uint64 {
	x := r.state
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	r.state = x
	return x
}

// IntN returns a number in [0, n). It returns 0 when n <= 0.
func (r *Rand) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.Uint64() % uint64(n))
}

// Shuffle performs a Fisher-Yates shuffle over n elements.
func (r *Rand) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		swap(i, j)
	}
}

// Perm returns a permutation of [0, n).
func (r *Rand) Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	r.Shuffle(n, func(i, j int) { p[i], p[j] = p[j], p[i] })
	return p
}

// ShuffledCards returns a shuffled copy of cards.
func ShuffledCards(seed string, cards []Card) []Card {
	out := make([]Card, len(cards))
	copy(out, cards)
	NewRand(seed).Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// ShuffledStrings returns a shuffled copy of ids.
func ShuffledStrings(seed string, ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	NewRand(seed).Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

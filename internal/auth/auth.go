// Package auth verifies the identity tokens issued by the sign-in flow. A
// verified Identity is the only source of "who is calling" anywhere in the
// service; ids are never read from request bodies.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/text/unicode/norm"
)

// ErrUnauthenticated is returned for missing, malformed or expired tokens.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// MaxNameLen bounds display names in runes.
const MaxNameLen = 32

// Identity is the caller as vouched for by the identity provider.
type Identity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
}

// Claims is the JWT payload. The subject is the player id.
type Claims struct {
	Name    string `json:"name"`
	Credits int64  `json:"credits"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()),
	}
}

// Verify parses and validates token and returns the identity it carries.
func (v *Verifier) Verify(token string) (Identity, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return Identity{ID: claims.Subject, Name: NormalizeName(claims.Name), Credits: claims.Credits}, nil
}

// Issuer mints tokens. relayd only verifies; Issuer exists for the sign-in
// collaborator, local tooling and tests.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) Issue(id Identity) (string, error) {
	now := i.now()
	claims := Claims{
		Name:    id.Name,
		Credits: id.Credits,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// NormalizeName returns the NFC form of name with surrounding space removed
// and length capped at MaxNameLen runes. An empty result becomes "Player".
func NormalizeName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if utf8.RuneCountInString(name) > MaxNameLen {
		name = string([]rune(name)[:MaxNameLen])
	}
	if name == "" {
		return "Player"
	}
	return name
}

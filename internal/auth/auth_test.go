package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	tok, err := NewIssuer("secret", time.Hour).Issue(Identity{ID: "u-1", Name: "  Zoë  ", Credits: 42})
	require.NoError(t, err)

	id, err := NewVerifier("secret").Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "u-1", Name: "Zoë", Credits: 42}, id)
}

func TestVerifyRejects(t *testing.T) {
	good, err := NewIssuer("secret", time.Hour).Issue(Identity{ID: "u-1"})
	require.NoError(t, err)

	_, err = NewVerifier("other").Verify(good)
	assert.ErrorIs(t, err, ErrUnauthenticated, "wrong secret")

	expired := NewIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, err := expired.Issue(Identity{ID: "u-1"})
	require.NoError(t, err)
	_, err = NewVerifier("secret").Verify(old)
	assert.ErrorIs(t, err, ErrUnauthenticated, "expired")

	anon, err := NewIssuer("secret", time.Hour).Issue(Identity{})
	require.NoError(t, err)
	_, err = NewVerifier("secret").Verify(anon)
	assert.ErrorIs(t, err, ErrUnauthenticated, "no subject")

	_, err = NewVerifier("secret").Verify("not.a.jwt")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNormalizeName(t *testing.T) {
	// "e" + combining acute composes to a single rune under NFC.
	assert.Equal(t, "\u00e9", NormalizeName("e\u0301"))
	assert.Equal(t, "Player", NormalizeName("   "))
	assert.Equal(t, MaxNameLen, len([]rune(NormalizeName(strings.Repeat("ж", 50)))))
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)

	tok, ok = BearerToken("bearer  xyz ")
	assert.True(t, ok)
	assert.Equal(t, "xyz", tok)

	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer ")
	assert.False(t, ok)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", Middleware(NewVerifier("secret")), func(c *gin.Context) {
		id, ok := FromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, id.ID)
	})

	tok, err := NewIssuer("secret", time.Hour).Issue(Identity{ID: "u-7"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u-7", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me?token="+tok, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

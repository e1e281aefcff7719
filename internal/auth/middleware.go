package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const identityKey = "auth.identity"

// Middleware rejects requests without a valid token and stores the verified
// Identity on the gin context. Browsers cannot set headers on websocket
// upgrades, so a "token" query parameter is accepted as well.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			token = c.Query("token")
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		id, err := v.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// FromContext returns the identity stored by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

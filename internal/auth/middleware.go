package auth

import (
	"strings"

	"storefront-service/internal/apperrors"

	"github.com/gin-gonic/gin"
)

const identityKey = "auth.identity"

// ErrorWriter renders a rejected request.
type ErrorWriter func(c *gin.Context, err error)

// Middleware requires a valid bearer token and stores the caller's identity
// on the gin context.
func Middleware(v *Verifier, fail ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader("Authorization"))
		token := raw
		if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
			token = strings.TrimSpace(token[7:])
		}
		if token == "" || token == raw {
			fail(c, apperrors.New(apperrors.CodeUnauthorized, "missing bearer token"))
			c.Abort()
			return
		}

		id, err := v.ParseToken(token)
		if err != nil {
			fail(c, apperrors.Wrap(apperrors.CodeUnauthorized, err, "invalid token"))
			c.Abort()
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAdmin must run after Middleware.
func RequireAdmin(fail ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := FromContext(c)
		if !ok || !id.IsAdmin() {
			fail(c, apperrors.New(apperrors.CodeForbidden, "admin role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// FromContext returns the identity set by Middleware.
func FromContext(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"schoolattendance/internal/model"
)

const claimsKey = "claims"

// Required enforces bearer JWT tokens signed with HS256.
func Required(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RoleFunc resolves the stored role of the authenticated caller. It aborts the
// request itself when the caller cannot be resolved.
type RoleFunc func(c *gin.Context) (model.Role, bool)

// AdminOnly must run after Required. The role comes from role, not from the
// token.
func AdminOnly(role RoleFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, ok := role(c)
		if !ok {
			c.Abort()
			return
		}
		if r != model.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin only"})
			return
		}
		c.Next()
	}
}

// FromContext returns the claims stored by Required.
func FromContext(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

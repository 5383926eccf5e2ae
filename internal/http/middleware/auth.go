// README: Firebase bearer-token auth; exposes the caller's uid and role to handlers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tourdispatch/internal/infra"
)

const (
	callerUIDKey  = "caller_uid"
	callerRoleKey = "caller_role"
)

const (
	RoleDriver     = "driver"
	RoleDispatcher = "dispatcher"
	RoleAdmin      = "admin"
)

// Auth rejects requests without a valid "Bearer <id token>" header.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(callerUIDKey, token.UID)
		role, _ := token.Claims["role"].(string)
		c.Set(callerRoleKey, role)
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(callerUIDKey)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(callerRoleKey)
}

// RequireRole only lets callers with one of roles through.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}

// IsStaff reports whether the caller may act on any driver's behalf.
func IsStaff(c *gin.Context) bool {
	role := CallerRole(c)
	return role == RoleDispatcher || role == RoleAdmin
}

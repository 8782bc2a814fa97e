package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marketdash/internal/pkg/response"
)

// RequireRole lets the request through when the token's role is one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		role := c.GetString("role")
		if role == "" {
			response.CustomError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Role not found in token")
			return
		}

		if !allowed[role] {
			response.CustomError(c, http.StatusForbidden, "FORBIDDEN", "Access denied: insufficient permissions")
			return
		}

		c.Next()
	}
}

// ProviderOrAdmin guards mutations of milestones and tasks.
func ProviderOrAdmin() gin.HandlerFunc {
	return RequireRole("provider", "admin")
}

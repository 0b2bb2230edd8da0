package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Scope names. Keep these stable; they are part of the API-key contract.
const (
	ScopeCallsRead  = "calls:read"
	ScopeCallsWrite = "calls:write"
	ScopeBatchWrite = "batch:write"
	ScopeAdmin      = "admin"
)

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want || s == ScopeAdmin {
			return true
		}
	}
	return false
}

// RequireScope allows access if the API key carries the scope (or admin).
// Chain it after RequireAPIKey.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes, err := Scopes(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "scopes required"})
			return
		}
		if !hasScope(scopes, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

package ratelimit

import (
	"net/http"

	"dialgate/internal/auth"
	"dialgate/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Middleware rejects requests over the per-API-key rate with 429.
// Chain it after auth.RequireAPIKey; a limiter failure (e.g. Redis down)
// fails open with a warning rather than blocking call intake.
func Middleware(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		keyID, err := auth.APIKeyID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "api key required"})
			return
		}

		allowed, err := l.Allow(c.Request.Context(), keyID)
		if err != nil {
			logger.FromGin(c).Warn("rate limiter unavailable", "err", err)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

package main

import (
	"dialgate/internal/auth"
	"dialgate/internal/httpapi"
	"dialgate/internal/ratelimit"
	"dialgate/internal/webhook"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authManager *auth.Manager, limiter ratelimit.Limiter, hooks *webhook.Handlers, devKeys bool) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These endpoints should be protected by Twilio signature validation in production.
	hooks.Register(r)

	// Dev-only key issuance; production key management lives outside this process.
	if devKeys {
		r.POST("/auth/keys", h.IssueKey)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAPIKey(authManager))
	v1.Use(ratelimit.Middleware(limiter))
	{
		v1.POST("/call", auth.RequireScope(auth.ScopeCallsWrite), h.CreateCall)
		v1.GET("/calls/:id", auth.RequireScope(auth.ScopeCallsRead), h.GetCall)
		v1.POST("/calls/:id/cancel", auth.RequireScope(auth.ScopeCallsWrite), h.CancelCall)

		v1.POST("/batch", auth.RequireScope(auth.ScopeBatchWrite), h.CreateBatch)
		v1.GET("/batch/:id/status", auth.RequireScope(auth.ScopeCallsRead), h.BatchStatus)

		v1.GET("/reports/calls", auth.RequireScope(auth.ScopeCallsRead), h.CallsReport)
	}
}

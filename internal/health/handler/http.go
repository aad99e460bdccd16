// Package handler serves liveness and readiness probes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const readyTimeout = 2 * time.Second

// Check is one readiness dependency, such as the session store or the policy engine.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves /health and /ready.
type Handler struct {
	service string
	checks  []Check
	logger  *slog.Logger
}

// NewHandler returns a health handler. /health never runs checks.
func NewHandler(service string, logger *slog.Logger, checks ...Check) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, checks: checks, logger: logger}
}

// RegisterRoutes mounts /health and /ready on r without authentication.
func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.service})
}

// Ready runs every check and answers 503 if any fails.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	ready := true
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			h.logger.Warn("health: readiness check failed", "check", chk.Name, "error", err)
			results[chk.Name] = "unavailable"
			ready = false
			continue
		}
		results[chk.Name] = "ok"
	}
	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": h.service, "checks": results})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": h.service, "checks": results})
}

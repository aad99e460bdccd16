package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"account-relay/internal/audit"
	commandhandler "account-relay/internal/command/handler"
	"account-relay/internal/devotp"
	devotphandler "account-relay/internal/devotp/handler"
	healthhandler "account-relay/internal/health/handler"
	"account-relay/internal/server/middleware"
	sessionhandler "account-relay/internal/session/handler"
	"account-relay/internal/telemetry"
)

// ServiceName is reported by /health.
const ServiceName = "account-relay"

// Deps holds the dependencies for the HTTP surface.
type Deps struct {
	// Sessions drives the login lifecycle. Required.
	Sessions sessionhandler.Lifecycle
	// Commands executes account commands (the dispatcher). Required.
	Commands commandhandler.Executor
	// Secret verifies the shared relay secret. Required.
	Secret middleware.Verifier
	// Emitter receives per-request telemetry events. If nil, no events are emitted.
	Emitter telemetry.EventEmitter
	// Audit records one entry per authenticated relay call. If nil, requests are not audited.
	Audit audit.AuditLogger
	// DevOTP exposes simulated login codes at /dev/code. Set only for the simulated protocol outside production.
	DevOTP devotp.Inbox
	// ReadyChecks are run by /ready.
	ReadyChecks []healthhandler.Check
	Logger      *slog.Logger
}

// unobserved paths skip telemetry and audit.
var unobserved = map[string]bool{
	"/health": true,
	"/ready":  true,
}

// NewRouter builds the gin engine.
//
// Route → handler mapping:
//   - /health, /ready                       → internal/health/handler (no secret)
//   - /request_code … /logout, /status       → internal/session/handler
//   - /execute                               → internal/command/handler
//   - /dev/code                              → internal/devotp/handler (dev only)
func NewRouter(deps Deps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestContext(),
		middleware.AccessLog(logger),
		middleware.Telemetry(deps.Emitter, unobserved, logger),
	)

	healthhandler.NewHandler(ServiceName, logger, deps.ReadyChecks...).RegisterRoutes(router)

	relay := router.Group("/")
	relay.Use(middleware.RequireSecret(deps.Secret, deps.Emitter, logger))
	if deps.Audit != nil {
		relay.Use(middleware.Audit(deps.Audit, unobserved))
	}

	sessionhandler.NewHandler(deps.Sessions, deps.Commands, logger).RegisterRoutes(relay)
	commandhandler.NewHandler(deps.Commands, logger).RegisterRoutes(relay)
	if deps.DevOTP != nil {
		devotphandler.NewHandler(deps.DevOTP).RegisterRoutes(relay)
	}
	return router
}

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"account-relay/internal/audit"
	"account-relay/internal/command/dispatcher"
	"account-relay/internal/config"
	"account-relay/internal/devotp"
	healthhandler "account-relay/internal/health/handler"
	"account-relay/internal/platform/keylock"
	"account-relay/internal/policy/engine"
	"account-relay/internal/protocol"
	"account-relay/internal/protocol/gateway"
	"account-relay/internal/protocol/simulated"
	"account-relay/internal/security"
	"account-relay/internal/server"
	"account-relay/internal/server/middleware"
	"account-relay/internal/session/domain"
	"account-relay/internal/session/service"
)

// simulatedCredentials stand in for application credentials when the simulated protocol runs without any.
var simulatedCredentials = domain.Credentials{APIID: 1, APIHash: "simulated"}

func setupHTTP(ctx context.Context, cfg *config.Config, infra *Infra, logger *slog.Logger) (*gin.Engine, error) {
	// ----------------------------
	// Protocol
	// ----------------------------

	var (
		dialer protocol.Dialer
		inbox  *devotp.MemoryInbox
	)
	defaultCreds := domain.Credentials{APIID: cfg.ProtocolAPIID, APIHash: cfg.ProtocolAPIHash}
	switch cfg.ProtocolMode {
	case config.ProtocolSimulated:
		inbox = devotp.NewMemoryInbox()
		dialer = simulated.New(inbox, simulated.Options{CodeTTL: cfg.CodeTTLDuration()})
		if defaultCreds.APIID == 0 || defaultCreds.APIHash == "" {
			defaultCreds = simulatedCredentials
		}
		logger.Warn("protocol: simulated; login codes are readable at GET /dev/code")
	default:
		dialer = gateway.NewClient(cfg.ProtocolGatewayURL, cfg.ProtocolGatewayToken, cfg.ProtocolTimeoutDuration())
		logger.Info("protocol: gateway", "url", cfg.ProtocolGatewayURL)
	}

	// ----------------------------
	// Services
	// ----------------------------

	sessions := service.NewLifecycle(
		infra.Sessions,
		dialer,
		keylock.New(),
		service.Config{
			ProtocolTimeout:     cfg.ProtocolTimeoutDuration(),
			LockTimeout:         cfg.LockTimeoutDuration(),
			CodeTTL:             cfg.CodeTTLDuration(),
			MaxPasswordAttempts: cfg.MaxPasswordAttempts,
			BackoffBase:         cfg.BackoffBase(),
			BackoffMax:          cfg.BackoffMax(),
			DefaultCredentials:  defaultCreds,
		},
		logger,
		infra.Emitter,
	)

	var (
		policy *engine.OPAEvaluator
		err    error
	)
	if cfg.CommandPolicyFile != "" {
		policy, err = engine.NewOPAEvaluatorFromFile(ctx, cfg.CommandPolicyFile)
	} else {
		policy, err = engine.NewOPAEvaluator(ctx, engine.DefaultRegoPolicy)
	}
	if err != nil {
		return nil, fmt.Errorf("command policy: %w", err)
	}
	commands := dispatcher.New(sessions, policy, logger)

	verifier, err := security.NewSecretVerifier(cfg.RelaySecret, cfg.RelaySecretHash)
	if err != nil {
		return nil, fmt.Errorf("relay secret: %w", err)
	}

	// ----------------------------
	// Router
	// ----------------------------

	deps := server.Deps{
		Sessions: sessions,
		Commands: commands,
		Secret:   verifier,
		Emitter:  infra.Emitter,
		Logger:   logger,
		ReadyChecks: []healthhandler.Check{
			{Name: "policy", Check: policy.HealthCheck},
		},
	}
	if infra.Ping != nil {
		deps.ReadyChecks = append(deps.ReadyChecks, healthhandler.Check{Name: "store", Check: infra.Ping})
	}
	if infra.Audit != nil {
		deps.Audit = audit.NewLogger(infra.Audit, middleware.ClientIP, logger)
	}
	if inbox != nil && !cfg.IsProduction() {
		deps.DevOTP = inbox
	}
	return server.NewRouter(deps), nil
}

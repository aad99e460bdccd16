// Package dispatcher relays typed commands to an authorized protocol session.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	commanddomain "account-relay/internal/command/domain"
	"account-relay/internal/policy/engine"
	"account-relay/internal/protocol"
	"account-relay/internal/relayerr"
)

// SessionRunner runs fn against an open connection of an authorized session, under the account lock.
type SessionRunner interface {
	RunAuthorized(ctx context.Context, accountID string, fn func(ctx context.Context, conn protocol.Conn) error) error
}

// Dispatcher validates commands, checks them against the command policy and executes them once.
// There are no automatic retries: a failed command is reported to the caller.
type Dispatcher struct {
	sessions SessionRunner
	policy   engine.Evaluator
	logger   *slog.Logger
	executed metric.Int64Counter
}

// New returns a Dispatcher. policy may be nil to allow every well-formed command.
func New(sessions SessionRunner, policy engine.Evaluator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	executed, err := otel.Meter("account-relay/command").Int64Counter("relay.commands",
		metric.WithDescription("Commands relayed by kind and result."))
	if err != nil {
		logger.Warn("command: counter unavailable", "error", err)
	}
	return &Dispatcher{sessions: sessions, policy: policy, logger: logger, executed: executed}
}

// Execute sends cmd on behalf of accountID and returns the protocol's result.
func (d *Dispatcher) Execute(ctx context.Context, accountID string, cmd commanddomain.Command) (json.RawMessage, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, relayerr.New(relayerr.KindBadRequest, "accountId is required")
	}
	if err := cmd.Validate(); err != nil {
		return nil, validationError(err)
	}
	if d.policy != nil {
		decision, err := d.policy.EvaluateCommand(ctx, accountID, cmd)
		if err != nil {
			d.logger.ErrorContext(ctx, "command: policy evaluation failed", "account_id", accountID, "kind", cmd.Kind, "error", err)
			return nil, relayerr.Wrap(relayerr.KindInternal, "command policy unavailable", err)
		}
		if !decision.Allowed {
			reason := decision.Reason
			if reason == "" {
				reason = "command not allowed"
			}
			d.count(ctx, cmd.Kind, "denied")
			return nil, relayerr.New(relayerr.KindCommandDenied, reason)
		}
	}

	var result json.RawMessage
	err := d.sessions.RunAuthorized(ctx, accountID, func(ctx context.Context, conn protocol.Conn) error {
		var cerr error
		result, cerr = conn.ExecuteCommand(ctx, cmd)
		return cerr
	})
	if err != nil {
		kind := "error"
		if re, ok := relayerr.As(err); ok {
			kind = re.EnvelopeKind()
		}
		d.count(ctx, cmd.Kind, kind)
		return nil, err
	}
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	d.count(ctx, cmd.Kind, "ok")
	d.logger.InfoContext(ctx, "command: executed", "account_id", accountID, "kind", cmd.Kind)
	return result, nil
}

func (d *Dispatcher) count(ctx context.Context, kind commanddomain.Kind, result string) {
	if d.executed == nil {
		return
	}
	d.executed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("result", result),
	))
}

func validationError(err error) error {
	if errors.Is(err, commanddomain.ErrUnsupported) {
		return relayerr.Wrap(relayerr.KindUnsupportedCommand, err.Error(), err)
	}
	return relayerr.Wrap(relayerr.KindBadRequest, err.Error(), err)
}

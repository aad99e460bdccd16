// Package engine decides whether a command may be relayed for an account.
package engine

import (
	"context"

	commanddomain "account-relay/internal/command/domain"
)

// Decision is the outcome of a command policy evaluation.
type Decision struct {
	Allowed bool
	// Reason explains a denial; empty when allowed.
	Reason string
}

// Evaluator evaluates command policies using OPA or other engines.
type Evaluator interface {
	// EvaluateCommand decides whether cmd may be sent on behalf of accountID.
	EvaluateCommand(ctx context.Context, accountID string, cmd commanddomain.Command) (Decision, error)
}

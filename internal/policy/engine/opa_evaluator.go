package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	commanddomain "account-relay/internal/command/domain"
)

const policyQuery = "allow = data.relay.commands.allow; reason = data.relay.commands.reason"

// DefaultRegoPolicy allows the read-only commands and send_gift with positive identifiers.
const DefaultRegoPolicy = `package relay.commands

default allow := false

default reason := "command is not allowed by policy"

read_only := {"noop", "get_me", "get_balance"}

allow if input.command.kind in read_only

allow if {
	input.command.kind == "send_gift"
	input.command.user_id > 0
	input.command.gift_id > 0
}

reason := "" if allow
`

// OPAEvaluator evaluates command policies using an OPA Rego module compiled once at construction.
type OPAEvaluator struct {
	source string
	query  rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles source (DefaultRegoPolicy when empty) and prepares the decision query.
func NewOPAEvaluator(ctx context.Context, source string) (*OPAEvaluator, error) {
	if source == "" {
		source = DefaultRegoPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"command_policy.rego": source})
	if err != nil {
		return nil, fmt.Errorf("compile command policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare command policy: %w", err)
	}
	return &OPAEvaluator{source: source, query: pq}, nil
}

// NewOPAEvaluatorFromFile loads the policy module from path; an empty path selects DefaultRegoPolicy.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read command policy %s: %w", path, err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// HealthCheck verifies that the in-process OPA Rego engine can compile and evaluate the active policy.
// Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"command_policy.rego": e.source})
	if err != nil {
		return fmt.Errorf("compile command policy: %w", err)
	}
	rs, err := rego.New(
		rego.Query("data.relay.commands.allow"),
		rego.Compiler(compiler),
		rego.Input(map[string]interface{}{
			"account_id": "",
			"command":    map[string]interface{}{"kind": string(commanddomain.KindNoop)},
		}),
	).Eval(ctx)
	if err != nil {
		return fmt.Errorf("eval command policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return fmt.Errorf("policy query returned no result")
	}
	return nil
}

// EvaluateCommand runs the prepared query against the command. An undefined result denies.
func (e *OPAEvaluator) EvaluateCommand(ctx context.Context, accountID string, cmd commanddomain.Command) (Decision, error) {
	input, err := buildInput(accountID, cmd)
	if err != nil {
		return Decision{}, fmt.Errorf("build input: %w", err)
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval command policy: %w", err)
	}
	if len(rs) == 0 {
		return Decision{Allowed: false, Reason: "command policy produced no decision"}, nil
	}
	allowed, _ := rs[0].Bindings["allow"].(bool)
	reason, _ := rs[0].Bindings["reason"].(string)
	if !allowed && reason == "" {
		reason = "command is not allowed by policy"
	}
	return Decision{Allowed: allowed, Reason: reason}, nil
}

// buildInput renders the command in its wire form so policies see the same fields callers send.
func buildInput(accountID string, cmd commanddomain.Command) (map[string]interface{}, error) {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	var command map[string]interface{}
	if err := json.Unmarshal(raw, &command); err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"account_id": accountID,
		"command":    command,
	}, nil
}

package policy

import (
	"context"
	"errors"
	"fmt"
)

// Action represents an administrative action that is policy-controlled
type Action string

const (
	ActionLedgerReset     Action = "ledger.reset"
	ActionWebhookSimulate Action = "webhook.simulate"
	ActionReminderTest    Action = "reminder.test"
	ActionEmailTest       Action = "email.test"
)

// Role represents an operator role carried in the admin token
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// ErrDenied is returned by Enforce when a policy rejects the action.
var ErrDenied = errors.New("denied by policy")

// PolicyContext contains the context for policy evaluation
type PolicyContext struct {
	UserID string
	Roles  []Role
	Action Action
}

// PolicyResult contains the result of a policy check
type PolicyResult struct {
	Allowed bool
	Reason  string
	Rules   []string // Which rules matched
}

// PolicyEngine is the interface for policy evaluation
type PolicyEngine interface {
	Check(ctx context.Context, pctx *PolicyContext) (*PolicyResult, error)
}

// Role-based permissions matrix. Admin can do everything; authz.rego
// mirrors this table.
var permissions = map[Role][]Action{
	RoleOperator: {
		ActionWebhookSimulate,
		ActionReminderTest,
		ActionEmailTest,
	},
	RoleViewer: {},
}

// HardcodedPolicyEngine evaluates the built-in role matrix
type HardcodedPolicyEngine struct{}

func NewHardcodedPolicyEngine() *HardcodedPolicyEngine {
	return &HardcodedPolicyEngine{}
}

// Check evaluates hardcoded policies
func (e *HardcodedPolicyEngine) Check(ctx context.Context, pctx *PolicyContext) (*PolicyResult, error) {
	result := &PolicyResult{
		Allowed: false,
		Rules:   make([]string, 0),
	}
	if pctx == nil {
		result.Reason = "no policy context"
		return result, nil
	}

	for _, role := range pctx.Roles {
		if e.roleAllowsAction(role, pctx.Action) {
			result.Allowed = true
			result.Reason = fmt.Sprintf("allowed by role: %s", role)
			result.Rules = append(result.Rules, fmt.Sprintf("role:%s", role))
			return result, nil
		}
	}

	result.Reason = "no matching policy found"
	return result, nil
}

func (e *HardcodedPolicyEngine) roleAllowsAction(role Role, action Action) bool {
	if role == RoleAdmin {
		return true
	}
	for _, allowed := range permissions[role] {
		if allowed == action {
			return true
		}
	}
	return false
}

// Enforce runs a policy check and returns an error wrapping ErrDenied if
// the action is not allowed.
func Enforce(ctx context.Context, engine PolicyEngine, pctx *PolicyContext) error {
	if engine == nil {
		return fmt.Errorf("%w: no policy engine configured", ErrDenied)
	}
	result, err := engine.Check(ctx, pctx)
	if err != nil {
		return fmt.Errorf("policy check failed: %w", err)
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", ErrDenied, result.Reason)
	}
	return nil
}

// WithAction returns a copy of pctx scoped to action.
func WithAction(pctx *PolicyContext, action Action) *PolicyContext {
	if pctx == nil {
		return &PolicyContext{Action: action}
	}
	c := *pctx
	c.Action = action
	return &c
}

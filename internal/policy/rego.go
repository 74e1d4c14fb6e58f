package policy

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed authz.rego
var authzModule string

const authzQuery = "data.giving.authz.allow"

// RegoPolicyEngine evaluates the embedded authz.rego module with OPA.
type RegoPolicyEngine struct {
	query rego.PreparedEvalQuery
}

// NewRegoPolicyEngine compiles module, or the embedded default when module
// is empty.
func NewRegoPolicyEngine(ctx context.Context, module string) (*RegoPolicyEngine, error) {
	if module == "" {
		module = authzModule
	}
	q, err := rego.New(
		rego.Query(authzQuery),
		rego.Module("authz.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare rego policy: %w", err)
	}
	return &RegoPolicyEngine{query: q}, nil
}

func (e *RegoPolicyEngine) Check(ctx context.Context, pctx *PolicyContext) (*PolicyResult, error) {
	result := &PolicyResult{Rules: make([]string, 0)}
	if pctx == nil {
		result.Reason = "no policy context"
		return result, nil
	}

	roles := make([]string, 0, len(pctx.Roles))
	for _, r := range pctx.Roles {
		roles = append(roles, string(r))
	}
	input := map[string]interface{}{
		"user_id": pctx.UserID,
		"roles":   roles,
		"action":  string(pctx.Action),
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluate rego policy: %w", err)
	}
	if rs.Allowed() {
		result.Allowed = true
		result.Reason = "allowed by rego policy"
		result.Rules = append(result.Rules, authzQuery)
		return result, nil
	}
	result.Reason = "denied by rego policy"
	return result, nil
}

// Package policy evaluates plans against a rego policy before they run.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decision is the outcome of a policy evaluation.
type Decision string

const (
	DecisionAllow         Decision = "allow"
	DecisionRequireReview Decision = "require_review"
	DecisionBlock         Decision = "block"
)

// Result is a decision plus an optional reason.
type Result struct {
	Decision Decision
	Reason   string
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
// The policy must define data.plan_policy.decision.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.plan_policy.decision"),
		rego.Module("plan_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}
	return &Engine{query: query}, nil
}

// Evaluate checks a plan. Input keys: mode, paths, ignored, plan{create,update,delete}.
// The policy may return a bare decision string or {"decision", "reason"}.
func (e *Engine) Evaluate(ctx context.Context, input map[string]interface{}) (Result, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Result{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Result{Decision: DecisionAllow, Reason: "default"}, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		return parse(v, "")
	case map[string]interface{}:
		d, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		return parse(d, reason)
	}
	return Result{}, fmt.Errorf("unexpected policy result %T", results[0].Expressions[0].Value)
}

func parse(d, reason string) (Result, error) {
	switch Decision(d) {
	case DecisionAllow, DecisionRequireReview, DecisionBlock:
		return Result{Decision: Decision(d), Reason: reason}, nil
	}
	return Result{}, fmt.Errorf("unknown policy decision %q", d)
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package plan_policy

default decision = {"decision": "allow", "reason": ""}

escapes(p) {
	startswith(p, "/")
}

escapes(p) {
	p == ".."
}

escapes(p) {
	startswith(p, "../")
}

escapes(p) {
	contains(p, "/../")
}

protected(p) {
	p == ".git"
}

protected(p) {
	startswith(p, ".git/")
}

blocked[p] {
	p := input.paths[_]
	escapes(p)
}

blocked[p] {
	p := input.paths[_]
	protected(p)
}

blocked[p] {
	p := input.ignored[_]
}

decision = {"decision": "block", "reason": sprintf("plan touches protected paths: %s", [concat(", ", sort(blocked))])} {
	count(blocked) > 0
} else = {"decision": "require_review", "reason": "god mode reviews every plan"} {
	input.mode == "god"
}
`

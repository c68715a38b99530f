// Package planner asks the Architect role for a plan and checks it before
// it reaches the review gate.
package planner

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/policy"
	"github.com/xiaot623/gogo/autopilot/internal/router"
)

// PolicyEvaluator decides whether a plan may run, needs review or is blocked.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input map[string]interface{}) (policy.Result, error)
}

// Input is everything the Architect sees.
type Input struct {
	Objective      string
	Mode           domain.RunMode
	Snapshot       []string
	FailureContext string
}

// Proposal is a validated plan ready for the review gate.
type Proposal struct {
	Plan           domain.Plan
	Tasks          []string
	RequiresReview bool
	Decision       policy.Result
}

// Generator produces plans.
type Generator struct {
	invoker router.Invoker
	policy  PolicyEvaluator
	ignore  []string
}

// Option configures a Generator.
type Option func(*Generator)

// WithPolicy sets the plan policy.
func WithPolicy(p PolicyEvaluator) Option {
	return func(g *Generator) { g.policy = p }
}

// WithIgnore sets glob patterns of paths a plan must not touch.
func WithIgnore(patterns []string) Option {
	return func(g *Generator) { g.ignore = patterns }
}

// New creates a Generator.
func New(invoker router.Invoker, opts ...Option) *Generator {
	g := &Generator{invoker: invoker}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the Architect for a plan. Undecodable, invalid or blocked
// plans are reported as *domain.ProviderFailure so the run can self-correct.
func (g *Generator) Generate(ctx context.Context, in Input) (*Proposal, error) {
	resp, err := g.invoker.Invoke(ctx, domain.RoleArchitect, &llm.CompletionRequest{
		Kind:   llm.KindPlan,
		System: systemPrompt,
		Prompt: buildPrompt(in),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	var raw domain.Plan
	if err := llm.DecodeJSON(resp.Text, &raw); err != nil {
		return nil, architectFailure(fmt.Errorf("%w: %v", domain.ErrInvalidPlan, err))
	}
	plan := Normalize(raw)
	if err := Validate(&plan); err != nil {
		return nil, architectFailure(err)
	}

	decision := policy.Result{Decision: policy.DecisionAllow}
	if g.policy != nil {
		decision, err = g.policy.Evaluate(ctx, g.policyInput(in.Mode, &plan))
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate plan policy: %w", err)
		}
	}
	if decision.Decision == policy.DecisionBlock {
		return nil, architectFailure(fmt.Errorf("%w: blocked by policy: %s", domain.ErrInvalidPlan, decision.Reason))
	}

	return &Proposal{
		Plan:           plan,
		Tasks:          Tasks(&plan),
		RequiresReview: in.Mode == domain.RunModeGod || decision.Decision == policy.DecisionRequireReview,
		Decision:       decision,
	}, nil
}

func (g *Generator) policyInput(mode domain.RunMode, p *domain.Plan) map[string]interface{} {
	paths := p.Paths()
	var ignored []interface{}
	for _, fp := range paths {
		for _, pattern := range g.ignore {
			if ok, _ := doublestar.Match(pattern, fp); ok {
				ignored = append(ignored, fp)
				break
			}
		}
	}
	return map[string]interface{}{
		"mode":    string(mode),
		"paths":   toAny(paths),
		"ignored": ignored,
		"plan": map[string]interface{}{
			"create": toAny(p.Plan.Create),
			"update": toAny(p.Plan.Update),
			"delete": toAny(p.Plan.Delete),
		},
	}
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func architectFailure(err error) error {
	return &domain.ProviderFailure{Role: domain.RoleArchitect, Err: err}
}

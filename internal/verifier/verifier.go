// Package verifier judges a finished plan and decides what happens after a
// failure.
package verifier

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/router"
)

// maxDiffBytes caps the diff sent to the Reviewer.
const maxDiffBytes = 64 * 1024

const systemPrompt = `You are the Reviewer of an application builder.
Judge whether the change below fulfils the objective.
Answer with a single JSON object and nothing else:
{"pass": true|false, "rationale": "one or two sentences", "issues": ["what is missing or wrong"]}`

// Verifier asks the Reviewer role for a verdict.
type Verifier struct {
	invoker router.Invoker
}

// New creates a Verifier.
func New(invoker router.Invoker) *Verifier {
	return &Verifier{invoker: invoker}
}

// Verify judges the cumulative diff of a run against its objective.
func (v *Verifier) Verify(ctx context.Context, objective string, plan domain.Plan, diff string) (domain.Verdict, error) {
	resp, err := v.invoker.Invoke(ctx, domain.RoleReviewer, &llm.CompletionRequest{
		Kind:   llm.KindVerdict,
		System: systemPrompt,
		Prompt: buildPrompt(objective, plan, diff),
		JSON:   true,
	})
	if err != nil {
		return domain.Verdict{}, err
	}

	var verdict domain.Verdict
	if err := llm.DecodeJSON(resp.Text, &verdict); err != nil {
		return domain.Verdict{}, &domain.ProviderFailure{
			Role: domain.RoleReviewer,
			Err:  fmt.Errorf("failed to decode verdict: %w", err),
		}
	}
	verdict.Rationale = strings.TrimSpace(verdict.Rationale)
	if !verdict.Pass && verdict.Rationale == "" && len(verdict.Issues) > 0 {
		verdict.Rationale = verdict.Issues[0]
	}
	return verdict, nil
}

func buildPrompt(objective string, plan domain.Plan, diff string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective:\n%s\n\n", objective)
	if plan.Reasoning != "" {
		fmt.Fprintf(&b, "Plan reasoning:\n%s\n\n", plan.Reasoning)
	}
	if len(plan.Tasks) > 0 {
		b.WriteString("Tasks carried out:\n")
		for i, t := range plan.Tasks {
			fmt.Fprintf(&b, "%d. %s\n", i+1, t)
		}
		b.WriteString("\n")
	}

	b.WriteString("Diff:\n")
	switch {
	case diff == "":
		b.WriteString("(no changes)\n")
	case len(diff) > maxDiffBytes:
		b.WriteString(clip(diff, maxDiffBytes))
		b.WriteString("\n... (diff truncated)\n")
	default:
		b.WriteString(diff)
	}
	return b.String()
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

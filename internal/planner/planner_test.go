package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/policy"
	"github.com/xiaot623/gogo/autopilot/internal/router"
)

const footerPlan = `{"reasoning":"The app needs a footer","thoughts":"Adding footer","plan":{"update":["src/App.tsx"]}}`

func scripted(replies ...llm.Reply) *llm.MockClient {
	return llm.NewScriptedClient(map[llm.Kind][]llm.Reply{llm.KindPlan: replies})
}

func newPolicy(t *testing.T) *policy.Engine {
	t.Helper()
	e, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	return e
}

func TestGenerateAutonomous(t *testing.T) {
	mock := scripted(llm.Reply{Text: "```json\n" + footerPlan + "\n```"})
	g := New(router.Fixed{Provider: mock}, WithPolicy(newPolicy(t)))

	p, err := g.Generate(context.Background(), Input{
		Objective: "add a footer",
		Mode:      domain.RunModeAutonomous,
		Snapshot:  []string{"index.html", "src/App.tsx"},
	})
	require.NoError(t, err)
	assert.False(t, p.RequiresReview)
	assert.Equal(t, []string{"update src/App.tsx"}, p.Tasks)
	assert.Equal(t, "Adding footer", p.Plan.Thoughts)

	calls := mock.CallsOf(llm.KindPlan)
	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSON)
	assert.Contains(t, calls[0].Prompt, "add a footer")
	assert.Contains(t, calls[0].Prompt, "- src/App.tsx")
}

func TestGenerateGodModeRequiresReview(t *testing.T) {
	g := New(router.Fixed{Provider: scripted(llm.Reply{Text: footerPlan})}, WithPolicy(newPolicy(t)))

	p, err := g.Generate(context.Background(), Input{Objective: "add a footer", Mode: domain.RunModeGod})
	require.NoError(t, err)
	assert.True(t, p.RequiresReview)
	assert.Equal(t, policy.DecisionRequireReview, p.Decision.Decision)
}

func TestGenerateEmbedsFailureContextVerbatim(t *testing.T) {
	mock := scripted(llm.Reply{Text: footerPlan})
	g := New(router.Fixed{Provider: mock})

	failure := "Task 1/1 failed: src/App.tsx does not compile\n  at line 12"
	_, err := g.Generate(context.Background(), Input{Objective: "add a footer", FailureContext: failure})
	require.NoError(t, err)
	assert.Contains(t, mock.CallsOf(llm.KindPlan)[0].Prompt, failure)
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply llm.Reply
		opts  []Option
	}{
		{"garbage", llm.Reply{Text: "I cannot do that"}, nil},
		{"overlapping sets", llm.Reply{Text: `{"reasoning":"r","plan":{"create":["a"],"delete":["a"]}}`}, nil},
		{"blocked by policy", llm.Reply{Text: `{"reasoning":"r","plan":{"update":[".git/config"]}}`}, nil},
		{"ignored path", llm.Reply{Text: `{"reasoning":"r","plan":{"update":["node_modules/x/index.js"]}}`}, []Option{WithIgnore([]string{"node_modules/**"})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithPolicy(newPolicy(t))}, tt.opts...)
			g := New(router.Fixed{Provider: scripted(tt.reply)}, opts...)

			_, err := g.Generate(context.Background(), Input{Objective: "x", Mode: domain.RunModeAutonomous})
			var pf *domain.ProviderFailure
			require.ErrorAs(t, err, &pf)
			assert.Equal(t, domain.RoleArchitect, pf.Role)
			assert.ErrorIs(t, err, domain.ErrInvalidPlan)
		})
	}
}

func TestGenerateProviderError(t *testing.T) {
	boom := errors.New("503")
	g := New(router.Fixed{Provider: scripted(llm.Reply{Err: boom})})

	_, err := g.Generate(context.Background(), Input{Objective: "x"})
	var pf *domain.ProviderFailure
	require.ErrorAs(t, err, &pf)
	assert.ErrorIs(t, err, boom)
}

package verifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaot623/gogo/autopilot/internal/adapter/llm"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
	"github.com/xiaot623/gogo/autopilot/internal/router"
)

func TestVerify(t *testing.T) {
	plan := domain.Plan{Reasoning: "add it", Tasks: []string{"create src/Footer.tsx"}}

	t.Run("pass", func(t *testing.T) {
		mock := llm.NewScriptedClient(map[llm.Kind][]llm.Reply{
			llm.KindVerdict: {{Text: `{"pass":true,"rationale":" footer rendered "}`}},
		})
		v, err := New(router.Fixed{Provider: mock}).Verify(context.Background(), "add a footer", plan, "+++ b/src/Footer.tsx\n+<footer/>")
		require.NoError(t, err)
		assert.True(t, v.Pass)
		assert.Equal(t, "footer rendered", v.Rationale)

		calls := mock.CallsOf(llm.KindVerdict)
		require.Len(t, calls, 1)
		assert.Contains(t, calls[0].Prompt, "add a footer")
		assert.Contains(t, calls[0].Prompt, "+<footer/>")
		assert.Contains(t, calls[0].Prompt, "1. create src/Footer.tsx")
	})

	t.Run("fail falls back to first issue", func(t *testing.T) {
		mock := llm.NewScriptedClient(map[llm.Kind][]llm.Reply{
			llm.KindVerdict: {{Text: `{"pass":false,"issues":["footer is not rendered"]}`}},
		})
		v, err := New(router.Fixed{Provider: mock}).Verify(context.Background(), "add a footer", plan, "")
		require.NoError(t, err)
		assert.False(t, v.Pass)
		assert.Equal(t, "footer is not rendered", v.Rationale)
		assert.Contains(t, mock.Calls()[0].Prompt, "(no changes)")
	})

	t.Run("undecodable", func(t *testing.T) {
		mock := llm.NewScriptedClient(map[llm.Kind][]llm.Reply{llm.KindVerdict: {{Text: "looks good!"}}})
		_, err := New(router.Fixed{Provider: mock}).Verify(context.Background(), "x", plan, "")
		var pf *domain.ProviderFailure
		require.ErrorAs(t, err, &pf)
		assert.Equal(t, domain.RoleReviewer, pf.Role)
	})

	t.Run("provider error", func(t *testing.T) {
		mock := llm.NewScriptedClient(map[llm.Kind][]llm.Reply{llm.KindVerdict: {{Err: errors.New("503")}}})
		_, err := New(router.Fixed{Provider: mock}).Verify(context.Background(), "x", plan, "")
		var pf *domain.ProviderFailure
		require.ErrorAs(t, err, &pf)
	})
}

func TestBudget(t *testing.T) {
	b := NewBudget(1)
	assert.Equal(t, 1, b.Attempts())

	n, ok := b.Take()
	assert.True(t, ok)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, b.Attempts())

	_, ok = b.Take()
	assert.False(t, ok)
	assert.Equal(t, 2, b.Attempts())

	_, ok = NewBudget(-3).Take()
	assert.False(t, ok)
}

func TestBuildFailureContext(t *testing.T) {
	c, err := NewCorrector("")
	require.NoError(t, err)

	out, err := c.BuildFailureContext(Failure{
		Attempt:   1,
		Stage:     StageExecution,
		TaskIndex: 1,
		Task:      "render the footer",
		Error:     "Coder provider failed: 503",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Attempt 1 failed during execution.")
	assert.Contains(t, out, "Failed task 2: render the footer")
	assert.Contains(t, out, "Error: Coder provider failed: 503")
	assert.NotContains(t, out, "Reviewer:")

	out, err = c.BuildFailureContext(Failure{
		Attempt:   2,
		Stage:     StageVerification,
		Rationale: "footer missing",
		Issues:    []string{"no <footer> element"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Reviewer: footer missing")
	assert.Contains(t, out, "- no <footer> element")
}

func TestTruncatedDiffKeepsRunesWhole(t *testing.T) {
	// Two-byte runes at odd offsets put every even cut inside a rune.
	diff := "+" + strings.Repeat("é", maxDiffBytes)

	prompt := buildPrompt("x", domain.Plan{}, diff)
	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, "... (diff truncated)")

	c, err := NewCorrector("{{.Diff}}")
	require.NoError(t, err)
	out, err := c.BuildFailureContext(Failure{Diff: diff})
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(out))
	assert.True(t, strings.HasSuffix(out, "... (truncated)"))
	assert.LessOrEqual(t, len(out), maxContextDiff+len("\n... (truncated)"))

	assert.Equal(t, "+é", clip("+éé", 4))
	assert.Equal(t, "abc", clip("abc", 10))
}

func TestCustomCorrectionPrompt(t *testing.T) {
	c, err := NewCorrector("retry #{{.Attempt}}: {{.Error}}")
	require.NoError(t, err)
	out, err := c.BuildFailureContext(Failure{Attempt: 3, Error: "boom"})
	require.NoError(t, err)
	assert.Equal(t, "retry #3: boom", out)

	_, err = NewCorrector("{{.Nope")
	assert.Error(t, err)
}

func TestFailureCause(t *testing.T) {
	assert.Equal(t, "boom", Failure{Error: "boom"}.Cause())
	assert.Equal(t, "verification failed: missing", Failure{Rationale: "missing"}.Cause())
	assert.Equal(t, "planning failed", Failure{Stage: StagePlanning}.Cause())
}

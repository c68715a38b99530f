package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockClientCannedLoop(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()

	var plan struct {
		Reasoning string `json:"reasoning"`
		Plan      struct {
			Create []string `json:"create"`
		} `json:"plan"`
	}
	resp, err := m.Complete(ctx, &CompletionRequest{Kind: KindPlan, Prompt: "add a footer"})
	require.NoError(t, err)
	require.NoError(t, DecodeJSON(resp.Text, &plan))
	assert.NotEmpty(t, plan.Reasoning)
	assert.Equal(t, []string{MockNotesPath}, plan.Plan.Create)

	var verdict struct {
		Pass bool `json:"pass"`
	}
	resp, err = m.Complete(ctx, &CompletionRequest{Kind: KindVerdict})
	require.NoError(t, err)
	require.NoError(t, DecodeJSON(resp.Text, &verdict))
	assert.True(t, verdict.Pass)
	assert.Len(t, m.Calls(), 2)
}

func TestMockClientScriptRepeatsLastReply(t *testing.T) {
	boom := errors.New("boom")
	m := NewScriptedClient(map[Kind][]Reply{
		KindMutations: {{Err: boom}, {Text: `{"mutations":[]}`}},
	})
	ctx := context.Background()

	_, err := m.Complete(ctx, &CompletionRequest{Kind: KindMutations})
	assert.ErrorIs(t, err, boom)

	for i := 0; i < 2; i++ {
		resp, err := m.Complete(ctx, &CompletionRequest{Kind: KindMutations})
		require.NoError(t, err)
		assert.Equal(t, `{"mutations":[]}`, resp.Text)
	}
	assert.Len(t, m.CallsOf(KindMutations), 3)
	assert.Empty(t, m.CallsOf(KindPlan))
}

func TestMockClientHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockClient().Complete(ctx, &CompletionRequest{Kind: KindPlan})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProviderMockMode(t *testing.T) {
	t.Setenv(EnvAutopilotMode, ModeMock)
	p, err := NewProvider(context.Background(), Config{Provider: "openai"})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
}

func TestNewProviderUnknown(t *testing.T) {
	t.Setenv(EnvAutopilotMode, "")
	_, err := NewProvider(context.Background(), Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)

	p, err := NewProvider(context.Background(), Config{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Pass bool `json:"pass"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"pass\": true}\n```", &v))
	assert.True(t, v.Pass)

	v.Pass = false
	require.NoError(t, DecodeJSON("Sure! Here it is: {\"pass\": true} hope that helps", &v))
	assert.True(t, v.Pass)

	assert.Error(t, DecodeJSON("no json here", &v))
	assert.Error(t, DecodeJSON("{broken", &v))
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockNotesPath is the file the canned mock plan creates.
const MockNotesPath = "autopilot/notes.md"

// Reply is one scripted answer. A non-nil Err is returned instead of Text.
type Reply struct {
	Text string
	Err  error
}

// MockClient answers without calling a model. With no script it returns a
// canned plan, mutation set and passing verdict so a whole run completes.
// Scripted replies are consumed in order per Kind; the last one repeats.
type MockClient struct {
	mu     sync.Mutex
	script map[Kind][]Reply
	calls  []CompletionRequest
}

// NewMockClient creates a new mock client with canned answers.
func NewMockClient() *MockClient {
	return &MockClient{script: map[Kind][]Reply{}}
}

// NewScriptedClient creates a mock that replays the given replies.
func NewScriptedClient(script map[Kind][]Reply) *MockClient {
	m := NewMockClient()
	for k, v := range script {
		m.script[k] = append([]Reply(nil), v...)
	}
	return m
}

// Name implements Provider.
func (m *MockClient) Name() string { return "mock" }

// Complete implements Provider.
func (m *MockClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, *req)
	reply, scripted := m.nextLocked(req.Kind)
	m.mu.Unlock()

	if !scripted {
		reply = Reply{Text: cannedAnswer(req)}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}
	return &CompletionResponse{
		Text:  reply.Text,
		Model: model,
		Usage: &Usage{
			PromptTokens:     len(req.Prompt) / 4,
			CompletionTokens: len(reply.Text) / 4,
			TotalTokens:      (len(req.Prompt) + len(reply.Text)) / 4,
		},
	}, nil
}

// Calls returns every request received so far.
func (m *MockClient) Calls() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.calls...)
}

// CallsOf returns the requests of one kind.
func (m *MockClient) CallsOf(kind Kind) []CompletionRequest {
	var out []CompletionRequest
	for _, c := range m.Calls() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockClient) nextLocked(kind Kind) (Reply, bool) {
	queue := m.script[kind]
	switch len(queue) {
	case 0:
		return Reply{}, false
	case 1:
		return queue[0], true
	}
	m.script[kind] = queue[1:]
	return queue[0], true
}

func cannedAnswer(req *CompletionRequest) string {
	var v any
	switch req.Kind {
	case KindPlan:
		v = map[string]any{
			"reasoning": "[MOCK] Record the objective in a notes file.",
			"thoughts":  "[MOCK] A single file is enough to exercise the loop.",
			"plan":      map[string]any{"create": []string{MockNotesPath}},
			"tasks":     []string{"create " + MockNotesPath},
		}
	case KindMutations:
		v = map[string]any{
			"thoughts": "[MOCK] Writing notes.",
			"mutations": []map[string]any{{
				"path":    MockNotesPath,
				"op":      "write",
				"content": fmt.Sprintf("# Notes\n\n%s\n", truncate(req.Prompt, 200)),
			}},
		}
	case KindVerdict:
		v = map[string]any{"pass": true, "rationale": "[MOCK] The change matches the objective."}
	default:
		return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(req.Prompt, 100))
	}
	b, _ := json.Marshal(v)
	return string(b)
}

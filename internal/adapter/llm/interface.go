// Package llm provides the model backends the role router hands out.
//
// Every backend answers one question: given a system prompt and a user
// prompt, return the model's text. Wire formats stay inside this package.
package llm

import (
	"context"
	"errors"
)

// Kind tells a backend which structured output a request expects.
// Real backends ignore it; the mock uses it to pick a canned answer.
type Kind string

const (
	KindPlan      Kind = "plan"
	KindMutations Kind = "mutations"
	KindVerdict   Kind = "verdict"
)

// CompletionRequest is a single prompt sent to a provider.
type CompletionRequest struct {
	Kind        Kind
	System      string
	Prompt      string
	Model       string // overrides the bound model when set
	JSON        bool   // ask the provider for a JSON-only answer
	Temperature *float64
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is a provider's answer.
type CompletionResponse struct {
	Text     string
	Model    string
	Provider string // filled in by the router
	Usage    *Usage
}

// Provider defines the interface every backend implements.
type Provider interface {
	// Name returns the provider id ("openai", "gemini", "ollama", "mock").
	Name() string
	// Complete sends one prompt and waits for the full answer.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("provider returned an empty response")

// Ensure backends implement Provider.
var (
	_ Provider = (*Client)(nil)
	_ Provider = (*GeminiClient)(nil)
	_ Provider = (*OllamaClient)(nil)
	_ Provider = (*MockClient)(nil)
)

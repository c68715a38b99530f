package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// DefaultOllamaBaseURL is the address of a local Ollama server.
const DefaultOllamaBaseURL = "http://localhost:11434"

// OllamaClient is a Provider backed by an Ollama server.
type OllamaClient struct {
	client *api.Client
	model  string
}

// authTransport adds a bearer token for remote Ollama servers behind auth.
type authTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	return t.base.RoundTrip(req)
}

// NewOllamaClient creates an Ollama client. apiKey may be a placeholder for
// local servers; it is only sent when the server is not on localhost.
func NewOllamaClient(baseURL, apiKey, model string, timeout time.Duration) (*OllamaClient, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid BaseURL: %w", err)
	}

	httpClient := &http.Client{Timeout: timeout}
	if apiKey != "" && !isLocalHost(u.Hostname()) {
		httpClient.Transport = &authTransport{base: http.DefaultTransport, apiKey: apiKey}
	}

	return &OllamaClient{
		client: api.NewClient(u, httpClient),
		model:  model,
	}, nil
}

func isLocalHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Name implements Provider.
func (c *OllamaClient) Name() string { return "ollama" }

// Complete implements Provider.
func (c *OllamaClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	chat := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   Ptr(false),
		Options:  map[string]any{},
	}
	if req.JSON {
		chat.Format = json.RawMessage(`"json"`)
	}
	if req.Temperature != nil {
		chat.Options["temperature"] = *req.Temperature
	}

	var (
		text  strings.Builder
		usage Usage
	)
	err := c.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		if resp.Done {
			usage.PromptTokens = resp.PromptEvalCount
			usage.CompletionTokens = resp.EvalCount
			usage.TotalTokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	if text.Len() == 0 {
		return nil, ErrEmptyResponse
	}
	return &CompletionResponse{Text: text.String(), Model: model, Usage: &usage}, nil
}

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientComplete(t *testing.T) {
	var got ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"{\"pass\":true}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk-test", "gpt", time.Second)
	resp, err := client.Complete(context.Background(), &CompletionRequest{
		System: "be terse",
		Prompt: "judge",
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"pass":true}`, resp.Text)
	assert.Equal(t, 3, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "judge", got.Messages[1].Content)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestClientCompleteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "gpt", time.Second)
	_, err := client.Complete(context.Background(), &CompletionRequest{Prompt: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}

func TestClientCompleteEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"c1","model":"gpt","choices":[]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", "gpt", time.Second)
	_, err := client.Complete(context.Background(), &CompletionRequest{Prompt: "hello"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

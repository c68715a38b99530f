package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xiaot623/gogo/autopilot/internal/logging"
)

const (
	// EnvAutopilotMode is the environment variable name for mode selection.
	EnvAutopilotMode = "AUTOPILOT_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// Config selects and configures a backend.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// Providers lists the backend ids NewProvider accepts.
var Providers = []string{"openai", "gemini", "ollama", "mock"}

// NewProvider creates a backend from cfg. If AUTOPILOT_MODE=MOCK every
// provider id resolves to the mock client.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	if os.Getenv(EnvAutopilotMode) == ModeMock {
		logging.Debug("mock mode detected, using mock provider", "provider", cfg.Provider)
		return NewMockClient(), nil
	}

	switch cfg.Provider {
	case "openai":
		return NewClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case "ollama":
		return NewOllamaClient(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
	case "mock":
		return NewMockClient(), nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

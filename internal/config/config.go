// Package config provides configuration for the orchestrator.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MemoryProjects selects an in-memory project tree instead of a directory.
const MemoryProjects = ":memory:"

// Config holds the orchestrator configuration.
type Config struct {
	// Server settings
	HTTPPort int `mapstructure:"http_port"`

	// Storage
	DatabaseURL   string `mapstructure:"database_url"`
	ProjectsRoot  string `mapstructure:"projects_root"`
	WatchProjects bool   `mapstructure:"watch_projects"`

	// Logging
	LogLevel string `mapstructure:"log_level"`

	// Orchestration
	MaxRetries           int    `mapstructure:"max_retries"`
	SelfCorrectionPrompt string `mapstructure:"self_correction_prompt"`
	RolesFile            string `mapstructure:"roles_file"`

	// Providers
	ProviderTimeoutMS int    `mapstructure:"provider_timeout_ms"`
	OpenAIBaseURL     string `mapstructure:"openai_base_url"`
	OllamaBaseURL     string `mapstructure:"ollama_base_url"`

	// Preview websocket
	WSReadTimeoutMS  int   `mapstructure:"ws_read_timeout_ms"`
	WSWriteTimeoutMS int   `mapstructure:"ws_write_timeout_ms"`
	WSPingIntervalMS int   `mapstructure:"ws_ping_interval_ms"`
	WSMaxMessageSize int64 `mapstructure:"ws_max_message_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPPort:          8080,
		DatabaseURL:       "file:autopilot.db?cache=shared&mode=rwc",
		ProjectsRoot:      "projects",
		WatchProjects:     true,
		LogLevel:          "info",
		MaxRetries:        2,
		ProviderTimeoutMS: 120000,
		WSReadTimeoutMS:   60000,
		WSWriteTimeoutMS:  10000,
		WSPingIntervalMS:  30000,
		WSMaxMessageSize:  4096,
	}
}

// SetDefaults registers the defaults on v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("http_port", d.HTTPPort)
	v.SetDefault("database_url", d.DatabaseURL)
	v.SetDefault("projects_root", d.ProjectsRoot)
	v.SetDefault("watch_projects", d.WatchProjects)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("self_correction_prompt", d.SelfCorrectionPrompt)
	v.SetDefault("roles_file", d.RolesFile)
	v.SetDefault("provider_timeout_ms", d.ProviderTimeoutMS)
	v.SetDefault("openai_base_url", d.OpenAIBaseURL)
	v.SetDefault("ollama_base_url", d.OllamaBaseURL)
	v.SetDefault("ws_read_timeout_ms", d.WSReadTimeoutMS)
	v.SetDefault("ws_write_timeout_ms", d.WSWriteTimeoutMS)
	v.SetDefault("ws_ping_interval_ms", d.WSPingIntervalMS)
	v.SetDefault("ws_max_message_size", d.WSMaxMessageSize)
}

// New returns a viper instance reading environment variables (HTTP_PORT,
// DATABASE_URL, ...) and, when file is set or autopilot.yaml exists in the
// working directory, a config file.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("autopilot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Load reads the configuration into a Config and validates it.
func Load(file string) (*Config, error) {
	v, err := New(file)
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper decodes a prepared viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("http_port must be between 1 and 65535, got %d", c.HTTPPort))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries))
	}
	if c.ProviderTimeoutMS <= 0 {
		errs = append(errs, fmt.Errorf("provider_timeout_ms must be positive, got %d", c.ProviderTimeoutMS))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("database_url is required"))
	}
	return errors.Join(errs...)
}

// ProviderTimeout is the per-call provider timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}

// WSReadTimeout is the preview websocket read timeout.
func (c *Config) WSReadTimeout() time.Duration {
	return time.Duration(c.WSReadTimeoutMS) * time.Millisecond
}

// WSWriteTimeout is the preview websocket write timeout.
func (c *Config) WSWriteTimeout() time.Duration {
	return time.Duration(c.WSWriteTimeoutMS) * time.Millisecond
}

// WSPingInterval is the preview websocket ping interval.
func (c *Config) WSPingInterval() time.Duration {
	return time.Duration(c.WSPingIntervalMS) * time.Millisecond
}

// InMemoryProjects reports whether project trees live in memory.
func (c *Config) InMemoryProjects() bool {
	return c.ProjectsRoot == MemoryProjects
}

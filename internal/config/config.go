// Package config loads and validates the runtime configuration from
// YAML, with environment variable expansion and hard startup errors
// for values the runtime cannot safely guess.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexus3/nexus3/internal/mcp"
)

// Config is the root configuration document.
type Config struct {
	Server   ServerConfig       `yaml:"server"`
	Provider ProviderConfig     `yaml:"provider"`
	Context  ContextConfig      `yaml:"context"`
	Session  SessionConfig      `yaml:"session"`
	Storage  StorageConfig      `yaml:"storage"`
	Logging  LoggingConfig      `yaml:"logging"`
	MCP      []mcp.ServerConfig `yaml:"mcp_servers"`
}

// ServerConfig configures the JSON-RPC transport.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ProviderConfig configures the shared LLM client.
type ProviderConfig struct {
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	// CompactorModel optionally names a cheaper model for summaries.
	CompactorModel string        `yaml:"compactor_model"`
	MaxRetries     int           `yaml:"max_retries"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ContextConfig configures the per-agent context window manager.
type ContextConfig struct {
	MaxTokens           int     `yaml:"max_tokens"`
	ReserveTokens       int     `yaml:"reserve_tokens"`
	TriggerRatio        float64 `yaml:"trigger_ratio"`
	SummaryBudgetRatio  float64 `yaml:"summary_budget_ratio"`
	RecentPreserveRatio float64 `yaml:"recent_preserve_ratio"`
	Strategy            string  `yaml:"strategy"`
}

// SessionConfig configures the turn engine.
type SessionConfig struct {
	MaxIterations      int           `yaml:"max_iterations"`
	MaxConcurrentTools int           `yaml:"max_concurrent_tools"`
	CancelGrace        time.Duration `yaml:"cancel_grace"`
	CallTimeout        time.Duration `yaml:"call_timeout"`
}

// StorageConfig configures persistence. An empty DataDir disables the
// durable store entirely (in-memory only).
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 4100},
		Provider: ProviderConfig{
			APIKeyEnv:      "OPENAI_API_KEY",
			Model:          "gpt-4o",
			MaxRetries:     3,
			RequestTimeout: 120 * time.Second,
		},
		Context: ContextConfig{
			MaxTokens:           128000,
			ReserveTokens:       8000,
			TriggerRatio:        0.85,
			SummaryBudgetRatio:  0.2,
			RecentPreserveRatio: 0.25,
			Strategy:            "oldest_first",
		},
		Session: SessionConfig{
			MaxIterations:      10,
			MaxConcurrentTools: 10,
			CancelGrace:        250 * time.Millisecond,
			CallTimeout:        5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns defaults
// unchanged. Environment references in the file are expanded before
// parsing, so values like ${HOME}/nexus3 work.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime must not start with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Context.MaxTokens <= 0 {
		return fmt.Errorf("context.max_tokens must be positive")
	}
	if c.Context.ReserveTokens <= 0 || c.Context.ReserveTokens >= c.Context.MaxTokens {
		return fmt.Errorf("context.reserve_tokens must be in (0, max_tokens)")
	}
	for name, ratio := range map[string]float64{
		"context.trigger_ratio":         c.Context.TriggerRatio,
		"context.summary_budget_ratio":  c.Context.SummaryBudgetRatio,
		"context.recent_preserve_ratio": c.Context.RecentPreserveRatio,
	} {
		if ratio <= 0 || ratio >= 1 {
			return fmt.Errorf("%s must be in (0, 1), got %v", name, ratio)
		}
	}
	switch c.Context.Strategy {
	case "oldest_first", "middle_out":
	default:
		return fmt.Errorf("unknown truncation strategy %q", c.Context.Strategy)
	}
	if c.Session.MaxIterations <= 0 {
		return fmt.Errorf("session.max_iterations must be positive")
	}
	if c.Session.MaxConcurrentTools <= 0 {
		return fmt.Errorf("session.max_concurrent_tools must be positive")
	}
	for i := range c.MCP {
		if err := c.MCP[i].Validate(); err != nil {
			return fmt.Errorf("mcp_servers[%d]: %w", i, err)
		}
	}
	return nil
}

// APIKey resolves the provider key from the configured variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.Provider.APIKeyEnv)
}

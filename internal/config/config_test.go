package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nexus3/nexus3/internal/mcp"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 4100 {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Context.Strategy != "oldest_first" {
		t.Errorf("strategy = %q", cfg.Context.Strategy)
	}
	if cfg.Session.CancelGrace != 250*time.Millisecond {
		t.Errorf("cancel_grace = %v", cfg.Session.CancelGrace)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
provider:
  model: gpt-4o-mini
context:
  strategy: middle_out
mcp_servers:
  - name: files
    command: mcp-files
    consent: per_tool
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Provider.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Provider.Model)
	}
	if cfg.Context.Strategy != "middle_out" {
		t.Errorf("strategy = %q", cfg.Context.Strategy)
	}
	// Untouched sections keep their defaults.
	if cfg.Context.MaxTokens != 128000 {
		t.Errorf("max_tokens = %d, want default", cfg.Context.MaxTokens)
	}
	if len(cfg.MCP) != 1 || cfg.MCP[0].Name != "files" {
		t.Errorf("mcp_servers = %+v", cfg.MCP)
	}
}

func TestLoadParsesDisabledMCPServer(t *testing.T) {
	path := writeConfig(t, `
mcp_servers:
  - name: files
    command: mcp-files
    enabled: false
  - name: web
    url: http://localhost:3000
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.MCP) != 2 {
		t.Fatalf("mcp_servers = %+v", cfg.MCP)
	}
	if cfg.MCP[0].IsEnabled() {
		t.Error("enabled: false not honored")
	}
	if !cfg.MCP[1].IsEnabled() {
		t.Error("absent enabled flag must default to enabled")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("NEXUS3_TEST_DIR", "/srv/nexus3")
	path := writeConfig(t, `
storage:
  data_dir: ${NEXUS3_TEST_DIR}/data
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.DataDir != "/srv/nexus3/data" {
		t.Errorf("data_dir = %q", cfg.Storage.DataDir)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad strategy", func(c *Config) { c.Context.Strategy = "newest_first" }, "truncation strategy"},
		{"trigger ratio too high", func(c *Config) { c.Context.TriggerRatio = 1.5 }, "trigger_ratio"},
		{"zero reserve", func(c *Config) { c.Context.ReserveTokens = 0 }, "reserve_tokens"},
		{"reserve exceeds max", func(c *Config) { c.Context.ReserveTokens = 200000 }, "reserve_tokens"},
		{"zero iterations", func(c *Config) { c.Session.MaxIterations = 0 }, "max_iterations"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"mcp both transports", func(c *Config) {
			c.MCP = append(c.MCP, mcp.ServerConfig{Name: "bad", Command: "x", URL: "http://localhost"})
		}, "mcp_servers[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted bad config")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv("NEXUS3_TEST_KEY", "sk-test")
	cfg := Default()
	cfg.Provider.APIKeyEnv = "NEXUS3_TEST_KEY"
	if got := cfg.APIKey(); got != "sk-test" {
		t.Errorf("APIKey = %q", got)
	}
}

package observability

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Error("info record passed a warn-level logger")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn record missing")
	}
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		secret string
	}{
		{"bearer token", "Authorization: Bearer abc123def456", "abc123def456"},
		{"openai key", "key sk-abcdefghijklmnop set", "sk-abcdefghijklmnop"},
		{"api key assignment", "api_key=supersecretvalue", "supersecretvalue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: "info", Output: &buf})
			logger.Info("event", "detail", tt.value)

			if strings.Contains(buf.String(), tt.secret) {
				t.Errorf("secret %q leaked into log output: %s", tt.secret, buf.String())
			}
			if !strings.Contains(buf.String(), "[REDACTED]") {
				t.Errorf("expected redaction marker in %s", buf.String())
			}
		})
	}
}

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})
	logger.Info("hello", "k", "v")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if record["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", record["msg"])
	}
}

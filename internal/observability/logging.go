// Package observability provides structured logging and Prometheus
// metrics for the runtime.
package observability

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// LogConfig configures logger construction.
type LogConfig struct {
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string

	// Format is "json" or "text". JSON for servers, text for the CLI.
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// Secrets that must never reach the log stream. Bearer tokens and API
// keys are the main hazard; both appear in RPC and provider plumbing.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{8,}`),
	regexp.MustCompile(`(?i)(api[_-]?key["'=:\s]+)[A-Za-z0-9._\-]+`),
}

// NewLogger builds an slog.Logger with level filtering and secret
// redaction on string attribute values.
func NewLogger(cfg LogConfig) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindString {
		return a
	}
	v := a.Value.String()
	for _, re := range redactPatterns {
		if re.MatchString(v) {
			v = re.ReplaceAllString(v, "${1}[REDACTED]")
		}
	}
	a.Value = slog.StringValue(v)
	return a
}

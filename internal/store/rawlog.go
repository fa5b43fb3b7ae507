package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RawLog records raw provider traffic as JSONL, one file per agent.
// It implements provider.RawRecorder; Record never blocks on anything
// but the file write and never fails the caller.
type RawLog struct {
	agentID string
	logger  *slog.Logger

	mu sync.Mutex
	f  *os.File
}

type rawEntry struct {
	At      time.Time       `json:"at"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewRawLog opens (appending) the agent's raw log file under dir.
func NewRawLog(dir, agentID string, logger *slog.Logger) (*RawLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw log dir: %w", err)
	}
	path := filepath.Join(dir, agentID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open raw log: %w", err)
	}
	return &RawLog{agentID: agentID, logger: logger, f: f}, nil
}

// Record appends one event line. Marshal or write failures are logged
// and swallowed so raw logging never disturbs the provider path.
func (l *RawLog) Record(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		l.logger.Warn("raw log marshal failed", "agent_id", l.agentID, "event", event, "error", err)
		raw = []byte("null")
	}
	line, err := json.Marshal(rawEntry{At: time.Now().UTC(), Event: event, Payload: raw})
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("raw log write failed", "agent_id", l.agentID, "error", err)
	}
}

// Close closes the underlying file. Later Records become no-ops.
func (l *RawLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

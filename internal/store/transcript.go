package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nexus3/nexus3/pkg/models"
)

// TranscriptWriter appends human-readable markdown transcripts, one
// file per agent, under a base directory. Best-effort: write failures
// are returned but callers typically only log them.
type TranscriptWriter struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewTranscriptWriter creates the base directory if needed.
func NewTranscriptWriter(dir string) (*TranscriptWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	return &TranscriptWriter{dir: dir, files: make(map[string]*os.File)}, nil
}

// Append renders one message to the agent's transcript file.
func (w *TranscriptWriter) Append(agentID string, msg models.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.fileLocked(agentID)
	if err != nil {
		return err
	}
	_, err = f.WriteString(renderMessage(msg))
	return err
}

func (w *TranscriptWriter) fileLocked(agentID string) (*os.File, error) {
	if f, ok := w.files[agentID]; ok {
		return f, nil
	}
	path := filepath.Join(w.dir, agentID+".md")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		fmt.Fprintf(f, "# Transcript: %s\n\n", agentID)
	}
	w.files[agentID] = f
	return f, nil
}

// renderMessage produces one markdown section per message. Invalid
// UTF-8 from tool output is replaced so the file stays valid text.
func renderMessage(msg models.Message) string {
	var b strings.Builder
	stamp := msg.CreatedAt.UTC().Format(time.RFC3339)
	fmt.Fprintf(&b, "## %s (%s)\n\n", msg.Role, stamp)
	if msg.Content != "" {
		b.WriteString(strings.ToValidUTF8(msg.Content, "�"))
		b.WriteString("\n\n")
	}
	for _, tc := range msg.ToolCalls {
		fmt.Fprintf(&b, "- tool call `%s` (%s): `%s`\n",
			tc.Name, tc.ID, strings.ToValidUTF8(string(tc.Arguments), "�"))
	}
	if len(msg.ToolCalls) > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// Close closes all open transcript files.
func (w *TranscriptWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for id, f := range w.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.files, id)
	}
	return firstErr
}

package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nexus3/nexus3/internal/contextmgr"
	"github.com/nexus3/nexus3/pkg/models"
)

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus3.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	msgs := []models.Message{
		{ID: "m1", Role: models.RoleUser, Content: "hello", CreatedAt: time.Now()},
		{
			ID: "m2", Role: models.RoleAssistant, Content: "on it",
			ToolCalls: []models.ToolCall{
				{ID: "t1", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)},
			},
			CreatedAt: time.Now(),
		},
		{ID: "m3", Role: models.RoleTool, Content: "hi", ToolCallID: "t1", CreatedAt: time.Now()},
	}
	for _, m := range msgs {
		if err := s.AppendMessage("agent-a", m); err != nil {
			t.Fatalf("AppendMessage(%s): %v", m.ID, err)
		}
	}
	if err := s.AppendMessage("agent-b", models.Message{ID: "x1", Role: models.RoleUser, Content: "other"}); err != nil {
		t.Fatalf("AppendMessage other agent: %v", err)
	}

	got, err := s.Messages("agent-a")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	for i, m := range got {
		if m.ID != msgs[i].ID {
			t.Errorf("message %d id = %q, want %q", i, m.ID, msgs[i].ID)
		}
	}
	if got[1].ToolCalls[0].Name != "echo" {
		t.Errorf("tool call name = %q, want echo", got[1].ToolCalls[0].Name)
	}
	if string(got[1].ToolCalls[0].Arguments) != `{"text":"hi"}` {
		t.Errorf("tool call args = %s", got[1].ToolCalls[0].Arguments)
	}
	if got[2].ToolCallID != "t1" {
		t.Errorf("tool_call_id = %q, want t1", got[2].ToolCallID)
	}
}

func TestSQLiteStoreRecordCompaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus3.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	rec := contextmgr.CompactionRecord{
		At:          time.Now(),
		ReplacedIDs: []string{"m1", "m2"},
		SummaryID:   "s1",
	}
	if err := s.RecordCompaction("agent-a", rec); err != nil {
		t.Fatalf("RecordCompaction: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM compactions WHERE agent_id = ?`, "agent-a").Scan(&count); err != nil {
		t.Fatalf("count compactions: %v", err)
	}
	if count != 1 {
		t.Fatalf("compaction rows = %d, want 1", count)
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus3.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.AppendMessage("a", models.Message{ID: "m1", Role: models.RoleUser, Content: "persists"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	got, err := s2.Messages("a")
	if err != nil {
		t.Fatalf("Messages after reopen: %v", err)
	}
	if len(got) != 1 || got[0].Content != "persists" {
		t.Fatalf("got %+v, want the persisted message", got)
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemoryStore()
	if err := s.AppendMessage("a", models.Message{ID: "m1", Role: models.RoleUser}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got, err := s.Messages("b")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("agent b sees %d messages, want 0", len(got))
	}

	got, _ = s.Messages("a")
	got[0].Content = "mutated"
	again, _ := s.Messages("a")
	if again[0].Content == "mutated" {
		t.Fatal("Messages returned a shared slice")
	}
}

func TestTranscriptWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewTranscriptWriter(dir)
	if err != nil {
		t.Fatalf("NewTranscriptWriter: %v", err)
	}
	defer w.Close()

	if err := w.Append("agent-a", models.Message{
		Role: models.RoleUser, Content: "hello", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := w.Append("agent-a", models.Message{
		Role:    models.RoleAssistant,
		Content: "bad bytes: \xff\xfe end",
		ToolCalls: []models.ToolCall{
			{ID: "t1", Name: "echo", Arguments: json.RawMessage(`{}`)},
		},
		CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "agent-a.md"))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	text := string(raw)
	if !strings.HasPrefix(text, "# Transcript: agent-a") {
		t.Errorf("missing header:\n%s", text)
	}
	if !strings.Contains(text, "## user") || !strings.Contains(text, "## assistant") {
		t.Errorf("missing role sections:\n%s", text)
	}
	if strings.Contains(text, "\xff") {
		t.Error("invalid UTF-8 not replaced")
	}
	if !strings.Contains(text, "tool call `echo`") {
		t.Errorf("tool call not rendered:\n%s", text)
	}
}

func TestRawLogWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	l, err := NewRawLog(dir, "agent-a", nil)
	if err != nil {
		t.Fatalf("NewRawLog: %v", err)
	}

	l.Record("request", map[string]any{"model": "gpt-4o"})
	l.Record("chunk", map[string]any{"delta": "hi"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// No-op after close.
	l.Record("request", map[string]any{"model": "late"})

	f, err := os.Open(filepath.Join(dir, "agent-a.jsonl"))
	if err != nil {
		t.Fatalf("open raw log: %v", err)
	}
	defer f.Close()

	var events []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry struct {
			Event   string          `json:"event"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line not valid JSON: %v: %s", err, scanner.Text())
		}
		events = append(events, entry.Event)
	}
	if len(events) != 2 || events[0] != "request" || events[1] != "chunk" {
		t.Fatalf("events = %v, want [request chunk]", events)
	}
}

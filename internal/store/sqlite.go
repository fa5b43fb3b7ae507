package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nexus3/nexus3/internal/contextmgr"
	"github.com/nexus3/nexus3/pkg/models"
)

// SQLiteStore persists logs in a single SQLite database file. The
// driver is pure Go, so the binary stays cgo-free.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id     TEXT NOT NULL,
	id           TEXT NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	tool_calls   TEXT,
	tool_call_id TEXT,
	created_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_agent ON messages(agent_id, seq);

CREATE TABLE IF NOT EXISTS compactions (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id     TEXT NOT NULL,
	at           TEXT NOT NULL,
	summary_id   TEXT NOT NULL,
	replaced_ids TEXT NOT NULL
);
`

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One writer at a time keeps the append-only log simple.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AppendMessage(agentID string, msg models.Message) error {
	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		raw, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCalls = string(raw)
	}
	_, err := s.db.Exec(
		`INSERT INTO messages (agent_id, id, role, content, tool_calls, tool_call_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		agentID, msg.ID, string(msg.Role), msg.Content, toolCalls, msg.ToolCallID,
		msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecordCompaction(agentID string, rec contextmgr.CompactionRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO compactions (agent_id, at, summary_id, replaced_ids) VALUES (?, ?, ?, ?)`,
		agentID, rec.At.UTC().Format(time.RFC3339Nano), rec.SummaryID,
		strings.Join(rec.ReplacedIDs, ","),
	)
	if err != nil {
		return fmt.Errorf("record compaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Messages(agentID string) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, role, content, tool_calls, tool_call_id, created_at
		 FROM messages WHERE agent_id = ? ORDER BY seq`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var msg models.Message
		var role, createdAt string
		var toolCalls, toolCallID sql.NullString
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls, &toolCallID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.ToolCallID = toolCallID.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			msg.CreatedAt = ts
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

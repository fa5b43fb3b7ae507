// Package store persists agent transcripts: the append-only message
// log with compaction audit records, plus human-readable markdown
// transcripts and raw provider JSONL logs.
package store

import (
	"github.com/nexus3/nexus3/internal/contextmgr"
	"github.com/nexus3/nexus3/pkg/models"
)

// Store is the append-only persistence surface. It doubles as the
// context manager's audit log.
type Store interface {
	// AppendMessage durably records one message. Append-only: existing
	// rows are never updated or deleted.
	AppendMessage(agentID string, msg models.Message) error

	// RecordCompaction records which message ids a compaction replaced
	// and the id of the summary that replaced them.
	RecordCompaction(agentID string, rec contextmgr.CompactionRecord) error

	// Messages returns an agent's full log in append order.
	Messages(agentID string) ([]models.Message, error)

	Close() error
}

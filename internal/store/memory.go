package store

import (
	"sync"

	"github.com/nexus3/nexus3/internal/contextmgr"
	"github.com/nexus3/nexus3/pkg/models"
)

// MemoryStore keeps logs in process memory. Used for tests and for
// running without a data directory.
type MemoryStore struct {
	mu          sync.Mutex
	messages    map[string][]models.Message
	compactions map[string][]contextmgr.CompactionRecord
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:    make(map[string][]models.Message),
		compactions: make(map[string][]contextmgr.CompactionRecord),
	}
}

func (s *MemoryStore) AppendMessage(agentID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[agentID] = append(s.messages[agentID], msg)
	return nil
}

func (s *MemoryStore) RecordCompaction(agentID string, rec contextmgr.CompactionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactions[agentID] = append(s.compactions[agentID], rec)
	return nil
}

func (s *MemoryStore) Messages(agentID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Message, len(s.messages[agentID]))
	copy(out, s.messages[agentID])
	return out, nil
}

// Compactions returns an agent's compaction audit trail.
func (s *MemoryStore) Compactions(agentID string) []contextmgr.CompactionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contextmgr.CompactionRecord, len(s.compactions[agentID]))
	copy(out, s.compactions[agentID])
	return out
}

func (s *MemoryStore) Close() error { return nil }

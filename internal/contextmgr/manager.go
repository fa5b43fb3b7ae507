// Package contextmgr maintains each agent's conversation context: an
// append-only message log, budgeted materialization for provider
// requests, group-preserving truncation, and LLM-backed compaction.
package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nexus3/nexus3/internal/tokens"
	"github.com/nexus3/nexus3/internal/tools"
	"github.com/nexus3/nexus3/pkg/models"
)

// Config bounds one agent's context window.
type Config struct {
	MaxTokens           int
	ReserveTokens       int
	TriggerRatio        float64
	SummaryBudgetRatio  float64
	RecentPreserveRatio float64
	Strategy            string

	// CompactorModel optionally names a cheaper model for summaries.
	CompactorModel string
}

// Validate rejects configurations that cannot produce a usable window.
func (c Config) Validate() error {
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.ReserveTokens <= 0 || c.ReserveTokens >= c.MaxTokens {
		return fmt.Errorf("reserve_tokens must satisfy 0 < reserve < max, got %d", c.ReserveTokens)
	}
	for name, ratio := range map[string]float64{
		"trigger_ratio":         c.TriggerRatio,
		"summary_budget_ratio":  c.SummaryBudgetRatio,
		"recent_preserve_ratio": c.RecentPreserveRatio,
	} {
		if ratio <= 0 || ratio >= 1 {
			return fmt.Errorf("%s must be in (0, 1), got %g", name, ratio)
		}
	}
	switch c.Strategy {
	case StrategyOldestFirst, StrategyMiddleOut:
	default:
		return fmt.Errorf("unknown truncation strategy %q", c.Strategy)
	}
	return nil
}

// DefaultConfig returns the stock context configuration.
func DefaultConfig() Config {
	return Config{
		MaxTokens:           128000,
		ReserveTokens:       8000,
		TriggerRatio:        0.85,
		SummaryBudgetRatio:  0.2,
		RecentPreserveRatio: 0.25,
		Strategy:            StrategyOldestFirst,
	}
}

// AuditLog receives every appended message and every compaction for
// durable, append-only persistence.
type AuditLog interface {
	AppendMessage(agentID string, msg models.Message) error
	RecordCompaction(agentID string, rec CompactionRecord) error
}

// Report is the token breakdown returned by get_tokens.
type Report struct {
	System   int `json:"system"`
	Tools    int `json:"tools"`
	Messages int `json:"messages"`
	Total    int `json:"total"`
}

// Manager owns one agent's context. The session turn is the single
// writer; dispatcher reads take the lock and copy.
type Manager struct {
	agentID string
	cfg     Config
	counter tokens.Counter
	audit   AuditLog
	logger  *slog.Logger

	mu       sync.RWMutex
	messages []models.Message
	records  []CompactionRecord
}

// NewManager validates cfg and builds a manager. audit may be nil.
func NewManager(agentID string, cfg Config, counter tokens.Counter, audit AuditLog, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agentID: agentID,
		cfg:     cfg,
		counter: counter,
		audit:   audit,
		logger:  logger.With("agent_id", agentID),
	}, nil
}

// Append adds a message to the log.
func (m *Manager) Append(msg models.Message) {
	m.mu.Lock()
	m.messages = append(m.messages, msg)
	m.mu.Unlock()

	if m.audit != nil {
		if err := m.audit.AppendMessage(m.agentID, msg); err != nil {
			m.logger.Warn("audit append failed", "error", err)
		}
	}
}

// Messages returns a snapshot copy of the log.
func (m *Manager) Messages() []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// MessageCount returns the current log length.
func (m *Manager) MessageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

// Compactions returns the audit records of past compactions.
func (m *Manager) Compactions() []CompactionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CompactionRecord, len(m.records))
	copy(out, m.records)
	return out
}

// TokenReport breaks down the current estimated token usage.
func (m *Manager) TokenReport(systemPrompt string, defs []tools.Definition) Report {
	m.mu.RLock()
	msgTokens := m.counter.CountMessages(m.messages)
	m.mu.RUnlock()

	r := Report{
		System:   m.counter.Count(systemPrompt),
		Tools:    countDefinitions(m.counter, defs),
		Messages: msgTokens,
	}
	r.Total = r.System + r.Tools + r.Messages
	return r
}

// available computes the message budget for the given fixed overheads.
func (m *Manager) available(systemTokens, toolTokens int) int {
	return m.cfg.MaxTokens - m.cfg.ReserveTokens - systemTokens - toolTokens
}

// Materialize produces the message window for the next provider call.
// If usage exceeds the compaction trigger and a summarizer is present,
// compaction runs first; its failure falls back to plain truncation.
func (m *Manager) Materialize(ctx context.Context, systemPrompt string, defs []tools.Definition, summarizer Summarizer) ([]models.Message, error) {
	available := m.available(m.counter.Count(systemPrompt), countDefinitions(m.counter, defs))
	if available <= 0 {
		return nil, fmt.Errorf("context budget exhausted by system prompt and tool definitions")
	}

	snapshot := m.Messages()
	groups := splitGroups(snapshot)

	used := m.counter.CountMessages(flatten(groups))
	if summarizer != nil && float64(used) > m.cfg.TriggerRatio*float64(available) {
		m.compact(ctx, groups, available, summarizer)
		groups = splitGroups(m.Messages())
	}

	recentPreserve := int(m.cfg.RecentPreserveRatio * float64(available))
	kept, err := truncate(m.cfg.Strategy, m.counter, groups, available, recentPreserve)
	if err != nil {
		return nil, err
	}
	return flatten(kept), nil
}

// compact replaces the old prefix of the log with a summary message.
// The replacement is atomic with respect to concurrent readers and is
// skipped entirely when the log changed underneath (single-writer turns
// make that impossible in practice, but the check is cheap).
func (m *Manager) compact(ctx context.Context, groups []group, available int, summarizer Summarizer) {
	recentPreserve := int(m.cfg.RecentPreserveRatio * float64(available))
	prefix, tail := splitForCompaction(m.counter, groups, recentPreserve)
	if len(prefix) == 0 {
		return
	}

	summaryBudget := int(m.cfg.SummaryBudgetRatio * float64(available))
	summary, record, err := compactPrefix(ctx, summarizer, m.cfg.CompactorModel, m.counter, prefix, summaryBudget)
	if err != nil {
		m.logger.Warn("compaction failed, keeping original prefix", "error", err)
		return
	}

	rebuilt := make([]models.Message, 0, 1+len(flatten(tail)))
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, flatten(tail)...)

	m.mu.Lock()
	m.messages = rebuilt
	m.records = append(m.records, record)
	m.mu.Unlock()

	m.logger.Info("context compacted",
		"replaced", len(record.ReplacedIDs), "summary_id", record.SummaryID)

	if m.audit != nil {
		if err := m.audit.RecordCompaction(m.agentID, record); err != nil {
			m.logger.Warn("audit compaction record failed", "error", err)
		}
		if err := m.audit.AppendMessage(m.agentID, summary); err != nil {
			m.logger.Warn("audit append failed", "error", err)
		}
	}
}

// ForceCompact runs a compaction regardless of the trigger ratio.
// Used by the explicit compact operation.
func (m *Manager) ForceCompact(ctx context.Context, systemPrompt string, defs []tools.Definition, summarizer Summarizer) error {
	available := m.available(m.counter.Count(systemPrompt), countDefinitions(m.counter, defs))
	if available <= 0 {
		return fmt.Errorf("context budget exhausted by system prompt and tool definitions")
	}
	before := len(m.Compactions())
	m.compact(ctx, splitGroups(m.Messages()), available, summarizer)
	if len(m.Compactions()) == before {
		return fmt.Errorf("compaction did not run (nothing to compact or summarizer failed)")
	}
	return nil
}

func countDefinitions(c tokens.Counter, defs []tools.Definition) int {
	total := 0
	for _, d := range defs {
		total += c.Count(d.Name) + c.Count(d.Description) + c.Count(string(d.Parameters))
	}
	return total
}

package contextmgr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nexus3/nexus3/internal/tokens"
	"github.com/nexus3/nexus3/pkg/models"
)

// Summarizer produces a prose summary of a serialized transcript.
// Satisfied by the provider client. An empty model selects the
// provider's default.
type Summarizer interface {
	Summarize(ctx context.Context, model, system, transcript string) (string, error)
}

// CompactionRecord is the audit entry for one compaction: which
// messages were replaced and by what.
type CompactionRecord struct {
	At          time.Time
	ReplacedIDs []string
	SummaryID   string
}

const summarizerSystemPrompt = `You compress conversation history for an AI agent. ` +
	`Produce a concise prose summary of the transcript you are given. ` +
	`The summary must enumerate: (a) long-lived facts the user supplied, ` +
	`(b) decisions made, and (c) outstanding work. ` +
	`Omit pleasantries and tool mechanics. Output only the summary.`

// summaryPrefix stamps the synthetic message so later turns (and
// humans reading transcripts) can tell it apart from real user input.
func summaryPrefix(at time.Time) string {
	return fmt.Sprintf("[CONTEXT SUMMARY — Generated %s]", at.UTC().Format(time.RFC3339))
}

// serializeTranscript renders the prefix groups for the summarizer.
func serializeTranscript(groups []group) string {
	var b strings.Builder
	for _, g := range groups {
		for _, m := range g.messages {
			b.WriteString(string(m.Role))
			b.WriteString(": ")
			b.WriteString(m.Content)
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "\n  [called %s(%s)]", tc.Name, tc.Arguments)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// compactPrefix summarizes prefix into a single synthetic user message
// within summaryBudget tokens. The caller replaces the prefix with the
// returned message under its own lock.
func compactPrefix(ctx context.Context, summarizer Summarizer, model string, c tokens.Counter, prefix []group, summaryBudget int) (models.Message, CompactionRecord, error) {
	transcript := serializeTranscript(prefix)
	summary, err := summarizer.Summarize(ctx, model, summarizerSystemPrompt, transcript)
	if err != nil {
		return models.Message{}, CompactionRecord{}, fmt.Errorf("summarizer: %w", err)
	}

	if got := c.Count(summary); got > summaryBudget {
		return models.Message{}, CompactionRecord{}, fmt.Errorf("summary over budget: %d tokens > %d", got, summaryBudget)
	}

	now := time.Now()
	msg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   summaryPrefix(now) + "\n\n" + summary,
		CreatedAt: now,
	}
	record := CompactionRecord{
		At:        now,
		SummaryID: msg.ID,
	}
	for _, g := range prefix {
		record.ReplacedIDs = append(record.ReplacedIDs, g.ids()...)
	}
	return msg, record, nil
}

// splitForCompaction divides groups into the old prefix and the recent
// tail, where the tail spans at least recentPreserve tokens. A prefix
// of zero groups means there is nothing to compact.
func splitForCompaction(c tokens.Counter, groups []group, recentPreserve int) (prefix, tail []group) {
	tailStart := len(groups)
	tailCost := 0
	for tailStart > 0 && tailCost < recentPreserve {
		tailStart--
		tailCost += groupTokens(c, groups[tailStart])
	}
	return groups[:tailStart], groups[tailStart:]
}

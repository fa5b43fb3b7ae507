// Package tokens estimates the token cost of messages, tool
// definitions, and raw content so the context manager can stay within
// its budget without calling a tokenizer service.
package tokens

import (
	"unicode/utf8"

	"github.com/nexus3/nexus3/pkg/models"
)

// Estimation constants. The estimator is deliberately conservative: it
// never underestimates real usage by more than roughly the per-message
// overhead, and callers always add reserve headroom on top.
const (
	// CharsPerToken is the approximate character-to-token ratio.
	CharsPerToken = 4

	// MessageOverhead is the fixed per-message cost (role, framing).
	MessageOverhead = 4

	// ToolCallOverhead is the fixed per-tool-call cost on top of the
	// serialized arguments (id, name, framing).
	ToolCallOverhead = 8
)

// Counter estimates token counts. Implementations must be safe for
// concurrent use.
type Counter interface {
	// Count estimates the tokens in a raw text blob.
	Count(text string) int

	// CountMessage estimates the tokens one message contributes to a
	// request, including tool-call serialization overhead.
	CountMessage(msg *models.Message) int

	// CountMessages estimates the total for a message window.
	CountMessages(msgs []models.Message) int
}

// Estimator is the deterministic ~4 chars/token approximation.
type Estimator struct{}

// NewEstimator returns the default deterministic counter.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count estimates tokens for raw text using ceiling division so short
// non-empty strings still cost at least one token.
func (e *Estimator) Count(text string) int {
	chars := utf8.RuneCountInString(text)
	if chars == 0 {
		return 0
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// CountMessage estimates the cost of a single message.
func (e *Estimator) CountMessage(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	total := MessageOverhead + e.Count(msg.Content)
	for _, tc := range msg.ToolCalls {
		total += ToolCallOverhead + e.Count(tc.Name) + e.Count(string(tc.Arguments))
	}
	if msg.ToolCallID != "" {
		total += e.Count(msg.ToolCallID)
	}
	return total
}

// CountMessages estimates the total cost of a message window.
func (e *Estimator) CountMessages(msgs []models.Message) int {
	total := 0
	for i := range msgs {
		total += e.CountMessage(&msgs[i])
	}
	return total
}

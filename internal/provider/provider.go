// Package provider implements the streaming LLM client: request
// conversion, tool-call accumulation, retry with backoff, and the
// summarization entry point used by context compaction.
package provider

import (
	"context"
	"encoding/json"

	"github.com/nexus3/nexus3/internal/tools"
	"github.com/nexus3/nexus3/pkg/models"
)

// Request is one streaming completion request.
type Request struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []tools.Definition
	MaxTokens int
}

// Usage is the provider-reported token consumption for a request.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Chunk is one event on a completion stream. Exactly one of Text,
// ToolCall, or the Done flag carries meaning; Err rides with Done.
type Chunk struct {
	Text     string
	ToolCall *models.ToolCall
	Usage    *Usage
	Done     bool
	Err      error
}

// Client is the provider surface the session engine depends on.
//
// Stream returns a channel that is closed after the final chunk. The
// final chunk always has Done set; a stream that failed mid-flight
// carries the error there.
type Client interface {
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
	Summarize(ctx context.Context, model, system, transcript string) (string, error)
}

// emptyArgs replaces tool-call arguments that did not survive streaming
// as valid JSON. The call still reaches the tool layer, where schema
// validation produces a model-visible error.
var emptyArgs = json.RawMessage("{}")

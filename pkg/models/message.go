// Package models defines the core data model shared across the runtime:
// messages, tool calls, tool results, and agent metadata.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall represents an LLM's request to execute a tool.
// Immutable once constructed.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult represents the output of a tool execution. A result is
// successful iff Error is empty; Output may still carry partial output
// on failure (preserved for logging, never relied on by the engine).
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
}

// OK reports whether the result represents a successful execution.
func (r ToolResult) OK() bool {
	return r.Error == ""
}

// Message is a single entry in an agent's conversation log.
// Immutable after insertion into the context manager.
//
// Invariant: a tool message's ToolCallID must match a ToolCall.ID in a
// prior assistant message carrying ToolCalls.
type Message struct {
	ID         string     `json:"id"`
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool only
	CreatedAt  time.Time  `json:"created_at"`
}

// HasToolCalls reports whether the message is an assistant message
// requesting tool execution.
func (m *Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// NewUserMessage builds a user message with a fresh id.
func NewUserMessage(id, content string) Message {
	return Message{ID: id, Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// NewToolResultMessage renders a tool result as a tool message. Errors
// are surfaced in the content with a marker the model can react to.
func NewToolResultMessage(id string, r ToolResult) Message {
	content := r.Output
	if !r.OK() {
		content = "Error: " + r.Error
	}
	return Message{
		ID:         id,
		Role:       RoleTool,
		Content:    content,
		ToolCallID: r.ToolCallID,
		CreatedAt:  time.Now(),
	}
}

// AgentInfo is the public description of a hosted agent as reported by
// list_agents.
type AgentInfo struct {
	AgentID      string    `json:"agent_id"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

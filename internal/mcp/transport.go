package mcp

import (
	"context"
	"encoding/json"
)

// Transport moves JSON-RPC messages to and from one MCP server. Call
// correlates the response by id; Notify expects none. Connected turns
// false permanently once the transport dies; reconnection is never
// attempted.
type Transport interface {
	Connect(ctx context.Context) error
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Notify(ctx context.Context, method string, params any) error
	Connected() bool
	Close() error
}

// maxLineBytes caps one stdio message. A server that exceeds it is
// misbehaving or looping; the connection is killed with a diagnostic.
const maxLineBytes = 10 << 20

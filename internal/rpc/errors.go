// Package rpc serves the runtime's JSON-RPC 2.0 surface over local
// HTTP: global pool methods plus per-agent dispatcher methods.
package rpc

import "fmt"

// Standard JSON-RPC 2.0 error codes plus the runtime's domain codes.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603

	CodeAuthRequired     = -32001
	CodeAgentNotFound    = -32002
	CodeDuplicateAgent   = -32003
	CodePermissionDenied = -32004
	CodeToolTimeout      = -32005
	CodeCancelled        = -32006
)

// Error is a JSON-RPC error object. The message stays short and
// human-readable; full diagnostics go to the server log.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func rpcError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

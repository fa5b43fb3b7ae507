// Package mcp implements the Model Context Protocol client side:
// JSON-RPC 2.0 over stdio or HTTP, the initialize handshake, tool
// listing with pagination, and per-agent consent.
package mcp

import (
	"encoding/json"
	"fmt"
	"time"
)

// Consent modes for a server connection.
type ConsentMode string

const (
	ConsentAllowAll ConsentMode = "allow_all"
	ConsentPerTool  ConsentMode = "per_tool"
	ConsentDeny     ConsentMode = "deny"
)

// Visibility controls which agents see a connection's tools.
type Visibility string

const (
	VisibilityShared  Visibility = "shared"
	VisibilityPrivate Visibility = "private"
)

// ServerConfig describes one MCP server. Exactly one of Command (stdio)
// or URL (HTTP) must be set.
type ServerConfig struct {
	Name string `yaml:"name"`

	// stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	WorkDir string            `yaml:"workdir,omitempty"`

	// HTTP transport
	URL     string            `yaml:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`

	Timeout    time.Duration `yaml:"timeout,omitempty"`
	Consent    ConsentMode   `yaml:"consent,omitempty"`
	Visibility Visibility    `yaml:"visibility,omitempty"`

	// Enabled gates the connection at startup. Absent means enabled, so
	// a pointer distinguishes "unset" from an explicit false.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the server should be connected.
func (c *ServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate rejects ambiguous or incomplete server configs at startup.
func (c *ServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("mcp server requires a name")
	}
	hasCommand := c.Command != ""
	hasURL := c.URL != ""
	if hasCommand == hasURL {
		return fmt.Errorf("mcp server %s: exactly one of command or url must be set", c.Name)
	}
	switch c.Consent {
	case "", ConsentAllowAll, ConsentPerTool, ConsentDeny:
	default:
		return fmt.Errorf("mcp server %s: unknown consent mode %q", c.Name, c.Consent)
	}
	switch c.Visibility {
	case "", VisibilityShared, VisibilityPrivate:
	default:
		return fmt.Errorf("mcp server %s: unknown visibility %q", c.Name, c.Visibility)
	}
	return nil
}

// JSON-RPC wire types.

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
}

type jsonrpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *jsonrpcError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// MCP protocol payloads (subset the client speaks).

const protocolVersion = "2024-11-05"

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

// InitializeResult is the server's handshake response.
type InitializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// ToolInfo is one tool as advertised by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type listToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

type listToolsResult struct {
	Tools      []ToolInfo `json:"tools"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the outcome of tools/call.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool output. Only text blocks are
// rendered; other types are noted by their type tag.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text concatenates the result's text blocks.
func (r *CallToolResult) Text() string {
	out := ""
	for _, block := range r.Content {
		if block.Type == "text" {
			out += block.Text
		} else {
			out += fmt.Sprintf("[%s content]", block.Type)
		}
	}
	return out
}

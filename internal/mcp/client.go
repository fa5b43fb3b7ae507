package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// initializeTimeout bounds the handshake. A server that cannot answer
// initialize within it is treated as failed.
const initializeTimeout = 10 * time.Second

// Client drives one MCP server connection through its lifecycle:
// handshake, tool discovery, tool calls.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger

	serverInfo InitializeResult
}

// NewClient builds a client over the transport matching cfg.
func NewClient(cfg *ServerConfig, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	var transport Transport
	if cfg.Command != "" {
		transport = NewStdioTransport(cfg, logger)
	} else {
		transport = NewHTTPTransport(cfg, logger)
	}
	return &Client{
		name:      cfg.Name,
		transport: transport,
		logger:    logger.With("mcp_server", cfg.Name),
	}, nil
}

// Name returns the configured server name.
func (c *Client) Name() string { return c.name }

// Alive reports whether the underlying transport is still usable.
func (c *Client) Alive() bool { return c.transport.Connected() }

// Close tears down the transport.
func (c *Client) Close() error { return c.transport.Close() }

// Connect establishes the transport and performs the handshake:
// initialize, wait for the response, then the initialized notification.
// No other method may be called before Connect succeeds.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	raw, err := c.transport.Call(initCtx, "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: "nexus3", Version: "0.1.0"},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	if err := json.Unmarshal(raw, &c.serverInfo); err != nil {
		c.transport.Close()
		return fmt.Errorf("decode initialize result: %w", err)
	}
	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.transport.Close()
		return fmt.Errorf("initialized notification: %w", err)
	}

	c.logger.Info("MCP server connected",
		"server", c.serverInfo.ServerInfo.Name,
		"version", c.serverInfo.ServerInfo.Version)
	return nil
}

// ListTools fetches the full tool list, following pagination cursors
// until the server stops returning one.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var all []ToolInfo
	cursor := ""
	for {
		raw, err := c.transport.Call(ctx, "tools/list", listToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		var page listToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
		all = append(all, page.Tools...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes one tool on the server.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallToolResult, error) {
	raw, err := c.transport.Call(ctx, "tools/call", callToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	var result CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &result, nil
}

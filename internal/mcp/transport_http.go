package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// sessionHeader carries the server-assigned session id across requests.
const sessionHeader = "Mcp-Session-Id"

// HTTPTransport POSTs one JSON-RPC request per HTTP request and reads
// either a plain JSON response or an SSE stream. A terminal transport
// error marks the connection dead; reconnection is never attempted.
type HTTPTransport struct {
	config *ServerConfig
	logger *slog.Logger
	client *http.Client

	sessionID atomic.Value // string
	connected atomic.Bool
	nextID    atomic.Int64
}

// NewHTTPTransport builds a transport for an HTTP server config.
func NewHTTPTransport(cfg *ServerConfig, logger *slog.Logger) *HTTPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		config: cfg,
		logger: logger.With("mcp_server", cfg.Name, "transport", "http"),
		client: &http.Client{Timeout: timeout},
	}
}

// Connect only validates config; HTTP has no persistent socket.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("url is required for http transport")
	}
	t.connected.Store(true)
	return nil
}

func (t *HTTPTransport) Close() error {
	t.connected.Store(false)
	return nil
}

func (t *HTTPTransport) Connected() bool {
	return t.connected.Load()
}

// Call POSTs the request and decodes the correlated response.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := t.nextID.Add(1)
	resp, err := t.post(ctx, &id, method, params)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("no response for request %d", id)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Notify POSTs a notification and ignores the body.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	_, err := t.post(ctx, nil, method, params)
	return err
}

func (t *HTTPTransport) post(ctx context.Context, id *int64, method string, params any) (*jsonrpcResponse, error) {
	if !t.connected.Load() {
		return nil, errors.New("transport not connected")
	}

	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	if session, _ := t.sessionID.Load().(string); session != "" {
		httpReq.Header.Set(sessionHeader, session)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		// Connection-level failure is terminal for this transport.
		t.connected.Store(false)
		return nil, fmt.Errorf("mcp http transport: %w", err)
	}
	defer httpResp.Body.Close()

	if session := httpResp.Header.Get(sessionHeader); session != "" {
		t.sessionID.Store(session)
	}

	if httpResp.StatusCode >= 400 {
		if httpResp.StatusCode >= 500 {
			t.connected.Store(false)
		}
		return nil, fmt.Errorf("mcp http status %d", httpResp.StatusCode)
	}
	if id == nil {
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, maxLineBytes))
		return nil, nil
	}

	contentType := httpResp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "text/event-stream") {
		return t.readSSE(httpResp.Body, *id)
	}

	var resp jsonrpcResponse
	if err := json.NewDecoder(io.LimitReader(httpResp.Body, maxLineBytes)).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

// readSSE scans an event stream for the response matching id. Events
// for other ids are discarded with a warning.
func (t *HTTPTransport) readSSE(body io.Reader, id int64) (*jsonrpcResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var resp jsonrpcResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			t.logger.Warn("unparseable SSE event", "error", err)
			continue
		}
		if string(resp.ID) == fmt.Sprint(id) {
			return &resp, nil
		}
		if len(resp.ID) != 0 && string(resp.ID) != "null" {
			t.logger.Warn("SSE response for unknown request id discarded", "id", string(resp.ID))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read SSE stream: %w", err)
	}
	return nil, fmt.Errorf("stream ended without response for request %d", id)
}

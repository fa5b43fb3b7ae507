package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is the JSON-RPC HTTP client used by the CLI.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	nextID  int
}

// NewClient builds a client for the server at baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 6 * time.Minute},
	}
}

// Call invokes a global method at /rpc.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	return c.call(ctx, "/rpc", method, params, result)
}

// CallAgent invokes a per-agent method at /agent/{id}.
func (c *Client) CallAgent(ctx context.Context, agentID, method string, params, result any) error {
	return c.call(ctx, "/agent/"+agentID, method, params, result)
}

func (c *Client) call(ctx context.Context, path, method string, params, result any) error {
	c.nextID++
	req := rpcRequest{JSONRPC: "2.0", Method: method}
	req.ID, _ = json.Marshal(c.nextID)
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("rpc call %s: http %d: %s", method, resp.StatusCode, string(raw))
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode rpc result: %w", err)
		}
	}
	return nil
}

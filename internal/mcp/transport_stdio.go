package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// StdioTransport speaks line-delimited JSON-RPC with a child process:
// one JSON object per line on stdin/stdout, stderr captured to the
// diagnostic log.
type StdioTransport struct {
	config *ServerConfig
	logger *slog.Logger

	process *exec.Cmd
	stdin   io.WriteCloser

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *jsonrpcResponse
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewStdioTransport builds a transport for a stdio server config.
func NewStdioTransport(cfg *ServerConfig, logger *slog.Logger) *StdioTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config:   cfg,
		logger:   logger.With("mcp_server", cfg.Name, "transport", "stdio"),
		pending:  make(map[int64]chan *jsonrpcResponse),
		stopChan: make(chan struct{}),
	}
}

// Connect starts the child process and the read loops.
func (t *StdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}

	t.process = exec.CommandContext(ctx, t.config.Command, t.config.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, k+"="+v)
	}
	if t.config.WorkDir != "" {
		t.process.Dir = t.config.WorkDir
	}

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, _ := t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	t.connected.Store(true)
	t.logger.Info("started MCP server process",
		"command", t.config.Command, "pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop(stdout)
	if stderr != nil {
		t.wg.Add(1)
		go t.logStderr(stderr)
	}
	return nil
}

// kill tears the connection down without waiting for the read loops.
// The read loop calls it on a fatal protocol violation, so it must
// never block on the loop's own exit.
func (t *StdioTransport) kill() {
	t.stopOnce.Do(func() {
		t.connected.Store(false)
		close(t.stopChan)
		if t.stdin != nil {
			t.stdin.Close()
		}
		if t.process != nil && t.process.Process != nil {
			t.process.Process.Kill()
		}
	})
}

// Close kills the child process and waits for the read loops to drain.
func (t *StdioTransport) Close() error {
	t.kill()
	t.wg.Wait()
	return nil
}

// Connected reports liveness. The read loop flips this off when the
// child exits or misbehaves.
func (t *StdioTransport) Connected() bool {
	return t.connected.Load()
}

// Call writes a request line and waits for the correlated response.
func (t *StdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, errors.New("transport not connected")
	}

	id := t.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: &id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	respChan := make(chan *jsonrpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := t.writeLine(req); err != nil {
		return nil, err
	}

	timeout := t.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("mcp request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, errors.New("transport closed")
	}
}

// Notify writes a notification line. No response is expected.
func (t *StdioTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return errors.New("transport not connected")
	}
	req := jsonrpcRequest{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}
	return t.writeLine(req)
}

func (t *StdioTransport) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to mcp server: %w", err)
	}
	return nil
}

func (t *StdioTransport) readLoop(stdout io.Reader) {
	defer t.wg.Done()
	defer t.connected.Store(false)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.dispatch(line)
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			t.logger.Error("MCP server exceeded line cap, killing connection",
				"cap_bytes", maxLineBytes)
			t.kill()
			return
		}
		t.logger.Error("stdout read error", "error", err)
	}
}

// dispatch routes one message: responses by id to their waiter,
// notifications to the log, unknown ids discarded with a warning.
func (t *StdioTransport) dispatch(line []byte) {
	var resp jsonrpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.logger.Warn("unparseable message from MCP server", "error", err)
		return
	}

	if len(resp.ID) == 0 || string(resp.ID) == "null" {
		// Notification from the server. Processed, never answered.
		t.logger.Debug("server notification", "method", resp.Method)
		return
	}

	id, err := strconv.ParseInt(string(resp.ID), 10, 64)
	if err != nil {
		t.logger.Warn("response with non-numeric id discarded", "id", string(resp.ID))
		return
	}

	t.pendingMu.Lock()
	waiter, ok := t.pending[id]
	t.pendingMu.Unlock()
	if !ok {
		t.logger.Warn("response for unknown request id discarded", "id", id)
		return
	}
	waiter <- &resp
}

func (t *StdioTransport) logStderr(stderr io.Reader) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Debug("mcp stderr", "line", scanner.Text())
	}
}

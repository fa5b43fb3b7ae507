package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus3/nexus3/internal/observability"
	"github.com/nexus3/nexus3/internal/pool"
)

const (
	maxBodyBytes = 1 << 20
	readTimeout  = 30 * time.Second
)

// ServerConfig is the transport configuration. Host must resolve to a
// loopback address; anything else is a startup error.
type ServerConfig struct {
	Host string
	Port int
}

// Server serves the JSON-RPC surface over the pool.
type Server struct {
	pool    *pool.Pool
	cfg     ServerConfig
	token   string
	logger  *slog.Logger
	metrics *observability.Metrics

	httpServer *http.Server
	listener   net.Listener

	// shutdownCh fires once when shutdown_server is called.
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewServer builds a server. The token must already be loaded.
func NewServer(p *pool.Pool, cfg ServerConfig, token string, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	return &Server{
		pool:       p,
		cfg:        cfg,
		token:      token,
		logger:     logger,
		metrics:    metrics,
		shutdownCh: make(chan struct{}),
	}
}

// Start binds the listener and serves in the background. Binding to a
// non-loopback host is refused outright: the token scheme assumes a
// local-only transport.
func (s *Server) Start() error {
	if !isLoopbackHost(s.cfg.Host) {
		return fmt.Errorf("rpc server must bind to a loopback address, got %q", s.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/", s.handleRPC)

	s.httpServer = &http.Server{
		Handler:     mux,
		ReadTimeout: readTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server error", "error", err)
		}
	}()
	s.logger.Info("rpc server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ShutdownRequested fires when a client calls shutdown_server.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	// One request per connection.
	w.Header().Set("Connection", "close")

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !checkBearer(r.Header.Get("Authorization"), s.token) {
		s.writeError(w, http.StatusUnauthorized, nil, rpcError(CodeAuthRequired, "missing or invalid bearer token"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, nil, rpcError(CodeInvalidRequest, "request body too large"))
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		s.writeError(w, http.StatusOK, nil, rpcError(CodeInvalidRequest, "batch requests are not supported"))
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		s.writeError(w, http.StatusOK, nil, rpcError(CodeParse, "request is not valid JSON"))
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeError(w, http.StatusOK, req.ID, rpcError(CodeInvalidRequest, "not a jsonrpc 2.0 request"))
		return
	}
	if len(req.Params) > 0 {
		params := bytes.TrimSpace(req.Params)
		if params[0] != '{' && !bytes.Equal(params, []byte("null")) {
			s.writeError(w, http.StatusOK, req.ID, rpcError(CodeInvalidParams, "params must be a named-parameter object"))
			return
		}
	}

	path := normalizePath(r.URL.Path)
	var result any
	var rpcErr *Error
	switch {
	case path == "/" || path == "/rpc":
		result, rpcErr = s.dispatchGlobal(r.Context(), &req)
	case strings.HasPrefix(path, "/agent/"):
		agentID := strings.TrimPrefix(path, "/agent/")
		result, rpcErr = s.dispatchAgent(r.Context(), agentID, &req)
		if rpcErr != nil && rpcErr.Code == CodeAgentNotFound {
			s.writeError(w, http.StatusNotFound, req.ID, rpcErr)
			s.count(req.Method, "error")
			return
		}
	default:
		http.NotFound(w, r)
		return
	}

	status := "ok"
	if rpcErr != nil {
		status = "error"
	}
	s.count(req.Method, status)

	// Notifications produce no response body.
	if req.ID == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	if rpcErr != nil {
		s.writeError(w, http.StatusOK, req.ID, rpcErr)
		return
	}
	s.writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

// normalizePath strips a trailing slash. net/http has already decoded
// percent escapes in r.URL.Path.
func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) writeError(w http.ResponseWriter, status int, id json.RawMessage, rpcErr *Error) {
	s.logger.Warn("rpc request failed", "code", rpcErr.Code, "message", rpcErr.Message)
	s.writeJSON(w, status, rpcResponse{JSONRPC: "2.0", ID: id, Error: rpcErr})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("rpc response write failed", "error", err)
	}
}

func (s *Server) count(method, status string) {
	if s.metrics != nil {
		s.metrics.RPCRequestCounter.WithLabelValues(method, status).Inc()
	}
}

// Package dispatch implements the per-agent dispatcher: the serialized
// send path, cancellation by request id, and the non-blocking read
// methods exposed over RPC.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus3/nexus3/internal/cancel"
	"github.com/nexus3/nexus3/internal/contextmgr"
	"github.com/nexus3/nexus3/internal/provider"
	"github.com/nexus3/nexus3/internal/session"
	"github.com/nexus3/nexus3/internal/tools"
)

// DefaultCallTimeout bounds one dispatcher call end to end.
const DefaultCallTimeout = 5 * time.Minute

// SendResult is the outcome of a send call.
type SendResult struct {
	Content   string `json:"content,omitempty"`
	RequestID string `json:"request_id"`
	Cancelled bool   `json:"cancelled,omitempty"`
	Halted    bool   `json:"halted,omitempty"`
}

// CancelResult reports whether a cancel call found its target.
type CancelResult struct {
	Cancelled bool   `json:"cancelled"`
	Reason    string `json:"reason,omitempty"`
}

// ContextInfo is the get_context response.
type ContextInfo struct {
	MessageCount int  `json:"message_count"`
	SystemPrompt bool `json:"system_prompt"`
}

// CompactResult reports what an explicit compaction accomplished.
type CompactResult struct {
	BeforeTokens int `json:"before_tokens"`
	AfterTokens  int `json:"after_tokens"`
	Replaced     int `json:"replaced"`
}

// ErrShutdown is returned for calls arriving after Shutdown.
var ErrShutdown = errors.New("dispatcher is shut down")

// Dispatcher fronts one agent. Sends serialize on the session; cancel
// and the read methods never wait on an in-flight turn.
type Dispatcher struct {
	agentID      string
	session      *session.Session
	context      *contextmgr.Manager
	view         *tools.View
	provider     provider.Client
	systemPrompt func() string
	logger       *slog.Logger
	callTimeout  time.Duration

	mu       sync.Mutex
	inflight map[string]*cancel.Handle
	closed   bool
}

// New builds a dispatcher for one agent.
func New(agentID string, sess *session.Session, ctxmgr *contextmgr.Manager, view *tools.View, prov provider.Client, systemPrompt func() string, logger *slog.Logger, callTimeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	if systemPrompt == nil {
		systemPrompt = func() string { return "" }
	}
	return &Dispatcher{
		agentID:      agentID,
		session:      sess,
		context:      ctxmgr,
		view:         view,
		provider:     prov,
		systemPrompt: systemPrompt,
		logger:       logger.With("agent_id", agentID),
		callTimeout:  callTimeout,
		inflight:     make(map[string]*cancel.Handle),
	}
}

// Send runs one turn. The request id is minted before the turn starts
// so cancel can target it while the turn is still streaming.
func (d *Dispatcher) Send(ctx context.Context, content string) (*SendResult, error) {
	requestID := uuid.NewString()

	callCtx, cancelFn := context.WithTimeout(ctx, d.callTimeout)
	defer cancelFn()
	h := cancel.New(callCtx)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrShutdown
	}
	d.inflight[requestID] = h
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, requestID)
		d.mu.Unlock()
	}()

	d.logger.Info("turn started", "request_id", requestID)
	result, err := d.session.Turn(h, content)
	if err != nil {
		d.logger.Error("turn failed", "request_id", requestID, "error", err)
		return nil, err
	}
	d.logger.Info("turn finished",
		"request_id", requestID, "cancelled", result.Cancelled, "halted", result.Halted)
	return &SendResult{
		Content:   result.Content,
		RequestID: requestID,
		Cancelled: result.Cancelled,
		Halted:    result.Halted,
	}, nil
}

// Cancel signals the in-flight request. Unknown ids report the
// not-found reason rather than an error.
func (d *Dispatcher) Cancel(requestID string) CancelResult {
	d.mu.Lock()
	h, ok := d.inflight[requestID]
	d.mu.Unlock()
	if !ok {
		return CancelResult{Cancelled: false, Reason: "not_found_or_completed"}
	}
	h.Cancel()
	d.logger.Info("turn cancelled", "request_id", requestID)
	return CancelResult{Cancelled: true}
}

// GetTokens reports the current token breakdown. Read-only; safe to
// race a send.
func (d *Dispatcher) GetTokens() contextmgr.Report {
	return d.context.TokenReport(d.systemPrompt(), d.view.Definitions())
}

// GetContext reports transcript shape.
func (d *Dispatcher) GetContext() ContextInfo {
	return ContextInfo{
		MessageCount: d.context.MessageCount(),
		SystemPrompt: d.systemPrompt() != "",
	}
}

// Compact forces a compaction now instead of waiting for the trigger.
func (d *Dispatcher) Compact(ctx context.Context) (*CompactResult, error) {
	system := d.systemPrompt()
	defs := d.view.Definitions()

	before := d.context.TokenReport(system, defs).Total
	if err := d.context.ForceCompact(ctx, system, defs, d.provider); err != nil {
		return nil, err
	}
	after := d.context.TokenReport(system, defs).Total

	replaced := 0
	if records := d.context.Compactions(); len(records) > 0 {
		replaced = len(records[len(records)-1].ReplacedIDs)
	}
	return &CompactResult{BeforeTokens: before, AfterTokens: after, Replaced: replaced}, nil
}

// Shutdown cancels every in-flight request and rejects new sends.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	handles := make([]*cancel.Handle, 0, len(d.inflight))
	for _, h := range d.inflight {
		handles = append(handles, h)
	}
	d.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
	if len(handles) > 0 {
		d.logger.Info("cancelled in-flight requests on shutdown", "count", len(handles))
	}
}

// Inflight returns the number of in-flight requests.
func (d *Dispatcher) Inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.inflight)
}

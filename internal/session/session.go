// Package session implements the turn engine: the streaming
// tool-calling loop that drives one agent's conversation, including
// batch tool execution, cancellation, and pending-result repair.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus3/nexus3/internal/cancel"
	"github.com/nexus3/nexus3/internal/contextmgr"
	"github.com/nexus3/nexus3/internal/observability"
	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/provider"
	"github.com/nexus3/nexus3/internal/tools"
	"github.com/nexus3/nexus3/pkg/models"
)

// Config bounds one session's turn loop.
type Config struct {
	// MaxIterations caps provider round-trips per turn.
	MaxIterations int
	// MaxConcurrentTools bounds a parallel batch.
	MaxConcurrentTools int
	// CancelGrace is how long an in-flight tool gets to honor
	// cancellation before its result is forced to an error.
	CancelGrace time.Duration
	// Model overrides the provider default for this agent.
	Model string
}

// DefaultConfig returns the stock turn configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      10,
		MaxConcurrentTools: 10,
		CancelGrace:        250 * time.Millisecond,
	}
}

// Refresher lets the session drop dead dynamic tool sources before
// each definitions snapshot. Satisfied by the MCP manager.
type Refresher interface {
	Refresh()
}

// TurnResult is the outcome of one Session.Turn call.
type TurnResult struct {
	Content   string
	Cancelled bool
	Halted    bool
}

// Params collects the per-agent dependencies for NewSession.
type Params struct {
	AgentID      string
	Config       Config
	Policy       *permission.Policy
	Engine       *permission.Engine
	View         *tools.View
	Context      *contextmgr.Manager
	Provider     provider.Client
	SystemPrompt func() string
	Refresher    Refresher
	Notifier     *Notifier
	Logger       *slog.Logger
	Metrics      *observability.Metrics

	// RawRecorder, when set, captures this agent's raw provider
	// traffic even though the provider client is shared.
	RawRecorder provider.RawRecorder
}

// Session drives turns for one agent. One turn at a time; the mutex
// makes overlapping sends queue rather than interleave.
type Session struct {
	agentID      string
	cfg          Config
	view         *tools.View
	context      *contextmgr.Manager
	provider     provider.Client
	systemPrompt func() string
	refresher    Refresher
	notifier     *Notifier
	logger       *slog.Logger
	metrics      *observability.Metrics
	rawRecorder  provider.RawRecorder
	exec         *executor

	mu               sync.Mutex
	pendingCancelled []pendingCall
}

// NewSession builds a session from its dependencies.
func NewSession(p Params) *Session {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Config.MaxIterations <= 0 {
		p.Config.MaxIterations = 10
	}
	if p.Config.CancelGrace <= 0 {
		p.Config.CancelGrace = 250 * time.Millisecond
	}
	if p.SystemPrompt == nil {
		p.SystemPrompt = func() string { return "" }
	}
	logger := p.Logger.With("agent_id", p.AgentID)
	return &Session{
		agentID:      p.AgentID,
		cfg:          p.Config,
		view:         p.View,
		context:      p.Context,
		provider:     p.Provider,
		systemPrompt: p.SystemPrompt,
		refresher:    p.Refresher,
		notifier:     p.Notifier,
		logger:       logger,
		metrics:      p.Metrics,
		rawRecorder:  p.RawRecorder,
		exec: &executor{
			agentID:       p.AgentID,
			view:          p.View,
			engine:        p.Engine,
			policy:        p.Policy,
			notifier:      p.Notifier,
			logger:        logger,
			metrics:       p.Metrics,
			maxConcurrent: p.Config.MaxConcurrentTools,
			grace:         p.Config.CancelGrace,
		},
	}
}

// Events exposes the subscriber channel.
func (s *Session) Events() <-chan Event {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.Events()
}

// Turn runs one full user turn under the cancellation handle.
func (s *Session) Turn(h *cancel.Handle, userInput string) (*TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := h.Context()

	s.flushPendingCancelled()
	s.context.Append(models.NewUserMessage(uuid.NewString(), userInput))

	var content string
	for iteration := 1; iteration <= s.cfg.MaxIterations; iteration++ {
		if s.refresher != nil {
			s.refresher.Refresh()
		}
		defs := s.view.Definitions()
		system := s.liveSystemPrompt()

		window, err := s.context.Materialize(ctx, system, defs, s.provider)
		if err != nil {
			return nil, fmt.Errorf("materialize context: %w", err)
		}

		assistant, result, err := s.streamIteration(ctx, h, system, window, defs)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		content = assistant.Content

		if !assistant.HasToolCalls() {
			s.finish(EventCompleted, "ok", "")
			return &TurnResult{Content: content}, nil
		}

		outcome := s.exec.runBatch(ctx, h, assistant.ToolCalls)
		for _, r := range outcome.results {
			s.context.Append(models.NewToolResultMessage(uuid.NewString(), r))
		}
		if len(outcome.pending) > 0 || h.Cancelled() {
			s.pendingCancelled = append(s.pendingCancelled, outcome.pending...)
			s.finish(EventCancelled, "cancelled", "")
			return &TurnResult{Cancelled: true}, nil
		}

		s.notifier.Publish(Event{Type: EventIterationDone, AgentID: s.agentID, Calls: iteration})
	}

	note := fmt.Sprintf("[Stopped: reached the limit of %d tool iterations in a single turn.]", s.cfg.MaxIterations)
	s.context.Append(models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   note,
		CreatedAt: time.Now(),
	})
	s.finish(EventHalted, "iteration_cap", "iteration limit reached")
	return &TurnResult{Content: note, Halted: true}, nil
}

// streamIteration opens one provider stream and consumes it. A non-nil
// TurnResult means the turn ended mid-stream (cancellation).
func (s *Session) streamIteration(ctx context.Context, h *cancel.Handle, system string, window []models.Message, defs []tools.Definition) (*models.Message, *TurnResult, error) {
	if s.rawRecorder != nil {
		ctx = provider.WithRecorder(ctx, s.rawRecorder)
	}
	stream, err := s.provider.Stream(ctx, &provider.Request{
		Model:    s.cfg.Model,
		System:   system,
		Messages: window,
		Tools:    defs,
	})
	if err != nil {
		if h.Cancelled() || errors.Is(err, context.Canceled) {
			s.finish(EventCancelled, "cancelled", "")
			return nil, &TurnResult{Cancelled: true}, nil
		}
		return nil, nil, err
	}

	var content string
	var calls []models.ToolCall
	var streamErr error
	for chunk := range stream {
		switch {
		case chunk.Text != "":
			content += chunk.Text
			s.notifier.Publish(Event{Type: EventContentDelta, AgentID: s.agentID, Text: chunk.Text})
		case chunk.ToolCall != nil:
			calls = append(calls, *chunk.ToolCall)
			s.notifier.Publish(Event{
				Type: EventToolCallStarted, AgentID: s.agentID,
				ToolCallID: chunk.ToolCall.ID, Tool: chunk.ToolCall.Name,
			})
		case chunk.Done:
			streamErr = chunk.Err
		}
	}

	if streamErr != nil {
		if h.Cancelled() || errors.Is(streamErr, context.Canceled) {
			// Keep partial output; tool calls from an aborted stream are
			// discarded so no results are owed for them.
			if content != "" {
				s.context.Append(models.Message{
					ID:        uuid.NewString(),
					Role:      models.RoleAssistant,
					Content:   content,
					CreatedAt: time.Now(),
				})
			}
			s.finish(EventCancelled, "cancelled", "")
			return nil, &TurnResult{Cancelled: true}, nil
		}
		return nil, nil, streamErr
	}

	assistant := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleAssistant,
		Content:   content,
		ToolCalls: calls,
		CreatedAt: time.Now(),
	}
	s.context.Append(assistant)
	return &assistant, nil, nil
}

// flushPendingCancelled appends synthetic results for tool calls left
// unanswered by a cancelled turn. Without them the provider rejects
// the next request for unmatched tool calls.
func (s *Session) flushPendingCancelled() {
	for _, p := range s.pendingCancelled {
		s.context.Append(models.NewToolResultMessage(uuid.NewString(), models.ToolResult{
			ToolCallID: p.ID,
			Error:      errCancelled,
		}))
		s.logger.Debug("flushed pending cancelled tool result", "tool_call_id", p.ID, "tool", p.Name)
	}
	s.pendingCancelled = nil
}

// liveSystemPrompt reloads the prompt and stamps the temporal preamble
// so the model has accurate date context. Minute resolution keeps the
// prompt stable enough for caching.
func (s *Session) liveSystemPrompt() string {
	prompt := s.systemPrompt()
	stamp := time.Now().UTC().Format("2006-01-02 15:04 UTC")
	if prompt == "" {
		return "Current date and time: " + stamp
	}
	return prompt + "\n\nCurrent date and time: " + stamp
}

func (s *Session) finish(event EventType, outcome, reason string) {
	s.notifier.Publish(Event{Type: event, AgentID: s.agentID, Reason: reason})
	if s.metrics != nil {
		s.metrics.TurnCounter.WithLabelValues(s.agentID, outcome).Inc()
	}
}

// PendingCancelled reports how many synthetic results await the next
// send. Used by dispatcher diagnostics and tests.
func (s *Session) PendingCancelled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingCancelled)
}

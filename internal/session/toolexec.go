package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nexus3/nexus3/internal/cancel"
	"github.com/nexus3/nexus3/internal/observability"
	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/tools"
	"github.com/nexus3/nexus3/pkg/models"
)

const (
	errCancelled = "cancelled"
	errTimeout   = "timeout"

	// haltedMarker is the synthetic error for calls skipped after a
	// fatal failure earlier in a sequential batch.
	haltedMarker = "HALTED: not executed because a previous tool call failed"
)

// pendingCall identifies a tool call whose result was never appended
// because the turn was cancelled. Flushed at the start of the next send.
type pendingCall struct {
	ID   string
	Name string
}

// batchOutcome is the result of executing one tool batch.
type batchOutcome struct {
	// results are in submission order. On cancellation the slice may be
	// shorter than the batch; the missing tail is in pending.
	results []models.ToolResult
	pending []pendingCall
	halted  bool
}

// executor runs tool batches under the agent's policy.
type executor struct {
	agentID  string
	view     *tools.View
	engine   *permission.Engine
	policy   *permission.Policy
	notifier *Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics

	maxConcurrent int
	grace         time.Duration
}

// runBatch executes calls sequentially unless any call carries the
// parallel argument, which promotes the whole batch.
func (e *executor) runBatch(ctx context.Context, h *cancel.Handle, calls []models.ToolCall) batchOutcome {
	parallel := false
	cleaned := make([]models.ToolCall, len(calls))
	for i, call := range calls {
		args, p := tools.StripInternalArgs(call.Arguments)
		cleaned[i] = models.ToolCall{ID: call.ID, Name: call.Name, Arguments: args}
		parallel = parallel || p
	}

	e.notifier.Publish(Event{
		Type: EventToolBatchStart, AgentID: e.agentID,
		Calls: len(cleaned), Parallel: parallel,
	})

	var outcome batchOutcome
	if parallel {
		outcome = e.runParallel(ctx, h, cleaned)
	} else {
		outcome = e.runSequential(ctx, h, cleaned)
	}

	if outcome.halted {
		e.notifier.Publish(Event{Type: EventToolBatchHalted, AgentID: e.agentID})
	}
	e.notifier.Publish(Event{Type: EventToolBatchDone, AgentID: e.agentID})
	return outcome
}

// runSequential stops on the first error: remaining calls get
// synthetic halted results so every tool call keeps a matched result.
// Cancellation instead defers the unstarted tail to the next send.
func (e *executor) runSequential(ctx context.Context, h *cancel.Handle, calls []models.ToolCall) batchOutcome {
	var out batchOutcome
	for i, call := range calls {
		if h.Cancelled() {
			for _, rest := range calls[i:] {
				out.pending = append(out.pending, pendingCall{ID: rest.ID, Name: rest.Name})
			}
			return out
		}

		result := e.runOne(ctx, h, call)
		out.results = append(out.results, result)

		if !result.OK() {
			for _, rest := range calls[i+1:] {
				out.results = append(out.results, models.ToolResult{
					ToolCallID: rest.ID,
					Error:      haltedMarker,
				})
			}
			out.halted = true
			return out
		}
	}
	return out
}

// runParallel runs the batch under a semaphore. Results land in
// submission order regardless of completion order. Calls that never
// acquired the semaphore before cancellation report cancelled results.
func (e *executor) runParallel(ctx context.Context, h *cancel.Handle, calls []models.ToolCall) batchOutcome {
	limit := e.maxConcurrent
	if limit <= 0 {
		limit = 10
	}
	sem := make(chan struct{}, limit)
	results := make([]models.ToolResult, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-h.Context().Done():
				results[i] = models.ToolResult{ToolCallID: call.ID, Error: errCancelled}
				return
			}
			results[i] = e.runOne(ctx, h, call)
		}(i, call)
	}
	wg.Wait()

	return batchOutcome{results: results}
}

// runOne executes a single call: permission check, argument
// validation, then the tool itself under its timeout.
func (e *executor) runOne(ctx context.Context, h *cancel.Handle, call models.ToolCall) models.ToolResult {
	e.notifier.Publish(Event{
		Type: EventToolStarted, AgentID: e.agentID,
		ToolCallID: call.ID, Tool: call.Name,
	})
	start := time.Now()

	result := e.execute(ctx, h, call)
	result.ToolCallID = call.ID

	status := "success"
	switch {
	case result.Error == errTimeout:
		status = "timeout"
	case result.Error == errCancelled:
		status = "cancelled"
	case strings.HasPrefix(result.Error, "permission"):
		status = "denied"
	case !result.OK():
		status = "error"
	}
	if e.metrics != nil {
		e.metrics.ToolExecutionCounter.WithLabelValues(call.Name, status).Inc()
		e.metrics.ToolExecutionDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())
	}
	e.notifier.Publish(Event{
		Type: EventToolCompleted, AgentID: e.agentID,
		ToolCallID: call.ID, Tool: call.Name,
		OK: result.OK(), Error: result.Error,
	})
	return result
}

func (e *executor) execute(ctx context.Context, h *cancel.Handle, call models.ToolCall) models.ToolResult {
	tool, desc, err := e.view.Lookup(call.Name)
	if err != nil {
		return models.ToolResult{Error: err.Error()}
	}

	if decision := e.engine.Check(e.permissionRequest(tool, desc, call), e.policy); decision.Verdict != permission.Allow {
		return models.ToolResult{
			Error: fmt.Sprintf("permission %s: %s", decision.Verdict, decision.Reason),
		}
	}

	if err := tools.ValidateArgs(desc, call.Arguments); err != nil {
		return models.ToolResult{Error: err.Error()}
	}

	callCtx, cancelFn := context.WithTimeout(ctx, desc.EffectiveTimeout())
	defer cancelFn()
	callCtx = tools.WithPolicy(callCtx, e.policy)

	type reply struct {
		result *tools.Result
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked", "tool", call.Name, "panic", r)
				done <- reply{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		result, err := tool.Execute(callCtx, call.Arguments)
		done <- reply{result: result, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return models.ToolResult{Error: r.err.Error()}
		}
		if r.result == nil {
			return models.ToolResult{Error: "tool returned no result"}
		}
		return models.ToolResult{Output: r.result.Output, Error: r.result.Error}
	case <-callCtx.Done():
		if h.Cancelled() {
			// Grace period for the tool to honor its own cancellation.
			select {
			case r := <-done:
				if r.err == nil && r.result != nil && r.result.Error == "" {
					return models.ToolResult{Output: r.result.Output}
				}
			case <-time.After(e.grace):
			}
			return models.ToolResult{Error: errCancelled}
		}
		return models.ToolResult{Error: errTimeout}
	}
}

// permissionRequest assembles the engine request for one call, pulling
// resource arguments from tools that report them.
func (e *executor) permissionRequest(tool tools.Tool, desc *tools.Descriptor, call models.ToolCall) permission.Request {
	req := permission.Request{
		Tool:       call.Name,
		Capability: desc.Requires,
	}
	if reporter, ok := tool.(tools.ResourceReporter); ok {
		req.ReadPaths, req.WritePaths, req.URLs = reporter.Resources(call.Arguments)
	}
	return req
}

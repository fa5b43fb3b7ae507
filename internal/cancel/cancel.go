// Package cancel provides the cooperative cancellation handle used for
// every in-flight request. Cancellation is level-triggered: consumers
// poll at safe points (before each tool, before each provider read,
// between iterations) and the handle's context aborts blocking I/O.
package cancel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handle is a first-class cancellation token. It wraps a context so that
// blocking operations cancel promptly, and additionally supports
// registered callbacks that fire exactly once on cancellation.
type Handle struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	callbacks []func()
	fired     bool

	panics atomic.Int64
}

// New creates a cancellation handle derived from parent. Cancelling the
// parent context cancels the handle as well.
func New(parent context.Context) *Handle {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancelFn := context.WithCancel(parent)
	h := &Handle{ctx: ctx, cancel: cancelFn}
	context.AfterFunc(ctx, h.fire)
	return h
}

// Context returns the context governed by this handle. Stream readers
// and subprocess I/O must be bound to it so cancellation closes their
// upstream connections.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Cancel signals cancellation. Safe to call multiple times; callbacks
// fire exactly once.
func (h *Handle) Cancel() {
	h.cancel()
}

// Cancelled reports whether the handle has been cancelled.
func (h *Handle) Cancelled() bool {
	return h.ctx.Err() != nil
}

// OnCancel registers a callback to run when the handle is cancelled.
// If the handle is already cancelled the callback runs immediately.
// Callback panics are swallowed and recorded; they never block
// cancellation or other callbacks.
func (h *Handle) OnCancel(fn func()) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		h.safeCall(fn)
		return
	}
	h.callbacks = append(h.callbacks, fn)
	h.mu.Unlock()
}

// PanicCount returns the number of callback panics swallowed so far.
func (h *Handle) PanicCount() int64 {
	return h.panics.Load()
}

func (h *Handle) fire() {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return
	}
	h.fired = true
	callbacks := h.callbacks
	h.callbacks = nil
	h.mu.Unlock()

	for _, fn := range callbacks {
		h.safeCall(fn)
	}
}

func (h *Handle) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.panics.Add(1)
			slog.Warn("cancellation callback panicked", "panic", r)
		}
	}()
	fn()
}

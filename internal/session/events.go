package session

import (
	"sync/atomic"
	"time"
)

// EventType identifies a turn-engine event.
type EventType string

const (
	EventContentDelta    EventType = "content_delta"
	EventToolCallStarted EventType = "tool_call_started"
	EventToolBatchStart  EventType = "tool_batch_started"
	EventToolStarted     EventType = "tool_started"
	EventToolCompleted   EventType = "tool_completed"
	EventToolBatchHalted EventType = "tool_batch_halted"
	EventToolBatchDone   EventType = "tool_batch_completed"
	EventIterationDone   EventType = "iteration_completed"
	EventCompleted       EventType = "completed"
	EventCancelled       EventType = "cancelled"
	EventHalted          EventType = "halted"
)

// Event is one observation of turn progress, delivered to subscribers
// on a best-effort basis.
type Event struct {
	Type       EventType `json:"type"`
	AgentID    string    `json:"agent_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Text       string    `json:"text,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Tool       string    `json:"tool,omitempty"`
	OK         bool      `json:"ok,omitempty"`
	Error      string    `json:"error,omitempty"`
	Parallel   bool      `json:"parallel,omitempty"`
	Calls      int       `json:"calls,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier fans events out to one bounded subscriber channel. Publish
// never blocks the engine: when the subscriber lags, events are dropped
// and counted. Context mutations are never gated on delivery.
type Notifier struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewNotifier builds a notifier with the given buffer. A zero or
// negative buffer gets a sane default.
func NewNotifier(buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 256
	}
	return &Notifier{ch: make(chan Event, buffer)}
}

// Events returns the subscription channel.
func (n *Notifier) Events() <-chan Event {
	return n.ch
}

// Dropped reports how many events were discarded due to backpressure.
func (n *Notifier) Dropped() int64 {
	return n.dropped.Load()
}

// Publish delivers the event without blocking.
func (n *Notifier) Publish(e Event) {
	if n == nil {
		return
	}
	e.At = time.Now()
	select {
	case n.ch <- e:
	default:
		n.dropped.Add(1)
	}
}

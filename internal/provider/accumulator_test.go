package provider

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func intPtr(i int) *int { return &i }

func TestAccumulatorReassemblesFragments(t *testing.T) {
	acc := newToolCallAccumulator()

	acc.add(openai.ToolCall{
		Index:    intPtr(0),
		ID:       "call_1",
		Function: openai.FunctionCall{Name: "read_file"},
	})
	acc.add(openai.ToolCall{
		Index:    intPtr(0),
		Function: openai.FunctionCall{Arguments: `{"path":`},
	})
	acc.add(openai.ToolCall{
		Index:    intPtr(0),
		Function: openai.FunctionCall{Arguments: `"/tmp/a"}`},
	})

	calls := acc.drain()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "read_file" {
		t.Errorf("call = %+v", calls[0])
	}
	if string(calls[0].Arguments) != `{"path":"/tmp/a"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestAccumulatorInterleavedParallelCalls(t *testing.T) {
	acc := newToolCallAccumulator()

	acc.add(openai.ToolCall{Index: intPtr(1), ID: "call_b", Function: openai.FunctionCall{Name: "echo"}})
	acc.add(openai.ToolCall{Index: intPtr(0), ID: "call_a", Function: openai.FunctionCall{Name: "echo"}})
	acc.add(openai.ToolCall{Index: intPtr(1), Function: openai.FunctionCall{Arguments: `{"text":"b"}`}})
	acc.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{"text":"a"}`}})

	calls := acc.drain()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	// Emission follows index order, not arrival order.
	if calls[0].ID != "call_a" || calls[1].ID != "call_b" {
		t.Errorf("order = %s, %s", calls[0].ID, calls[1].ID)
	}
}

func TestAccumulatorDropsIncompleteCalls(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(openai.ToolCall{Index: intPtr(0), Function: openai.FunctionCall{Arguments: `{"x":1}`}})

	if calls := acc.drain(); len(calls) != 0 {
		t.Errorf("incomplete call emitted: %+v", calls)
	}
}

func TestAccumulatorEmptyArgsDefaultToObject(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(openai.ToolCall{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "noop"}})

	calls := acc.drain()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	if string(calls[0].Arguments) != "{}" {
		t.Errorf("arguments = %s, want {}", calls[0].Arguments)
	}
}

func TestAccumulatorDrainResets(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(openai.ToolCall{Index: intPtr(0), ID: "call_1", Function: openai.FunctionCall{Name: "noop"}})
	acc.drain()

	if calls := acc.drain(); len(calls) != 0 {
		t.Errorf("state survived drain: %+v", calls)
	}
}

package provider

import (
	"encoding/json"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexus3/nexus3/pkg/models"
)

// toolCallAccumulator rebuilds tool calls from streamed fragments. The
// API interleaves fragments of parallel calls, distinguished only by
// index: the ID and name arrive on the first fragment for an index,
// argument JSON arrives piecewise on the rest.
type toolCallAccumulator struct {
	calls map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args []byte
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingCall)}
}

func (a *toolCallAccumulator) add(tc openai.ToolCall) {
	index := 0
	if tc.Index != nil {
		index = *tc.Index
	}
	pending := a.calls[index]
	if pending == nil {
		pending = &pendingCall{}
		a.calls[index] = pending
	}
	if tc.ID != "" {
		pending.id = tc.ID
	}
	if tc.Function.Name != "" {
		pending.name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		pending.args = append(pending.args, tc.Function.Arguments...)
	}
}

// drain returns the complete calls in index order and resets the
// accumulator. Fragments that never received an ID and name are
// dropped: they cannot be answered with a tool result.
func (a *toolCallAccumulator) drain() []*models.ToolCall {
	indexes := make([]int, 0, len(a.calls))
	for i := range a.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]*models.ToolCall, 0, len(indexes))
	for _, i := range indexes {
		pending := a.calls[i]
		if pending.id == "" || pending.name == "" {
			continue
		}
		args := pending.args
		if len(args) == 0 {
			args = []byte("{}")
		}
		out = append(out, &models.ToolCall{
			ID:        pending.id,
			Name:      pending.name,
			Arguments: json.RawMessage(args),
		})
	}
	a.calls = make(map[int]*pendingCall)
	return out
}

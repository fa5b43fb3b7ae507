package contextmgr

import (
	"github.com/nexus3/nexus3/internal/tokens"
	"github.com/nexus3/nexus3/pkg/models"
)

// group is the unit of truncation: either a single plain message, or
// an assistant message with tool calls together with all its matched
// tool results. Splitting a group apart would leave the transcript in
// a state the provider rejects.
type group struct {
	messages []models.Message
}

func (g *group) ids() []string {
	ids := make([]string, 0, len(g.messages))
	for _, m := range g.messages {
		ids = append(ids, m.ID)
	}
	return ids
}

// splitGroups partitions messages into groups. Tool results whose
// assistant message is absent are dropped outright. An assistant group
// missing any of its results absorbs whatever results are present; the
// caller decides whether such an incomplete group may be materialized.
func splitGroups(messages []models.Message) []group {
	groups := make([]group, 0, len(messages))

	// Index tool results by the call they answer.
	resultsByCall := make(map[string]models.Message)
	for _, m := range messages {
		if m.Role == models.RoleTool && m.ToolCallID != "" {
			resultsByCall[m.ToolCallID] = m
		}
	}

	claimed := make(map[string]struct{})
	for _, m := range messages {
		switch {
		case m.Role == models.RoleTool:
			// Emitted as part of its assistant's group, or dropped as
			// an orphan below.
			continue
		case m.HasToolCalls():
			g := group{messages: []models.Message{m}}
			for _, call := range m.ToolCalls {
				if result, ok := resultsByCall[call.ID]; ok {
					g.messages = append(g.messages, result)
					claimed[call.ID] = struct{}{}
				}
			}
			groups = append(groups, g)
		default:
			groups = append(groups, group{messages: []models.Message{m}})
		}
	}
	return groups
}

// flatten rebuilds the message sequence from groups.
func flatten(groups []group) []models.Message {
	out := make([]models.Message, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.messages...)
	}
	return out
}

// groupTokens sums the token estimate for one group.
func groupTokens(c tokens.Counter, g group) int {
	total := 0
	for i := range g.messages {
		total += c.CountMessage(&g.messages[i])
	}
	return total
}

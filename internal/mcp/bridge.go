package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/tools"
)

// BridgedName namespaces a server tool so it can never collide with a
// local tool or another server's.
func BridgedName(server, tool string) string {
	return "mcp_" + server + "_" + tool
}

// serverKey is the allowance resource for "this server always" grants.
func serverKey(server string) string {
	return permission.AllowanceKey("mcp_"+server, "*")
}

// bridgeTool adapts one remote MCP tool to the local tool interface.
// Permission rules are enforced here rather than in the generic engine:
// sandboxed agents are denied outright, and per-tool consent consults
// the calling agent's own allowances even on shared connections.
type bridgeTool struct {
	server  string
	remote  string
	info    ToolInfo
	consent ConsentMode
	client  *Client
}

func (b *bridgeTool) Name() string            { return BridgedName(b.server, b.remote) }
func (b *bridgeTool) Description() string     { return b.info.Description }
func (b *bridgeTool) Schema() json.RawMessage { return b.info.InputSchema }

func (b *bridgeTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	policy, ok := tools.PolicyFromContext(ctx)
	if !ok {
		return &tools.Result{Error: "MCP tools require a permission policy"}, nil
	}
	if policy.EffectiveLevel() == permission.Sandboxed {
		return &tools.Result{Error: "MCP tools are not available to sandboxed agents"}, nil
	}

	switch b.consent {
	case ConsentDeny:
		return &tools.Result{Error: fmt.Sprintf("access to MCP server %s is denied", b.server)}, nil
	case ConsentPerTool:
		if !b.consented(policy) {
			return &tools.Result{
				Error: fmt.Sprintf("consent required for %s; grant the tool or server allowance first", b.Name()),
			}, nil
		}
	}

	result, err := b.client.CallTool(ctx, b.remote, args)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		return &tools.Result{Error: result.Text()}, nil
	}
	return &tools.Result{Output: result.Text()}, nil
}

// consented checks the caller's own allowances: a "this tool always"
// grant, or a "this server always" grant. YOLO agents skip consent.
func (b *bridgeTool) consented(policy *permission.Policy) bool {
	if policy.EffectiveLevel() == permission.YOLO {
		return true
	}
	return policy.HasAllowance(permission.AllowanceKey(b.Name(), "*")) ||
		policy.HasAllowance(serverKey(b.server))
}

// descriptor builds the registry descriptor for a bridged tool. The
// capability is none: the bridge applies its own rules on execute.
func (b *bridgeTool) descriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        b.Name(),
		Description: b.info.Description,
		Parameters:  b.info.InputSchema,
		Enabled:     true,
		Requires:    permission.CapNone,
	}
}

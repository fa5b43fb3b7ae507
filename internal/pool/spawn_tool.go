package pool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/tools"
)

type spawnArgs struct {
	AgentID      string   `json:"agent_id,omitempty" jsonschema:"description=Id for the new agent; generated when omitted"`
	Preset       string   `json:"preset,omitempty" jsonschema:"description=Permission preset: trusted or sandboxed,enum=trusted,enum=sandboxed,enum=worker"`
	SystemPrompt string   `json:"system_prompt,omitempty" jsonschema:"description=System prompt for the new agent"`
	DisableTools []string `json:"disable_tools,omitempty" jsonschema:"description=Tool names to disable for the new agent"`
	Model        string   `json:"model,omitempty" jsonschema:"description=Model override for the new agent"`
}

// spawnTool is the nexus_create builtin: it lets an agent spawn a
// child agent, with the caller's policy as the child's ceiling.
type spawnTool struct {
	pool *Pool
}

// RegisterSpawnTool installs nexus_create into the shared registry.
// Call after NewPool, before the first agent view is built.
func RegisterSpawnTool(r *tools.Registry, p *Pool) error {
	desc := tools.Descriptor{
		Name:        "nexus_create",
		Description: "Create a child agent. The child's permissions are capped by yours: a trusted agent gets sandboxed children, a sandboxed agent cannot spawn.",
		Parameters:  spawnSchema(),
		Enabled:     true,
		Requires:    permission.CapSpawn,
	}
	return r.Register(&desc, func() (tools.Tool, error) {
		return &spawnTool{pool: p}, nil
	})
}

func spawnSchema() json.RawMessage {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	raw, err := json.Marshal(r.Reflect(&spawnArgs{}))
	if err != nil {
		panic(fmt.Sprintf("reflect spawn schema: %v", err))
	}
	return raw
}

func (t *spawnTool) Name() string            { return "nexus_create" }
func (t *spawnTool) Description() string     { return "Create a child agent." }
func (t *spawnTool) Schema() json.RawMessage { return spawnSchema() }

func (t *spawnTool) Execute(ctx context.Context, args json.RawMessage) (*tools.Result, error) {
	parent, ok := tools.PolicyFromContext(ctx)
	if !ok {
		return &tools.Result{Error: "no calling policy present"}, nil
	}

	var a spawnArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return &tools.Result{Error: "invalid arguments: " + err.Error()}, nil
	}

	agent, err := t.pool.Create(Spec{
		ID:           a.AgentID,
		Preset:       a.Preset,
		SystemPrompt: a.SystemPrompt,
		DisableTools: a.DisableTools,
		Model:        a.Model,
		Parent:       parent,
	})
	if err != nil {
		return &tools.Result{Error: err.Error()}, nil
	}

	out, err := json.Marshal(map[string]string{
		"agent_id": agent.ID,
		"level":    agent.Policy.EffectiveLevel().String(),
	})
	if err != nil {
		return nil, err
	}
	return &tools.Result{Output: string(out)}, nil
}

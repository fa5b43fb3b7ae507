package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/nexus3/nexus3/internal/permission"
)

func staticTool(name, output string) (*Descriptor, Factory) {
	desc := &Descriptor{
		Name:        name,
		Description: "test tool " + name,
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
		Enabled:     true,
	}
	return desc, func() (Tool, error) {
		return &fakeTool{name: name, output: output}, nil
	}
}

type fakeTool struct {
	name   string
	output string
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) Description() string     { return "test tool " + t.name }
func (t *fakeTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *fakeTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	return &Result{Output: t.output}, nil
}

func TestRegistryRejectsCollisionsAndNilFactories(t *testing.T) {
	r := NewRegistry()
	desc, factory := staticTool("alpha", "a")
	if err := r.Register(desc, factory); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(desc, factory); err == nil {
		t.Error("duplicate registration succeeded")
	}
	if err := r.Register(&Descriptor{}, factory); err == nil {
		t.Error("nameless descriptor accepted")
	}
	if err := r.Register(&Descriptor{Name: "x"}, nil); err == nil {
		t.Error("nil factory accepted")
	}
}

func TestRegistryLookupCachesInstance(t *testing.T) {
	r := NewRegistry()
	calls := 0
	desc := &Descriptor{Name: "counted", Enabled: true}
	if err := r.Register(desc, func() (Tool, error) {
		calls++
		return &fakeTool{name: "counted"}, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, _, err := r.Lookup("counted"); err != nil {
			t.Fatalf("Lookup: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}

	if _, _, err := r.Lookup("missing"); err == nil {
		t.Error("unknown tool lookup succeeded")
	}
}

func TestViewMasksDisabledTools(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"alpha", "beta"} {
		desc, factory := staticTool(name, name)
		if err := r.Register(desc, factory); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	v := NewView("agent-a", r, []string{"beta"})
	defs := v.Definitions()
	if len(defs) != 1 || defs[0].Name != "alpha" {
		t.Fatalf("Definitions = %+v, want only alpha", defs)
	}
	if _, _, err := v.Lookup("beta"); err == nil {
		t.Error("disabled tool resolvable through view")
	}
	if _, _, err := v.Lookup("alpha"); err != nil {
		t.Errorf("Lookup(alpha): %v", err)
	}

	// Another agent's view is unaffected.
	other := NewView("agent-b", r, nil)
	if got := len(other.Definitions()); got != 2 {
		t.Errorf("other view sees %d tools, want 2", got)
	}
}

func TestViewDynamicTools(t *testing.T) {
	r := NewRegistry()
	v := NewView("agent-a", r, nil)

	desc := &Descriptor{Name: "mcp_files_read", Enabled: true}
	v.AddDynamic(desc, &fakeTool{name: "mcp_files_read", output: "ok"})
	desc2 := &Descriptor{Name: "mcp_files_write", Enabled: true}
	v.AddDynamic(desc2, &fakeTool{name: "mcp_files_write"})

	if got := len(v.Definitions()); got != 2 {
		t.Fatalf("Definitions = %d, want 2", got)
	}
	tool, _, err := v.Lookup("mcp_files_read")
	if err != nil {
		t.Fatalf("Lookup dynamic: %v", err)
	}
	res, err := tool.Execute(context.Background(), nil)
	if err != nil || res.Output != "ok" {
		t.Fatalf("Execute = %v, %v", res, err)
	}

	v.RemoveDynamicPrefix("mcp_files_")
	if got := len(v.Definitions()); got != 0 {
		t.Errorf("after prefix removal Definitions = %d, want 0", got)
	}
}

func TestValidateArgs(t *testing.T) {
	desc := &Descriptor{
		Name: "typed",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"count": {"type": "integer"}
			},
			"required": ["path"]
		}`),
	}

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{"valid", `{"path":"/tmp/x","count":3}`, false},
		{"missing required", `{"count":3}`, true},
		{"wrong type", `{"path":123}`, true},
		{"not an object", `[1,2]`, true},
		{"not json", `{broken`, true},
		{"empty defaults to object", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(desc, json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateArgs(%q) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
		})
	}

	// No declared schema: anything goes.
	if err := ValidateArgs(&Descriptor{Name: "free"}, json.RawMessage(`{"x":1}`)); err != nil {
		t.Errorf("schemaless ValidateArgs: %v", err)
	}
}

func TestStripInternalArgs(t *testing.T) {
	cleaned, parallel := StripInternalArgs(json.RawMessage(`{"_parallel":true,"path":"/x"}`))
	if !parallel {
		t.Error("parallel flag not detected")
	}
	var decoded map[string]any
	if err := json.Unmarshal(cleaned, &decoded); err != nil {
		t.Fatalf("cleaned args not JSON: %v", err)
	}
	if _, present := decoded[ParallelArg]; present {
		t.Error("_parallel survived stripping")
	}
	if decoded["path"] != "/x" {
		t.Error("other args disturbed")
	}

	same, parallel := StripInternalArgs(json.RawMessage(`{"path":"/x"}`))
	if parallel {
		t.Error("parallel reported without flag")
	}
	if string(same) != `{"path":"/x"}` {
		t.Errorf("args without flag rewritten: %s", same)
	}

	if _, parallel := StripInternalArgs(nil); parallel {
		t.Error("nil args reported parallel")
	}
}

func TestBuiltinEcho(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	tool, desc, err := r.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup(echo): %v", err)
	}
	if desc.Requires != permission.CapNone {
		t.Errorf("echo capability = %q", desc.Requires)
	}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{"text":"ping"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "ping" {
		t.Errorf("echo output = %q", res.Output)
	}
}

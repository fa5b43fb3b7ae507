package pool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/tools"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	p := NewPool(Options{
		Registry:   registry,
		DefaultCWD: t.TempDir(),
	})
	if err := RegisterSpawnTool(registry, p); err != nil {
		t.Fatalf("RegisterSpawnTool: %v", err)
	}
	return p
}

func TestCreateValidatesID(t *testing.T) {
	p := newTestPool(t)

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"simple", "worker-1", false},
		{"underscore", "a_b", false},
		{"spaces", "bad id", true},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("x", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Create(Spec{ID: tt.id})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Create(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestCreateGeneratesRandomID(t *testing.T) {
	p := newTestPool(t)
	a, err := p.Create(Spec{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(a.ID) != 8 {
		t.Errorf("generated id %q, want 8 chars", a.ID)
	}
	b, err := p.Create(Spec{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == b.ID {
		t.Errorf("two generated ids collided: %q", a.ID)
	}
}

func TestCreateRejectsDuplicate(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.Create(Spec{ID: "dup"}); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := p.Create(Spec{ID: "dup"}); err == nil {
		t.Fatal("duplicate Create succeeded")
	}
}

func TestCreateRejectsYOLOWithoutOptIn(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.Create(Spec{Preset: "yolo"}); err == nil {
		t.Fatal("yolo preset accepted without opt-in")
	}
	a, err := p.Create(Spec{Preset: "yolo", AllowYOLO: true})
	if err != nil {
		t.Fatalf("Create with AllowYOLO: %v", err)
	}
	if a.Policy.EffectiveLevel() != permission.YOLO {
		t.Errorf("level = %v, want yolo", a.Policy.EffectiveLevel())
	}
}

func TestCeilingAtCreate(t *testing.T) {
	p := newTestPool(t)

	trusted, err := permission.NewPreset("trusted", "", nil)
	if err != nil {
		t.Fatalf("NewPreset: %v", err)
	}
	sandboxed, err := permission.NewPreset("sandboxed", "", nil)
	if err != nil {
		t.Fatalf("NewPreset: %v", err)
	}

	// A trusted parent only gets sandboxed children regardless of
	// what it asks for.
	child, err := p.Create(Spec{Preset: "trusted", Parent: trusted})
	if err != nil {
		t.Fatalf("Create under trusted parent: %v", err)
	}
	if got := child.Policy.EffectiveLevel(); got != permission.Sandboxed {
		t.Errorf("child level = %v, want sandboxed", got)
	}
	if child.Policy.Parent != trusted {
		t.Error("child ceiling not set to parent policy")
	}

	if _, err := p.Create(Spec{Preset: "sandboxed", Parent: sandboxed}); err == nil {
		t.Error("sandboxed parent allowed to spawn")
	}
}

func TestListAndDestroy(t *testing.T) {
	p := newTestPool(t)
	for _, id := range []string{"bravo", "alpha"} {
		if _, err := p.Create(Spec{ID: id}); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	infos := p.List()
	if len(infos) != 2 || infos[0].AgentID != "alpha" || infos[1].AgentID != "bravo" {
		t.Fatalf("List = %+v, want alpha then bravo", infos)
	}

	if !p.Destroy("alpha") {
		t.Fatal("Destroy(alpha) = false")
	}
	if p.Destroy("alpha") {
		t.Fatal("second Destroy(alpha) = true")
	}
	if _, ok := p.Get("alpha"); ok {
		t.Fatal("destroyed agent still in pool")
	}
	if p.Size() != 1 {
		t.Fatalf("Size = %d, want 1", p.Size())
	}
}

func TestShutdownRejectsCreate(t *testing.T) {
	p := newTestPool(t)
	if _, err := p.Create(Spec{ID: "a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.Shutdown()
	if p.Size() != 0 {
		t.Fatalf("Size after Shutdown = %d, want 0", p.Size())
	}
	if _, err := p.Create(Spec{ID: "b"}); err == nil {
		t.Fatal("Create after Shutdown succeeded")
	}
}

func TestSpawnToolCeiling(t *testing.T) {
	p := newTestPool(t)
	tool := &spawnTool{pool: p}

	trusted, err := permission.NewPreset("trusted", "", nil)
	if err != nil {
		t.Fatalf("NewPreset: %v", err)
	}
	ctx := tools.WithPolicy(context.Background(), trusted)

	res, err := tool.Execute(ctx, json.RawMessage(`{"preset":"trusted"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("Execute error: %s", res.Error)
	}
	var out struct {
		AgentID string `json:"agent_id"`
		Level   string `json:"level"`
	}
	if err := json.Unmarshal([]byte(res.Output), &out); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Level != "sandboxed" {
		t.Errorf("spawned level = %q, want sandboxed", out.Level)
	}
	if _, ok := p.Get(out.AgentID); !ok {
		t.Errorf("spawned agent %q not in pool", out.AgentID)
	}

	// No policy in context: refuse rather than spawn unconstrained.
	res, err = tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Error == "" {
		t.Error("spawn without calling policy succeeded")
	}
}

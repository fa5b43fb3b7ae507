package mcp

import (
	"context"
	"testing"

	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/tools"
)

func testPolicy(t *testing.T, preset string) *permission.Policy {
	t.Helper()
	p, err := permission.NewPreset(preset, t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestBridgedName(t *testing.T) {
	if got := BridgedName("fs", "read"); got != "mcp_fs_read" {
		t.Errorf("BridgedName = %q", got)
	}
}

func TestBridgeDeniesWithoutPolicy(t *testing.T) {
	b := &bridgeTool{server: "fs", remote: "read", consent: ConsentAllowAll}

	result, err := b.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Error("call without a policy was allowed")
	}
}

func TestBridgeDeniesSandboxed(t *testing.T) {
	b := &bridgeTool{server: "fs", remote: "read", consent: ConsentAllowAll}
	ctx := tools.WithPolicy(context.Background(), testPolicy(t, "sandboxed"))

	result, err := b.Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Error("sandboxed agent reached an MCP tool")
	}
}

func TestBridgeCeilingDeniesSandboxedChildOfTrusted(t *testing.T) {
	parent := testPolicy(t, "trusted")
	child := testPolicy(t, "trusted")
	child.Level = permission.Sandboxed
	child.Parent = parent

	b := &bridgeTool{server: "fs", remote: "read", consent: ConsentAllowAll}
	ctx := tools.WithPolicy(context.Background(), child)

	result, err := b.Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Error("sandboxed child reached an MCP tool")
	}
}

func TestBridgePerToolConsent(t *testing.T) {
	b := &bridgeTool{server: "fs", remote: "read", consent: ConsentPerTool}
	policy := testPolicy(t, "trusted")
	ctx := tools.WithPolicy(context.Background(), policy)

	result, err := b.Execute(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Error == "" {
		t.Fatal("call without consent was allowed")
	}

	// A tool-always grant satisfies consent.
	policy.Grant(permission.AllowanceKey("mcp_fs_read", "*"))
	if !b.consented(policy) {
		t.Error("tool-always grant not honored")
	}
}

func TestBridgeServerWideConsent(t *testing.T) {
	b := &bridgeTool{server: "fs", remote: "write", consent: ConsentPerTool}
	policy := testPolicy(t, "trusted")

	policy.Grant(permission.AllowanceKey("mcp_fs", "*"))
	if !b.consented(policy) {
		t.Error("server-always grant not honored")
	}
}

func TestBridgeConsentNotSharedAcrossAgents(t *testing.T) {
	b := &bridgeTool{server: "fs", remote: "read", consent: ConsentPerTool}

	owner := testPolicy(t, "trusted")
	owner.Grant(permission.AllowanceKey("mcp_fs_read", "*"))

	other := testPolicy(t, "trusted")
	if b.consented(other) {
		t.Error("one agent's consent leaked to another")
	}
}

package mcp

import (
	"testing"

	"github.com/nexus3/nexus3/internal/tools"
)

func newTestConnection(name string, visibility Visibility, owner string, alive bool) *Connection {
	transport := &fakeTransport{connected: alive}
	return &Connection{
		Config: ServerConfig{Name: name, Command: "cmd", Visibility: visibility, Consent: ConsentAllowAll},
		Client: &Client{name: name, transport: transport},
		Owner:  owner,
		Tools:  []ToolInfo{{Name: "read", Description: "read things"}},
	}
}

func hasTool(view *tools.View, name string) bool {
	_, _, err := view.Lookup(name)
	return err == nil
}

func TestManagerVisibility(t *testing.T) {
	m := NewManager(nil, nil)
	registry := tools.NewRegistry()

	ownerView := tools.NewView("a1", registry, nil)
	otherView := tools.NewView("a2", registry, nil)
	m.RegisterView("a1", ownerView, testPolicy(t, "trusted"))
	m.RegisterView("a2", otherView, testPolicy(t, "trusted"))

	shared := newTestConnection("pub", VisibilityShared, "a1", true)
	private := newTestConnection("priv", VisibilityPrivate, "a1", true)
	m.connections["pub"] = shared
	m.connections["priv"] = private
	for agentID, av := range m.views {
		m.attachLocked(shared, agentID, av)
		m.attachLocked(private, agentID, av)
	}

	if !hasTool(ownerView, "mcp_pub_read") || !hasTool(ownerView, "mcp_priv_read") {
		t.Error("owner missing its connections")
	}
	if !hasTool(otherView, "mcp_pub_read") {
		t.Error("shared connection not visible to other agent")
	}
	if hasTool(otherView, "mcp_priv_read") {
		t.Error("private connection leaked to other agent")
	}
}

func TestManagerSandboxedViewsGetNothing(t *testing.T) {
	m := NewManager(nil, nil)
	registry := tools.NewRegistry()

	view := tools.NewView("sb", registry, nil)
	m.RegisterView("sb", view, testPolicy(t, "sandboxed"))

	conn := newTestConnection("pub", VisibilityShared, "a1", true)
	m.connections["pub"] = conn
	for agentID, av := range m.views {
		m.attachLocked(conn, agentID, av)
	}

	if hasTool(view, "mcp_pub_read") {
		t.Error("sandboxed agent received MCP tools")
	}
}

func TestManagerDisconnectRequiresOwner(t *testing.T) {
	m := NewManager(nil, nil)
	registry := tools.NewRegistry()

	view := tools.NewView("a1", registry, nil)
	m.RegisterView("a1", view, testPolicy(t, "trusted"))

	conn := newTestConnection("pub", VisibilityShared, "a1", true)
	m.connections["pub"] = conn
	m.attachLocked(conn, "a1", m.views["a1"])

	if err := m.Disconnect("pub", "a2"); err == nil {
		t.Fatal("non-owner disconnected the server")
	}
	if !hasTool(view, "mcp_pub_read") {
		t.Fatal("rejected disconnect removed tools")
	}

	if err := m.Disconnect("pub", "a1"); err != nil {
		t.Fatalf("owner disconnect: %v", err)
	}
	if hasTool(view, "mcp_pub_read") {
		t.Error("disconnected server's tools survived")
	}
	if _, ok := m.connections["pub"]; ok {
		t.Error("connection still tracked after disconnect")
	}

	if err := m.Disconnect("pub", "a1"); err == nil {
		t.Error("second disconnect of the same server succeeded")
	}
}

func TestManagerRefreshDropsDeadConnections(t *testing.T) {
	m := NewManager(nil, nil)
	registry := tools.NewRegistry()

	view := tools.NewView("a1", registry, nil)
	m.RegisterView("a1", view, testPolicy(t, "trusted"))

	dead := newTestConnection("gone", VisibilityShared, "a1", false)
	m.connections["gone"] = dead
	m.attachLocked(dead, "a1", m.views["a1"])

	if !hasTool(view, "mcp_gone_read") {
		t.Fatal("setup: tool not attached")
	}
	m.Refresh()

	if hasTool(view, "mcp_gone_read") {
		t.Error("dead connection's tools survived refresh")
	}
	if _, ok := m.connections["gone"]; ok {
		t.Error("dead connection still tracked")
	}
}

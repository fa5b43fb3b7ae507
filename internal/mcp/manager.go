package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nexus3/nexus3/internal/observability"
	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/tools"
)

// Connection is one live MCP server attachment.
type Connection struct {
	Config ServerConfig
	Client *Client
	Owner  string
	Tools  []ToolInfo
}

func (c *Connection) visibleTo(agentID string) bool {
	if c.Config.Visibility == VisibilityPrivate {
		return c.Owner == agentID
	}
	return true
}

// Manager owns all MCP connections and keeps agent views in sync with
// them: attach on connect, drop on death.
type Manager struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu          sync.Mutex
	connections map[string]*Connection
	views       map[string]*agentView
}

type agentView struct {
	view   *tools.View
	policy *permission.Policy
}

// NewManager builds an empty connection manager.
func NewManager(logger *slog.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:      logger,
		metrics:     metrics,
		connections: make(map[string]*Connection),
		views:       make(map[string]*agentView),
	}
}

// Connect establishes a server connection owned by agent owner and
// attaches its tools to every view the visibility rules admit.
// Sandboxed owners may not connect at all.
func (m *Manager) Connect(ctx context.Context, cfg ServerConfig, owner string, ownerPolicy *permission.Policy) (*Connection, error) {
	if ownerPolicy == nil || ownerPolicy.EffectiveLevel() == permission.Sandboxed {
		return nil, fmt.Errorf("sandboxed agents may not attach MCP servers")
	}
	if cfg.Consent == ConsentDeny {
		return nil, fmt.Errorf("mcp server %s: consent is deny", cfg.Name)
	}

	client, err := NewClient(&cfg, m.logger)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	toolList, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}

	conn := &Connection{Config: cfg, Client: client, Owner: owner, Tools: toolList}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.connections[cfg.Name]; exists {
		client.Close()
		return nil, fmt.Errorf("mcp server %s already connected", cfg.Name)
	}
	m.connections[cfg.Name] = conn
	for agentID, av := range m.views {
		m.attachLocked(conn, agentID, av)
	}
	m.logger.Info("MCP server attached",
		"server", cfg.Name, "owner", owner, "tools", len(toolList))
	return conn, nil
}

// RegisterView enrolls an agent's view so current and future
// connections appear in it. Sandboxed agents are enrolled but never
// receive MCP tools.
func (m *Manager) RegisterView(agentID string, view *tools.View, policy *permission.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	av := &agentView{view: view, policy: policy}
	m.views[agentID] = av
	for _, conn := range m.connections {
		m.attachLocked(conn, agentID, av)
	}
}

// UnregisterView removes an agent's view on destroy.
func (m *Manager) UnregisterView(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.views, agentID)
}

func (m *Manager) attachLocked(conn *Connection, agentID string, av *agentView) {
	if av.policy != nil && av.policy.EffectiveLevel() == permission.Sandboxed {
		return
	}
	if !conn.visibleTo(agentID) {
		return
	}
	for _, info := range conn.Tools {
		bridge := &bridgeTool{
			server:  conn.Config.Name,
			remote:  info.Name,
			info:    info,
			consent: conn.Config.Consent,
			client:  conn.Client,
		}
		av.view.AddDynamic(bridge.descriptor(), bridge)
	}
}

// Refresh drops dead connections from the pool and from every view.
// Called before each registry consultation; a connection whose child
// exited or whose HTTP transport failed disappears silently.
func (m *Manager) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, conn := range m.connections {
		if conn.Client.Alive() {
			continue
		}
		delete(m.connections, name)
		prefix := "mcp_" + name + "_"
		for _, av := range m.views {
			av.view.RemoveDynamicPrefix(prefix)
		}
		m.logger.Warn("dropped dead MCP connection", "server", name)
	}
}

// Disconnect closes one connection and removes its tools everywhere.
// Only the owning agent may disconnect a server.
func (m *Manager) Disconnect(name, agentID string) error {
	m.mu.Lock()
	conn, ok := m.connections[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown mcp server %s", name)
	}
	if conn.Owner != agentID {
		m.mu.Unlock()
		return fmt.Errorf("mcp server %s is owned by %s", name, conn.Owner)
	}
	delete(m.connections, name)
	prefix := "mcp_" + name + "_"
	for _, av := range m.views {
		av.view.RemoveDynamicPrefix(prefix)
	}
	m.mu.Unlock()
	return conn.Client.Close()
}

// Shutdown closes every connection.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()
	for _, c := range conns {
		c.Client.Close()
	}
}

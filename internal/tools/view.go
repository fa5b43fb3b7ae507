package tools

import (
	"fmt"
	"sort"
	"sync"
)

// View is an agent's window onto the shared registry. It applies the
// agent's enable/disable mask and carries the agent's dynamic (MCP)
// tools, so Definitions for agent A excludes tools disabled for A and
// includes only connections visible to A.
type View struct {
	AgentID string

	registry *Registry

	mu       sync.RWMutex
	disabled map[string]struct{}
	dynamic  map[string]*dynamicEntry
}

type dynamicEntry struct {
	desc *Descriptor
	tool Tool
}

// NewView creates a view over registry with the given disabled tools.
func NewView(agentID string, registry *Registry, disabledTools []string) *View {
	disabled := make(map[string]struct{}, len(disabledTools))
	for _, name := range disabledTools {
		disabled[name] = struct{}{}
	}
	return &View{
		AgentID:  agentID,
		registry: registry,
		disabled: disabled,
		dynamic:  make(map[string]*dynamicEntry),
	}
}

// Disabled reports whether the agent has the named tool masked off.
func (v *View) Disabled(name string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.disabled[name]
	return ok
}

// AddDynamic installs an already-constructed tool (an MCP bridge) into
// this view only. Replaces any previous dynamic tool of the same name.
func (v *View) AddDynamic(desc *Descriptor, tool Tool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dynamic[desc.Name] = &dynamicEntry{desc: desc, tool: tool}
}

// RemoveDynamic drops a dynamic tool, typically on connection death.
func (v *View) RemoveDynamic(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.dynamic, name)
}

// RemoveDynamicPrefix drops every dynamic tool whose name starts with
// prefix (all tools of one MCP server).
func (v *View) RemoveDynamicPrefix(prefix string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for name := range v.dynamic {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			delete(v.dynamic, name)
		}
	}
}

// Definitions returns the tool-definition list handed to the provider
// for this agent: enabled registry tools plus the view's dynamic tools,
// sorted by name for stable request bodies.
func (v *View) Definitions() []Definition {
	v.mu.RLock()
	defer v.mu.RUnlock()

	defs := make([]Definition, 0, len(v.dynamic)+8)
	for _, name := range v.registry.Names() {
		if _, off := v.disabled[name]; off {
			continue
		}
		desc, ok := v.registry.Descriptor(name)
		if !ok || !desc.Enabled {
			continue
		}
		defs = append(defs, Definition{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Parameters,
		})
	}
	for _, e := range v.dynamic {
		if _, off := v.disabled[e.desc.Name]; off {
			continue
		}
		defs = append(defs, Definition{
			Name:        e.desc.Name,
			Description: e.desc.Description,
			Parameters:  e.desc.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Lookup resolves a tool by name through the agent's mask: dynamic
// tools first, then the shared registry.
func (v *View) Lookup(name string) (Tool, *Descriptor, error) {
	v.mu.RLock()
	if _, off := v.disabled[name]; off {
		v.mu.RUnlock()
		return nil, nil, fmt.Errorf("tool disabled for agent %s: %s", v.AgentID, name)
	}
	if e, ok := v.dynamic[name]; ok {
		v.mu.RUnlock()
		return e.tool, e.desc, nil
	}
	v.mu.RUnlock()
	return v.registry.Lookup(name)
}

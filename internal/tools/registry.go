package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds tool descriptors and factories. Descriptors are
// immutable once registered; instances are created lazily and cached.
// The registry is shared across agents; per-agent masking happens in
// View.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	desc    *Descriptor
	factory Factory
	tool    Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool. Name collisions are an error: MCP tools are
// namespaced before registration precisely to avoid them.
func (r *Registry) Register(desc *Descriptor, factory Factory) error {
	if desc == nil || desc.Name == "" {
		return fmt.Errorf("descriptor must carry a name")
	}
	if factory == nil {
		return fmt.Errorf("tool %s: nil factory", desc.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("tool %s already registered", desc.Name)
	}
	r.entries[desc.Name] = &entry{desc: desc, factory: factory}
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Descriptor returns the descriptor for name.
func (r *Registry) Descriptor(name string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.desc, true
}

// Lookup returns a prepared tool instance, constructing and caching it
// on first use.
func (r *Registry) Lookup(name string) (Tool, *Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, nil, fmt.Errorf("unknown tool: %s", name)
	}
	if e.tool == nil {
		tool, err := e.factory()
		if err != nil {
			return nil, nil, fmt.Errorf("tool %s: %w", name, err)
		}
		e.tool = tool
	}
	return e.tool, e.desc, nil
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

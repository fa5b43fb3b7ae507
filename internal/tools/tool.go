// Package tools provides the uniform invocation surface over
// in-process tools and bridged external (MCP) tools: descriptors,
// the shared registry, per-agent views, and argument validation.
package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexus3/nexus3/internal/permission"
)

// Result is the raw output of a tool execution. A result is successful
// iff Error is empty.
type Result struct {
	Output string
	Error  string
}

// Tool is an executable capability exposed to the model.
//
// Execute returns an error only for infrastructure failures; tool-level
// failures are reported in Result.Error so the model can react to them.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// ResourceReporter is implemented by tools whose arguments reference
// files or URLs. The session engine uses it to build the permission
// request for a call before invoking the tool.
type ResourceReporter interface {
	// Resources extracts the paths and URLs the call would touch.
	Resources(args json.RawMessage) (reads, writes, urls []string)
}

// Descriptor is the registry's immutable record of a tool.
type Descriptor struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Enabled     bool
	Requires    permission.Capability
	Timeout     time.Duration
}

// DefaultTimeout bounds a tool call when the descriptor does not
// declare its own.
const DefaultTimeout = 30 * time.Second

// EffectiveTimeout returns the declared timeout or the default.
func (d *Descriptor) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	return DefaultTimeout
}

// Definition is the JSON-schema descriptor handed to the provider.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Factory produces a prepared tool instance. Lookup caches the result.
type Factory func() (Tool, error)

type policyContextKey struct{}

// WithPolicy attaches the calling agent's permission policy to ctx so
// builtin tools can apply sandbox validation at execution time.
func WithPolicy(ctx context.Context, p *permission.Policy) context.Context {
	return context.WithValue(ctx, policyContextKey{}, p)
}

// PolicyFromContext returns the policy attached by WithPolicy, if any.
func PolicyFromContext(ctx context.Context) (*permission.Policy, bool) {
	p, ok := ctx.Value(policyContextKey{}).(*permission.Policy)
	return p, ok
}

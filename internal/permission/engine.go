package permission

import (
	"net/url"

	"github.com/nexus3/nexus3/internal/sandbox"
)

// Verdict is the outcome of a permission check.
type Verdict int

const (
	Allow Verdict = iota
	Confirm
	Deny
)

func (v Verdict) String() string {
	switch v {
	case Allow:
		return "allow"
	case Confirm:
		return "confirm"
	default:
		return "deny"
	}
}

// Decision is a verdict plus a human-readable reason. Deny and Confirm
// are return values, never errors: programmatic callers propagate them
// as tool-result errors, interactive callers consult a confirmer.
type Decision struct {
	Verdict Verdict
	Reason  string
}

func allow() Decision                { return Decision{Verdict: Allow} }
func confirm(reason string) Decision { return Decision{Verdict: Confirm, Reason: reason} }
func deny(reason string) Decision    { return Decision{Verdict: Deny, Reason: reason} }

// Request describes one tool call to be checked: the tool, the
// capability its descriptor requires, and the resource arguments it
// would touch.
type Request struct {
	Tool       string
	Capability Capability
	ReadPaths  []string
	WritePaths []string
	URLs       []string
}

// Engine resolves the effective policy for a tool call. It is stateless
// with respect to UI: confirmation routing is the caller's concern.
type Engine struct{}

// NewEngine returns a permission engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Check answers "may this call proceed?" for the given request under
// policy. Resolution order: disabled tools, level base policy, per-tool
// override (upgrade only), then parent ceiling intersection.
func (e *Engine) Check(req Request, policy *Policy) Decision {
	if policy == nil {
		return deny("no policy present")
	}
	if policy.ToolDisabled(req.Tool) {
		return deny("tool disabled: " + req.Tool)
	}

	decision := e.checkChain(req, policy)

	if override, ok := policy.Overrides[req.Tool]; ok {
		decision = upgrade(decision, override)
	}
	return decision
}

// checkChain evaluates the request against the policy and every
// ancestor, keeping the strictest verdict. This is the ceiling
// intersection: a child never passes a check its parent would fail.
func (e *Engine) checkChain(req Request, policy *Policy) Decision {
	decision := e.checkLevel(req, policy)
	for parent := policy.Parent; parent != nil; parent = parent.Parent {
		ancestor := e.checkLevel(req, parent)
		if ancestor.Verdict > decision.Verdict {
			decision = ancestor
		}
	}
	return decision
}

func (e *Engine) checkLevel(req Request, policy *Policy) Decision {
	switch policy.Level {
	case YOLO:
		return allow()
	case Sandboxed:
		return e.checkSandboxed(req, policy)
	default:
		return e.checkTrusted(req, policy)
	}
}

// checkSandboxed is deny-by-default: only calls whose every resource
// argument passes the sandbox validators are allowed.
func (e *Engine) checkSandboxed(req Request, policy *Policy) Decision {
	switch req.Capability {
	case CapShell, CapSpawn:
		return deny(string(req.Capability) + " not permitted in sandboxed mode")
	}
	for _, p := range req.ReadPaths {
		if _, err := sandbox.ValidatePath(p, policy.AllowedReadPaths, true); err != nil {
			return deny(err.Error())
		}
	}
	for _, p := range req.WritePaths {
		if _, err := sandbox.ValidatePath(p, policy.AllowedWritePaths, true); err != nil {
			return deny(err.Error())
		}
	}
	if req.Capability == CapWrite && len(req.WritePaths) == 0 {
		return deny("write tool with no validated write path")
	}
	if req.Capability == CapNetwork || len(req.URLs) > 0 {
		if !policy.NetworkAllowed {
			return deny("network not permitted in sandboxed mode")
		}
		for _, raw := range req.URLs {
			if !hostAllowed(raw, policy.AllowHosts) {
				return deny("url host not in allow-list: " + raw)
			}
		}
	}
	return allow()
}

// checkTrusted allows reads outright; writes, network, and shell
// require confirmation unless a session allowance covers the resource.
func (e *Engine) checkTrusted(req Request, policy *Policy) Decision {
	switch req.Capability {
	case CapNone, CapRead:
		return allow()
	}
	resource := primaryResource(req)
	if policy.HasAllowance(AllowanceKey(req.Tool, resource)) ||
		policy.HasAllowance(AllowanceKey(req.Tool, "*")) {
		return allow()
	}
	return confirm(string(req.Capability) + " requires confirmation: " + req.Tool)
}

func primaryResource(req Request) string {
	if len(req.WritePaths) > 0 {
		return req.WritePaths[0]
	}
	if len(req.URLs) > 0 {
		return req.URLs[0]
	}
	if len(req.ReadPaths) > 0 {
		return req.ReadPaths[0]
	}
	return "*"
}

func hostAllowed(raw string, allowHosts []string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := sandbox.NormalizeHostname(parsed.Hostname())
	for _, allowed := range allowHosts {
		if allowed == "*" || sandbox.NormalizeHostname(allowed) == host {
			return true
		}
	}
	return false
}

// upgrade applies a per-tool override, moving the decision only toward
// stricter verdicts.
func upgrade(d Decision, override Override) Decision {
	switch override {
	case OverrideDeny:
		if d.Verdict < Deny {
			return deny("denied by per-tool override")
		}
	case OverrideConfirm:
		if d.Verdict < Confirm {
			return confirm("confirmation required by per-tool override")
		}
	}
	return d
}

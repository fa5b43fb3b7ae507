// Package permission implements the ceiling-inheriting permission model
// applied to every tool call. Policies are created at agent spawn; the
// only runtime mutation is the append-only session allowance set.
package permission

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
)

// Level orders permission levels from most to least restrictive.
type Level int

const (
	Sandboxed Level = iota
	Trusted
	YOLO
)

// ParseLevel parses a level name as used in config and presets.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sandboxed":
		return Sandboxed, nil
	case "trusted":
		return Trusted, nil
	case "yolo":
		return YOLO, nil
	}
	return Sandboxed, fmt.Errorf("unknown permission level %q", s)
}

func (l Level) String() string {
	switch l {
	case YOLO:
		return "yolo"
	case Trusted:
		return "trusted"
	default:
		return "sandboxed"
	}
}

// Capability classifies the side effect a tool requires permission for.
type Capability string

const (
	CapNone    Capability = ""
	CapRead    Capability = "read"
	CapWrite   Capability = "write"
	CapNetwork Capability = "network"
	CapShell   Capability = "shell"
	CapSpawn   Capability = "spawn"
)

// Override is a per-tool policy tightening. Overrides may only upgrade
// severity (allow -> confirm -> deny), never relax it.
type Override string

const (
	OverrideConfirm Override = "confirm"
	OverrideDeny    Override = "deny"
)

// Policy is the permission policy for one agent. The effective policy
// is the intersection of the policy with its parent ceiling: a child
// may never hold a permission its parent lacks.
type Policy struct {
	Level             Level
	AllowedReadPaths  []string
	AllowedWritePaths []string
	NetworkAllowed    bool
	AllowHosts        []string
	DisabledTools     []string
	Overrides         map[string]Override

	// Parent is the spawning agent's effective policy, nil for roots.
	Parent *Policy

	mu         sync.Mutex
	allowances map[string]struct{}
}

// NewPreset builds a policy from a named preset. cwd seeds the read
// root; writePaths are granted explicitly (writes default to disabled).
func NewPreset(name, cwd string, writePaths []string) (*Policy, error) {
	level, err := presetLevel(name)
	if err != nil {
		return nil, err
	}
	p := &Policy{
		Level:             level,
		AllowedWritePaths: writePaths,
	}
	if cwd != "" {
		p.AllowedReadPaths = []string{cwd}
	}
	switch level {
	case YOLO:
		p.NetworkAllowed = true
		p.AllowHosts = []string{"*"}
	case Trusted:
		p.NetworkAllowed = true
	}
	return p, nil
}

func presetLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sandboxed", "worker":
		return Sandboxed, nil
	case "trusted":
		return Trusted, nil
	case "yolo":
		return YOLO, nil
	}
	return Sandboxed, fmt.Errorf("unknown preset %q", name)
}

// EffectiveLevel returns the level after ceiling intersection with all
// ancestors.
func (p *Policy) EffectiveLevel() Level {
	level := p.Level
	for parent := p.Parent; parent != nil; parent = parent.Parent {
		if parent.Level < level {
			level = parent.Level
		}
	}
	return level
}

// ToolDisabled reports whether the tool is disabled by this policy or
// any ancestor.
func (p *Policy) ToolDisabled(name string) bool {
	for cur := p; cur != nil; cur = cur.Parent {
		for _, t := range cur.DisabledTools {
			if t == name {
				return true
			}
		}
	}
	return false
}

// ChildLevel computes the level a child spawned by parentLevel may
// hold when requesting requested. A trusted agent may only spawn
// sandboxed children; a sandboxed agent may not spawn at all.
func ChildLevel(parentLevel, requested Level) (Level, error) {
	switch parentLevel {
	case Sandboxed:
		return Sandboxed, fmt.Errorf("sandboxed agents may not spawn children")
	case Trusted:
		return Sandboxed, nil
	default:
		return requested, nil
	}
}

// AllowanceKey derives the session-allowance key for a tool/resource
// pair. Grants are per-agent and never inherited.
func AllowanceKey(tool, resource string) string {
	sum := sha256.Sum256([]byte(tool + "\x00" + resource))
	return hex.EncodeToString(sum[:8])
}

// Grant appends a session allowance. Append-only within a session.
func (p *Policy) Grant(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allowances == nil {
		p.allowances = make(map[string]struct{})
	}
	p.allowances[key] = struct{}{}
}

// HasAllowance reports whether the allowance key has been granted on
// this policy. Ancestor allowances are deliberately not consulted.
func (p *Policy) HasAllowance(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.allowances[key]
	return ok
}

// Package pool owns the set of hosted agents: creation, lookup,
// destruction, and the shared resources every agent draws on.
package pool

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/nexus3/nexus3/internal/contextmgr"
	"github.com/nexus3/nexus3/internal/dispatch"
	"github.com/nexus3/nexus3/internal/mcp"
	"github.com/nexus3/nexus3/internal/observability"
	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/provider"
	"github.com/nexus3/nexus3/internal/session"
	"github.com/nexus3/nexus3/internal/store"
	"github.com/nexus3/nexus3/internal/tokens"
	"github.com/nexus3/nexus3/internal/tools"
	"github.com/nexus3/nexus3/pkg/models"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const randomIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Options are the shared resources the pool hands to every agent.
// Immutable after NewPool.
type Options struct {
	Provider provider.Client
	Registry *tools.Registry
	Engine   *permission.Engine

	// MCP, when set, attaches visible server tools to each new view.
	MCP *mcp.Manager

	// Store receives the append-only message and compaction audit log.
	Store store.Store

	// Transcripts, when set, additionally renders markdown transcripts.
	Transcripts *store.TranscriptWriter

	// RawLogDir, when set, enables per-agent raw provider JSONL logs.
	RawLogDir string

	ContextConfig contextmgr.Config
	SessionConfig session.Config

	// DefaultCWD seeds the sandbox read root when create omits cwd.
	DefaultCWD string

	// CallTimeout bounds one dispatcher call. Zero means the default.
	CallTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Spec describes one create_agent request.
type Spec struct {
	ID                string
	Preset            string
	DisableTools      []string
	CWD               string
	Model             string
	SystemPrompt      string
	AllowedWritePaths []string

	// Parent is the requesting agent's policy, nil for root creation.
	// When set, it becomes the new agent's permission ceiling.
	Parent *permission.Policy

	// AllowYOLO permits the yolo preset. Only local interactive
	// creation sets it; RPC and spawned creation never do.
	AllowYOLO bool
}

// Agent bundles one agent's per-agent resources.
type Agent struct {
	ID         string
	Policy     *permission.Policy
	View       *tools.View
	Context    *contextmgr.Manager
	Session    *session.Session
	Dispatcher *dispatch.Dispatcher
	Notifier   *session.Notifier
	CreatedAt  time.Time

	rawLog *store.RawLog
}

// Pool is the agent registry. All map mutation happens under the lock;
// reads take the lock or receive a snapshot.
type Pool struct {
	opts    Options
	counter tokens.Counter
	logger  *slog.Logger

	mu     sync.Mutex
	agents map[string]*Agent
	closed bool
}

// NewPool builds an empty pool over the shared resources.
func NewPool(opts Options) *Pool {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Engine == nil {
		opts.Engine = permission.NewEngine()
	}
	return &Pool{
		opts:    opts,
		counter: tokens.NewEstimator(),
		logger:  opts.Logger,
		agents:  make(map[string]*Agent),
	}
}

// Create builds an agent and registers it. The whole construction runs
// under the pool lock so a half-built agent is never observable.
func (p *Pool) Create(spec Spec) (*Agent, error) {
	id := spec.ID
	if id == "" {
		id = randomID()
	} else if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid agent id %q: must match [A-Za-z0-9_-]{1,64}", id)
	}

	policy, err := p.buildPolicy(spec)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("pool is shut down")
	}
	if _, exists := p.agents[id]; exists {
		return nil, fmt.Errorf("agent %q already exists", id)
	}

	agent, err := p.buildAgent(id, spec, policy)
	if err != nil {
		return nil, err
	}
	p.agents[id] = agent
	if p.opts.Metrics != nil {
		p.opts.Metrics.ActiveAgents.Inc()
	}
	p.logger.Info("agent created",
		"agent_id", id, "level", policy.EffectiveLevel().String())
	return agent, nil
}

// buildPolicy resolves the preset and applies the ceiling rule: the
// requesting agent's policy becomes the child's parent ceiling, and a
// trusted parent only ever gets sandboxed children.
func (p *Pool) buildPolicy(spec Spec) (*permission.Policy, error) {
	preset := spec.Preset
	if preset == "" {
		preset = "sandboxed"
	}
	requested, err := permission.ParseLevel(presetToLevel(preset))
	if err != nil {
		return nil, err
	}
	if requested == permission.YOLO && !spec.AllowYOLO {
		return nil, fmt.Errorf("yolo preset is not permitted here")
	}

	level := requested
	if spec.Parent != nil {
		level, err = permission.ChildLevel(spec.Parent.EffectiveLevel(), requested)
		if err != nil {
			return nil, err
		}
	}

	cwd := spec.CWD
	if cwd == "" {
		cwd = p.opts.DefaultCWD
	}
	policy, err := permission.NewPreset(level.String(), cwd, spec.AllowedWritePaths)
	if err != nil {
		return nil, err
	}
	policy.DisabledTools = spec.DisableTools
	policy.Parent = spec.Parent
	return policy, nil
}

func (p *Pool) buildAgent(id string, spec Spec, policy *permission.Policy) (*Agent, error) {
	view := tools.NewView(id, p.opts.Registry, spec.DisableTools)
	if p.opts.MCP != nil {
		p.opts.MCP.RegisterView(id, view, policy)
	}

	cfg := p.opts.ContextConfig
	if cfg.MaxTokens == 0 {
		cfg = contextmgr.DefaultConfig()
	}
	ctxmgr, err := contextmgr.NewManager(id, cfg, p.counter, p.audit(), p.logger)
	if err != nil {
		p.detachView(id)
		return nil, fmt.Errorf("build context manager: %w", err)
	}

	var rawLog *store.RawLog
	var recorder provider.RawRecorder
	if p.opts.RawLogDir != "" {
		rawLog, err = store.NewRawLog(p.opts.RawLogDir, id, p.logger)
		if err != nil {
			p.detachView(id)
			return nil, fmt.Errorf("open raw log: %w", err)
		}
		recorder = rawLog
	}

	sessCfg := p.opts.SessionConfig
	if sessCfg.MaxIterations == 0 {
		sessCfg = session.DefaultConfig()
	}
	sessCfg.Model = spec.Model

	systemPrompt := func() string { return spec.SystemPrompt }
	notifier := session.NewNotifier(0)

	var refresher session.Refresher
	if p.opts.MCP != nil {
		refresher = p.opts.MCP
	}

	sess := session.NewSession(session.Params{
		AgentID:      id,
		Config:       sessCfg,
		Policy:       policy,
		Engine:       p.opts.Engine,
		View:         view,
		Context:      ctxmgr,
		Provider:     p.opts.Provider,
		SystemPrompt: systemPrompt,
		Refresher:    refresher,
		Notifier:     notifier,
		Logger:       p.logger,
		Metrics:      p.opts.Metrics,
		RawRecorder:  recorder,
	})

	disp := dispatch.New(id, sess, ctxmgr, view, p.opts.Provider,
		systemPrompt, p.logger, p.opts.CallTimeout)

	return &Agent{
		ID:         id,
		Policy:     policy,
		View:       view,
		Context:    ctxmgr,
		Session:    sess,
		Dispatcher: disp,
		Notifier:   notifier,
		CreatedAt:  time.Now(),
		rawLog:     rawLog,
	}, nil
}

// audit combines the durable store with the markdown transcripts into
// one context audit log. Either half may be absent.
func (p *Pool) audit() contextmgr.AuditLog {
	if p.opts.Store == nil && p.opts.Transcripts == nil {
		return nil
	}
	return &auditTee{store: p.opts.Store, transcripts: p.opts.Transcripts, logger: p.logger}
}

func (p *Pool) detachView(id string) {
	if p.opts.MCP != nil {
		p.opts.MCP.UnregisterView(id)
	}
}

// Get looks up an agent by id.
func (p *Pool) Get(id string) (*Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	agent, ok := p.agents[id]
	return agent, ok
}

// List returns a snapshot of agent metadata sorted by id.
func (p *Pool) List() []models.AgentInfo {
	p.mu.Lock()
	agents := make([]*Agent, 0, len(p.agents))
	for _, a := range p.agents {
		agents = append(agents, a)
	}
	p.mu.Unlock()

	infos := make([]models.AgentInfo, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, models.AgentInfo{
			AgentID:      a.ID,
			MessageCount: a.Context.MessageCount(),
			CreatedAt:    a.CreatedAt,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].AgentID < infos[j].AgentID })
	return infos
}

// Destroy removes an agent: cancels its in-flight requests, detaches
// its MCP view, and closes its raw log.
func (p *Pool) Destroy(id string) bool {
	p.mu.Lock()
	agent, ok := p.agents[id]
	if ok {
		delete(p.agents, id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	agent.Dispatcher.Shutdown()
	p.detachView(id)
	if agent.rawLog != nil {
		agent.rawLog.Close()
	}
	if p.opts.Metrics != nil {
		p.opts.Metrics.ActiveAgents.Dec()
	}
	p.logger.Info("agent destroyed", "agent_id", id)
	return true
}

// Shutdown destroys every agent and rejects further creates.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	ids := make([]string, 0, len(p.agents))
	for id := range p.agents {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Destroy(id)
	}
}

// Size reports the current agent count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}

func presetToLevel(preset string) string {
	if preset == "worker" {
		return "sandboxed"
	}
	return preset
}

func randomID() string {
	buf := make([]byte, 8)
	rand.Read(buf)
	for i := range buf {
		buf[i] = randomIDAlphabet[int(buf[i])%len(randomIDAlphabet)]
	}
	return string(buf)
}

// auditTee fans one audit stream out to the durable store and the
// transcript writer. Transcript failures are logged, never propagated:
// the durable log is the source of truth.
type auditTee struct {
	store       store.Store
	transcripts *store.TranscriptWriter
	logger      *slog.Logger
}

func (t *auditTee) AppendMessage(agentID string, msg models.Message) error {
	if t.transcripts != nil {
		if err := t.transcripts.Append(agentID, msg); err != nil {
			t.logger.Warn("transcript append failed", "agent_id", agentID, "error", err)
		}
	}
	if t.store == nil {
		return nil
	}
	return t.store.AppendMessage(agentID, msg)
}

func (t *auditTee) RecordCompaction(agentID string, rec contextmgr.CompactionRecord) error {
	if t.store == nil {
		return nil
	}
	return t.store.RecordCompaction(agentID, rec)
}

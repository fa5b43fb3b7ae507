package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nexus3/nexus3/internal/config"
	"github.com/nexus3/nexus3/internal/contextmgr"
	"github.com/nexus3/nexus3/internal/mcp"
	"github.com/nexus3/nexus3/internal/observability"
	"github.com/nexus3/nexus3/internal/permission"
	"github.com/nexus3/nexus3/internal/pool"
	"github.com/nexus3/nexus3/internal/provider"
	"github.com/nexus3/nexus3/internal/rpc"
	"github.com/nexus3/nexus3/internal/session"
	"github.com/nexus3/nexus3/internal/store"
	"github.com/nexus3/nexus3/internal/tools"
)

func runServe(ctx context.Context, configPath string, portOverride int, debug bool) error {
	// The headless server is opt-in: it executes tools on behalf of
	// anyone holding the RPC token.
	if os.Getenv("NEXUS_DEV") == "" {
		return fmt.Errorf("headless server disabled: set NEXUS_DEV=1 to enable")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	metrics := observability.NewMetrics()

	prov, err := provider.NewOpenAIClient(cfg.APIKey(), provider.Options{
		BaseURL:        cfg.Provider.BaseURL,
		Model:          cfg.Provider.Model,
		MaxRetries:     cfg.Provider.MaxRetries,
		RequestTimeout: cfg.Provider.RequestTimeout,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}

	mcpMgr := mcp.NewManager(logger, metrics)
	defer mcpMgr.Shutdown()
	if err := connectMCPServers(ctx, mcpMgr, cfg, logger); err != nil {
		return err
	}

	opts := pool.Options{
		Provider: prov,
		Registry: registry,
		MCP:      mcpMgr,
		ContextConfig: contextmgr.Config{
			MaxTokens:           cfg.Context.MaxTokens,
			ReserveTokens:       cfg.Context.ReserveTokens,
			TriggerRatio:        cfg.Context.TriggerRatio,
			SummaryBudgetRatio:  cfg.Context.SummaryBudgetRatio,
			RecentPreserveRatio: cfg.Context.RecentPreserveRatio,
			Strategy:            cfg.Context.Strategy,
			CompactorModel:      cfg.Provider.CompactorModel,
		},
		SessionConfig: session.Config{
			MaxIterations:      cfg.Session.MaxIterations,
			MaxConcurrentTools: cfg.Session.MaxConcurrentTools,
			CancelGrace:        cfg.Session.CancelGrace,
		},
		CallTimeout: cfg.Session.CallTimeout,
		DefaultCWD:  mustGetwd(),
		Logger:      logger,
		Metrics:     metrics,
	}

	var db *store.SQLiteStore
	if cfg.Storage.DataDir != "" {
		if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
		db, err = store.NewSQLiteStore(filepath.Join(cfg.Storage.DataDir, "nexus3.db"))
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Store = db

		transcripts, err := store.NewTranscriptWriter(filepath.Join(cfg.Storage.DataDir, "transcripts"))
		if err != nil {
			return err
		}
		defer transcripts.Close()
		opts.Transcripts = transcripts
		opts.RawLogDir = filepath.Join(cfg.Storage.DataDir, "raw")
	}

	agentPool := pool.NewPool(opts)
	defer agentPool.Shutdown()
	if err := pool.RegisterSpawnTool(registry, agentPool); err != nil {
		return fmt.Errorf("register spawn tool: %w", err)
	}

	token, err := rpc.LoadOrCreateToken(cfg.Server.Port)
	if err != nil {
		return err
	}
	server := rpc.NewServer(agentPool, rpc.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, token, logger, metrics)
	if err := server.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down on signal", "signal", sig.String())
	case <-server.ShutdownRequested():
		logger.Info("shutting down on rpc request")
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(stopCtx)
}

// connectMCPServers attaches each configured server under a trusted
// server-level owner. Individual failures are logged and skipped so
// one dead server does not block startup.
func connectMCPServers(ctx context.Context, mgr *mcp.Manager, cfg *config.Config, logger *slog.Logger) error {
	if len(cfg.MCP) == 0 {
		return nil
	}
	owner, err := permission.NewPreset("trusted", "", nil)
	if err != nil {
		return err
	}
	for _, sc := range cfg.MCP {
		if !sc.IsEnabled() {
			logger.Info("mcp server disabled, skipping", "server", sc.Name)
			continue
		}
		conn, err := mgr.Connect(ctx, sc, "server", owner)
		if err != nil {
			logger.Warn("mcp server connection failed, skipping", "server", sc.Name, "error", err)
			continue
		}
		logger.Info("mcp server connected", "server", sc.Name, "tools", len(conn.Tools))
	}
	return nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/clmem/memoryd/internal/agent"
	"github.com/clmem/memoryd/internal/agent/providers"
	"github.com/clmem/memoryd/internal/config"
	"github.com/clmem/memoryd/internal/health"
	"github.com/clmem/memoryd/internal/httpapi"
	"github.com/clmem/memoryd/internal/lifecycle"
	"github.com/clmem/memoryd/internal/observability"
	"github.com/clmem/memoryd/internal/queue"
	"github.com/clmem/memoryd/internal/registry"
	"github.com/clmem/memoryd/internal/response"
	"github.com/clmem/memoryd/internal/sessionmgr"
	"github.com/clmem/memoryd/internal/store"
	"github.com/clmem/memoryd/internal/txn"
	"github.com/clmem/memoryd/internal/vectorsync"
	"github.com/clmem/memoryd/pkg/models"
)

// childOrphanPatterns and daemonOrphanPatterns identify leaked subprocesses
// during the startup orphan sweep: the vector-store worker has no age gate,
// a leaked memoryd itself (e.g. mid-restart) gets the 30-minute gate.
var (
	childOrphanPatterns  = []string{"chroma", "vector-worker"}
	daemonOrphanPatterns = []string{"memoryd serve", "memoryd-plugin-runner"}
)

func buildServeCmd() *cobra.Command {
	var dataDirFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the memory daemon",
		Long: `Start the memory daemon.

The daemon will:
1. Resolve and prepare its data directory, handing off from or refusing to
   start alongside a running sibling instance
2. Load settings.json and the data-directory .env credentials
3. Open the embedded SQLite store and apply pending migrations
4. Start the loopback-only HTTP API and health monitor
5. Start the process registry's orphan reaper
6. Spawn a background vector-store backfill

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), dataDirFlag)
		},
	}

	cmd.Flags().StringVar(&dataDirFlag, "data-dir", "", "Override the data directory (defaults per CLAUDE_MEM_DATA_DIR / XDG / ~/.claude-mem)")
	return cmd
}

func runServe(ctx context.Context, dataDirOverride string) error {
	bootLogger := slog.Default()

	sup := lifecycle.New(lifecycle.Options{
		DataDirOverride:      dataDirOverride,
		Host:                 "127.0.0.1",
		ChildOrphanPatterns:  childOrphanPatterns,
		DaemonOrphanPatterns: daemonOrphanPatterns,
		Logger:               bootLogger,
	})

	prep, err := sup.Prepare(ctx)
	if err != nil {
		return fmt.Errorf("serve: prepare: %w", err)
	}
	if prep.Skip {
		return nil
	}

	cfg, err := config.Load(prep.DataDir)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}
	if cfg.Disabled {
		bootLogger.Info("serve: disabled in settings, exiting")
		return nil
	}

	logWriter, err := observability.NewDailyLogWriter(prep.DataDir)
	if err != nil {
		return fmt.Errorf("serve: create log writer: %w", err)
	}
	defer logWriter.Close()

	obsLogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: "json",
		Output: logWriter,
	})
	logger := obsLogger.Slog()
	slog.SetDefault(logger)

	logger.Info("serve: starting memory daemon",
		"version", health.Version, "data_dir", prep.DataDir, "port", cfg.WorkerPort, "provider", cfg.Provider)

	dbPath := filepath.Join(prep.DataDir, "memory.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("serve: open store: %w", err)
	}
	defer st.Close()

	q := queue.New(st.DB(), logger)
	txns := txn.New(st.DB())

	vsClient := vectorsync.New(vectorsync.Config{
		Command: chromaCommand(cfg),
		Args:    chromaArgs(cfg),
		Logger:  logger,
	})
	defer vsClient.Close()
	vsync := vectorsync.NewSync(vsClient, logger)

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "claude-mem",
		ServiceVersion: health.Version,
		Endpoint:       os.Getenv("CLAUDE_MEM_OTEL_ENDPOINT"),
	})
	defer shutdownTracer(context.Background())

	broadcaster := httpapi.NewBroadcaster()

	processor := response.New(st, q, txns, vsync, broadcaster, nil, logger)

	primary, err := buildPrimaryProvider(cfg)
	if err != nil {
		return fmt.Errorf("serve: build provider %s: %w", cfg.Provider, err)
	}
	failoverCfg := agent.DefaultFailoverConfig()
	failoverCfg.FailoverOnRateLimit = cfg.ProviderRateLimit
	failover := agent.NewFailoverOrchestrator(primary, failoverCfg)
	for _, p := range buildFallbackProviders(cfg, primary.Name()) {
		failover.AddProvider(p)
	}

	_, primaryModel := cfg.Credentials(cfg.Provider)
	agentCfg := agent.DefaultConfig()
	spawn := func(sess *models.ActiveSession, runCtx context.Context) {
		runner := agent.New(sess, runCtx, failover, q, processor, primaryModel, agentCfg, logger)
		go runner.Run()
	}

	sessions := sessionmgr.New(st, q, spawn, logger)

	procRegistry := registry.New([]string{"chroma", "vector-worker"}, logger)

	shutdownCh := make(chan struct{}, 1)
	monitor := health.NewMonitor(
		func() { shutdownCh <- struct{}{} },
		func() { shutdownCh <- struct{}{} },
	)

	server := httpapi.NewServer(httpapi.Config{
		Store:               st,
		Queue:               q,
		Sessions:            sessions,
		Health:              monitor,
		Broadcaster:         broadcaster,
		Metrics:             observability.NewMetrics(),
		Tracer:              tracer,
		LogFilePath:         logWriter.CurrentPath(),
		ContextObservations: cfg.ContextObservations,
		ExcludedProjects:    cfg.ExcludedProjects,
		Logger:              logger,
	})

	addr := net.JoinHostPort(cfg.WorkerHost, fmt.Sprintf("%d", cfg.WorkerPort))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", addr, err)
	}

	if err := sup.Finish(prep.PIDPath, cfg.WorkerPort); err != nil {
		listener.Close()
		return fmt.Errorf("serve: write pid file: %w", err)
	}
	defer sup.Cleanup(prep.PIDPath)

	monitor.SetInitialized()

	cfgWatcher := config.NewWatcher(prep.DataDir, func(updated *config.Config) {
		server.UpdateRuntimeConfig(updated.ContextObservations, updated.ExcludedProjects)
		logger.Info("serve: settings.json reloaded", "context_observations", updated.ContextObservations)
	}, logger)
	if err := cfgWatcher.Start(); err != nil {
		logger.Warn("serve: settings watcher disabled", "error", err)
	} else {
		defer cfgWatcher.Close()
	}

	httpServer := &http.Server{Handler: server.Handler()}
	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- httpServer.Serve(listener)
	}()

	reapCtx, cancelReap := context.WithCancel(ctx)
	defer cancelReap()
	go runOrphanReaper(reapCtx, procRegistry, sessions, logger)

	go func() {
		if err := backfillVectorSync(ctx, st, vsync); err != nil {
			logger.Warn("serve: vector backfill failed", "error", err)
			return
		}
		monitor.SetMCPReady()
	}()

	logger.Info("serve: memory daemon started", "addr", addr)

	shutdownCtx, cancel := lifecycle.ShutdownContext(ctx)
	defer cancel()

	select {
	case <-shutdownCtx.Done():
		logger.Info("serve: shutdown signal received")
	case <-shutdownCh:
		logger.Info("serve: admin shutdown requested")
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: http server: %w", err)
		}
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	sessions.AbortAll()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logger.Warn("serve: http server shutdown", "error", err)
	}

	logger.Info("serve: memory daemon stopped")
	return nil
}

// runOrphanReaper periodically reaps subprocesses registry lost track of,
// skipping any still claimed by a live session.
func runOrphanReaper(ctx context.Context, reg *registry.Registry, sessions *sessionmgr.Manager, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.ReapOrphans(sessions.ActiveSessionIDs())
		}
	}
}

// backfillVectorSync catches up the vector store on any observation or
// summary it is missing, in project batches, without blocking the HTTP
// listener on a slow or unavailable vector-store subprocess.
func backfillVectorSync(ctx context.Context, st *store.Store, vsync *vectorsync.Sync) error {
	projects, err := st.ListProjects()
	if err != nil {
		return err
	}
	for _, project := range projects {
		obs, err := st.ListObservations(project, 0, 5000)
		if err != nil {
			return err
		}
		ids := make([]int64, len(obs))
		for i, o := range obs {
			ids[i] = o.ID
		}
		if _, err := vsync.EnsureBackfilled(ctx, project, ids); err != nil {
			return err
		}
	}
	return nil
}

func chromaCommand(cfg *config.Config) string {
	if cfg.ChromaMode == "remote" {
		return ""
	}
	if exe := os.Getenv("CLAUDE_MEM_CHROMA_COMMAND"); exe != "" {
		return exe
	}
	return "chroma-embed-worker"
}

func chromaArgs(cfg *config.Config) []string {
	if cfg.ChromaMode != "remote" {
		return nil
	}
	args := []string{"--host", cfg.ChromaHost, "--port", fmt.Sprintf("%d", cfg.ChromaPort)}
	if cfg.ChromaSSL {
		args = append(args, "--ssl")
	}
	if cfg.ChromaAPIKey != "" {
		args = append(args, "--api-key", cfg.ChromaAPIKey)
	}
	return args
}

func buildPrimaryProvider(cfg *config.Config) (agent.LLMProvider, error) {
	return buildProvider(cfg.Provider, cfg)
}

// buildFallbackProviders constructs every configured provider other than
// the primary, in a fixed preference order, skipping any that cannot be
// constructed (most commonly a missing API key) rather than failing
// startup over an optional fallback.
func buildFallbackProviders(cfg *config.Config, primaryName string) []agent.LLMProvider {
	var out []agent.LLMProvider
	for _, name := range []string{config.ProviderClaude, config.ProviderGemini, config.ProviderOpenRouter} {
		if name == primaryName {
			continue
		}
		p, err := buildProvider(name, cfg)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func buildProvider(name string, cfg *config.Config) (agent.LLMProvider, error) {
	apiKey, model := cfg.Credentials(name)
	switch name {
	case config.ProviderGemini:
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey:       apiKey,
			DefaultModel: model,
		})
	case config.ProviderOpenRouter:
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       apiKey,
			DefaultModel: model,
		})
	default:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       apiKey,
			DefaultModel: model,
		})
	}
}

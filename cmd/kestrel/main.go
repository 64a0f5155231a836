// Kestrel - adaptive risk scoring and access verification.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perimetra/kestrel/internal/api"
	"github.com/perimetra/kestrel/internal/assess"
	"github.com/perimetra/kestrel/internal/behavior"
	"github.com/perimetra/kestrel/internal/bus"
	"github.com/perimetra/kestrel/internal/cache"
	"github.com/perimetra/kestrel/internal/domain"
	"github.com/perimetra/kestrel/internal/ensemble"
	"github.com/perimetra/kestrel/internal/features"
	"github.com/perimetra/kestrel/internal/metrics"
	"github.com/perimetra/kestrel/internal/patterns"
	"github.com/perimetra/kestrel/internal/pipeline"
	"github.com/perimetra/kestrel/internal/repository"
	"github.com/perimetra/kestrel/internal/zerotrust"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("KESTREL_TIER") == "clustered" {
		cfg = domain.ClusteredConfig()
	}
	applyEnvOverrides(cfg)

	// Initialize structured logger
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("store initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize custom rule engine and load persisted rules
	ruleEngine, err := patterns.NewRuleEngine(100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadPatternRules(ctx, store, ruleEngine); err != nil {
		slog.Error("failed to load pattern rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", ruleEngine.Count())

	// Analysis engines
	reputation := features.NewCachedReputation(cacheImpl, cfg.Engine.ReputationTTL, logger)
	extractor := features.NewExtractor(reputation, logger)
	matcher := patterns.NewMatcher(cfg.Engine.RecentEventWindow, ruleEngine, logger)
	predictor := ensemble.NewPredictor(logger)
	assessor := assess.NewAssessor()
	profiler := behavior.NewProfiler(cfg.Engine.AnomalyThreshold, logger)
	verifier := zerotrust.New(store, cacheImpl, logger)
	slog.Info("analysis engines initialized",
		"anomaly_threshold", cfg.Engine.AnomalyThreshold,
		"event_window", cfg.Engine.RecentEventWindow,
	)

	// Pipeline worker consumes event batches from the bus
	worker := pipeline.NewWorker(busImpl, store, extractor, matcher, predictor, assessor, logger)
	if err := worker.Start(); err != nil {
		slog.Error("failed to start pipeline worker", "error", err)
		os.Exit(1)
	}
	slog.Info("pipeline worker started")

	// Background scheduler for clustering and statistics
	scheduler := pipeline.NewScheduler(cfg.Engine, profiler, predictor, store, busImpl, logger)
	scheduler.Start(ctx)
	slog.Info("scheduler started",
		"cluster_interval", cfg.Engine.ClusterInterval,
		"stats_interval", cfg.Engine.StatsInterval,
	)

	// Metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, store, cacheImpl, busImpl, worker, scheduler,
		profiler, verifier, ruleEngine, m, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	scheduler.Stop()
	if err := worker.Stop(); err != nil {
		slog.Error("failed to stop pipeline worker", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

// newLogger builds the process logger from configuration.
func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// applyEnvOverrides picks up deployment settings from the environment.
func applyEnvOverrides(cfg *domain.Config) {
	if v := os.Getenv("KESTREL_DEBUG"); v == "true" {
		cfg.Logging.Level = "debug"
	}
	if v := os.Getenv("KESTREL_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("KESTREL_SQLITE_PATH"); v != "" {
		cfg.Repository.SQLitePath = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_HOST"); v != "" {
		cfg.Repository.PostgresHost = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_USER"); v != "" {
		cfg.Repository.PostgresUser = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_PASSWORD"); v != "" {
		cfg.Repository.PostgresPassword = v
	}
	if v := os.Getenv("KESTREL_POSTGRES_DB"); v != "" {
		cfg.Repository.PostgresDB = v
	}
	if v := os.Getenv("KESTREL_REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("KESTREL_NATS_URL"); v != "" {
		cfg.EventBus.NATSUrl = v
	}
}

// loadPatternRules loads persisted custom rules into the engine.
// All rules are configured via POST /api/v1/patterns - no hardcoded defaults.
func loadPatternRules(ctx context.Context, store domain.Store, engine *patterns.RuleEngine) error {
	dbRules, err := store.ListPatternRules(ctx)
	if err != nil {
		slog.Warn("failed to list pattern rules from store", "error", err)
		return nil // Start with empty rules - they can be added via API
	}

	if len(dbRules) > 0 {
		slog.Info("loading pattern rules from store", "count", len(dbRules))
		return engine.Reload(dbRules)
	}

	slog.Info("no pattern rules in store - configure via POST /api/v1/patterns")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 KESTREL                   ║")
	fmt.Println("  ║   Adaptive Risk & Access Verification     ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /api/v1/analyze             - Score a batch of network events")
	fmt.Println("    POST /api/v1/activity            - Record a user activity")
	fmt.Println("    POST /api/v1/verify              - Verify an access request")
	fmt.Println("    GET  /api/v1/profiles/{identity} - Get a risk profile")
	fmt.Println("    GET  /api/v1/analytics           - Behavior analytics rollup")
	fmt.Println("    GET  /api/v1/statistics          - Threat statistics and risk trend")
	fmt.Println("    GET  /api/v1/clusters            - Behavioral clusters")
	fmt.Println("    GET  /api/v1/forecast/{identity} - Risk forecast")
	fmt.Println("    POST /api/v1/devices             - Register a trusted device")
	fmt.Println("    GET  /api/v1/patterns            - List custom pattern rules")
	fmt.Println("    POST /api/v1/patterns/reload     - Hot-reload pattern rules")
	fmt.Println("    GET  /api/v1/alerts              - List anomaly alerts")
	fmt.Println("    GET  /healthz                    - Health check")
	fmt.Println()
}

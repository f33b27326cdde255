// Castellan ingests Windows Event Log records, classifies them with an
// LLM over nearest-neighbour context from a vector store, correlates
// patterns across events, and alerts chat channels.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MLidstrom/Castellan-sub013/pkg/api"
	"github.com/MLidstrom/Castellan-sub013/pkg/bookmark"
	"github.com/MLidstrom/Castellan-sub013/pkg/cleanup"
	"github.com/MLidstrom/Castellan-sub013/pkg/collector"
	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/correlation"
	"github.com/MLidstrom/Castellan-sub013/pkg/embed"
	"github.com/MLidstrom/Castellan-sub013/pkg/llm"
	"github.com/MLidstrom/Castellan-sub013/pkg/notify"
	"github.com/MLidstrom/Castellan-sub013/pkg/pipeline"
	"github.com/MLidstrom/Castellan-sub013/pkg/retriever"
	"github.com/MLidstrom/Castellan-sub013/pkg/vectorstore"
	"github.com/MLidstrom/Castellan-sub013/pkg/version"
)

const (
	// startupProbeTimeout bounds the one-shot dependency checks at boot
	// (vector store collection, notification channel tests).
	startupProbeTimeout = 10 * time.Second

	// drainTimeout bounds how long shutdown waits for the event pump and
	// queued events before giving up.
	drainTimeout = 30 * time.Second
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupLogging installs the process-wide slog default from LOG_FORMAT
// ("text" or "json") and LOG_LEVEL ("debug", "info", "warn", "error").
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(getEnv("LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(getEnv("LOG_FORMAT", "text"), "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env before logging setup so LOG_* from the file applies.
	envPath := filepath.Join(*configDir, ".env")
	envErr := godotenv.Load(envPath)

	setupLogging()

	if envErr != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", envErr)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting Castellan",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration: load, validate, then watch for hot reload.
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	provider := config.NewProvider(cfg)

	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	go func() {
		if err := provider.Watch(watchCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Config watcher stopped", "error", err)
		}
	}()

	stats := cfg.Stats()
	slog.Info("Configuration loaded",
		"channels", stats.Channels,
		"notification_channels", stats.NotificationChannels,
		"ensemble_models", stats.EnsembleModels,
		"hybrid_enabled", stats.HybridEnabled)

	// 2. Bookmarks and collector.
	bookmarks, err := bookmark.New(ctx, cfg.Collector.Bookmarks)
	if err != nil {
		slog.Error("Failed to open bookmark store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := bookmarks.Close(); err != nil {
			slog.Error("Error closing bookmark store", "error", err)
		}
	}()

	eventCollector, err := collector.New(cfg.Collector, nil, bookmarks)
	if err != nil {
		slog.Error("Failed to initialize collector", "error", err)
		os.Exit(1)
	}

	// 3. Embedding client with content-addressed cache.
	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		slog.Error("Failed to initialize embedder", "error", err)
		os.Exit(1)
	}
	cache, err := embed.NewCached(embedder, cfg.Embedding.Cache)
	if err != nil {
		slog.Error("Failed to initialize embedding cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			slog.Error("Error closing embedding cache", "error", err)
		}
	}()

	// 4. Vector store and hybrid retriever. An unreachable store is not
	// fatal: analysis degrades to no-context classification and /ready
	// reports unavailable until the store answers.
	store, err := vectorstore.NewQdrant(cfg.VectorStore, cfg.Retention)
	if err != nil {
		slog.Error("Failed to initialize vector store", "error", err)
		os.Exit(1)
	}
	ensureCtx, ensureCancel := context.WithTimeout(ctx, startupProbeTimeout)
	if err := store.EnsureCollection(ensureCtx); err != nil {
		slog.Warn("Vector store not ready, continuing without it", "error", err)
	}
	ensureCancel()

	hybrid := retriever.New(store, func() *config.RetrieverConfig {
		return provider.Current().Retriever
	})

	// 5. LLM decorator chain.
	chain, err := llm.NewChain(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "provider", chain.ProviderName(), "model", chain.Model())

	// 6. Correlation detector.
	detector := correlation.NewDetector(func() *config.CorrelationConfig {
		return provider.Current().Correlation
	})

	// 7. Notification channels.
	templates := notify.NewTemplateStore(notify.ChannelTeams, notify.ChannelSlack)
	teams, err := notify.NewTeamsDriver(func() *config.TeamsChannelConfig {
		return &provider.Current().Notifications.Teams
	}, templates)
	if err != nil {
		slog.Error("Failed to initialize Teams channel", "error", err)
		os.Exit(1)
	}
	slack, err := notify.NewSlackDriver(func() *config.SlackChannelConfig {
		return &provider.Current().Notifications.Slack
	}, templates)
	if err != nil {
		slog.Error("Failed to initialize Slack channel", "error", err)
		os.Exit(1)
	}
	notifier := notify.NewManager(func() *config.NotificationsConfig {
		return provider.Current().Notifications
	}, teams, slack)

	testCtx, testCancel := context.WithTimeout(ctx, startupProbeTimeout)
	for channel, err := range notifier.TestChannels(testCtx) {
		if err != nil {
			slog.Warn("Notification channel test failed", "channel", channel, "error", err)
		} else {
			slog.Info("Notification channel ready", "channel", channel)
		}
	}
	testCancel()

	// 8. Analysis pipeline.
	pipe := pipeline.New(provider.Current, cache, hybrid, chain)
	pipe.SetDetector(detector)
	pipe.SetAlerter(notifier)
	if err := pipe.Start(ctx); err != nil {
		slog.Error("Failed to start pipeline", "error", err)
		os.Exit(1)
	}

	// 9. Retention sweeper.
	sweeper := cleanup.NewService(cfg.Retention, store)
	sweeper.Start(ctx)

	// 10. Ops server (non-blocking). Empty listen address disables it.
	errCh := make(chan error, 1)
	var opsServer *api.Server
	if cfg.Ops.ListenAddr != "" {
		opsServer = api.NewServer(cfg.Ops, api.Components{
			Pipeline:  pipe,
			Collector: eventCollector,
			Cache:     cache,
			Retriever: hybrid,
			Chain:     chain,
			Detector:  detector,
			Notifier:  notifier,
			Store:     store,
		})
		go func() {
			if err := opsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	// 11. Event pump: replay recent history, then tail live.
	collectCtx, collectCancel := context.WithCancel(ctx)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		pipe.Consume(eventCollector.CollectHistorical(collectCtx))
		pipe.Consume(eventCollector.CollectLive(collectCtx))
	}()

	slog.Info("Castellan started")

	// 12. Wait for shutdown signal or server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Ops server error triggered shutdown", "error", err)
	}

	// 13. Phased shutdown: stop intake, drain the pipeline, stop the
	// sweeper, then the ops server.
	collectCancel()
	select {
	case <-pumpDone:
	case <-time.After(drainTimeout):
		slog.Warn("Event pump did not stop in time")
	}

	pipe.Stop()
	sweeper.Stop()

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Ops server shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
}

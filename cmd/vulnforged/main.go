package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/vulnforge/vulnforge/internal/analyze"
	"github.com/vulnforge/vulnforge/internal/api"
	"github.com/vulnforge/vulnforge/internal/config"
	"github.com/vulnforge/vulnforge/internal/export"
	"github.com/vulnforge/vulnforge/internal/feed"
	"github.com/vulnforge/vulnforge/internal/normalize"
	"github.com/vulnforge/vulnforge/internal/observability"
	"github.com/vulnforge/vulnforge/internal/policy"
	"github.com/vulnforge/vulnforge/internal/queue"
	"github.com/vulnforge/vulnforge/internal/statestore"
	"github.com/vulnforge/vulnforge/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel)
	logger.Info("starting vulnforge",
		"feed_dir", cfg.Feed.Dir,
		"log_level", cfg.Observability.LogLevel)

	_ = observability.GetMetrics()
	logger.Debug("metrics initialized",
		"metrics_port", cfg.Observability.MetricsPort)

	healthChecker := observability.NewHealthChecker(logger)

	healthChecker.RegisterComponent("config")
	healthChecker.RegisterComponent("queue")
	healthChecker.RegisterComponent("worker")
	healthChecker.RegisterComponent("database")
	healthChecker.RegisterComponent("feed")
	healthChecker.RegisterComponent("analysis")

	healthChecker.UpdateComponentHealth("config", observability.StatusHealthy, "")

	logger.Debug("health checker initialized",
		"health_port", cfg.Observability.HealthCheckPort)

	obsServer := observability.NewServer(
		cfg.Observability.MetricsPort,
		cfg.Observability.HealthCheckPort,
		logger,
		healthChecker,
	)

	go func() {
		if err := obsServer.Start(ctx); err != nil {
			logger.Error("observability server error",
				"error", err.Error())
		}
	}()

	logger.Debug("initializing state store",
		"path", cfg.StateStore.SQLitePath)
	store, err := statestore.NewSQLiteStore(cfg.StateStore.SQLitePath)
	if err != nil {
		healthChecker.UpdateComponentHealth("database", observability.StatusUnhealthy, err.Error())
		return fmt.Errorf("failed to initialize sqlite store: %w", err)
	}
	healthChecker.UpdateComponentHealth("database", observability.StatusHealthy, "")
	logger.Debug("state store initialized")

	logger.Debug("initializing task queue",
		"buffer_size", cfg.Queue.BufferSize)
	taskQueue := queue.NewInMemoryQueue(cfg.Queue.BufferSize)
	healthChecker.UpdateComponentHealth("queue", observability.StatusHealthy, "")
	logger.Debug("task queue initialized")

	normalizer := normalize.NewRegistry()
	logger.Debug("normalizer registry initialized",
		"sources", normalizer.Sources())

	logger.Debug("initializing policy engine")
	policyEngine, err := policy.NewEngine(logger, policy.PolicyConfig{
		Expression:   cfg.Policy.Expression,
		AlertMessage: cfg.Policy.AlertMessage,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}
	logger.Debug("policy engine initialized")

	logger.Debug("initializing feed watcher",
		"dir", cfg.Feed.Dir,
		"poll_interval", cfg.Feed.PollInterval)
	feedWatcher := feed.NewWatcher(
		feed.Config{
			Dir:          cfg.Feed.Dir,
			PollInterval: cfg.Feed.PollInterval,
		},
		normalizer,
		taskQueue,
		logger,
	)
	healthChecker.UpdateComponentHealth("feed", observability.StatusHealthy, "")
	logger.Debug("feed watcher initialized")

	logger.Debug("initializing worker",
		"retry_attempts", cfg.Worker.RetryAttempts,
		"retry_backoff", cfg.Worker.RetryBackoff,
		"concurrency", cfg.Worker.Concurrency)
	workerInstance := worker.NewReconcileWorker(
		taskQueue,
		normalizer,
		policyEngine,
		store,
		worker.Config{
			RetryAttempts: cfg.Worker.RetryAttempts,
			RetryBackoff:  cfg.Worker.RetryBackoff,
			Concurrency:   cfg.Worker.Concurrency,
		},
		logger,
	)
	healthChecker.UpdateComponentHealth("worker", observability.StatusHealthy, "")
	logger.Debug("worker initialized")

	logger.Debug("initializing analysis service",
		"interval", cfg.Analysis.Interval,
		"similarity_threshold", cfg.Analysis.SimilarityThreshold)
	analyzer := analyze.NewAnalyzer(cfg.Analysis.SimilarityThreshold, logger)
	analysisService := analyze.NewService(store, analyzer, cfg.Analysis.Interval, logger)
	healthChecker.UpdateComponentHealth("analysis", observability.StatusHealthy, "")
	logger.Debug("analysis service initialized")

	exporter := export.NewExporter(cfg.Export.Dir, logger)

	var apiServer *api.APIServer
	if cfg.API.Enabled {
		logger.Debug("initializing API server",
			"port", cfg.API.Port,
			"read_only", cfg.API.ReadOnly)
		apiServer = api.NewAPIServer(
			&cfg.API,
			store,
			analysisService,
			feedWatcher,
			exporter,
			logger,
		)
		logger.Debug("API server initialized")
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("starting feed watcher")
		if err := feedWatcher.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("feed watcher error",
				"error", err.Error())
			errChan <- fmt.Errorf("feed watcher error: %w", err)
		}
		logger.Debug("feed watcher stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("starting worker")
		if err := workerInstance.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("worker error",
				"error", err.Error())
			errChan <- fmt.Errorf("worker error: %w", err)
		}
		logger.Debug("worker stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("starting analysis service")
		if err := analysisService.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("analysis service error",
				"error", err.Error())
			errChan <- fmt.Errorf("analysis service error: %w", err)
		}
		logger.Debug("analysis service stopped")
	}()

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("API server listening",
				"port", cfg.API.Port)
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("API server error",
					"error", err.Error())
				errChan <- fmt.Errorf("API server error: %w", err)
			}
			logger.Debug("API server stopped")
		}()
	}

	logger.Info("all components started successfully")

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errChan:
		logger.Error("component error, initiating shutdown",
			"error", err.Error())
		cancel()
	}

	logger.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Debug("waiting for components to stop")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("all components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout exceeded, forcing exit")
	}

	queueDepth, _ := taskQueue.GetQueueDepth(shutdownCtx)
	if queueDepth > 0 {
		logger.Warn("queue not empty at shutdown",
			"remaining_tasks", queueDepth)
	} else {
		logger.Debug("queue drained successfully")
	}

	if apiServer != nil {
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down API server",
				"error", err.Error())
		}
	}

	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down observability server",
			"error", err.Error())
	}

	if err := store.Close(); err != nil {
		logger.Error("error closing state store",
			"error", err.Error())
	}

	logger.Info("shutdown complete")
	return nil
}

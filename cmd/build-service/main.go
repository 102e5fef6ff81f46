// build-service is the HTTP API server for batch deployable builds.
package main

import (
	"context"
	"deploybuild/internal/api"
	"deploybuild/internal/app"
	"deploybuild/internal/config"
	"deploybuild/internal/health"
	"deploybuild/internal/notify"
	"deploybuild/internal/observability"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	if err := svcCfg.Validate(); err != nil {
		return err
	}
	opts := app.LoadOptionsFromEnv(svcCfg.ATTRoot, svcCfg.CatalogFile)

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}
	opts.Metrics = metrics

	// Completion callbacks
	notifier := notify.NewMemory(notify.LoadConfigFromEnv(), metrics)
	opts.Notifier = notifier

	engine, err := app.New(ctx, opts)
	if err != nil {
		return err
	}

	slog.Info("Build engine ready",
		"root", svcCfg.ATTRoot,
		"runner", opts.Runner.Kind,
		"workers", opts.Build.Workers,
		"timeout", opts.Build.Timeout,
	)

	healthChecker := health.NewChecker(engine.Checks)

	features := []string{"template", "helm", "callbacks"}
	if opts.Artifacts.Enabled() {
		features = append(features, "publishing")
	}
	slices.Sort(features)

	router := api.NewRouter(api.RouterConfig{
		BuildService:  engine.Service,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		Info: api.ServerInfo{
			Name:     svcCfg.Name,
			Version:  svcCfg.Version,
			Root:     svcCfg.ATTRoot,
			Runner:   opts.Runner.Kind,
			Features: features,
		},
		APIKey: svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Batch calls hold the connection for the whole build.
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: opts.Build.Timeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		closeEngine(engine, 5*time.Second)
		return err
	}

	// Phase 1: report unready so load balancers stop routing
	healthChecker.SetShuttingDown()
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: stop accepting connections and let running batches answer
	slog.Info("Starting graceful shutdown")
	shutdown(svcCfg.ShutdownTimeout)

	// Phase 3: release the pool; anything still building sees its batch context end
	closeEngine(engine, 30*time.Second)

	// Phase 4: flush completion callbacks
	slog.Info("Draining notifier")
	notifyCtx, notifyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer notifyCancel()
	if err := notifier.Close(notifyCtx); err != nil {
		slog.Warn("Notifier shutdown error", "error", err)
	}

	stats := notifier.Stats()
	slog.Info("Notifier stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	poolStats := engine.Pool.Stats()
	slog.Info("Shutdown complete", "completed", poolStats.Completed, "panics", poolStats.Panics)
	return nil
}

func closeEngine(engine *app.App, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := engine.Close(ctx); err != nil {
		slog.Warn("Build pool shutdown error", "error", err)
	}
}

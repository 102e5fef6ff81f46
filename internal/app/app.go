// Package app assembles the build engine from environment configuration.
package app

import (
	"context"
	"deploybuild/internal/artifactstore"
	"deploybuild/internal/backend"
	"deploybuild/internal/build"
	"deploybuild/internal/catalog"
	"deploybuild/internal/health"
	"deploybuild/internal/notify"
	"deploybuild/internal/observability"
	"deploybuild/internal/runner"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Options select what New builds. Metrics and Notifier may be nil.
type Options struct {
	Root        string // all-the-things checkout root
	CatalogFile string // optional TOML catalog overriding discovery under Root
	Runner      runner.Config
	Backend     backend.Config
	Artifacts   artifactstore.Config
	Build       build.Config
	Metrics     *observability.Metrics
	Notifier    notify.Notifier
}

// App is a wired build service and the resources it owns.
type App struct {
	Service *build.Service
	Pool    *build.Pool
	Checks  map[string]health.ReadinessChecker

	runner runner.Runner
}

// LoadOptionsFromEnv reads every component's configuration.
func LoadOptionsFromEnv(root, catalogFile string) Options {
	return Options{
		Root:        root,
		CatalogFile: catalogFile,
		Runner:      runner.LoadConfigFromEnv(),
		Backend:     backend.LoadConfigFromEnv(root),
		Artifacts:   artifactstore.LoadConfigFromEnv(),
		Build:       build.LoadConfigFromEnv(),
	}
}

// New wires catalog, runner, backends, optional publishing, pool and service.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Root == "" {
		return nil, errors.New("checkout root is required")
	}
	opts.Backend.Root = opts.Root

	var source catalog.Source = catalog.NewOSSource(opts.Root)
	if opts.CatalogFile != "" {
		fileSource, err := catalog.LoadFile(opts.CatalogFile)
		if err != nil {
			return nil, err
		}
		source = fileSource
		slog.Info("Using catalog file", "path", opts.CatalogFile)
	}

	r, err := runner.New(opts.Runner, opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	checks := map[string]health.ReadinessChecker{
		"checkout": health.DirCheck(opts.Root),
	}
	if rc, ok := r.(health.ReadinessChecker); ok {
		checks["runner"] = rc
	}

	var template, helm build.Backend = backend.NewTemplate(r, opts.Backend), backend.NewHelm(r, opts.Backend)
	if opts.Artifacts.Enabled() {
		store, err := artifactstore.NewS3(ctx, opts.Artifacts)
		if err != nil {
			closeRunner(r)
			return nil, err
		}
		template = backend.NewPublishing(template, store)
		helm = backend.NewPublishing(helm, store)
		checks["artifacts"] = store
		slog.Info("Artifact publishing enabled", "bucket", opts.Artifacts.Bucket, "prefix", opts.Artifacts.Prefix)
	}

	// A typed nil *Metrics must not reach the pool as a non-nil interface.
	var poolMetrics build.Metrics
	if opts.Metrics != nil {
		poolMetrics = opts.Metrics
	}
	pool := build.NewPool(opts.Build.PoolConfig(), poolMetrics)

	svc := build.NewService(opts.Build, build.ServiceDeps{
		Resolver: catalog.NewResolver(source),
		Pool:     pool,
		Template: template,
		Helm:     helm,
		Notifier: opts.Notifier,
		Metrics:  opts.Metrics,
	})

	return &App{Service: svc, Pool: pool, Checks: checks, runner: r}, nil
}

// Close waits for in-flight builds, then releases the runner.
func (a *App) Close(ctx context.Context) error {
	err := a.Pool.Close(ctx)
	closeRunner(a.runner)
	return err
}

func closeRunner(r runner.Runner) {
	if c, ok := r.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Runner close failed", "error", err)
		}
	}
}

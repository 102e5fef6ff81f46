package backend

import (
	"context"
	"deploybuild/internal/build"
	"deploybuild/internal/runner"
	"deploybuild/pkg/backoff"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Helm packages a deployable's Helm chart for one target.
//
// A build has three steps: refresh chart dependencies, run the helm make
// target, then collect the generated values schema files. Dependency updates
// write into the shared chart directory, so they are serialised per chart.
type Helm struct {
	runner runner.Runner
	cfg    Config
	charts *keyedLock
	logger *slog.Logger
}

// NewHelm creates a Helm backend.
func NewHelm(r runner.Runner, cfg Config) *Helm {
	return &Helm{
		runner: r,
		cfg:    cfg.withDefaults(),
		charts: newKeyedLock(),
		logger: slog.With("component", "backend", "backend", "helm"),
	}
}

// Name implements build.Backend.
func (h *Helm) Name() string { return "helm" }

// Build implements build.Backend.
func (h *Helm) Build(ctx context.Context, item build.WorkItem) build.Result {
	if res, ok := requireTarget(item); !ok {
		return res
	}

	chartDir := filepath.Join(deployablePath(h.cfg.Root, item.DT), helmSubdir)
	if info, err := os.Stat(chartDir); err != nil || !info.IsDir() {
		return build.Failure(build.KindBackendFault, fmt.Sprintf("helm chart directory not found: %s", chartDir))
	}

	ctx, unlock, err := lockOutput(ctx, item)
	if err != nil {
		return stepFailure("wait for output directory", runner.Output{}, err)
	}
	defer unlock()

	logger := h.logger.With("dt", item.DT, "target", item.Target.String())
	env := map[string]string{"ATT_ROOT": h.cfg.Root}

	if res, ok := h.updateDependencies(ctx, logger, chartDir, env); !ok {
		return res
	}

	logger.Info("Running helm build")
	out, err := h.runner.Run(ctx, runner.Command{
		Name: "make",
		Args: makeArgs(h.cfg.HelmMakeTarget, item),
		Dir:  chartDir,
		Env:  env,
	})
	if err != nil {
		logger.Warn("Helm build failed", "error", err)
		return stepFailure("make "+h.cfg.HelmMakeTarget, out, err)
	}

	buildDir := outputPath(h.cfg.Root, item)
	files, err := schemaFiles(buildDir)
	if err != nil {
		return build.Failure(build.KindBackendFault, fmt.Sprintf("failed to list schema files: %v", err))
	}

	logger.Info("Helm build succeeded", "schemaFiles", len(files))
	return build.Success(&build.Artifact{
		Dir:    buildDir,
		Files:  files,
		Output: out.Stdout,
	})
}

// updateDependencies runs helm dependency update, retrying tool failures
// with exponential backoff. Cancellation is never retried.
func (h *Helm) updateDependencies(ctx context.Context, logger *slog.Logger, chartDir string, env map[string]string) (build.Result, bool) {
	unlock, err := h.charts.lock(ctx, chartDir)
	if err != nil {
		return stepFailure("helm dependency update", runner.Output{}, err), false
	}
	defer unlock()

	cmd := runner.Command{
		Name: "helm",
		Args: []string{"dependency", "update"},
		Dir:  chartDir,
		Env:  env,
	}
	bo := &backoff.Config{Initial: h.cfg.HelmDepBackoff, Max: 30 * time.Second}
	isExit := func(err error) bool {
		var exitErr *runner.ExitError
		return errors.As(err, &exitErr)
	}
	onRetry := func(attempt int, err error) {
		logger.Warn("Helm dependency update failed, retrying", "attempt", attempt, "error", err)
	}

	logger.Info("Updating helm dependencies")
	var out runner.Output
	err = backoff.Retry(ctx, h.cfg.HelmDepRetries+1, bo, isExit, onRetry, func(ctx context.Context) error {
		var runErr error
		out, runErr = h.runner.Run(ctx, cmd)
		return runErr
	})
	if err != nil {
		return stepFailure("helm dependency update", out, err), false
	}
	return build.Result{}, true
}

// schemaFiles returns the names of files in dir whose name contains "schema",
// sorted. A missing directory yields no files.
func schemaFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.Contains(e.Name(), "schema") {
			files = append(files, e.Name())
		}
	}
	slices.Sort(files)
	return files, nil
}

var _ build.Backend = (*Helm)(nil)

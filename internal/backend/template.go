package backend

import (
	"context"
	"deploybuild/internal/build"
	"deploybuild/internal/runner"
	"fmt"
	"log/slog"
	"os"
)

// Template renders a deployable's templated manifests for one target.
type Template struct {
	runner runner.Runner
	cfg    Config
	logger *slog.Logger
}

// NewTemplate creates a template backend.
func NewTemplate(r runner.Runner, cfg Config) *Template {
	return &Template{
		runner: r,
		cfg:    cfg.withDefaults(),
		logger: slog.With("component", "backend", "backend", "template"),
	}
}

// Name implements build.Backend.
func (t *Template) Name() string { return "template" }

// Build implements build.Backend.
func (t *Template) Build(ctx context.Context, item build.WorkItem) build.Result {
	if res, ok := requireTarget(item); !ok {
		return res
	}

	dir := deployablePath(t.cfg.Root, item.DT)
	if _, err := os.Stat(dir); err != nil {
		return build.Failure(build.KindBackendFault, fmt.Sprintf("deployable directory %s: %v", dir, err))
	}

	ctx, unlock, err := lockOutput(ctx, item)
	if err != nil {
		return stepFailure("wait for output directory", runner.Output{}, err)
	}
	defer unlock()

	logger := t.logger.With("dt", item.DT, "target", item.Target.String())
	logger.Info("Rendering templates")

	out, err := t.runner.Run(ctx, runner.Command{
		Name: "make",
		Args: makeArgs(t.cfg.TemplateMakeTarget, item),
		Dir:  dir,
		Env:  map[string]string{"ATT_ROOT": t.cfg.Root},
	})
	if err != nil {
		logger.Warn("Template build failed", "error", err)
		return stepFailure("make "+t.cfg.TemplateMakeTarget, out, err)
	}

	logger.Info("Template build succeeded")
	return build.Success(&build.Artifact{
		Dir:    outputPath(t.cfg.Root, item),
		Output: out.Stdout,
	})
}

var _ build.Backend = (*Template)(nil)

// buildctl runs one batch build in-process and prints the JSON report.
//
// Exit codes: 0 when every build succeeded, 1 when any build failed, 2 when
// the batch itself was rejected or the engine could not start.
package main

import (
	"context"
	"deploybuild/internal/app"
	"deploybuild/internal/build"
	"deploybuild/internal/config"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitInvalid = 2
)

// options are the parsed command line.
type options struct {
	root          string
	catalogFile   string
	helm          bool
	target        build.Target
	maxConcurrent int
	timeout       time.Duration
	logLevel      slog.Level
	dts           []string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parse(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, "buildctl:", err)
		return exitInvalid
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.logLevel})))

	appOpts := app.LoadOptionsFromEnv(opts.root, opts.catalogFile)
	if opts.timeout > 0 {
		appOpts.Build.Timeout = opts.timeout
	}

	engine, err := app.New(ctx, appOpts)
	if err != nil {
		slog.Error("Engine failed to start", "error", err)
		return exitInvalid
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			slog.Warn("Engine shutdown error", "error", err)
		}
	}()

	buildOpts := build.Options{MaxConcurrent: opts.maxConcurrent}
	var report *build.Report
	if opts.helm {
		report, err = engine.Service.BuildHelmDeployables(ctx, opts.dts, opts.target, buildOpts)
	} else {
		report, err = engine.Service.BuildDeployables(ctx, opts.dts, buildOpts)
	}
	if err != nil {
		slog.Error("Batch rejected", "error", err)
		return exitInvalid
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report.Summary()); err != nil {
		slog.Error("Failed to write report", "error", err)
		return exitInvalid
	}

	if !report.OK() {
		return exitFailed
	}
	return exitOK
}

// parse reads flags and positional deployables from args.
func parse(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("buildctl", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprint(output, `buildctl - build deployables from an all-the-things checkout.

Usage:
  buildctl [options] DT [DT...]
  buildctl -helm -region R -env E -cluster C [options] DT [DT...]

Template builds fan out to every registered target of each DT.
Helm builds package each DT for the one target given.

Options:
`)
		fs.PrintDefaults()
	}

	root := fs.String("root", config.GetEnv("ALL_THE_THINGS_ROOT", ""), "All-the-things checkout root.")
	catalogFile := fs.String("catalog", config.GetEnv("CATALOG_FILE", ""), "Optional TOML catalog instead of discovering targets under -root.")
	helm := fs.Bool("helm", false, "Run helm builds for a single target instead of template builds.")
	region := fs.String("region", "", "Helm target region.")
	env := fs.String("env", "", "Helm target environment name.")
	cluster := fs.String("cluster", "", "Helm target cluster name.")
	maxConcurrent := fs.Int("max-concurrent", 0, "Builds to run at once (0 uses BUILD_MAX_CONCURRENT).")
	timeout := fs.Duration("timeout", 0, "Bound on the whole batch (0 uses BUILD_TIMEOUT).")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error.")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &options{
		root:          *root,
		catalogFile:   *catalogFile,
		helm:          *helm,
		maxConcurrent: *maxConcurrent,
		timeout:       *timeout,
		dts:           fs.Args(),
	}

	if opts.root == "" {
		return nil, errors.New("-root or ALL_THE_THINGS_ROOT is required")
	}
	if len(opts.dts) == 0 {
		fs.Usage()
		return nil, errors.New("at least one deployable is required")
	}
	if err := opts.logLevel.UnmarshalText([]byte(strings.ToUpper(*logLevel))); err != nil {
		return nil, fmt.Errorf("invalid -log-level %q", *logLevel)
	}

	if opts.helm {
		target, err := build.NewTarget(*region, *env, *cluster)
		if err != nil {
			return nil, fmt.Errorf("helm target: %w", err)
		}
		opts.target = target
	} else if *region != "" || *env != "" || *cluster != "" {
		return nil, errors.New("-region, -env and -cluster only apply with -helm")
	}
	return opts, nil
}

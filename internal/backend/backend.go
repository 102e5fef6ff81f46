// Package backend implements the build backends the dispatch engine drives:
// template rendering and Helm packaging through make, plus a decorator that
// publishes successful outputs to an artifact store.
package backend

import (
	"context"
	"deploybuild/internal/build"
	"deploybuild/internal/runner"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Layout of a deployable inside the checkout.
const (
	deployableDir = "deployable"
	helmSubdir    = "kubernetes/helm"
	buildSubdir   = "kubernetes/build"
)

// maxDetail bounds how much tool output a failure message carries.
const maxDetail = 4096

// deployablePath returns the absolute directory of dt.
func deployablePath(root, dt string) string {
	return filepath.Join(root, deployableDir, dt)
}

// outputPath returns the build directory the make targets write for item:
// kubernetes/build/<region>-<env>-<cluster>. Distinct targets can render to
// the same name, so writers hold lockOutput for the whole build.
func outputPath(root string, item build.WorkItem) string {
	return filepath.Join(deployablePath(root, item.DT), buildSubdir, item.Target.String())
}

// lockOutput serialises builds of item with every other build sharing its
// output directory, including duplicates of item itself.
func lockOutput(ctx context.Context, item build.WorkItem) (context.Context, func(), error) {
	return outputs.acquire(ctx, path.Join(item.DT, item.Target.String()))
}

// makeArgs renders the variables every make invocation receives.
func makeArgs(target string, item build.WorkItem) []string {
	return []string{
		target,
		"REGION=" + item.Target.Region,
		"ENV_NAME=" + item.Target.Env,
		"CLUSTER_NAME=" + item.Target.Cluster,
		"DT=" + item.DT,
	}
}

// stepFailure converts a failed runner step into a result, keeping the tool's
// own diagnostics. Cancellation stays classified as such.
func stepFailure(step string, out runner.Output, err error) build.Result {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return build.Failure(build.KindCancelled, fmt.Sprintf("%s cancelled: %v", step, err))
	}

	msg := fmt.Sprintf("%s failed: %v", step, err)
	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) {
		msg = fmt.Sprintf("%s failed with exit code %d", step, exitErr.ExitCode)
	}

	detail := strings.TrimSpace(out.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(out.Stdout)
	}
	if len(detail) > maxDetail {
		detail = "..." + detail[len(detail)-maxDetail:]
	}
	if detail != "" {
		msg += ": " + detail
	}
	return build.Failure(build.KindBackendFault, msg)
}

// requireTarget rejects items without a target; both backends build per target.
func requireTarget(item build.WorkItem) (build.Result, bool) {
	if item.Target.IsZero() {
		return build.Failure(build.KindBackendFault, fmt.Sprintf("%s: target is required", item.DT)), false
	}
	return build.Result{}, true
}

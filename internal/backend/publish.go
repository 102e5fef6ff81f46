package backend

import (
	"context"
	"deploybuild/internal/artifactstore"
	"deploybuild/internal/build"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
)

// Publishing decorates a backend so that every successful build's output
// directory is archived and uploaded to a store. Failures pass through
// untouched; a failed upload turns the build into a failure.
type Publishing struct {
	next   build.Backend
	store  artifactstore.Store
	logger *slog.Logger
}

// NewPublishing wraps next.
func NewPublishing(next build.Backend, store artifactstore.Store) *Publishing {
	return &Publishing{
		next:   next,
		store:  store,
		logger: slog.With("component", "publisher", "backend", next.Name()),
	}
}

// Name implements build.Backend.
func (p *Publishing) Name() string { return p.next.Name() }

// Build implements build.Backend.
// The output directory stays locked from the wrapped build through the
// upload, so the archive holds this item's output.
func (p *Publishing) Build(ctx context.Context, item build.WorkItem) build.Result {
	ctx, unlock, err := lockOutput(ctx, item)
	if err != nil {
		return build.Failure(build.KindCancelled, fmt.Sprintf("wait for output directory cancelled: %v", err))
	}
	defer unlock()

	res := p.next.Build(ctx, item)
	if !res.OK() || res.Artifact == nil || res.Artifact.Dir == "" {
		return res
	}

	location, err := p.publish(ctx, item, res.Artifact.Dir)
	if err != nil {
		p.logger.Warn("Failed to publish artifact", "dt", item.DT, "target", item.Target.String(), "error", err)
		if ctx.Err() != nil {
			return build.Failure(build.KindCancelled, fmt.Sprintf("publish cancelled: %v", err))
		}
		return build.Failure(build.KindBackendFault, fmt.Sprintf("publish failed: %v", err))
	}

	artifact := *res.Artifact
	artifact.Location = location
	p.logger.Info("Published artifact", "dt", item.DT, "target", item.Target.String(), "location", location)
	return build.Success(&artifact)
}

func (p *Publishing) publish(ctx context.Context, item build.WorkItem, dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("build output missing: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("build output %s is not a directory", dir)
	}

	tmp, err := os.CreateTemp("", "deploybuild-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := writeArchive(tmp, dir); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", dir, err)
	}
	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	return p.store.Put(ctx, objectKey(item), tmp, size, "application/gzip")
}

// objectKey names the archive of item: <dt>/<region>/<env>/<cluster>.tar.gz.
// Each target field is its own path segment.
func objectKey(item build.WorkItem) string {
	if item.Target.IsZero() {
		return path.Join(item.DT, "default.tar.gz")
	}
	t := item.Target
	return path.Join(item.DT, t.Region, t.Env, t.Cluster+".tar.gz")
}

var _ build.Backend = (*Publishing)(nil)

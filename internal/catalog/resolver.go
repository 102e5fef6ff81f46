package catalog

import (
	"context"
	"deploybuild/internal/apperrors"
	"deploybuild/internal/build"
	"errors"
	"log/slog"
	"slices"
)

// Resolver turns deployable names into buildable targets.
type Resolver struct {
	source Source
	logger *slog.Logger
}

// NewResolver creates a resolver over a catalog source.
func NewResolver(source Source) *Resolver {
	return &Resolver{
		source: source,
		logger: slog.With("component", "catalog"),
	}
}

// Expand returns every target registered for dt, ordered by region, env and
// cluster. A known deployable without targets yields an empty slice, not an
// error; an unknown one yields an apperrors.ErrNotFound error.
func (r *Resolver) Expand(ctx context.Context, dt string) ([]build.Target, error) {
	targets, err := r.source.ListTargets(ctx, dt)
	if err != nil {
		return nil, r.classify("catalog.listTargets", dt, err)
	}

	targets = slices.Clone(targets)
	slices.SortFunc(targets, build.Target.Compare)
	targets = slices.Compact(targets)
	if targets == nil {
		targets = []build.Target{}
	}

	r.logger.Debug("Expanded deployable", "dt", dt, "targets", len(targets))
	return targets, nil
}

// Validate confirms that target is registered for dt.
// Malformed target fields are a caller error (apperrors.ErrValidation); an
// unknown dt is apperrors.ErrNotFound; a known dt without that target is
// apperrors.ErrInvalidTarget.
func (r *Resolver) Validate(ctx context.Context, dt string, target build.Target) (build.Target, error) {
	if err := target.Validate(); err != nil {
		return build.Target{}, err
	}

	ok, err := r.source.HasTarget(ctx, dt, target)
	if err != nil {
		return build.Target{}, r.classify("catalog.hasTarget", dt, err)
	}
	if !ok {
		return build.Target{}, apperrors.InvalidTarget(dt, target.String())
	}
	return target, nil
}

// Deployables lists every known deployable.
func (r *Resolver) Deployables(ctx context.Context) ([]string, error) {
	return r.source.Deployables(ctx)
}

// classify passes through errors that already carry a taxonomy and wraps the
// rest as internal faults.
func (r *Resolver) classify(op, dt string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	r.logger.Warn("Catalog lookup failed", "op", op, "dt", dt, "error", err)
	return apperrors.Internal(op, err)
}

// Package catalog resolves deployables into the targets they are registered for.
//
// A Source answers raw catalog questions; the Resolver layers the batch
// semantics on top (ordering, unknown-vs-empty distinction, target validation).
package catalog

import (
	"context"
	"deploybuild/internal/build"
	"strings"
)

// Source is a catalog of deployables and their registered targets.
type Source interface {
	// Deployables returns the names of all known deployables.
	Deployables(ctx context.Context) ([]string, error)

	// ListTargets returns the targets registered for dt.
	// Returns an apperrors.ErrNotFound error if dt is unknown, and an empty
	// slice if dt is known but has no targets.
	ListTargets(ctx context.Context, dt string) ([]build.Target, error)

	// HasTarget reports whether target is registered for dt.
	// Returns an apperrors.ErrNotFound error if dt is unknown.
	HasTarget(ctx context.Context, dt string, target build.Target) (bool, error)
}

// validName reports whether dt can name a deployable. Names are single path
// elements so they can never escape the catalog root.
func validName(dt string) bool {
	if dt == "" || strings.HasPrefix(dt, ".") {
		return false
	}
	return !strings.ContainsAny(dt, `/\`)
}

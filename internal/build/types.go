// Package build defines build work items and reports, the bounded dispatch
// engine that executes them, and the service exposing batch build operations.
package build

import (
	"cmp"
	"context"
	"deploybuild/internal/apperrors"
	"errors"
	"fmt"
	"regexp"
)

// identPattern is the accepted shape of a single target field.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Target is one deployment environment instance.
//
// The three fields are always carried separately. The combined
// region-env-cluster form is ambiguous ("eu-north-1-prod-sandbox") and is only
// ever rendered, never parsed.
type Target struct {
	Region  string `json:"region"`
	Env     string `json:"env_name"`
	Cluster string `json:"cluster_name"`
}

// NewTarget builds a Target and validates every field.
func NewTarget(region, env, cluster string) (Target, error) {
	t := Target{Region: region, Env: env, Cluster: cluster}
	if err := t.Validate(); err != nil {
		return Target{}, err
	}
	return t, nil
}

// Validate checks that every field is a non-empty identifier.
func (t Target) Validate() error {
	fields := []struct{ name, value string }{
		{"region", t.Region},
		{"env_name", t.Env},
		{"cluster_name", t.Cluster},
	}
	for _, f := range fields {
		if f.value == "" {
			return apperrors.Validation(f.name, f.name+" is required")
		}
		if !identPattern.MatchString(f.value) {
			return apperrors.Validation(f.name, fmt.Sprintf("%s %q must be alphanumeric (dots, hyphens and underscores allowed)", f.name, f.value))
		}
	}
	return nil
}

// IsZero reports whether no field is set.
func (t Target) IsZero() bool {
	return t == Target{}
}

// String renders the canonical region-env-cluster form.
func (t Target) String() string {
	if t.IsZero() {
		return ""
	}
	return t.Region + "-" + t.Env + "-" + t.Cluster
}

// Compare orders targets by region, then env, then cluster.
func (t Target) Compare(o Target) int {
	if c := cmp.Compare(t.Region, o.Region); c != 0 {
		return c
	}
	if c := cmp.Compare(t.Env, o.Env); c != 0 {
		return c
	}
	return cmp.Compare(t.Cluster, o.Cluster)
}

// WorkItem is one build attempt of a deployable for a target.
type WorkItem struct {
	DT     string `json:"dt"`
	Target Target `json:"target"`
}

// Label is a short human-readable name for logs and summaries.
func (w WorkItem) Label() string {
	if w.Target.IsZero() {
		return w.DT
	}
	return w.DT + "/" + w.Target.String()
}

// Status of a build result.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrorKind classifies a failed build result.
type ErrorKind string

const (
	KindUnknownDeployable ErrorKind = "UnknownDeployable"
	KindInvalidTarget     ErrorKind = "InvalidTarget"
	KindBackendFault      ErrorKind = "BackendFault"
	KindCancelled         ErrorKind = "Cancelled"
	KindBatchInvalid      ErrorKind = "BatchInvalid"
)

// KindOf maps an error onto the result taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return KindUnknownDeployable
	case errors.Is(err, apperrors.ErrInvalidTarget):
		return KindInvalidTarget
	case errors.Is(err, apperrors.ErrValidation):
		return KindBatchInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindBackendFault
	}
}

// Artifact describes what a successful build produced.
type Artifact struct {
	Dir      string   `json:"build_dir"`          // output directory, unique per (dt, target)
	Files    []string `json:"files,omitempty"`    // produced files of interest (e.g. helm schema files)
	Output   string   `json:"stdout,omitempty"`   // tool output
	Location string   `json:"location,omitempty"` // published location, if any
}

// Result is the outcome of one WorkItem. Build it with Success or Failure.
type Result struct {
	Status   Status    `json:"status"`
	Artifact *Artifact `json:"artifact,omitempty"`
	Kind     ErrorKind `json:"error_kind,omitempty"`
	Message  string    `json:"error,omitempty"`
}

// Success creates a successful result.
func Success(a *Artifact) Result {
	if a == nil {
		a = &Artifact{}
	}
	return Result{Status: StatusSuccess, Artifact: a}
}

// Failure creates a failed result.
func Failure(kind ErrorKind, message string) Result {
	return Result{Status: StatusFailure, Kind: kind, Message: message}
}

// FailureFromError creates a failed result classified by KindOf.
func FailureFromError(err error) Result {
	return Failure(KindOf(err), err.Error())
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Backend builds a single work item.
//
// Implementations must convert every internal fault into a Failure result;
// Build never returns a partially populated Result. Concurrent calls must only
// write to paths unique to their (dt, target).
type Backend interface {
	Name() string
	Build(ctx context.Context, item WorkItem) Result
}

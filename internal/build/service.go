package build

import (
	"context"
	"deploybuild/internal/apperrors"
	"deploybuild/internal/notify"
	"deploybuild/internal/observability"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation limits
const (
	maxConcurrentLimit = 64
	maxCallbackKeyLen  = 256
)

// Resolver answers catalog questions for the orchestrator.
type Resolver interface {
	Expand(ctx context.Context, dt string) ([]Target, error)
	Validate(ctx context.Context, dt string, target Target) (Target, error)
	Deployables(ctx context.Context) ([]string, error)
}

// Callback is where a batch completion event is delivered.
type Callback struct {
	URL string `json:"url"`
	Key string `json:"key,omitempty"` // HMAC signing key
}

// Options tune a single batch call.
type Options struct {
	MaxConcurrent int       // per-batch concurrency; zero uses the configured default
	Callback      *Callback // optional completion callback
}

// Service runs batch builds: it resolves deployables to work items, hands
// them to the pool, and shapes the report.
type Service struct {
	resolver Resolver
	pool     *Pool
	template Backend
	helm     Backend
	notifier notify.Notifier
	metrics  *observability.Metrics
	config   Config
	logger   *slog.Logger
}

// ServiceDeps bundles the collaborators of a Service. Notifier and Metrics
// may be nil.
type ServiceDeps struct {
	Resolver Resolver
	Pool     *Pool
	Template Backend
	Helm     Backend
	Notifier notify.Notifier
	Metrics  *observability.Metrics
}

// NewService creates a batch build service.
func NewService(cfg Config, deps ServiceDeps) *Service {
	return &Service{
		resolver: deps.Resolver,
		pool:     deps.Pool,
		template: deps.Template,
		helm:     deps.Helm,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		config:   cfg.withDefaults(),
		logger:   slog.With("component", "build"),
	}
}

// BuildDeployables builds every registered target of every listed deployable
// with the template backend.
//
// The report lists, for each dt in order, one entry per target. An unknown dt
// contributes a single UnknownDeployable entry; a known dt without targets
// contributes nothing. Only malformed requests fail the call.
func (s *Service) BuildDeployables(ctx context.Context, dts []string, opts Options) (*Report, error) {
	if err := s.validate(dts, opts); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	start := time.Now()

	plan := make([]planned, len(dts))
	for i, dt := range dts {
		targets, err := s.resolver.Expand(ctx, dt)
		if err != nil {
			plan[i].failure = s.resolveFailure(dt, err)
			continue
		}
		for _, t := range targets {
			plan[i].items = append(plan[i].items, WorkItem{DT: dt, Target: t})
		}
	}

	report, err := s.run(ctx, plan, s.template, opts)
	if err != nil {
		return nil, err
	}
	report.Mode = ModeTemplate
	report.DTs = slices.Clone(dts)

	s.finish(ctx, report, opts, time.Since(start))
	return report, nil
}

// BuildHelmDeployables builds every listed deployable for one explicit target
// with the helm backend.
//
// Each dt contributes exactly one entry: UnknownDeployable or InvalidTarget
// when the catalog rejects it, otherwise the build outcome. Malformed target
// fields fail the call.
func (s *Service) BuildHelmDeployables(ctx context.Context, dts []string, target Target, opts Options) (*Report, error) {
	if err := s.validate(dts, opts); err != nil {
		return nil, err
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	start := time.Now()

	plan := make([]planned, len(dts))
	for i, dt := range dts {
		t, err := s.resolver.Validate(ctx, dt, target)
		if err != nil {
			plan[i].failure = s.resolveFailure(dt, err)
			plan[i].failure.Item.Target = target
			continue
		}
		plan[i].items = []WorkItem{{DT: dt, Target: t}}
	}

	report, err := s.run(ctx, plan, s.helm, opts)
	if err != nil {
		return nil, err
	}
	report.Mode = ModeHelm
	report.DTs = slices.Clone(dts)
	report.Target = &target

	s.finish(ctx, report, opts, time.Since(start))
	return report, nil
}

// Deployables lists every known deployable.
func (s *Service) Deployables(ctx context.Context) ([]string, error) {
	return s.resolver.Deployables(ctx)
}

// Targets lists the registered targets of dt.
func (s *Service) Targets(ctx context.Context, dt string) ([]Target, error) {
	return s.resolver.Expand(ctx, dt)
}

// planned is the resolution outcome of one requested dt: either the items to
// build, or a synthetic failure entry.
type planned struct {
	items   []WorkItem
	failure *Entry
}

// resolveFailure turns a catalog error into a synthetic report entry.
func (s *Service) resolveFailure(dt string, err error) *Entry {
	kind := KindOf(err)
	if kind == KindBatchInvalid {
		kind = KindBackendFault
	}
	s.logger.Warn("Deployable rejected", "dt", dt, "kind", kind, "error", err)
	return &Entry{Item: WorkItem{DT: dt}, Result: Failure(kind, err.Error())}
}

// run builds every planned item through the pool and merges the results with
// the synthetic failures, in dt order.
func (s *Service) run(ctx context.Context, plan []planned, backend Backend, opts Options) (*Report, error) {
	var items []WorkItem
	for _, p := range plan {
		items = append(items, p.items...)
	}

	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = s.config.MaxConcurrent
	}

	built := &Report{}
	if len(items) > 0 {
		var err error
		built, err = s.pool.Run(ctx, items, backend, limit)
		if err != nil {
			return nil, err
		}
	}

	entries := make([]Entry, 0, len(items)+len(plan))
	next := 0
	for _, p := range plan {
		if p.failure != nil {
			entries = append(entries, *p.failure)
			continue
		}
		entries = append(entries, built.Entries[next:next+len(p.items)]...)
		next += len(p.items)
	}
	return &Report{Entries: entries}, nil
}

// finish records metrics, logs the summary, and queues the callback.
func (s *Service) finish(ctx context.Context, report *Report, opts Options, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.RecordBatch(context.WithoutCancel(ctx), string(report.Mode), report.Total(), report.FailureCount(), duration.Seconds())
	}

	logger := s.logger.With(
		"mode", report.Mode,
		"dts", len(report.DTs),
		"total", report.Total(),
		"success", report.SuccessCount(),
		"failure", report.FailureCount(),
		"duration", duration,
	)
	if report.OK() {
		logger.Info(report.Message())
	} else {
		logger.Warn(report.Message(), "failed", report.Failed())
	}

	if opts.Callback == nil || opts.Callback.URL == "" || s.notifier == nil {
		return
	}
	event := NewBatchEvent(s.config.Source, uuid.NewString(), report, duration)
	err := s.notifier.Notify(&notify.Event{
		Payload:     event,
		Destination: opts.Callback.URL,
		SigningKey:  opts.Callback.Key,
	})
	if err != nil {
		logger.Warn("Callback not queued", "error", err)
	}
}

// validate checks call-level request shape. Does not touch the catalog.
func (s *Service) validate(dts []string, opts Options) error {
	if len(dts) == 0 {
		return apperrors.Validation("dt_list", "dt_list must contain at least one deployable")
	}
	if len(dts) > s.config.MaxBatchSize {
		return apperrors.Validation("dt_list", fmt.Sprintf("dt_list exceeds maximum of %d deployables", s.config.MaxBatchSize))
	}
	for i, dt := range dts {
		if strings.TrimSpace(dt) == "" {
			return apperrors.Validation("dt_list", fmt.Sprintf("dt_list[%d] is empty", i))
		}
	}

	if opts.MaxConcurrent < 0 {
		return apperrors.Validation("max_concurrent", "max_concurrent must not be negative")
	}
	if opts.MaxConcurrent > maxConcurrentLimit {
		return apperrors.Validation("max_concurrent", fmt.Sprintf("max_concurrent exceeds maximum of %d", maxConcurrentLimit))
	}

	if opts.Callback != nil {
		if err := validateURL(opts.Callback.URL); err != nil {
			return apperrors.Validation("callback.url", fmt.Sprintf("invalid callback URL: %v", err))
		}
		if len(opts.Callback.Key) > maxCallbackKeyLen {
			return apperrors.Validation("callback.key", fmt.Sprintf("callback key exceeds maximum length of %d", maxCallbackKeyLen))
		}
	}
	return nil
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("malformed URL")
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}

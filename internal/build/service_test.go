package build

import (
	"context"
	"deploybuild/internal/apperrors"
	"deploybuild/internal/notify"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeResolver serves a fixed catalog.
type fakeResolver struct {
	targets map[string][]Target
	err     error // returned for every lookup when set
}

func (r *fakeResolver) Expand(ctx context.Context, dt string) ([]Target, error) {
	if r.err != nil {
		return nil, r.err
	}
	targets, ok := r.targets[dt]
	if !ok {
		return nil, apperrors.NotFound("deployable", dt)
	}
	return slices.Clone(targets), nil
}

func (r *fakeResolver) Validate(ctx context.Context, dt string, target Target) (Target, error) {
	targets, err := r.Expand(ctx, dt)
	if err != nil {
		return Target{}, err
	}
	if !slices.Contains(targets, target) {
		return Target{}, apperrors.InvalidTarget(dt, target.String())
	}
	return target, nil
}

func (r *fakeResolver) Deployables(ctx context.Context) ([]string, error) {
	var names []string
	for name := range r.targets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

var (
	euProdSandbox = Target{Region: "eu-north-1", Env: "prod", Cluster: "sandbox"}
	euProdMain    = Target{Region: "eu-north-1", Env: "prod", Cluster: "main"}
	apDevMain     = Target{Region: "ap-south-1", Env: "dev", Cluster: "main"}
)

func testCatalog() *fakeResolver {
	return &fakeResolver{targets: map[string][]Target{
		"svc-a":      {apDevMain, euProdMain, euProdSandbox},
		"svc-b":      {euProdSandbox},
		"svc-empty":  {},
		"fail-c":     {euProdMain, euProdSandbox},
		"block-d":    {euProdSandbox},
		"panic-helm": {euProdSandbox},
	}}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (n *recordingNotifier) Notify(event *notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Stats() notify.Stats          { return notify.Stats{} }
func (n *recordingNotifier) Close(context.Context) error { return nil }

func newTestService(t *testing.T, resolver Resolver, cfg Config, notifier notify.Notifier) (*Service, *fakeBackend, *fakeBackend) {
	t.Helper()
	template, helm := &fakeBackend{}, &fakeBackend{}
	svc := NewService(cfg, ServiceDeps{
		Resolver: resolver,
		Pool:     newTestPool(t, 4),
		Template: template,
		Helm:     helm,
		Notifier: notifier,
	})
	return svc, template, helm
}

func labels(r *Report) []string {
	out := make([]string, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e.Item.Label()
	}
	return out
}

func TestBuildDeployables(t *testing.T) {
	t.Parallel()
	svc, template, helm := newTestService(t, testCatalog(), Config{}, nil)

	report, err := svc.BuildDeployables(context.Background(), []string{"svc-b", "svc-missing", "svc-empty", "svc-a", "fail-c"}, Options{MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"svc-b/eu-north-1-prod-sandbox",
		"svc-missing",
		"svc-a/ap-south-1-dev-main",
		"svc-a/eu-north-1-prod-main",
		"svc-a/eu-north-1-prod-sandbox",
		"fail-c/eu-north-1-prod-main",
		"fail-c/eu-north-1-prod-sandbox",
	}
	if got := labels(report); !slices.Equal(got, want) {
		t.Fatalf("expected entries %v, got %v", want, got)
	}

	if report.Mode != ModeTemplate || report.Target != nil {
		t.Errorf("unexpected mode/target %s %v", report.Mode, report.Target)
	}
	if report.SuccessCount() != 4 || report.FailureCount() != 3 {
		t.Errorf("expected 4 successes and 3 failures, got %d/%d", report.SuccessCount(), report.FailureCount())
	}
	if got := report.Entries[1].Result.Kind; got != KindUnknownDeployable {
		t.Errorf("expected UnknownDeployable for svc-missing, got %s", got)
	}
	if report.CountKind(KindBackendFault) != 2 {
		t.Errorf("expected 2 backend faults, got %d", report.CountKind(KindBackendFault))
	}
	if template.calls.Load() != 6 || helm.calls.Load() != 0 {
		t.Errorf("expected 6 template builds and no helm builds, got %d/%d", template.calls.Load(), helm.calls.Load())
	}
	if !strings.Contains(report.Message(), "partially succeeded: 4 succeeded, 3 failed") {
		t.Errorf("unexpected message %q", report.Message())
	}
}

func TestReportOwnsDTList(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, testCatalog(), Config{}, nil)
	ctx := context.Background()

	dts := []string{"svc-a", "svc-b"}
	report, err := svc.BuildDeployables(ctx, dts, Options{})
	if err != nil {
		t.Fatal(err)
	}
	helmDTs := []string{"svc-a"}
	helmReport, err := svc.BuildHelmDeployables(ctx, helmDTs, euProdSandbox, Options{})
	if err != nil {
		t.Fatal(err)
	}

	dts[0], helmDTs[0] = "reused", "reused"
	if !slices.Equal(report.DTs, []string{"svc-a", "svc-b"}) {
		t.Errorf("template report changed with the caller's slice: %v", report.DTs)
	}
	if !slices.Equal(helmReport.DTs, []string{"svc-a"}) {
		t.Errorf("helm report changed with the caller's slice: %v", helmReport.DTs)
	}
}

func TestBuildDeployablesCountsEveryTarget(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, testCatalog(), Config{}, nil)

	report, err := svc.BuildDeployables(context.Background(), []string{"svc-a", "svc-b", "svc-a"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Total() != 3+1+3 {
		t.Errorf("expected the sum of each dt's targets, got %d", report.Total())
	}
	if !report.OK() {
		t.Errorf("expected all builds to succeed: %v", report.Failed())
	}
}

func TestBuildDeployablesOnlyEmpty(t *testing.T) {
	t.Parallel()
	svc, template, _ := newTestService(t, testCatalog(), Config{}, nil)

	report, err := svc.BuildDeployables(context.Background(), []string{"svc-empty"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Total() != 0 || template.calls.Load() != 0 {
		t.Errorf("expected nothing built, got %d entries", report.Total())
	}
	if report.Message() != "Batch build completed, nothing to build" {
		t.Errorf("unexpected message %q", report.Message())
	}
}

func TestBuildDeployablesCatalogFault(t *testing.T) {
	t.Parallel()
	resolver := &fakeResolver{err: apperrors.Internal("catalog.listTargets", errors.New("disk on fire"))}
	svc, _, _ := newTestService(t, resolver, Config{}, nil)

	report, err := svc.BuildDeployables(context.Background(), []string{"svc-a"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Total() != 1 || report.Entries[0].Result.Kind != KindBackendFault {
		t.Errorf("expected a single BackendFault entry, got %+v", report.Entries)
	}
}

func TestBuildDeployablesValidation(t *testing.T) {
	t.Parallel()
	svc, template, _ := newTestService(t, testCatalog(), Config{MaxBatchSize: 3}, nil)

	tests := []struct {
		name string
		dts  []string
		opts Options
	}{
		{"empty list", nil, Options{}},
		{"blank dt", []string{"svc-a", " "}, Options{}},
		{"too many", []string{"a", "b", "c", "d"}, Options{}},
		{"negative concurrency", []string{"svc-a"}, Options{MaxConcurrent: -1}},
		{"huge concurrency", []string{"svc-a"}, Options{MaxConcurrent: 1000}},
		{"bad callback scheme", []string{"svc-a"}, Options{Callback: &Callback{URL: "ftp://example.com"}}},
		{"callback without host", []string{"svc-a"}, Options{Callback: &Callback{URL: "http://"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.BuildDeployables(context.Background(), tt.dts, tt.opts)
			if !errors.Is(err, apperrors.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
			if KindOf(err) != KindBatchInvalid {
				t.Errorf("expected BatchInvalid kind, got %s", KindOf(err))
			}
		})
	}
	if template.calls.Load() != 0 {
		t.Errorf("expected no builds for invalid batches, got %d", template.calls.Load())
	}
}

func TestBuildHelmDeployables(t *testing.T) {
	t.Parallel()
	svc, template, helm := newTestService(t, testCatalog(), Config{}, nil)
	ctx := context.Background()

	t.Run("registered target", func(t *testing.T) {
		report, err := svc.BuildHelmDeployables(ctx, []string{"svc-a", "svc-b", "svc-missing", "panic-helm"}, euProdSandbox, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if report.Mode != ModeHelm || report.Target == nil || *report.Target != euProdSandbox {
			t.Errorf("unexpected mode/target %s %v", report.Mode, report.Target)
		}
		want := []struct {
			ok   bool
			kind ErrorKind
		}{
			{ok: true},
			{ok: true},
			{kind: KindUnknownDeployable},
			{kind: KindBackendFault},
		}
		for i, w := range want {
			res := report.Entries[i].Result
			if res.OK() != w.ok || res.Kind != w.kind {
				t.Errorf("entry %d: expected ok=%v kind=%q, got %+v", i, w.ok, w.kind, res)
			}
			if report.Entries[i].Item.Target != euProdSandbox {
				t.Errorf("entry %d: expected target %v, got %v", i, euProdSandbox, report.Entries[i].Item.Target)
			}
		}
	})

	t.Run("unregistered cluster", func(t *testing.T) {
		nonexistent := Target{Region: "eu-north-1", Env: "prod", Cluster: "nonexistent"}
		report, err := svc.BuildHelmDeployables(ctx, []string{"svc-a"}, nonexistent, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if report.Total() != 1 || report.Entries[0].Result.Kind != KindInvalidTarget {
			t.Errorf("expected one InvalidTarget entry, got %+v", report.Entries)
		}
		if !strings.Contains(report.Message(), "Batch helm build failed") {
			t.Errorf("unexpected message %q", report.Message())
		}
	})

	t.Run("malformed target", func(t *testing.T) {
		_, err := svc.BuildHelmDeployables(ctx, []string{"svc-a"}, Target{Region: "eu-north-1", Env: "prod"}, Options{})
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	if template.calls.Load() != 0 {
		t.Errorf("expected helm batches to bypass the template backend, got %d calls", template.calls.Load())
	}
	if helm.calls.Load() != 3 {
		t.Errorf("expected 3 helm builds, got %d", helm.calls.Load())
	}
}

func TestBuildDeployablesTimeout(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, testCatalog(), Config{Timeout: 50 * time.Millisecond}, nil)

	start := time.Now()
	report, err := svc.BuildDeployables(context.Background(), []string{"svc-b", "block-d"}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("batch was not bounded by the timeout")
	}
	if !report.Entries[0].Result.OK() {
		t.Errorf("expected svc-b to succeed, got %+v", report.Entries[0].Result)
	}
	if report.Entries[1].Result.Kind != KindCancelled {
		t.Errorf("expected block-d to be cancelled, got %+v", report.Entries[1].Result)
	}
}

func TestBuildDeployablesCallback(t *testing.T) {
	t.Parallel()
	notifier := &recordingNotifier{}
	svc, _, _ := newTestService(t, testCatalog(), Config{Source: "test-server"}, notifier)

	cb := &Callback{URL: "https://hooks.example.com/builds", Key: "secret"}
	if _, err := svc.BuildDeployables(context.Background(), []string{"svc-b"}, Options{Callback: cb}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.BuildDeployables(context.Background(), []string{"svc-b"}, Options{}); err != nil {
		t.Fatal(err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 {
		t.Fatalf("expected 1 callback, got %d", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.Destination != cb.URL || ev.SigningKey != cb.Key {
		t.Errorf("unexpected destination %q / key %q", ev.Destination, ev.SigningKey)
	}
	if ev.Payload.Type != EventTypeBatchCompleted || ev.Payload.Source != "test-server" {
		t.Errorf("unexpected event %s from %s", ev.Payload.Type, ev.Payload.Source)
	}
	data, ok := ev.Payload.Data.(batchEventData)
	if !ok {
		t.Fatalf("unexpected payload %T", ev.Payload.Data)
	}
	if !data.Success || data.SuccessCount != 1 || !slices.Equal(data.DTs, []string{"svc-b"}) {
		t.Errorf("unexpected payload %+v", data)
	}
}

func TestServiceBrowsing(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, testCatalog(), Config{}, nil)
	ctx := context.Background()

	names, err := svc.Deployables(ctx)
	if err != nil || len(names) != 6 {
		t.Errorf("expected 6 deployables, got %v, %v", names, err)
	}
	targets, err := svc.Targets(ctx, "svc-a")
	if err != nil || len(targets) != 3 {
		t.Errorf("expected 3 targets, got %v, %v", targets, err)
	}
	if _, err := svc.Targets(ctx, "svc-missing"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBuildDeployablesClosedPool(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, testCatalog(), Config{}, nil)
	if err := svc.pool.Close(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := svc.BuildDeployables(context.Background(), []string{"svc-a"}, Options{})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("BUILD_TIMEOUT", "1800")
	t.Setenv("BUILD_MAX_CONCURRENT", "5")
	t.Setenv("BUILD_WORKERS", "-1")

	cfg := LoadConfigFromEnv()
	if cfg.Timeout != 30*time.Minute {
		t.Errorf("expected 30m timeout, got %v", cfg.Timeout)
	}
	if cfg.MaxConcurrent != 5 {
		t.Errorf("expected max concurrent 5, got %d", cfg.MaxConcurrent)
	}
	if cfg.Workers != 8 {
		t.Errorf("expected default workers 8, got %d", cfg.Workers)
	}
	if pc := cfg.PoolConfig(); pc.Workers != 8 || pc.DefaultLimit != 5 {
		t.Errorf("unexpected pool config %+v", pc)
	}
}

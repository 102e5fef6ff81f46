package build

import (
	"context"
	"deploybuild/internal/apperrors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by Run once Close has been called.
var ErrPoolClosed = apperrors.Unavailable("build pool", "pool is closed")

// DefaultLimit is the per-batch concurrency used when a caller asks for none.
const DefaultLimit = 3

// Metrics is an optional recorder for engine metrics.
type Metrics interface {
	RecordBuild(ctx context.Context, backend string, success bool, kind string, durationSeconds float64)
	RecordBuildsInFlight(ctx context.Context, delta int64)
}

// PoolConfig holds configuration for the dispatch engine.
type PoolConfig struct {
	Workers      int // concurrent builds across all batches (default: 8)
	DefaultLimit int // per-batch concurrency when a call passes none (default: 3)
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = DefaultLimit
	}
	return c
}

// task is one work item handed to a worker.
type task struct {
	ctx     context.Context
	item    WorkItem
	backend Backend
	result  *Result
	done    func()
}

// Pool is a fixed set of build workers shared by all batches.
//
// Run bounds each batch with its own semaphore; the worker count bounds the
// process as a whole. Results land at their submission index, so a report is
// ordered no matter how builds interleave.
type Pool struct {
	tasks   chan *task
	config  PoolConfig
	logger  *slog.Logger
	metrics Metrics

	inFlight  atomic.Int64
	completed atomic.Int64
	panics    atomic.Int64

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// PoolStats holds engine statistics.
type PoolStats struct {
	Workers   int   // fixed worker count
	InFlight  int64 // builds currently executing
	Completed int64 // builds finished since start
	Panics    int64 // backend panics recovered
}

// NewPool starts the workers. Metrics may be nil.
func NewPool(cfg PoolConfig, metrics Metrics) *Pool {
	cfg = cfg.withDefaults()

	p := &Pool{
		tasks:    make(chan *task),
		config:   cfg,
		logger:   slog.With("component", "pool"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	p.logger.Info("Build pool started", "workers", cfg.Workers, "defaultLimit", cfg.DefaultLimit)
	return p
}

// Run builds every item with backend, at most limit at a time, and returns a
// report with exactly one entry per item in submission order.
//
// Item failures never fail the call. When ctx is done, items not yet started
// are reported as cancelled and in-flight items see the cancelled context;
// results that already succeeded are kept.
func (p *Pool) Run(ctx context.Context, items []WorkItem, backend Backend, limit int) (*Report, error) {
	if backend == nil {
		return nil, apperrors.Validation("backend", "backend is required")
	}
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if limit <= 0 {
		limit = p.config.DefaultLimit
	}

	results := make([]Result, len(items))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	logger := p.logger.With("backend", backend.Name(), "items", len(items), "limit", limit)
	logger.Debug("Dispatching batch")

dispatch:
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}

		wg.Add(1)
		t := &task{
			ctx:     ctx,
			item:    item,
			backend: backend,
			result:  &results[i],
			done: func() {
				<-sem
				wg.Done()
			},
		}

		select {
		case p.tasks <- t:
		case <-ctx.Done():
			t.done()
			break dispatch
		case <-p.shutdown:
			t.done()
			break dispatch
		}
	}

	wg.Wait()

	entries := make([]Entry, len(items))
	cancelled := 0
	for i, item := range items {
		res := results[i]
		if res.Status == "" {
			res = Failure(KindCancelled, notStartedMessage(ctx, p.closed.Load()))
			cancelled++
		}
		entries[i] = Entry{Item: item, Result: res}
	}
	if cancelled > 0 {
		logger.Warn("Batch interrupted", "notStarted", cancelled, "error", ctx.Err())
	}

	return &Report{Entries: entries}, nil
}

func notStartedMessage(ctx context.Context, closed bool) string {
	if err := ctx.Err(); err != nil {
		return fmt.Sprintf("cancelled before start: %v", err)
	}
	if closed {
		return "cancelled before start: build pool is closed"
	}
	return "cancelled before start"
}

// Stats returns current engine statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.config.Workers,
		InFlight:  p.inFlight.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Close stops accepting batches and waits for in-flight builds to finish.
// The context deadline controls how long to wait.
func (p *Pool) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil // already closed
	}

	p.logger.Info("Build pool shutting down", "inFlight", p.inFlight.Load())
	close(p.shutdown)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Build pool shutdown complete", "completed", p.completed.Load())
		return nil
	case <-ctx.Done():
		p.logger.Warn("Build pool shutdown timed out", "inFlight", p.inFlight.Load())
		return ctx.Err()
	}
}

// worker executes tasks until shutdown.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.shutdown:
			return
		case t := <-p.tasks:
			p.execute(t)
		}
	}
}

// execute runs one task and stores its result. It always stores exactly one
// well-formed result, whatever the backend does.
func (p *Pool) execute(t *task) {
	defer t.done()

	p.inFlight.Add(1)
	if p.metrics != nil {
		p.metrics.RecordBuildsInFlight(t.ctx, 1)
	}
	start := time.Now()

	res := p.safeBuild(t)
	if !res.OK() && res.Kind != KindCancelled && t.ctx.Err() != nil && isContextMessage(res.Message) {
		res = Failure(KindCancelled, res.Message)
	}
	*t.result = res

	duration := time.Since(start)
	p.inFlight.Add(-1)
	p.completed.Add(1)
	if p.metrics != nil {
		ctx := context.WithoutCancel(t.ctx)
		p.metrics.RecordBuildsInFlight(ctx, -1)
		p.metrics.RecordBuild(ctx, t.backend.Name(), res.OK(), string(res.Kind), duration.Seconds())
	}

	p.logger.Debug("Build finished",
		"backend", t.backend.Name(),
		"item", t.item.Label(),
		"status", res.Status,
		"kind", res.Kind,
		"duration", duration,
	)
}

// isContextMessage reports whether a failure message carries a context error.
// Failures with any other cause keep their kind even when the batch has ended.
func isContextMessage(msg string) bool {
	return strings.Contains(msg, context.Canceled.Error()) || strings.Contains(msg, context.DeadlineExceeded.Error())
}

// safeBuild calls the backend, converting a panic or a malformed result into
// a backend fault.
func (p *Pool) safeBuild(t *task) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("Backend panicked",
				"backend", t.backend.Name(),
				"item", t.item.Label(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = Failure(KindBackendFault, fmt.Sprintf("panic: %v", r))
		}
	}()

	res = t.backend.Build(t.ctx, t.item)
	switch res.Status {
	case StatusSuccess:
		if res.Artifact == nil {
			res.Artifact = &Artifact{}
		}
		res.Kind, res.Message = "", ""
	case StatusFailure:
		res.Artifact = nil
		if res.Kind == "" {
			res.Kind = KindBackendFault
		}
	default:
		res = Failure(KindBackendFault, fmt.Sprintf("backend %s returned no result", t.backend.Name()))
	}
	return res
}

package notify

import (
	"context"
	"deploybuild/pkg/backoff"
	"deploybuild/pkg/circuitbreaker"
	"deploybuild/pkg/cloudevent"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsRecorder is an optional interface for recording notifier metrics.
type MetricsRecorder interface {
	RecordNotifyDelivered(ctx context.Context, durationSeconds float64)
	RecordNotifyFailed(ctx context.Context)
	RecordNotifyDropped(ctx context.Context)
	RecordNotifyQueueSize(ctx context.Context, size int64)
}

// Memory is an in-memory notifier.
// Events are queued in a bounded channel and delivered by a worker pool.
// If the buffer is full, or the destination's circuit is open, events are
// dropped (logged + metric incremented).
type Memory struct {
	queue    chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	backoff  *backoff.Config
	config   Config
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	retriesTotal atomic.Int64

	wg       sync.WaitGroup
	mu       sync.RWMutex // guards queue sends against close
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewMemory creates a notifier and starts its workers. Metrics may be nil.
func NewMemory(cfg Config, metrics MetricsRecorder) *Memory {
	cfg = cfg.withDefaults()

	n := &Memory{
		queue:  make(chan *Event, cfg.BufferSize),
		sender: cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
		}),
		backoff:  &backoff.Config{Initial: defaultInitialBackoff, Max: defaultMaxBackoff},
		config:   cfg,
		logger:   slog.With("component", "notifier"),
		metrics:  metrics,
		shutdown: make(chan struct{}),
	}

	n.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go n.worker()
	}
	if metrics != nil {
		go n.reportQueueSize()
	}

	n.logger.Info("Notifier started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return n
}

// reportQueueSize periodically reports the queue size metric.
func (n *Memory) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.shutdown:
			return
		case <-ticker.C:
			n.metrics.RecordNotifyQueueSize(context.Background(), int64(len(n.queue)))
		}
	}
}

// Notify implements Notifier.
func (n *Memory) Notify(event *Event) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed.Load() {
		return ErrClosed
	}

	select {
	case n.queue <- event:
		n.queued.Add(1)
		return nil
	default:
		n.drop(event, "buffer full")
		return ErrBufferFull
	}
}

// Stats implements Notifier.
func (n *Memory) Stats() Stats {
	breakerStats := n.breakers.Stats()
	return Stats{
		QueueDepth:    len(n.queue),
		Queued:        n.queued.Load(),
		Delivered:     n.delivered.Load(),
		Failed:        n.failed.Load(),
		Dropped:       n.dropped.Load(),
		RetriesTotal:  n.retriesTotal.Load(),
		BreakersTotal: breakerStats.Total,
		BreakersOpen:  breakerStats.Open,
	}
}

// Close implements Notifier.
func (n *Memory) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed.Swap(true) {
		n.mu.Unlock()
		return nil
	}
	close(n.shutdown)
	n.mu.Unlock()

	n.logger.Info("Notifier shutting down", "queued", len(n.queue))

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.logger.Info("Notifier shutdown complete",
			"delivered", n.delivered.Load(),
			"failed", n.failed.Load(),
			"dropped", n.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		n.logger.Warn("Notifier shutdown timed out", "remaining", len(n.queue))
		return ctx.Err()
	}
}

// worker delivers events until shutdown, then drains what is left.
func (n *Memory) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.shutdown:
			n.drainQueue()
			return
		case event := <-n.queue:
			n.deliver(event)
		}
	}
}

func (n *Memory) drainQueue() {
	for {
		select {
		case event := <-n.queue:
			n.deliver(event)
		default:
			return
		}
	}
}

// deliver sends one event with retry, guarded by the destination's breaker.
func (n *Memory) deliver(event *Event) {
	host := extractHost(event.Destination)
	breaker := n.breakers.Get(host)

	if !breaker.Allow() {
		n.drop(event, "circuit open")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultDeliveryTimeout)
	defer cancel()

	start := time.Now()
	retryable := func(err error) bool { return !cloudevent.IsClientError(err) }
	onRetry := func(attempt int, err error) {
		n.retriesTotal.Add(1)
		n.logger.Debug("Retrying delivery", "destination", host, "attempt", attempt, "error", err)
	}
	err := backoff.Retry(ctx, n.config.MaxRetries+1, n.backoff, retryable, onRetry, func(ctx context.Context) error {
		return n.sender.Send(ctx, event.Destination, event.Payload, event.SigningKey)
	})
	if err != nil {
		breaker.RecordFailure()
		n.failed.Add(1)
		if n.metrics != nil {
			n.metrics.RecordNotifyFailed(ctx)
		}
		n.logger.Warn("Delivery failed", "destination", host, "type", event.Payload.Type, "error", err)
		return
	}

	breaker.RecordSuccess()
	n.delivered.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDelivered(ctx, time.Since(start).Seconds())
	}
	n.logger.Debug("Delivered", "destination", host, "type", event.Payload.Type)
}

func (n *Memory) drop(event *Event, reason string) {
	n.dropped.Add(1)
	if n.metrics != nil {
		n.metrics.RecordNotifyDropped(context.Background())
	}
	n.logger.Warn("Event dropped",
		"reason", reason,
		"destination", extractHost(event.Destination),
		"type", event.Payload.Type,
	)
}

// extractHost extracts the host from a URL for circuit breaker keying.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Notifier = (*Memory)(nil)

package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/builds/batches take
// - Traffic: Request/build throughput
// - Errors: Rate of failures, by kind
// - Saturation: Builds in flight and notifier queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Build metrics, one per work item (Latency, Traffic, Errors, Saturation)
	BuildDuration    metric.Float64Histogram
	BuildsTotal      metric.Int64Counter
	BuildErrorsTotal metric.Int64Counter
	BuildsInFlight   metric.Int64UpDownCounter

	// Batch metrics, one per call (Latency, Traffic)
	BatchDuration metric.Float64Histogram
	BatchesTotal  metric.Int64Counter
	BatchItems    metric.Int64Histogram

	// Notifier metrics (Latency, Traffic, Errors, Saturation)
	NotifyDuration  metric.Float64Histogram
	NotifyDelivered metric.Int64Counter
	NotifyFailed    metric.Int64Counter
	NotifyDropped   metric.Int64Counter
	NotifyQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("deploybuild")
	m := &Metrics{meter: meter}

	// HTTP metrics
	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Build metrics
	m.BuildDuration, err = meter.Float64Histogram(
		"build_duration_seconds",
		metric.WithDescription("Duration of a single (deployable, target) build in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BuildsTotal, err = meter.Int64Counter(
		"builds_total",
		metric.WithDescription("Total number of builds executed"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BuildErrorsTotal, err = meter.Int64Counter(
		"build_errors_total",
		metric.WithDescription("Total number of failed builds by error kind"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BuildsInFlight, err = meter.Int64UpDownCounter(
		"builds_in_flight",
		metric.WithDescription("Number of builds currently executing (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Batch metrics
	m.BatchDuration, err = meter.Float64Histogram(
		"batch_duration_seconds",
		metric.WithDescription("Duration of a batch build call in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 30, 60, 120, 300, 600, 900, 1800, 3600),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchesTotal, err = meter.Int64Counter(
		"batches_total",
		metric.WithDescription("Total number of batch build calls by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.BatchItems, err = meter.Int64Histogram(
		"batch_items",
		metric.WithDescription("Number of report entries per batch"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 256),
	)
	if err != nil {
		return nil, nil, err
	}

	// Notifier metrics
	m.NotifyDuration, err = meter.Float64Histogram(
		"notify_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDelivered, err = meter.Int64Counter(
		"notify_delivered_total",
		metric.WithDescription("Total callbacks successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyFailed, err = meter.Int64Counter(
		"notify_failed_total",
		metric.WithDescription("Total callbacks failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyDropped, err = meter.Int64Counter(
		"notify_dropped_total",
		metric.WithDescription("Total callbacks dropped (buffer full or circuit open)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.NotifyQueueSize, err = meter.Int64Gauge(
		"notify_queue_size",
		metric.WithDescription("Current number of callbacks in the notifier queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordBuild records one finished build.
func (m *Metrics) RecordBuild(ctx context.Context, backend string, success bool, kind string, durationSeconds float64) {
	attrs := metric.WithAttributes(backendAttr(backend), successAttr(success))
	m.BuildDuration.Record(ctx, durationSeconds, attrs)
	m.BuildsTotal.Add(ctx, 1, attrs)

	if !success {
		m.BuildErrorsTotal.Add(ctx, 1, metric.WithAttributes(backendAttr(backend), kindAttr(kind)))
	}
}

// RecordBuildsInFlight adjusts the number of executing builds.
func (m *Metrics) RecordBuildsInFlight(ctx context.Context, delta int64) {
	m.BuildsInFlight.Add(ctx, delta)
}

// RecordBatch records one finished batch call.
func (m *Metrics) RecordBatch(ctx context.Context, mode string, total, failed int, durationSeconds float64) {
	attrs := metric.WithAttributes(modeAttr(mode), outcomeAttr(Outcome(total, failed)))
	m.BatchDuration.Record(ctx, durationSeconds, attrs)
	m.BatchesTotal.Add(ctx, 1, attrs)
	m.BatchItems.Record(ctx, int64(total), metric.WithAttributes(modeAttr(mode)))
}

// RecordNotifyDelivered records a successful callback delivery with its duration.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context, durationSeconds float64) {
	m.NotifyDelivered.Add(ctx, 1)
	m.NotifyDuration.Record(ctx, durationSeconds)
}

// RecordNotifyFailed records a failed callback delivery.
func (m *Metrics) RecordNotifyFailed(ctx context.Context) {
	m.NotifyFailed.Add(ctx, 1)
}

// RecordNotifyDropped records a dropped callback.
func (m *Metrics) RecordNotifyDropped(ctx context.Context) {
	m.NotifyDropped.Add(ctx, 1)
}

// RecordNotifyQueueSize records the current queue size.
func (m *Metrics) RecordNotifyQueueSize(ctx context.Context, size int64) {
	m.NotifyQueueSize.Record(ctx, size)
}

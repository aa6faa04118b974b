package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metrics
type Metrics struct {
	meter   metric.Meter
	enabled bool

	// Report build metrics
	ReportBuildDuration metric.Float64Histogram
	ReportBuilds        metric.Int64Counter

	// Upstream API metrics
	UpstreamAPICalls    metric.Int64Counter
	UpstreamAPIDuration metric.Float64Histogram

	// Retry metrics
	RetryAttempts metric.Int64Counter

	// Cache metrics
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	CoalescedRequests metric.Int64Counter

	// Stats warmer metrics
	StatsRefreshes       metric.Int64Counter
	StatsRefreshDuration metric.Float64Histogram
	StatsEntitiesMerged  metric.Int64Counter
	StatsRefreshesSkipped metric.Int64Counter

	// Filtered stream metrics
	StreamPagesScanned metric.Int64Counter
	StreamRowsKept     metric.Int64Counter
	StreamScanDuration metric.Float64Histogram

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Alerting metrics
	AlertsPublished metric.Int64Counter

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		enabled:  true,
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.ReportBuildDuration, err = m.meter.Float64Histogram(
		"reporting.build.duration",
		metric.WithDescription("Aggregated report build duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.ReportBuilds, err = m.meter.Int64Counter(
		"reporting.builds",
		metric.WithDescription("Total aggregated report builds"),
	)
	if err != nil {
		return err
	}

	m.UpstreamAPICalls, err = m.meter.Int64Counter(
		"reporting.upstream.api.calls",
		metric.WithDescription("Total upstream marketing API calls"),
	)
	if err != nil {
		return err
	}

	m.UpstreamAPIDuration, err = m.meter.Float64Histogram(
		"reporting.upstream.api.duration",
		metric.WithDescription("Upstream API call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.RetryAttempts, err = m.meter.Int64Counter(
		"reporting.upstream.retries",
		metric.WithDescription("Upstream call retry attempts"),
	)
	if err != nil {
		return err
	}

	m.CacheHits, err = m.meter.Int64Counter(
		"reporting.cache.hits",
		metric.WithDescription("Cache hits by layer"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"reporting.cache.misses",
		metric.WithDescription("Cache misses by layer"),
	)
	if err != nil {
		return err
	}

	m.CoalescedRequests, err = m.meter.Int64Counter(
		"reporting.cache.coalesced",
		metric.WithDescription("Report requests that joined an in-flight fetch"),
	)
	if err != nil {
		return err
	}

	m.StatsRefreshes, err = m.meter.Int64Counter(
		"reporting.stats.refreshes",
		metric.WithDescription("Background stats refresh cycles"),
	)
	if err != nil {
		return err
	}

	m.StatsRefreshDuration, err = m.meter.Float64Histogram(
		"reporting.stats.refresh.duration",
		metric.WithDescription("Background stats refresh duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.StatsEntitiesMerged, err = m.meter.Int64Counter(
		"reporting.stats.entities.merged",
		metric.WithDescription("Entities merged into the stats cache per refresh"),
	)
	if err != nil {
		return err
	}

	m.StatsRefreshesSkipped, err = m.meter.Int64Counter(
		"reporting.stats.refreshes.skipped",
		metric.WithDescription("Stats refreshes skipped (debounced or already running)"),
	)
	if err != nil {
		return err
	}

	m.StreamPagesScanned, err = m.meter.Int64Counter(
		"reporting.stream.pages.scanned",
		metric.WithDescription("Raw upstream feed pages scanned"),
	)
	if err != nil {
		return err
	}

	m.StreamRowsKept, err = m.meter.Int64Counter(
		"reporting.stream.rows.kept",
		metric.WithDescription("Feed rows kept after predicate and window filtering"),
	)
	if err != nil {
		return err
	}

	m.StreamScanDuration, err = m.meter.Float64Histogram(
		"reporting.stream.scan.duration",
		metric.WithDescription("Filtered stream scan duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"reporting.circuit.breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.AlertsPublished, err = m.meter.Int64Counter(
		"reporting.alerts.published",
		metric.WithDescription("Upstream health alerts published"),
	)
	if err != nil {
		return err
	}

	m.Errors, err = m.meter.Int64Counter(
		"reporting.errors",
		metric.WithDescription("Errors by type"),
	)
	if err != nil {
		return err
	}

	return nil
}

// RecordReportBuild records one aggregated report build.
func (m *Metrics) RecordReportBuild(ctx context.Context, source string, cached bool, duration time.Duration) {
	if !m.enabled {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.Bool("cached", cached),
	}
	m.ReportBuilds.Add(ctx, 1, metric.WithAttributes(attrs...))
	if !cached {
		m.ReportBuildDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	}
}

// RecordUpstreamCall records an upstream API call.
func (m *Metrics) RecordUpstreamCall(ctx context.Context, platform, endpoint, status string, duration time.Duration) {
	if !m.enabled {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("platform", platform),
		attribute.String("endpoint", endpoint),
		attribute.String("status", status),
	}
	m.UpstreamAPICalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.UpstreamAPIDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordRetry records an upstream retry attempt.
func (m *Metrics) RecordRetry(ctx context.Context, platform string, attempt int) {
	if !m.enabled {
		return
	}
	m.RetryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.Int("attempt", attempt),
	))
}

// RecordCacheHit records a cache hit for the given layer.
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	if !m.enabled {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCacheMiss records a cache miss for the given layer.
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	if !m.enabled {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCoalescedRequest records a request that joined an in-flight fetch.
func (m *Metrics) RecordCoalescedRequest(ctx context.Context) {
	if !m.enabled {
		return
	}
	m.CoalescedRequests.Add(ctx, 1)
}

// RecordStatsRefresh records a completed stats refresh cycle.
func (m *Metrics) RecordStatsRefresh(ctx context.Context, platform, status string, merged int, duration time.Duration) {
	if !m.enabled {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("platform", platform),
		attribute.String("status", status),
	}
	m.StatsRefreshes.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StatsRefreshDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if merged > 0 {
		m.StatsEntitiesMerged.Add(ctx, int64(merged), metric.WithAttributes(attrs...))
	}
}

// RecordStatsRefreshSkipped records a debounced or already-running refresh.
func (m *Metrics) RecordStatsRefreshSkipped(ctx context.Context, platform, reason string) {
	if !m.enabled {
		return
	}
	m.StatsRefreshesSkipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("reason", reason),
	))
}

// RecordStreamScan records one filtered stream scan.
func (m *Metrics) RecordStreamScan(ctx context.Context, platform string, pagesScanned, rowsKept int, duration time.Duration) {
	if !m.enabled {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("platform", platform)}
	if pagesScanned > 0 {
		m.StreamPagesScanned.Add(ctx, int64(pagesScanned), metric.WithAttributes(attrs...))
	}
	if rowsKept > 0 {
		m.StreamRowsKept.Add(ctx, int64(rowsKept), metric.WithAttributes(attrs...))
	}
	m.StreamScanDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// SetCircuitBreakerState records circuit breaker state for a service.
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if !m.enabled {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordAlertPublished records a published upstream health alert.
func (m *Metrics) RecordAlertPublished(ctx context.Context, kind, status string) {
	if !m.enabled {
		return
	}
	m.AlertsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordError records an error occurrence
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if !m.enabled {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	// The OpenTelemetry Prometheus exporter registers with the default
	// Prometheus registry, so the standard handler serves everything.
	return promhttp.Handler()
}

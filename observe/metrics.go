package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records enrichment metrics: fetch outcomes, cache effectiveness,
// and per-source call behavior.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordFetch records a completed enrichment fetch.
	RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, fromCache bool, err error)

	// RecordSourceCall records one source client invocation.
	RecordSourceCall(ctx context.Context, sourceID string, err error)

	// RecordSourceRetry records one retry attempt against a source.
	RecordSourceRetry(ctx context.Context, sourceID string)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	fetchTotal   metric.Int64Counter
	fetchErrors  metric.Int64Counter
	fetchDurHist metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	sourceCalls  metric.Int64Counter
	sourceRetry  metric.Int64Counter
}

// NewMetrics creates a Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	fetchTotal, err := meter.Int64Counter(
		"enrich.fetch.total",
		metric.WithDescription("Total number of enrichment fetches"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, err
	}

	fetchErrors, err := meter.Int64Counter(
		"enrich.fetch.errors",
		metric.WithDescription("Total number of enrichment fetches where every source failed"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	fetchDurHist, err := meter.Float64Histogram(
		"enrich.fetch.duration_ms",
		metric.WithDescription("Enrichment fetch duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"enrich.cache.hits",
		metric.WithDescription("Fetches served from cache"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheMisses, err := meter.Int64Counter(
		"enrich.cache.misses",
		metric.WithDescription("Fetches that missed the cache"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, err
	}

	sourceCalls, err := meter.Int64Counter(
		"enrich.source.calls",
		metric.WithDescription("Total source client invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	sourceRetry, err := meter.Int64Counter(
		"enrich.source.retries",
		metric.WithDescription("Total source client retry attempts"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsImpl{
		meter:        meter,
		fetchTotal:   fetchTotal,
		fetchErrors:  fetchErrors,
		fetchDurHist: fetchDurHist,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
		sourceCalls:  sourceCalls,
		sourceRetry:  sourceRetry,
	}, nil
}

// RecordFetch records metrics for one enrichment fetch.
func (m *metricsImpl) RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, fromCache bool, err error) {
	opt := metric.WithAttributes(
		attribute.String("enrich.entity", meta.Entity),
	)

	m.fetchTotal.Add(ctx, 1, opt)

	if fromCache {
		m.cacheHits.Add(ctx, 1, opt)
	} else {
		m.cacheMisses.Add(ctx, 1, opt)
	}

	if err != nil {
		m.fetchErrors.Add(ctx, 1, opt)
	}

	m.fetchDurHist.Record(ctx, float64(duration.Milliseconds()), opt)
}

// RecordSourceCall records metrics for one source client invocation.
func (m *metricsImpl) RecordSourceCall(ctx context.Context, sourceID string, err error) {
	opt := metric.WithAttributes(
		attribute.String("enrich.source", sourceID),
		attribute.Bool("enrich.source.error", err != nil),
	)

	m.sourceCalls.Add(ctx, 1, opt)
}

// RecordSourceRetry records one retry attempt against a source.
func (m *metricsImpl) RecordSourceRetry(ctx context.Context, sourceID string) {
	m.sourceRetry.Add(ctx, 1, metric.WithAttributes(
		attribute.String("enrich.source", sourceID),
	))
}

// nopMetrics is a metrics implementation that does nothing.
type nopMetrics struct{}

// NewNopMetrics returns a Metrics that records nothing.
func NewNopMetrics() Metrics {
	return &nopMetrics{}
}

func (m *nopMetrics) RecordFetch(ctx context.Context, meta FetchMeta, duration time.Duration, fromCache bool, err error) {
}

func (m *nopMetrics) RecordSourceCall(ctx context.Context, sourceID string, err error) {}

func (m *nopMetrics) RecordSourceRetry(ctx context.Context, sourceID string) {}

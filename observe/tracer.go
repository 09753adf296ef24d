package observe

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// FetchMeta carries metadata about one enrichment fetch for telemetry.
type FetchMeta struct {
	Entity  string   // Entity key being enriched (element symbol)
	Sources []string // Requested source identifiers
	Batch   string   // Batch run identifier, empty for single fetches
}

// SpanName returns the deterministic span name for this fetch.
// Format: enrich.fetch.<entity>
func (m FetchMeta) SpanName() string {
	return "enrich.fetch." + m.Entity
}

// Tracer wraps OpenTelemetry tracing with fetch-scoped span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for an enrichment fetch.
	StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new span with fetch metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("enrich.entity", meta.Entity),
		attribute.String("enrich.sources", strings.Join(meta.Sources, ",")),
	}
	if meta.Batch != "" {
		attrs = append(attrs, attribute.String("enrich.batch", meta.Batch))
	}

	ctx, span := t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, span
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// nopTracer is a tracer that does nothing.
type nopTracer struct {
	noop trace.Tracer
}

// NewNopTracer creates a no-op tracer.
func NewNopTracer() Tracer {
	return &nopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *nopTracer) StartSpan(ctx context.Context, meta FetchMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *nopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}

// Package tracing is a thin seam over OpenTelemetry. Repositories and
// services open a span per operation; when no tracer has been registered the
// helpers degrade to no-ops, so tests and local runs need no collector.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer

// SetTracer registers the process-wide tracer. Called once from service
// assembly before any span is opened.
func SetTracer(t trace.Tracer) {
	tracer = t
}

// StartSpan opens a child span under the context's current span. With no
// tracer registered the context comes back unchanged.
func StartSpan(ctx context.Context, spanName string) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, spanName)
}

// GetActiveSpan returns the context's span, or nil when tracing is off or the
// context only carries a no-op span.
func GetActiveSpan(ctx context.Context) trace.Span {
	if tracer == nil {
		return nil
	}
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	return span
}

// GetTraceParent returns the W3C traceparent header value for the context,
// used to propagate the trace across event payloads.
func GetTraceParent(ctx context.Context) string {
	return injectedField(ctx, "traceparent")
}

// GetTraceState returns the W3C tracestate header value for the context.
func GetTraceState(ctx context.Context) string {
	return injectedField(ctx, "tracestate")
}

func injectedField(ctx context.Context, key string) string {
	if GetActiveSpan(ctx) == nil {
		return ""
	}

	tp := propagation.TraceContext{}
	carrier := propagation.MapCarrier{}
	tp.Inject(ctx, carrier)

	return carrier.Get(key)
}

// GetTraceID returns the active trace id, empty when tracing is off. The
// logger picks this up for every context-bound line.
func GetTraceID(ctx context.Context) string {
	span := GetActiveSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the active span id, empty when tracing is off.
func GetSpanID(ctx context.Context) string {
	span := GetActiveSpan(ctx)
	if span == nil {
		return ""
	}
	return span.SpanContext().SpanID().String()
}

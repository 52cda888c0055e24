// Package trace wraps OpenTelemetry span helpers and the trace-context
// carrier used by the Oracle subprocess protocol.
package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/querygate/querygate"

// StartSpan opens a pipeline span with the ticket id attached.
func StartSpan(ctx context.Context, name, ticketID string) (context.Context, oteltrace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if ticketID != "" {
		span.SetAttributes(attribute.String("ticket.id", ticketID))
	}
	return ctx, span
}

// TraceID returns the current span's trace id, or empty outside a span.
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// Inject serializes the current trace context into a string map for
// transports that cannot carry native propagation headers.
func Inject(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	return carrier
}

// Extract restores a trace context previously produced by Inject.
func Extract(ctx context.Context, carrier map[string]string) context.Context {
	return propagation.TraceContext{}.Extract(ctx, propagation.MapCarrier(carrier))
}

package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/hearken"

type turnKey struct{}

// Tracer returns the Hearken tracer from the global [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span. The caller must call span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartTurnSpan stores turnID in ctx and starts a span tagged with it.
// Loggers and spans derived from the returned context carry the turn ID.
func StartTurnSpan(ctx context.Context, name, turnID string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	ctx = WithTurnID(ctx, turnID)
	opts = append(opts, trace.WithAttributes(attribute.String("turn_id", turnID)))
	return Tracer().Start(ctx, name, opts...)
}

// WithTurnID returns a copy of ctx carrying turnID.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, turnKey{}, turnID)
}

// TurnID returns the turn ID stored in ctx, or "".
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnKey{}).(string)
	return id
}

// CorrelationID returns the trace ID of the active span in ctx, or "" when
// there is none.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the turn ID, trace_id and
// span_id found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := TurnID(ctx); id != "" {
		l = l.With(slog.String("turn_id", id))
	}
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

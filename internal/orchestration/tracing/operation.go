package tracing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// OrNoop returns tracer, or a no-op tracer when tracer is nil.
func OrNoop(tracer trace.Tracer) trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer("noop")
	}
	return tracer
}

// Start opens an internal span named name with attrs.
func Start(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return OrNoop(tracer).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// Finish records the outcome of err on span and ends it.
func Finish(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetAttributes(
		attribute.String(AttrErrorMessage, err.Error()),
		attribute.String(AttrErrorType, errorType(err)),
	)
	span.SetStatus(codes.Error, err.Error())
}

// Run wraps fn in a span. The error returned by fn is recorded and returned.
func Run(ctx context.Context, tracer trace.Tracer, name string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	ctx, span := Start(ctx, tracer, name, attrs...)
	err := fn(ctx)
	Finish(span, err)
	return err
}

// AddEvent records a named event on the span in ctx, if any.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// TraceID returns the hex trace ID of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// errorType reports the innermost wrapped error type.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

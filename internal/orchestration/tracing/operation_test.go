package tracing

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracer(t *testing.T) (trace.Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider.Tracer("test"), exporter
}

func getAttributeValue(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, attr := range span.Attributes {
		if string(attr.Key) == key {
			return attr.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestRun_Success(t *testing.T) {
	tracer, exporter := setupTestTracer(t)

	err := Run(context.Background(), tracer, SpanWindowInject,
		[]attribute.KeyValue{attribute.String(AttrAgentID, "A1")},
		func(ctx context.Context) error {
			AddEvent(ctx, EventStateChanged, attribute.String(AttrWindowState, "injecting"))
			require.NotEmpty(t, TraceID(ctx))
			return nil
		})
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "window.inject", span.Name)
	require.Equal(t, codes.Ok, span.Status.Code)
	require.Equal(t, trace.SpanKindInternal, span.SpanKind)

	v, ok := getAttributeValue(span, AttrAgentID)
	require.True(t, ok)
	require.Equal(t, "A1", v.AsString())

	require.Len(t, span.Events, 1)
	require.Equal(t, EventStateChanged, span.Events[0].Name)
}

type clickError struct{ x, y int }

func (e *clickError) Error() string { return fmt.Sprintf("click at %d,%d failed", e.x, e.y) }

func TestRun_RecordsError(t *testing.T) {
	tracer, exporter := setupTestTracer(t)
	cause := &clickError{x: 10, y: 20}

	err := Run(context.Background(), tracer, SpanWindowRetrieve, nil, func(context.Context) error {
		return fmt.Errorf("copy: %w", cause)
	})
	require.ErrorIs(t, err, cause)

	span := exporter.GetSpans()[0]
	require.Equal(t, codes.Error, span.Status.Code)
	require.Equal(t, "copy: click at 10,20 failed", span.Status.Description)

	v, ok := getAttributeValue(span, AttrErrorType)
	require.True(t, ok)
	require.Equal(t, "*tracing.clickError", v.AsString())
	require.NotEmpty(t, span.Events, "error should be recorded as an exception event")
}

func TestStart_NilTracerIsNoop(t *testing.T) {
	ctx, span := Start(context.Background(), nil, SpanTaskClaim)
	require.NotNil(t, span)
	require.Empty(t, TraceID(ctx))
	require.NotPanics(t, func() { Finish(span, errors.New("boom")) })
}

func TestTraceID_NoSpan(t *testing.T) {
	require.Equal(t, "", TraceID(context.Background()))
}

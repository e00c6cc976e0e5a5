package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// fileTracer returns a tracer exporting synchronously to a trace file in a
// temp dir, and the file path.
func fileTracer(t *testing.T) (trace.Tracer, *FileExporter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "traces", "traces.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(resource.NewSchemaless(attrServiceName.String("conductor-test"))),
	)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return provider.Tracer("test"), exp, path
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), "line: %s", sc.Text())
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestFileExporter_LiftsConductorIDs(t *testing.T) {
	tracer, _, path := fileTracer(t)

	ctx, span := Start(context.Background(), tracer, SpanWindowInject,
		attribute.String(AttrAgentID, "A1"),
		attribute.String(AttrCorrelationID, "c-42"),
		attribute.Int(AttrPromptChars, 11),
	)
	AddEvent(ctx, EventFocusRecovered)
	Finish(span, nil)

	records := readRecords(t, path)
	require.Len(t, records, 1)
	r := records[0]
	require.Equal(t, SpanWindowInject, r.Span)
	require.Equal(t, "conductor-test", r.Service)
	require.Equal(t, "A1", r.AgentID)
	require.Equal(t, "c-42", r.CorrelationID)
	require.Empty(t, r.TaskID)
	require.Equal(t, OutcomeOK, r.Outcome)
	require.Empty(t, r.Error)
	require.Empty(t, r.ParentID)
	require.Len(t, r.TraceID, 32)
	require.Len(t, r.SpanID, 16)
	require.GreaterOrEqual(t, r.DurationMs, 0.0)

	// Lifted IDs are not repeated in attrs.
	require.Equal(t, map[string]any{AttrPromptChars: float64(11)}, r.Attrs)
	require.Len(t, r.Events, 1)
	require.Equal(t, EventFocusRecovered, r.Events[0].Name)
	require.GreaterOrEqual(t, r.Events[0].OffsetMs, 0.0)
}

func TestFileExporter_FailedClaimSpan(t *testing.T) {
	tracer, _, path := fileTracer(t)

	ctx, parent := Start(context.Background(), tracer, SpanPoolExchange, attribute.String(AttrAgentID, "A2"))
	_, span := Start(ctx, tracer, SpanTaskComplete,
		attribute.String(AttrTaskID, "t1"),
		attribute.String(AttrAgentID, "A2"),
	)
	Finish(span, &testError{msg: "task t1 is owned by A1"})
	Finish(parent, nil)

	records := readRecords(t, path)
	require.Len(t, records, 2)
	child, root := records[0], records[1]

	require.Equal(t, SpanTaskComplete, child.Span)
	require.Equal(t, "t1", child.TaskID)
	require.Equal(t, OutcomeError, child.Outcome)
	require.Equal(t, "task t1 is owned by A1", child.Error)
	require.Equal(t, "*tracing.testError", child.ErrorType)
	require.Empty(t, child.Events, "the exception event duplicates error")
	require.Equal(t, root.SpanID, child.ParentID)
	require.Equal(t, root.TraceID, child.TraceID)
}

func TestFileExporter_StatusDescriptionWithoutErrorAttrs(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := provider.Tracer("test").Start(context.Background(), SpanWindowHealth)
	span.SetStatus(codes.Error, "probe click failed")
	span.End()

	r := NewRecord(rec.Ended()[0])
	require.Equal(t, OutcomeError, r.Outcome)
	require.Equal(t, "probe click failed", r.Error)
	require.Empty(t, r.ErrorType)
}

func TestFileExporter_AppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.jsonl")
	for _, agent := range []string{"A1", "A2"} {
		exp, err := NewFileExporter(path)
		require.NoError(t, err)
		provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		_, span := Start(context.Background(), provider.Tracer("test"), SpanWindowRetrieve, attribute.String(AttrAgentID, agent))
		Finish(span, nil)
		require.NoError(t, provider.Shutdown(context.Background()))
	}

	records := readRecords(t, path)
	require.Len(t, records, 2)
	require.Equal(t, "A1", records[0].AgentID)
	require.Equal(t, "A2", records[1].AgentID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileExporter_ConcurrentAgents(t *testing.T) {
	tracer, _, path := fileTracer(t)

	const agents, spansEach = 4, 25
	var wg sync.WaitGroup
	for a := range agents {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			for range spansEach {
				_, span := Start(context.Background(), tracer, SpanTaskClaim, attribute.String(AttrAgentID, agent))
				Finish(span, nil)
			}
		}(string(rune('A' + a)))
	}
	wg.Wait()

	perAgent := make(map[string]int)
	for _, r := range readRecords(t, path) {
		perAgent[r.AgentID]++
	}
	require.Equal(t, map[string]int{"A": spansEach, "B": spansEach, "C": spansEach, "D": spansEach}, perAgent)
}

func TestFileExporter_ShutdownIsIdempotent(t *testing.T) {
	_, exp, path := fileTracer(t)

	require.NoError(t, exp.ExportSpans(context.Background(), nil))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()))

	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	_, span := provider.Tracer("test").Start(context.Background(), SpanTaskFail)
	span.End()
	err := exp.ExportSpans(context.Background(), rec.Ended())
	require.ErrorIs(t, err, errExporterClosed)

	require.Empty(t, readRecords(t, path))
}

func TestNewFileExporter_DirectoryIsAFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "traces")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	_, err := NewFileExporter(filepath.Join(blocker, "traces.jsonl"))
	require.ErrorContains(t, err, "create trace directory")
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

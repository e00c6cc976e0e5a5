package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// errExporterClosed is returned by ExportSpans after Shutdown.
var errExporterClosed = errors.New("trace file exporter is closed")

// Record is one finished span as written to the trace file, one JSON object
// per line. The IDs that tie a span to an agent, a request and a task are
// lifted out of the attributes so a file can be filtered with
// jq 'select(.agent_id == "A1")' without knowing attribute keys.
type Record struct {
	Time          string         `json:"time"`
	Service       string         `json:"service,omitempty"`
	Span          string         `json:"span"`
	TraceID       string         `json:"trace_id"`
	SpanID        string         `json:"span_id"`
	ParentID      string         `json:"parent_id,omitempty"`
	AgentID       string         `json:"agent_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	TaskID        string         `json:"task_id,omitempty"`
	Outcome       string         `json:"outcome"`
	Error         string         `json:"error,omitempty"`
	ErrorType     string         `json:"error_type,omitempty"`
	DurationMs    float64        `json:"duration_ms"`
	Attrs         map[string]any `json:"attrs,omitempty"`
	Events        []RecordEvent  `json:"events,omitempty"`
}

// RecordEvent is a span event, timed relative to the span start.
type RecordEvent struct {
	Name     string         `json:"name"`
	OffsetMs float64        `json:"offset_ms"`
	Attrs    map[string]any `json:"attrs,omitempty"`
}

// Outcomes written to Record.Outcome.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	OutcomeUnset = "unset"
)

// FileExporter appends finished spans to a JSONL trace file.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

var _ sdktrace.SpanExporter = (*FileExporter)(nil)

// NewFileExporter opens path for appending, creating it and its directory.
func NewFileExporter(path string) (*FileExporter, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- path comes from user config
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &FileExporter{file: f, enc: json.NewEncoder(f)}, nil
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *FileExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return errExporterClosed
	}
	for _, s := range spans {
		if err := e.enc.Encode(NewRecord(s)); err != nil {
			return fmt.Errorf("write span %s: %w", s.Name(), err)
		}
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter. It is idempotent.
func (e *FileExporter) Shutdown(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.file == nil {
		return nil
	}
	err := e.file.Close()
	e.file, e.enc = nil, nil
	return err
}

// lifted maps attribute keys to the Record field that carries them.
var lifted = map[attribute.Key]func(*Record, string){
	AttrAgentID:       func(r *Record, v string) { r.AgentID = v },
	AttrCorrelationID: func(r *Record, v string) { r.CorrelationID = v },
	AttrTaskID:        func(r *Record, v string) { r.TaskID = v },
	AttrErrorMessage:  func(r *Record, v string) { r.Error = v },
	AttrErrorType:     func(r *Record, v string) { r.ErrorType = v },
}

// NewRecord converts a finished span.
func NewRecord(s sdktrace.ReadOnlySpan) Record {
	start := s.StartTime()
	r := Record{
		Time:       s.EndTime().UTC().Format(time.RFC3339Nano),
		Span:       s.Name(),
		TraceID:    s.SpanContext().TraceID().String(),
		SpanID:     s.SpanContext().SpanID().String(),
		Outcome:    outcome(s.Status().Code),
		DurationMs: millis(s.EndTime().Sub(start)),
	}
	if p := s.Parent(); p.IsValid() {
		r.ParentID = p.SpanID().String()
	}
	if res := s.Resource(); res != nil {
		if v, ok := res.Set().Value(attrServiceName); ok {
			r.Service = v.AsString()
		}
	}

	for _, kv := range s.Attributes() {
		if set, ok := lifted[kv.Key]; ok && kv.Value.Type() == attribute.STRING {
			set(&r, kv.Value.AsString())
			continue
		}
		if r.Attrs == nil {
			r.Attrs = make(map[string]any)
		}
		r.Attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	if r.Error == "" && s.Status().Code == codes.Error {
		r.Error = s.Status().Description
	}

	for _, ev := range s.Events() {
		// RecordError adds an "exception" event that repeats Error.
		if ev.Name == "exception" {
			continue
		}
		re := RecordEvent{Name: ev.Name, OffsetMs: millis(ev.Time.Sub(start))}
		for _, kv := range ev.Attributes {
			if re.Attrs == nil {
				re.Attrs = make(map[string]any)
			}
			re.Attrs[string(kv.Key)] = kv.Value.AsInterface()
		}
		r.Events = append(r.Events, re)
	}
	return r
}

func outcome(c codes.Code) string {
	switch c {
	case codes.Ok:
		return OutcomeOK
	case codes.Error:
		return OutcomeError
	default:
		return OutcomeUnset
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

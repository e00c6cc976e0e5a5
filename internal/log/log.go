// Package log provides structured logging for conductor.
//
// Lines are written as "timestamp [LEVEL] [category] message key=value" to a
// file and published on an in-process bus so the monitor can show warnings
// live. Logging is off until Init is called, which the CLI does for --debug
// or CONDUCTOR_DEBUG.
package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/zjrosen/conductor/internal/pubsub"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Topic returns the bus topic lines of this level are published on.
func (l Level) Topic() string {
	return TopicPrefix + "." + strings.ToLower(l.String())
}

// Category groups related log messages.
type Category string

const (
	CatBus         Category = "bus"         // Event bus dispatch, drops and handler panics
	CatCorrelation Category = "correlation" // Correlated request/response waits
	CatRetry       Category = "retry"       // Retry attempts and exhaustion
	CatWindow      Category = "window"      // Agent window state machine and UI automation
	CatTasks       Category = "tasks"       // Task board claims and transitions
	CatPool        Category = "pool"        // Worker loops
	CatDB          Category = "db"          // Database operations
	CatConfig      Category = "config"      // Configuration loading/saving
	CatWatcher     Category = "watcher"     // Seed file watcher events
	CatUI          Category = "ui"          // Monitor updates
	CatCache       Category = "cache"       // cache operations
)

// TopicPrefix is the first topic segment of published log lines ("log.info", "log.error").
const TopicPrefix = "log"

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	closer   io.Closer
	writer   io.Writer
	enabled  bool
	minLevel Level
	bus      *pubsub.Bus[string]
	now      func() time.Time
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

func install(l *Logger) func() {
	mu.Lock()
	prev := defaultLogger
	defaultLogger = l
	mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return func() {
		mu.Lock()
		if defaultLogger == l {
			defaultLogger = nil
		}
		mu.Unlock()
		l.close()
	}
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Init starts logging to the file at path, replacing any previous logger.
// The returned func closes the file.
func Init(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) //nolint:gosec // G304: path is user-controlled debug log path
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return install(newLogger(f, f)), nil
}

// InitWithTeaLog logs through tea.LogToFile, so Bubble Tea's own log output
// lands in the same file while the monitor owns the terminal.
func InitWithTeaLog(path string, prefix string) (func(), error) {
	f, err := tea.LogToFile(path, prefix)
	if err != nil {
		return nil, err
	}
	return install(newLogger(f, f)), nil
}

// InitWriter logs to w. Used by tests.
func InitWriter(w io.Writer) func() {
	return install(newLogger(w, nil))
}

func newLogger(w io.Writer, c io.Closer) *Logger {
	return &Logger{
		closer:   c,
		writer:   w,
		enabled:  true,
		minLevel: LevelDebug,
		bus:      pubsub.NewBus[string](),
		now:      time.Now,
	}
}

func (l *Logger) close() {
	l.bus.Close()
	if l.closer != nil {
		_ = l.closer.Close()
	}
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.enabled = enabled
		l.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if l := current(); l != nil {
		l.mu.Lock()
		l.minLevel = level
		l.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	write(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	write(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	write(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	write(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	write(LevelError, cat, msg, fields...)
}

func write(level Level, cat Category, msg string, fields ...any) {
	l := current()
	if l == nil {
		return
	}

	l.mu.Lock()
	if !l.enabled || level < l.minLevel {
		l.mu.Unlock()
		return
	}
	entry := Format(l.now(), level, cat, msg, fields...)
	if l.writer != nil {
		_, _ = io.WriteString(l.writer, entry+"\n")
	}
	l.mu.Unlock()

	l.bus.Publish(pubsub.Event[string]{
		Topic:     level.Topic(),
		SourceID:  string(cat),
		Payload:   entry,
		Timestamp: time.Now(),
	})
}

// Format renders one log line without the trailing newline:
//
//	2025-12-06T10:45:00 [ERROR] [window] inject failed agent=A1 error="focus lost"
//
// Values containing spaces or quotes are quoted. An odd trailing key is
// rendered as key=<missing>.
func Format(ts time.Time, level Level, cat Category, msg string, fields ...any) string {
	var b strings.Builder
	b.WriteString(ts.Format("2006-01-02T15:04:05"))
	fmt.Fprintf(&b, " [%s] [%s] %s", level, cat, msg)

	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%s", fields[i], formatValue(fields[i+1]))
	}
	if len(fields)%2 != 0 {
		fmt.Fprintf(&b, " %v=<missing>", fields[len(fields)-1])
	}
	return b.String()
}

func formatValue(v any) string {
	s := fmt.Sprint(v)
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// LogEvent is a pubsub event containing a log entry.
type LogEvent = pubsub.Event[string]

// LogListener wraps a continuous listener for log events.
type LogListener = pubsub.ContinuousListener[string]

// NewListener subscribes to every published log line until ctx is cancelled.
// It returns nil when logging is not initialized.
func NewListener(ctx context.Context) *LogListener {
	l := current()
	if l == nil {
		return nil
	}
	listener, err := pubsub.NewContinuousListener(ctx, l.bus, TopicPrefix+"."+pubsub.Wildcard)
	if err != nil {
		return nil
	}
	return listener
}

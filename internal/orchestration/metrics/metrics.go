// Package metrics exposes Prometheus collectors for the coordination layer.
//
// All recording methods are safe to call on a nil *Metrics, so components can
// be constructed without metrics in tests.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "conductor"

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailure  = "failure"
	OutcomeBusy     = "busy"
	OutcomeTimeout  = "timeout"
	OutcomeClaimed  = "claimed"
	OutcomeEmpty    = "empty"
	OutcomeConflict = "conflict"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	busDropped          prometheus.Counter
	busPanics           prometheus.Counter
	windowOps           *prometheus.CounterVec
	windowOpDuration    *prometheus.HistogramVec
	windowState         *prometheus.GaugeVec
	retries             *prometheus.CounterVec
	correlationTimeouts prometheus.Counter
	taskClaims          *prometheus.CounterVec
	taskTransitions     *prometheus.CounterVec
	exchangeDuration    prometheus.Histogram

	stateMu sync.Mutex
	states  map[string]string
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// Default returns the process-wide metrics registered with the default
// Prometheus registerer. Collectors are created once.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNew(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNew constructs Metrics registered with reg and panics on registration
// errors. Tests should pass a fresh prometheus.NewRegistry().
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
}

// New constructs Metrics registered with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Deliveries dropped because a subscription mailbox was full.",
		}),
		busPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "handler_panics_total",
			Help:      "Handler invocations that panicked and were recovered.",
		}),
		windowOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "window",
			Name:      "operations_total",
			Help:      "Window operations by kind and outcome.",
		}, []string{"operation", "outcome"}),
		windowOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "window",
			Name:      "operation_duration_seconds",
			Help:      "Time spent driving the editor UI per operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		windowState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "window",
			Name:      "state",
			Help:      "1 for the current window state of each agent, 0 otherwise.",
		}, []string{"agent", "state"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retries scheduled after a transient failure.",
		}, []string{"operation"}),
		correlationTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "correlation",
			Name:      "timeouts_total",
			Help:      "Correlated waits that timed out.",
		}),
		taskClaims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "claims_total",
			Help:      "ClaimNext results by outcome.",
		}, []string{"outcome"}),
		taskTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "transitions_total",
			Help:      "Task status transitions by target status.",
		}, []string{"status"}),
		exchangeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "exchange_duration_seconds",
			Help:      "Prompt to response latency per task.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		states: make(map[string]string),
	}

	collectors := []prometheus.Collector{
		m.busDropped, m.busPanics, m.windowOps, m.windowOpDuration, m.windowState,
		m.retries, m.correlationTimeouts, m.taskClaims, m.taskTransitions, m.exchangeDuration,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// BusDrop counts one dropped delivery.
func (m *Metrics) BusDrop() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}

// BusPanic counts one recovered handler panic.
func (m *Metrics) BusPanic() {
	if m == nil {
		return
	}
	m.busPanics.Inc()
}

// WindowOp records the outcome and duration of an inject, retrieve or health operation.
func (m *Metrics) WindowOp(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.windowOps.WithLabelValues(operation, outcome).Inc()
	if d > 0 {
		m.windowOpDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// WindowState moves the agent's state gauge to state.
func (m *Metrics) WindowState(agentID, state string) {
	if m == nil {
		return
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	if prev, ok := m.states[agentID]; ok && prev != state {
		m.windowState.WithLabelValues(agentID, prev).Set(0)
	}
	m.states[agentID] = state
	m.windowState.WithLabelValues(agentID, state).Set(1)
}

// Retry counts one scheduled retry of operation.
func (m *Metrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

// CorrelationTimeout counts one timed out wait.
func (m *Metrics) CorrelationTimeout() {
	if m == nil {
		return
	}
	m.correlationTimeouts.Inc()
}

// TaskClaim counts a ClaimNext result.
func (m *Metrics) TaskClaim(outcome string) {
	if m == nil {
		return
	}
	m.taskClaims.WithLabelValues(outcome).Inc()
}

// TaskTransition counts a task moving to status.
func (m *Metrics) TaskTransition(status string) {
	if m == nil {
		return
	}
	m.taskTransitions.WithLabelValues(status).Inc()
}

// Exchange observes one prompt/response round trip.
func (m *Metrics) Exchange(d time.Duration) {
	if m == nil {
		return
	}
	m.exchangeDuration.Observe(d.Seconds())
}

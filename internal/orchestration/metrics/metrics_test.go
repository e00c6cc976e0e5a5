package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.BusDrop()
		m.BusPanic()
		m.WindowOp("inject", OutcomeSuccess, time.Second)
		m.WindowState("A1", "idle")
		m.Retry("inject")
		m.CorrelationTimeout()
		m.TaskClaim(OutcomeClaimed)
		m.TaskTransition("completed")
		m.Exchange(time.Second)
	})
}

func TestMetrics_Counters(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.BusDrop()
	m.BusDrop()
	m.TaskClaim(OutcomeClaimed)
	m.TaskClaim(OutcomeEmpty)
	m.TaskClaim(OutcomeEmpty)
	m.WindowOp("retrieve", OutcomeFailure, 0)

	require.Equal(t, 2.0, testutil.ToFloat64(m.busDropped))
	require.Equal(t, 1.0, testutil.ToFloat64(m.taskClaims.WithLabelValues(OutcomeClaimed)))
	require.Equal(t, 2.0, testutil.ToFloat64(m.taskClaims.WithLabelValues(OutcomeEmpty)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.windowOps.WithLabelValues("retrieve", OutcomeFailure)))
}

func TestMetrics_WindowStateGaugeMovesWithAgent(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.WindowState("A1", "idle")
	m.WindowState("A1", "injecting")

	require.Equal(t, 0.0, testutil.ToFloat64(m.windowState.WithLabelValues("A1", "idle")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.windowState.WithLabelValues("A1", "injecting")))
}

func TestNew_DuplicateRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	require.Error(t, err)
}

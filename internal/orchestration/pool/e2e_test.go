package pool

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/orchestration/correlation"
	"github.com/zjrosen/conductor/internal/orchestration/events"
	"github.com/zjrosen/conductor/internal/orchestration/mock"
	"github.com/zjrosen/conductor/internal/orchestration/retry"
	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
	"github.com/zjrosen/conductor/internal/orchestration/window"
	"github.com/zjrosen/conductor/internal/testutil"
)

var e2eCoords = window.StaticCoordinates{
	"A1": {window.ElementInput: {X: 10, Y: 10}, window.ElementCopy: {X: 10, Y: 20}, window.ElementProbe: {X: 10, Y: 30}},
	"A2": {window.ElementInput: {X: 60, Y: 10}, window.ElementCopy: {X: 60, Y: 20}, window.ElementProbe: {X: 60, Y: 30}},
}

// TestPool_EndToEnd drives the whole data flow: claim, inject, readiness,
// retrieve request, retrieval, correlated wait and completion.
func TestPool_EndToEnd(t *testing.T) {
	bus := events.NewBus(256, nil)
	t.Cleanup(bus.Close)

	ui := mock.NewAutomation(e2eCoords)
	ui.SetLatency(5 * time.Millisecond)

	orch := window.New(bus, ui, e2eCoords,
		window.WithRetryPolicy(retry.Policy{MaxAttempts: 3, Delay: time.Millisecond, Multiplier: 1}),
		window.WithClipboardPoll(2*time.Millisecond, 100*time.Millisecond),
	)
	watcher := window.NewReadinessWatcher(orch, ui, bus, window.WatcherConfig{
		PollInterval:    2 * time.Millisecond,
		ResponseTimeout: 2 * time.Second,
	})
	waiter := correlation.NewWaiter(bus, events.RetrieveOutcomeTopics)

	store := taskboard.NewMemoryStore()
	board := testutil.NewBuilder(t, store).
		WithTask("t1", testutil.Payload("alpha"), testutil.Priority(3)).
		WithTask("t2", testutil.Payload("beta")).
		WithTask("t3", testutil.Payload("gamma")).
		WithTask("t4", testutil.Payload("delta")).
		Coordinator()

	p := NewWorkerPool(Config{
		Agents:          []string{"A1", "A2"},
		PollInterval:    5 * time.Millisecond,
		ResponseTimeout: 2 * time.Second,
	}, board, orch, waiter, WithPublisher(bus))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, run := range []func(context.Context) error{orch.Start, watcher.Run, p.Run} {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			_ = run(ctx)
		}(run)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	require.Eventually(t, func() bool {
		return board.Counts()[taskboard.StatusCompleted] == 4
	}, 5*time.Second, 5*time.Millisecond)

	for _, task := range board.List() {
		require.Contains(t, task.Result, "done: "+task.Payload)
		require.True(t, strings.HasPrefix(task.Result, "["+task.Owner+" #"),
			"Result %q should come from the owning agent %s", task.Result, task.Owner)
	}
	for _, agentID := range []string{"A1", "A2"} {
		require.Equal(t, events.StateIdle, orch.State(agentID))
	}
	require.Equal(t, 0, waiter.Outstanding())
}

// TestPool_EndToEndHungEditor fails the task when the editor never answers
// and leaves the agent usable.
func TestPool_EndToEndHungEditor(t *testing.T) {
	bus := events.NewBus(256, nil)
	t.Cleanup(bus.Close)

	ui := mock.NewAutomation(e2eCoords)
	ui.SetHung("A1", true)

	orch := window.New(bus, ui, e2eCoords,
		window.WithRetryPolicy(retry.Policy{MaxAttempts: 1, Delay: time.Millisecond}),
		window.WithClipboardPoll(2*time.Millisecond, 20*time.Millisecond),
	)
	watcher := window.NewReadinessWatcher(orch, ui, bus, window.WatcherConfig{
		PollInterval:    2 * time.Millisecond,
		ResponseTimeout: 50 * time.Millisecond,
	})
	waiter := correlation.NewWaiter(bus, events.RetrieveOutcomeTopics)
	board := testutil.NewBuilder(t, taskboard.NewMemoryStore()).
		WithTask("stuck", testutil.Payload("never answered")).
		Coordinator()

	p := NewWorkerPool(Config{
		Agents:          []string{"A1"},
		PollInterval:    5 * time.Millisecond,
		ResponseTimeout: 2 * time.Second,
	}, board, orch, waiter)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, run := range []func(context.Context) error{orch.Start, watcher.Run, p.Run} {
		wg.Add(1)
		go func(run func(context.Context) error) {
			defer wg.Done()
			_ = run(ctx)
		}(run)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	require.Eventually(t, func() bool {
		task, _ := board.Get("stuck")
		return task.Status == taskboard.StatusFailed
	}, 3*time.Second, 5*time.Millisecond)

	task, _ := board.Get("stuck")
	require.Contains(t, task.Reason, "timed out")
	require.Equal(t, events.StateError, orch.State("A1"))
}

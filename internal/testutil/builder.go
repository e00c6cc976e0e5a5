package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
)

// Builder accumulates tasks and inserts them in order.
type Builder struct {
	t     *testing.T
	store taskboard.TaskStore
	tasks []taskboard.Task
}

// NewBuilder creates a builder for store.
func NewBuilder(t *testing.T, store taskboard.TaskStore) *Builder {
	t.Helper()
	return &Builder{t: t, store: store}
}

// WithTask adds a task with optional configuration. Seq follows call order.
func (b *Builder) WithTask(id string, opts ...TaskOption) *Builder {
	task := defaultTask(id)
	task.Seq = int64(len(b.tasks))
	for _, opt := range opts {
		opt(&task)
	}
	b.tasks = append(b.tasks, task)
	return b
}

// WithStandardTasks adds a small mixed board: three ready tasks of
// different priorities, one claimed and one completed.
func (b *Builder) WithStandardTasks() *Builder {
	return b.
		WithTask("low", Priority(0), Payload("summarise the changelog")).
		WithTask("high", Priority(5), Payload("fix the failing build")).
		WithTask("mid", Priority(2), Payload("write release notes")).
		WithTask("busy", Priority(9), ClaimedBy("A9")).
		WithTask("done", Priority(9), CompletedBy("A9", "shipped"))
}

// Build inserts the tasks and returns them.
func (b *Builder) Build() []taskboard.Task {
	b.t.Helper()
	for _, task := range b.tasks {
		require.NoError(b.t, b.store.Insert(context.Background(), task))
	}
	return b.tasks
}

// Coordinator builds the tasks and loads a coordinator over the store.
func (b *Builder) Coordinator(opts ...taskboard.Option) *taskboard.Coordinator {
	b.t.Helper()
	b.Build()
	c, err := taskboard.NewCoordinator(context.Background(), b.store, opts...)
	require.NoError(b.t, err)
	return c
}

package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
)

func TestBuilder_StandardTasksClaimOrder(t *testing.T) {
	c := NewBuilder(t, taskboard.NewMemoryStore()).WithStandardTasks().Coordinator()

	counts := c.Counts()
	require.Equal(t, 3, counts[taskboard.StatusReady])
	require.Equal(t, 1, counts[taskboard.StatusClaimed])
	require.Equal(t, 1, counts[taskboard.StatusCompleted])

	var order []string
	for {
		task, ok, err := c.ClaimNext(context.Background(), "A1", taskboard.Any)
		require.NoError(t, err)
		if !ok {
			break
		}
		order = append(order, task.ID)
	}
	require.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestBuilder_SQLiteStore(t *testing.T) {
	db := NewTestDB(t)
	tasks := NewBuilder(t, db.TaskStore()).
		WithTask("a", Priority(1)).
		WithTask("b", FailedBy("A2", "timeout")).
		Build()
	require.Len(t, tasks, 2)

	loaded, err := db.TaskStore().Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, taskboard.StatusFailed, loaded[1].Status)
	require.Equal(t, "timeout", loaded[1].Reason)
}

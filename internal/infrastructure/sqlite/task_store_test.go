package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
)

// setupTestStore creates a new DB and returns its task store.
// The DB is closed when the test completes.
func setupTestStore(t *testing.T) *TaskStore {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err, "Failed to create test database")
	t.Cleanup(func() { db.Close() })
	return db.TaskStore()
}

func readyTask(id string, seq int64, priority int) taskboard.Task {
	now := time.Unix(1_700_000_000, 0)
	return taskboard.Task{
		ID:        id,
		Seq:       seq,
		Status:    taskboard.StatusReady,
		Priority:  priority,
		Payload:   "prompt for " + id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestTaskStore_InsertAndLoad(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, readyTask("b", 2, 1)))
	require.NoError(t, store.Insert(ctx, readyTask("a", 1, 5)))

	tasks, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, "a", tasks[0].ID, "Load should order by seq")
	require.Equal(t, "b", tasks[1].ID)

	got := tasks[0]
	require.Equal(t, taskboard.StatusReady, got.Status)
	require.Equal(t, 5, got.Priority)
	require.Equal(t, "prompt for a", got.Payload)
	require.Empty(t, got.Owner, "NULL owner should load as empty")
	require.Equal(t, int64(1_700_000_000), got.CreatedAt.Unix())
}

func TestTaskStore_InsertDuplicate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, readyTask("a", 1, 0)))
	err := store.Insert(ctx, readyTask("a", 2, 0))
	require.ErrorIs(t, err, taskboard.ErrDuplicateTask)
}

func TestTaskStore_Transition(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, readyTask("a", 1, 0)))

	claimed := readyTask("a", 1, 0)
	claimed.Status = taskboard.StatusClaimed
	claimed.Owner = "A1"
	require.NoError(t, store.Transition(ctx, "a", taskboard.StatusReady, claimed))

	// A second claim from ready is stale.
	other := claimed
	other.Owner = "A2"
	err := store.Transition(ctx, "a", taskboard.StatusReady, other)
	require.ErrorIs(t, err, taskboard.ErrStaleTask)

	done := claimed
	done.Status = taskboard.StatusCompleted
	done.Result = "ok"
	require.NoError(t, store.Transition(ctx, "a", taskboard.StatusClaimed, done))

	tasks, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, taskboard.StatusCompleted, tasks[0].Status)
	require.Equal(t, "A1", tasks[0].Owner, "The losing claim must not overwrite the owner")
	require.Equal(t, "ok", tasks[0].Result)
}

func TestTaskStore_TransitionUnknown(t *testing.T) {
	store := setupTestStore(t)
	err := store.Transition(context.Background(), "missing", taskboard.StatusReady, readyTask("missing", 0, 0))
	require.ErrorIs(t, err, taskboard.ErrTaskNotFound)
}

func TestTaskStore_ConcurrentTransitionsSingleWinner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, readyTask("a", 1, 0)))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := readyTask("a", 1, 0)
			next.Status = taskboard.StatusClaimed
			next.Owner = fmt.Sprintf("A%d", i)
			errs[i] = store.Transition(ctx, "a", taskboard.StatusReady, next)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, taskboard.ErrStaleTask)
	}
	require.Equal(t, 1, wins)
}

func TestTaskStore_PruneFinished(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	old := time.Unix(1_000, 0)
	recent := time.Unix(5_000, 0)

	for i, st := range []taskboard.Status{taskboard.StatusCompleted, taskboard.StatusFailed, taskboard.StatusClaimed} {
		task := readyTask(fmt.Sprintf("old-%d", i), int64(i), 0)
		task.Status = st
		task.Owner = "A1"
		task.UpdatedAt = old
		require.NoError(t, store.Insert(ctx, task))
	}
	fresh := readyTask("fresh", 10, 0)
	fresh.Status = taskboard.StatusCompleted
	fresh.Owner = "A1"
	fresh.UpdatedAt = recent
	require.NoError(t, store.Insert(ctx, fresh))

	removed, err := store.PruneFinished(ctx, time.Unix(2_000, 0))
	require.NoError(t, err)
	require.Equal(t, int64(2), removed)

	tasks, err := store.Load(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	require.ElementsMatch(t, []string{"old-2", "fresh"}, ids, "Claimed and recent tasks must survive")
}

// TestTaskStore_SharedBoard runs two coordinators against one database file,
// the way two conductor processes would.
func TestTaskStore_SharedBoard(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tasks.db")

	db1, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db1.Close()
	db2, err := NewDB(dbPath)
	require.NoError(t, err)
	defer db2.Close()

	c1, err := taskboard.NewCoordinator(ctx, db1.TaskStore())
	require.NoError(t, err)
	_, err = c1.Add(ctx, taskboard.Task{ID: "only", Payload: "do it"})
	require.NoError(t, err)

	c2, err := taskboard.NewCoordinator(ctx, db2.TaskStore())
	require.NoError(t, err)

	first, ok, err := c1.ClaimNext(ctx, "A1", taskboard.Any)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "only", first.ID)

	// c2 still sees the task as ready in memory; the store rejects its claim.
	_, ok, err = c2.ClaimNext(ctx, "A2", taskboard.Any)
	require.NoError(t, err)
	require.False(t, ok, "A task must not be claimed by two processes")

	_, err = c2.Sync(ctx)
	require.NoError(t, err)
	got, ok := c2.Get("only")
	require.True(t, ok)
	require.Equal(t, taskboard.StatusClaimed, got.Status)
	require.Equal(t, "A1", got.Owner)
}

// TestTaskStore_RoundTripProperty is a property-based test using rapid.
// It verifies that every persisted field survives a Load.
func TestTaskStore_RoundTripProperty(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	seq := int64(0)

	rapid.Check(t, func(r *rapid.T) {
		seq++
		id := fmt.Sprintf("task-%d", seq)
		status := rapid.SampledFrom(taskboard.AllStatuses).Draw(r, "status")
		task := taskboard.Task{
			ID:        id,
			Seq:       seq,
			Status:    status,
			Priority:  rapid.IntRange(-10, 10).Draw(r, "priority"),
			Payload:   rapid.StringMatching(`[a-zA-Z0-9 ]{1,40}`).Draw(r, "payload"),
			Result:    rapid.StringMatching(`[a-z]{0,10}`).Draw(r, "result"),
			Reason:    rapid.StringMatching(`[a-z]{0,10}`).Draw(r, "reason"),
			CreatedAt: time.Unix(rapid.Int64Range(1, 2_000_000_000).Draw(r, "created"), 0),
			UpdatedAt: time.Unix(rapid.Int64Range(1, 2_000_000_000).Draw(r, "updated"), 0),
		}
		if status != taskboard.StatusReady {
			task.Owner = rapid.StringMatching(`A[0-9]`).Draw(r, "owner")
		}
		if err := store.Insert(ctx, task); err != nil {
			r.Fatalf("Insert failed: %v", err)
		}

		tasks, err := store.Load(ctx)
		if err != nil {
			r.Fatalf("Load failed: %v", err)
		}
		var found *taskboard.Task
		for i := range tasks {
			if tasks[i].ID == id {
				found = &tasks[i]
			}
		}
		if found == nil {
			r.Fatalf("task %s not loaded", id)
		}
		if found.Status != task.Status || found.Owner != task.Owner || found.Priority != task.Priority ||
			found.Payload != task.Payload || found.Result != task.Result || found.Reason != task.Reason ||
			!found.CreatedAt.Equal(task.CreatedAt) || !found.UpdatedAt.Equal(task.UpdatedAt) || found.Seq != task.Seq {
			r.Fatalf("round trip mismatch:\nwant %+v\ngot  %+v", task, *found)
		}
	})
}

package watcher_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/watcher"
)

func newSeedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tasks: []\n"), 0644))
	return path
}

func TestWatcher_DebounceMultipleWrites(t *testing.T) {
	path := newSeedFile(t)

	w, err := watcher.New(watcher.Config{Path: path, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	// Rapid writes should coalesce into a single notification
	for i := 0; i < 10; i++ {
		require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf("tasks: [] # %d\n", i)), 0644))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-onChange:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification but got timeout")
	}

	select {
	case <-onChange:
		t.Fatal("unexpected second notification")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := newSeedFile(t)
	other := filepath.Join(filepath.Dir(path), "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("initial"), 0644))

	w, err := watcher.New(watcher.Config{Path: path, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(other, []byte("changed"), 0644))

	select {
	case <-onChange:
		t.Fatal("should not notify for unrelated files")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_DetectsAtomicReplace(t *testing.T) {
	path := newSeedFile(t)

	w, err := watcher.New(watcher.Config{Path: path, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	onChange, err := w.Start()
	require.NoError(t, err)

	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte("tasks:\n  - prompt: hi\n"), 0644))
	require.NoError(t, os.Rename(tmp, path))

	select {
	case <-onChange:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected notification after rename onto the watched path")
	}
}

func TestWatcher_RunCallsReload(t *testing.T) {
	path := newSeedFile(t)

	w, err := watcher.New(watcher.Config{Path: path, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)

	var reloads atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(context.Context) error {
			reloads.Add(1)
			return fmt.Errorf("bad yaml")
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("tasks: [x]\n"), 0644))

	require.Eventually(t, func() bool { return reloads.Load() >= 1 }, time.Second, 10*time.Millisecond)

	// A failing reload does not stop watching.
	require.NoError(t, os.WriteFile(path, []byte("tasks: [y]\n"), 0644))
	require.Eventually(t, func() bool { return reloads.Load() >= 2 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_StartFailsForMissingDirectory(t *testing.T) {
	w, err := watcher.New(watcher.Config{Path: filepath.Join(t.TempDir(), "missing", "tasks.yaml")})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	_, err = w.Start()
	require.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := watcher.New(watcher.Config{})
	require.Error(t, err)

	cfg := watcher.DefaultConfig("/tmp/tasks.yaml")
	require.Equal(t, watcher.DefaultDebounce, cfg.Debounce)
}

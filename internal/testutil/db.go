// Package testutil provides helpers for building task boards in tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/infrastructure/sqlite"
)

// NewTestDB creates a migrated SQLite database in a temp directory.
// It is closed when the test completes.
func NewTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.NewDB(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/conductor/internal/log"
	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
)

const taskColumns = `id, seq, status, owner, priority, payload, result, reason, created_at, updated_at`

// TaskStore implements taskboard.TaskStore on SQLite. Transition is a
// conditional UPDATE on the stored status, so several conductor processes
// sharing one database never claim the same task twice.
type TaskStore struct {
	db *sql.DB
}

var _ taskboard.TaskStore = (*TaskStore)(nil)

// NewTaskStore wraps an open, migrated connection.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Load implements taskboard.TaskStore.
func (s *TaskStore) Load(ctx context.Context) ([]taskboard.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []taskboard.Task
	for rows.Next() {
		m, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, m.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}
	return tasks, nil
}

// Insert implements taskboard.TaskStore.
func (s *TaskStore) Insert(ctx context.Context, t taskboard.Task) error {
	m := toTaskModel(t)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, m.ID, m.Seq, m.Status, m.Owner, m.Priority, m.Payload, m.Result, m.Reason, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", taskboard.ErrDuplicateTask, t.ID)
	}
	return nil
}

// Transition implements taskboard.TaskStore.
func (s *TaskStore) Transition(ctx context.Context, id string, from taskboard.Status, to taskboard.Task) error {
	m := toTaskModel(to)
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, owner = ?, priority = ?, payload = ?, result = ?, reason = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, m.Status, m.Owner, m.Priority, m.Payload, m.Result, m.Reason, m.UpdatedAt, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", taskboard.ErrTaskNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to read task status: %w", err)
	}
	log.Debug(log.CatDB, "stale transition", "task", id, "expected", from, "actual", current)
	return fmt.Errorf("%w: %s is %s, expected %s", taskboard.ErrStaleTask, id, current, from)
}

// PruneFinished removes completed and failed tasks last updated before
// cutoff and returns how many rows were removed.
func (s *TaskStore) PruneFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN (?, ?) AND updated_at < ?
	`, string(taskboard.StatusCompleted), string(taskboard.StatusFailed), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished tasks: %w", err)
	}
	return result.RowsAffected()
}

func scanTask(scanner interface{ Scan(...any) error }) (taskModel, error) {
	var m taskModel
	err := scanner.Scan(
		&m.ID, &m.Seq, &m.Status, &m.Owner, &m.Priority,
		&m.Payload, &m.Result, &m.Reason, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

package taskboard

import (
	"errors"
	"fmt"
)

var (
	// ErrTaskNotFound is returned when a task ID does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrNotClaimed is returned when completing or failing a task that is not claimed.
	ErrNotClaimed = errors.New("task is not claimed")
	// ErrOwnershipConflict is returned when an agent finishes a task it does not own.
	ErrOwnershipConflict = errors.New("task owned by another agent")
	// ErrStaleTask is returned by a TaskStore when the persisted status no longer matches.
	ErrStaleTask = errors.New("task status changed concurrently")
	// ErrDuplicateTask is returned when adding a task whose ID already exists.
	ErrDuplicateTask = errors.New("task already exists")
	// ErrInvalidTask is returned for tasks that fail validation.
	ErrInvalidTask = errors.New("invalid task")
)

// OwnershipError reports a finish attempt by an agent that does not own the task.
type OwnershipError struct {
	TaskID string
	Owner  string
	Caller string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("task %s: owned by %s, not %s", e.TaskID, e.Owner, e.Caller)
}

func (e *OwnershipError) Unwrap() error {
	return ErrOwnershipConflict
}

// IsLoopSignal reports whether err means "move on to the next task" rather
// than something an operator should see.
func IsLoopSignal(err error) bool {
	return errors.Is(err, ErrOwnershipConflict) ||
		errors.Is(err, ErrNotClaimed) ||
		errors.Is(err, ErrStaleTask)
}

package testutil

import (
	"time"

	"github.com/zjrosen/conductor/internal/orchestration/taskboard"
)

// TaskOption configures a task during builder setup.
type TaskOption func(*taskboard.Task)

// defaultTask returns a ready task whose payload names its ID.
func defaultTask(id string) taskboard.Task {
	now := time.Now()
	return taskboard.Task{
		ID:        id,
		Status:    taskboard.StatusReady,
		Payload:   "prompt " + id,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Priority sets the task priority. Higher is claimed first.
func Priority(p int) TaskOption {
	return func(t *taskboard.Task) { t.Priority = p }
}

// Payload sets the prompt text.
func Payload(s string) TaskOption {
	return func(t *taskboard.Task) { t.Payload = s }
}

// ClaimedBy marks the task claimed by agentID.
func ClaimedBy(agentID string) TaskOption {
	return func(t *taskboard.Task) {
		t.Status = taskboard.StatusClaimed
		t.Owner = agentID
	}
}

// CompletedBy marks the task completed by agentID with result.
func CompletedBy(agentID, result string) TaskOption {
	return func(t *taskboard.Task) {
		t.Status = taskboard.StatusCompleted
		t.Owner = agentID
		t.Result = result
	}
}

// FailedBy marks the task failed by agentID with reason.
func FailedBy(agentID, reason string) TaskOption {
	return func(t *taskboard.Task) {
		t.Status = taskboard.StatusFailed
		t.Owner = agentID
		t.Reason = reason
	}
}

// UpdatedAt sets the last update time.
func UpdatedAt(ts time.Time) TaskOption {
	return func(t *taskboard.Task) { t.UpdatedAt = ts }
}

// Package taskboard hands tasks to agents with single-claim semantics.
//
// The Coordinator keeps the board in memory and writes every transition
// through a TaskStore with a compare-and-swap on status, so a task is claimed
// by at most one agent even when several processes share a persistent store.
package taskboard

import "time"

// Status is a task's lifecycle state.
type Status string

const (
	StatusReady     Status = "ready"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusReady, StatusClaimed, StatusCompleted, StatusFailed}

func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for completed and failed tasks.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusClaimed, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Task is one unit of work on the board.
// Owner is set exactly when Status is not ready.
type Task struct {
	ID       string
	Status   Status
	Owner    string
	Priority int
	// Payload is the prompt sent to the agent.
	Payload string
	Result  string
	Reason  string
	// Seq orders tasks of equal priority by insertion.
	Seq       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Predicate filters tasks an agent is willing to claim.
type Predicate func(Task) bool

// Any accepts every task.
func Any(Task) bool { return true }

// MinPriority accepts tasks with at least the given priority.
func MinPriority(p int) Predicate {
	return func(t Task) bool { return t.Priority >= p }
}

// claimOrder reports whether a is scanned before b: priority descending, then insertion order.
func claimOrder(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.Seq < b.Seq
}

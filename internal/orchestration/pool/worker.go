package pool

import (
	"sync"
	"time"

	"github.com/zjrosen/conductor/internal/orchestration/events"
)

// WorkerStatus is the lifecycle state of a worker loop.
type WorkerStatus = events.WorkerStatus

const (
	WorkerReady   = events.WorkerReady
	WorkerWorking = events.WorkerWorking
	WorkerRetired = events.WorkerRetired
)

// DefaultHistorySize is how many finished tasks each worker remembers.
const DefaultHistorySize = 20

// Outcome records one finished task.
type Outcome struct {
	TaskID   string
	Success  bool
	Summary  string
	Duration time.Duration
	At       time.Time
}

// Worker tracks the loop driving one agent.
type Worker struct {
	mu            sync.RWMutex
	agentID       string
	status        WorkerStatus
	taskID        string
	taskStartedAt time.Time
	completed     int
	failed        int
	lastErr       error
	history       *Ring[Outcome]
}

func newWorker(agentID string, historySize int) *Worker {
	return &Worker{
		agentID: agentID,
		status:  WorkerReady,
		history: NewRing[Outcome](historySize),
	}
}

func (w *Worker) startTask(taskID string, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = WorkerWorking
	w.taskID = taskID
	w.taskStartedAt = at
}

func (w *Worker) finishTask(o Outcome, err error) {
	w.mu.Lock()
	o.TaskID = w.taskID
	o.Duration = o.At.Sub(w.taskStartedAt)
	if o.Success {
		w.completed++
	} else {
		w.failed++
		w.lastErr = err
	}
	w.status = WorkerReady
	w.taskID = ""
	w.taskStartedAt = time.Time{}
	w.mu.Unlock()

	w.history.Push(o)
}

func (w *Worker) retire() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = WorkerRetired
	w.taskID = ""
}

// WorkerSnapshot is a point-in-time copy of a worker for display.
type WorkerSnapshot struct {
	AgentID       string
	Status        WorkerStatus
	TaskID        string
	TaskStartedAt time.Time
	Completed     int
	Failed        int
	LastError     string
	Recent        []Outcome
}

func (w *Worker) snapshot() WorkerSnapshot {
	w.mu.RLock()
	s := WorkerSnapshot{
		AgentID:       w.agentID,
		Status:        w.status,
		TaskID:        w.taskID,
		TaskStartedAt: w.taskStartedAt,
		Completed:     w.completed,
		Failed:        w.failed,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	w.mu.RUnlock()
	s.Recent = w.history.Items()
	return s
}

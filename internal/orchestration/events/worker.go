package events

// WorkerStatus represents the current state of a worker loop in the pool.
type WorkerStatus int

const (
	// WorkerReady means the worker is polling the task board.
	WorkerReady WorkerStatus = iota
	// WorkerWorking means the worker holds a claimed task.
	WorkerWorking
	// WorkerRetired means the worker loop has exited (terminal state).
	WorkerRetired
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerReady:
		return "ready"
	case WorkerWorking:
		return "working"
	case WorkerRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// IsDone returns true if the worker is in a terminal state.
func (s WorkerStatus) IsDone() bool {
	return s == WorkerRetired
}

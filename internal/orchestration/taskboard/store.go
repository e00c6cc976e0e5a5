package taskboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TaskStore persists the board.
type TaskStore interface {
	// Load returns every task.
	Load(ctx context.Context) ([]Task, error)
	// Insert adds a new task. Existing IDs return ErrDuplicateTask.
	Insert(ctx context.Context, t Task) error
	// Transition replaces task id with to if its stored status is from.
	// It returns ErrStaleTask when the status differs and ErrTaskNotFound for unknown IDs.
	Transition(ctx context.Context, id string, from Status, to Task) error
}

// MemoryStore is an in-memory TaskStore.
// It is thread-safe using sync.RWMutex for concurrent access.
type MemoryStore struct {
	mu      sync.RWMutex
	tasks   map[string]Task
	failErr error
}

var _ TaskStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding tasks.
func NewMemoryStore(tasks ...Task) *MemoryStore {
	s := &MemoryStore{tasks: make(map[string]Task, len(tasks))}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	return s
}

// Load implements TaskStore.
func (s *MemoryStore) Load(_ context.Context) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Insert implements TaskStore.
func (s *MemoryStore) Insert(_ context.Context, t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	s.tasks[t.ID] = t
	return nil
}

// Transition implements TaskStore.
func (s *MemoryStore) Transition(_ context.Context, id string, from Status, to Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failErr; err != nil {
		s.failErr = nil
		return err
	}
	cur, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if cur.Status != from {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrStaleTask, id, cur.Status, from)
	}
	s.tasks[id] = to
	return nil
}

// FailNextTransition makes the next Transition return err. Used to simulate
// persistence failures.
func (s *MemoryStore) FailNextTransition(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

// Get returns the stored copy of a task.
func (s *MemoryStore) Get(id string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

package pool

import "sync"

// Ring is a thread-safe bounded history. When full, the oldest entry is
// overwritten.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
	start    int // index of oldest entry
	count    int
}

// NewRing creates a ring holding at most capacity entries (minimum 1).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest entry when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < r.capacity {
		r.items[(r.start+r.count)%r.capacity] = v
		r.count++
		return
	}
	r.items[r.start] = v
	r.start = (r.start + 1) % r.capacity
}

// Items returns a copy of the entries, oldest first.
func (r *Ring[T]) Items() []T {
	return r.LastN(r.Capacity())
}

// LastN returns up to n of the newest entries, oldest first.
func (r *Ring[T]) LastN(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	skip := r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(r.start+skip+i)%r.capacity]
	}
	return out
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Capacity returns the maximum number of entries.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Package batch provides the bounded in-memory buffers that sit between the
// evaluation hot path and the background upload workers.
package batch

import "sync"

// Queue is a fixed-capacity, thread-safe append buffer.
// Once full, new items are dropped instead of blocking the producer, so
// evaluation latency is never coupled to upload latency.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
}

// NewQueue creates a queue that retains at most capacity items.
// A non-positive capacity is a programmer error.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		panic("batch: queue capacity must be greater than zero")
	}

	return &Queue[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends one item. It returns false when the queue is at capacity and the
// item was dropped.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, item)
	return true
}

// PushMany appends as many items as fit and reports how many were queued and
// how many were dropped.
func (q *Queue[T]) PushMany(items []T) (queued, dropped int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	free := q.capacity - len(q.items)
	if free > len(items) {
		free = len(items)
	}
	q.items = append(q.items, items[:free]...)

	return free, len(items) - free
}

// Drain atomically returns every retained item in insertion order and leaves
// the queue empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.items
	q.items = make([]T, 0, q.capacity)
	return drained
}

// IsFull reports whether the next Push would be dropped.
func (q *Queue[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) >= q.capacity
}

// Len returns the number of retained items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Chunk splits items into consecutive slices of at most size elements.
// The returned chunks share the backing array of items.
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 || size >= len(items) {
		return [][]T{items}
	}

	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}

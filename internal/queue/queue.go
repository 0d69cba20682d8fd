// Package queue provides a minimal generic FIFO.
package queue

// Queue is a FIFO of T. It is not safe for concurrent use; callers hold
// their own lock.
type Queue[T any] struct {
	items []T
}

func New[T any]() *Queue[T] {
	return &Queue[T]{items: []T{}}
}

// Enqueue appends item at the back.
func (q *Queue[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the front element; false when empty.
func (q *Queue[T]) Dequeue() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Clear drops all queued elements.
func (q *Queue[T]) Clear() {
	q.items = nil
}

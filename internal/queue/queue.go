// Package queue provides a concurrency-safe FIFO queue used to buffer
// unsolicited broadcast lines on the host side.
package queue

import "sync"

// Queue defines the interface for a FIFO item queue.
type Queue interface {
	// Enqueue adds an item to the tail of the queue.
	Enqueue(any)
	// Dequeue removes and returns the item at the head of the queue.
	// It returns nil if the queue is empty.
	Dequeue() any
	// Peek returns the item at the head of the queue without removing it.
	// It returns nil if the queue is empty.
	Peek() any
	// Reset resets the queue to an empty state.
	Reset()
	// IsEmpty returns true if the queue is empty, false otherwise.
	IsEmpty() bool
	// Length returns the number of items in the queue.
	Length() int
}

// syncQueue is a mutex-guarded slice-backed Queue implementation.
//
// The broadcast path is single-producer (the reader loop) with potentially
// many consumers, so a plain mutex keeps contention negligible.
type syncQueue struct {
	mu    sync.Mutex
	items []any
}

var _ Queue = (*syncQueue)(nil)

// New creates a new concurrency-safe queue with the given preallocated capacity.
func New(prealloc int) Queue {
	return &syncQueue{items: make([]any, 0, prealloc)}
}

func (q *syncQueue) Enqueue(item any) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, item)
}

func (q *syncQueue) Dequeue() any {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	item := q.items[0]
	q.items[0] = nil // release the reference for GC
	q.items = q.items[1:]

	return item
}

func (q *syncQueue) Peek() any {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	return q.items[0]
}

func (q *syncQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = q.items[:0]
}

func (q *syncQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items) == 0
}

func (q *syncQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

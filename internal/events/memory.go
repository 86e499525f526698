package events

import (
	"context"
	"sync"
)

// MemoryQueue is an unbounded in-process Queue.
type MemoryQueue struct {
	mu      sync.Mutex
	pending []Event

	// notify holds at most one wake-up; producers never block on it.
	notify chan struct{}
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		notify: make(chan struct{}, 1),
	}
}

// Produce appends e and wakes the consumer.
func (q *MemoryQueue) Produce(_ context.Context, e Event) error {
	q.mu.Lock()
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Consume waits for events and drains all of them.
func (q *MemoryQueue) Consume(ctx context.Context) (Batch, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			batch := Batch(q.pending)
			q.pending = nil
			q.mu.Unlock()
			return batch, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of pending events.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

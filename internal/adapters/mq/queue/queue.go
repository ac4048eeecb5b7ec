// Package queue buffers device readings between asynchronous ingestion
// callbacks and the session's tick task. Readings enqueued within a tick
// window are folded into that window's payload by the single consumer.
package queue

import (
	"context"
	"sync"

	"github.com/pedalhouse/engine/internal/domain/model"
	"github.com/pedalhouse/engine/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultCapacity = 4096
)

// Reading is the payload type flowing through the queue.
type Reading = model.Reading

// Queue provides non-blocking enqueue and batch drain semantics.
type Queue interface {
	// Enqueue adds a reading. Returns false when the queue is full or
	// closed; the reading is dropped, never blocked on.
	Enqueue(ctx context.Context, r Reading) bool

	// Drain removes and returns every reading currently queued.
	Drain() []Reading

	// Len returns the current number of queued readings.
	Len() int

	// Close stops the queue. After closing, Enqueue returns false.
	Close() error
}

// InMemoryQueue implements Queue over a buffered channel.
type InMemoryQueue struct {
	readings chan Reading
	capacity int

	mu     sync.RWMutex
	closed bool
}

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity sets the maximum number of buffered readings.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		if capacity > 0 {
			q.capacity = capacity
		}
	}
}

// NewInMemoryQueue creates a reading queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.readings = make(chan Reading, q.capacity)
	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Enqueue adds a reading without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, r Reading) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordReadingRejected("queue_closed")
		return false
	}
	select {
	case q.readings <- r:
		metrics.UpdateQueueSize(len(q.readings))
		return true
	case <-ctx.Done():
		metrics.RecordReadingRejected("context_cancelled")
		return false
	default:
		metrics.RecordReadingRejected("queue_full")
		return false
	}
}

// Drain empties the queue into a slice, preserving arrival order.
func (q *InMemoryQueue) Drain() []Reading {
	var out []Reading
	for {
		select {
		case r, ok := <-q.readings:
			if !ok {
				metrics.UpdateQueueSize(0)
				return out
			}
			out = append(out, r)
		default:
			metrics.UpdateQueueSize(0)
			return out
		}
	}
}

// Len returns the number of queued readings.
func (q *InMemoryQueue) Len() int {
	return len(q.readings)
}

// Close stops the queue.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.readings)
	q.closed = true
	return nil
}

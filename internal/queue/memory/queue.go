// Package memory provides the in-process FIFO job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// Queue is a bounded FIFO. Ready fires after every successful enqueue so a
// single consumer can sleep until work arrives.
type Queue struct {
	mu       sync.Mutex
	items    []scraper.Job
	capacity int
	closed   bool
	ready    chan struct{}
}

var _ scraper.Queue = (*Queue)(nil)

// NewQueue constructs a queue. capacity <= 0 means unbounded.
func NewQueue(capacity int) *Queue {
	return &Queue{
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// Enqueue appends job and returns its 1-based position in the queue.
func (q *Queue) Enqueue(ctx context.Context, job scraper.Job) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("enqueue canceled: %w", err)
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0, scraper.ErrQueueClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		q.mu.Unlock()
		return 0, scraper.ErrQueueFull
	}
	q.items = append(q.items, job)
	position := len(q.items)
	q.mu.Unlock()

	q.signal()
	return position, nil
}

// TryDequeue pops the oldest job without blocking.
func (q *Queue) TryDequeue() (scraper.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return scraper.Job{}, false
	}
	job := q.items[0]
	q.items[0] = scraper.Job{}
	q.items = q.items[1:]
	return job, true
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready returns the enqueue signal channel.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further enqueues. Jobs already queued can still be dequeued.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

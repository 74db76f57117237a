// Package memory provides the in-process job queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Queue is a bounded in-memory queue with context-aware operations. Items
// already queued stay readable after Close so workers can drain them.
type Queue struct {
	ch      chan scrape.QueueItem
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool
	once    sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:   make(chan scrape.QueueItem, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue pushes a job, failing with scrape.ErrQueueClosed once the queue
// is closed.
func (q *Queue) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return scrape.ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return scrape.ErrQueueClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (scrape.QueueItem, error) {
	select {
	case <-ctx.Done():
		return scrape.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return scrape.QueueItem{}, scrape.ErrQueueClosed
		}
		return item, nil
	}
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Blocked producers return ErrQueueClosed.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.closeMu.Lock()
		defer q.closeMu.Unlock()
		close(q.ch)
		q.closed = true
	})
}

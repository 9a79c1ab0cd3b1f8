package queue

import (
	"sync"
	"time"

	"github.com/PFigs/backend-client/internal/domain"
	"github.com/PFigs/backend-client/internal/ports"
)

var (
	ErrTimeout = ports.ErrDequeueTimeout
	ErrClosed  = ports.ErrQueueClosed
)

// MemQueue is a bounded in-memory queue that preserves FIFO ordering.
// Any number of goroutines may enqueue and dequeue concurrently.
type MemQueue struct {
	mu     sync.RWMutex
	ch     chan domain.WorkItem
	closed bool
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{ch: make(chan domain.WorkItem, capacity)}
}

func (q *MemQueue) Enqueue(item domain.WorkItem) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

func (q *MemQueue) Dequeue(timeout time.Duration) (domain.WorkItem, error) {
	// fast path keeps a zero timeout usable as a poll
	select {
	case item, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return item, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item, ok := <-q.ch:
		if !ok {
			return nil, ErrClosed
		}
		return item, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (q *MemQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting items. Items already buffered can still be dequeued.
func (q *MemQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

var _ ports.WorkQueue = (*MemQueue)(nil)

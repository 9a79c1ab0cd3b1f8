package ports

import (
	"errors"
	"time"

	"github.com/PFigs/backend-client/internal/domain"
)

var (
	// ErrDequeueTimeout is returned by Dequeue when no item arrived in time.
	ErrDequeueTimeout = errors.New("queue: dequeue timed out")
	// ErrQueueClosed is returned by Dequeue once the queue is closed and drained.
	ErrQueueClosed = errors.New("queue: closed")
)

// WorkQueue is the bounded FIFO shared by the external producer and the workers.
type WorkQueue interface {
	Enqueue(item domain.WorkItem) bool
	// Dequeue waits at most timeout for an item.
	Dequeue(timeout time.Duration) (domain.WorkItem, error)
	Len() int
	Close()
}

package crawler

import (
	"context"
	"errors"
)

// ErrQueueClosed is returned by TaskQueue.Dequeue once the queue has been
// closed and fully drained.
var ErrQueueClosed = errors.New("queue closed")

// EnqueueResult is the tri-state outcome of TaskQueue.Enqueue.
type EnqueueResult int

// EnqueueResult values.
const (
	Enqueued EnqueueResult = iota
	Duplicate
	RejectedFull
)

func (r EnqueueResult) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case Duplicate:
		return "duplicate"
	case RejectedFull:
		return "rejected_full"
	default:
		return "unknown"
	}
}

// TaskQueue is the abstract FIFO with dedup, depth annotation (carried on
// CrawlTask itself), size cap, and backpressure.
// Implementations MUST atomically check-and-insert the task's fingerprint
// into their visited set so concurrent enqueues of the same URL cannot both
// succeed.
type TaskQueue interface {
	// Enqueue is a non-blocking, thread-safe check-and-insert. It returns
	// Duplicate without error when the fingerprint is already visited, and
	// RejectedFull (with a QueueFullError-kind error) when the queue is at
	// capacity.
	Enqueue(ctx context.Context, task CrawlTask) (EnqueueResult, error)

	// Dequeue blocks until an item is available or the queue is closed and
	// drained, in which case it returns ErrQueueClosed.
	Dequeue(ctx context.Context) (CrawlTask, error)

	// Close is irreversible: subsequent Enqueue calls fail and Dequeue
	// drains any remaining items before returning ErrQueueClosed.
	Close() error

	// Size returns the current queue depth (not the visited-set size).
	Size() int

	// Empty reports whether Size() == 0.
	Empty() bool
}

// Package memory provides the in-memory TaskQueue backend: a bounded
// concurrent FIFO plus a concurrent fingerprint set.
package memory

import (
	"context"
	"sync"

	"github.com/fieldcrawl/crawler/internal/crawler"
)

// Queue is a bounded in-memory crawler.TaskQueue. The channel provides FIFO
// ordering within a single producer; the fingerprint map provides the
// atomic check-and-insert dedup TaskQueue requires.
type Queue struct {
	limit int
	tasks chan crawler.CrawlTask

	mu      sync.Mutex
	visited map[[16]byte]struct{}
	closed  bool
}

// New constructs a Queue bounded at limit entries.
func New(limit int) *Queue {
	if limit <= 0 {
		limit = 1
	}
	return &Queue{
		limit:   limit,
		tasks:   make(chan crawler.CrawlTask, limit),
		visited: make(map[[16]byte]struct{}),
	}
}

// Enqueue implements crawler.TaskQueue.
func (q *Queue) Enqueue(ctx context.Context, task crawler.CrawlTask) (crawler.EnqueueResult, error) {
	fp := task.URL.Fingerprint()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return crawler.RejectedFull, crawler.WrapErr(crawler.ErrKindQueueFull, task.URL.String(), errClosed)
	}
	if _, ok := q.visited[fp]; ok {
		q.mu.Unlock()
		return crawler.Duplicate, nil
	}
	if len(q.tasks) >= q.limit {
		q.mu.Unlock()
		return crawler.RejectedFull, crawler.WrapErr(crawler.ErrKindQueueFull, task.URL.String(), errFull)
	}
	// Reserve the fingerprint before releasing the lock so a concurrent
	// enqueue of the same URL observes Duplicate, not a second send.
	q.visited[fp] = struct{}{}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return crawler.Enqueued, nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.visited, fp)
		q.mu.Unlock()
		return crawler.RejectedFull, ctx.Err()
	}
}

// Dequeue implements crawler.TaskQueue.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlTask, error) {
	select {
	case task, ok := <-q.tasks:
		if !ok {
			return crawler.CrawlTask{}, crawler.ErrQueueClosed
		}
		return task, nil
	case <-ctx.Done():
		return crawler.CrawlTask{}, ctx.Err()
	}
}

// Close implements crawler.TaskQueue.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.tasks)
	return nil
}

// Size implements crawler.TaskQueue.
func (q *Queue) Size() int { return len(q.tasks) }

// Empty implements crawler.TaskQueue.
func (q *Queue) Empty() bool { return q.Size() == 0 }

// VisitedCount returns the number of fingerprints in the dedup set: every
// URL admitted so far, whether or not it has been dequeued.
func (q *Queue) VisitedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.visited)
}

var (
	errClosed = queueError("queue is closed")
	errFull   = queueError("queue is at capacity")
)

type queueError string

func (e queueError) Error() string { return string(e) }

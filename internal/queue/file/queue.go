// Package file provides the file_backed TaskQueue: pending tasks are
// durably appended to a log file via afero (real disk in production, an
// in-memory afero.MemMapFs in tests), while dedup and ordering live in an
// in-memory index over that log.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/afero"

	"github.com/fieldcrawl/crawler/internal/crawler"
)

// Queue is a crawler.TaskQueue backed by an append-only log file.
type Queue struct {
	fs    afero.Fs
	path  string
	limit int

	mu      sync.Mutex
	file    afero.File
	pending []crawler.CrawlTask
	visited map[[16]byte]struct{}
	closed  bool
	waiters chan struct{}
}

// taskRecord is the JSON line format appended to the log file.
type taskRecord struct {
	URL           string `json:"url"`
	Depth         int    `json:"depth"`
	Referer       string `json:"referer,omitempty"`
	DiscoveredVia string `json:"discovered_via"`
}

// New constructs a Queue that appends to path on fs, bounded at limit
// pending (not-yet-dequeued) entries.
func New(fs afero.Fs, path string, limit int) (*Queue, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if limit <= 0 {
		limit = 1
	}
	f, err := fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open queue log %s: %w", path, err)
	}
	return &Queue{
		fs:      fs,
		path:    path,
		limit:   limit,
		file:    f,
		visited: make(map[[16]byte]struct{}),
		waiters: make(chan struct{}, 1),
	}, nil
}

// Enqueue implements crawler.TaskQueue.
func (q *Queue) Enqueue(ctx context.Context, task crawler.CrawlTask) (crawler.EnqueueResult, error) {
	fp := task.URL.Fingerprint()

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return crawler.RejectedFull, crawler.WrapErr(crawler.ErrKindQueueFull, task.URL.String(), fmt.Errorf("queue is closed"))
	}
	if _, ok := q.visited[fp]; ok {
		return crawler.Duplicate, nil
	}
	if len(q.pending) >= q.limit {
		return crawler.RejectedFull, crawler.WrapErr(crawler.ErrKindQueueFull, task.URL.String(), fmt.Errorf("queue is at capacity (%d)", q.limit))
	}

	rec := taskRecord{
		URL:           task.URL.String(),
		Depth:         task.Depth,
		Referer:       task.Referer,
		DiscoveredVia: string(task.DiscoveredVia),
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return crawler.RejectedFull, fmt.Errorf("marshal task record: %w", err)
	}
	if _, err := q.file.Write(append(line, '\n')); err != nil {
		return crawler.RejectedFull, fmt.Errorf("append task record: %w", err)
	}

	q.visited[fp] = struct{}{}
	q.pending = append(q.pending, task)
	q.notify()
	return crawler.Enqueued, nil
}

// Dequeue implements crawler.TaskQueue.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlTask, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			task := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return task, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return crawler.CrawlTask{}, crawler.ErrQueueClosed
		}
		select {
		case <-q.waiters:
		case <-ctx.Done():
			return crawler.CrawlTask{}, ctx.Err()
		}
	}
}

func (q *Queue) notify() {
	select {
	case q.waiters <- struct{}{}:
	default:
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
	q.notify()
	if err := q.file.Close(); err != nil {
		return fmt.Errorf("close queue log: %w", err)
	}
	return nil
}

// Size implements crawler.TaskQueue.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Empty implements crawler.TaskQueue.
func (q *Queue) Empty() bool { return q.Size() == 0 }

// Replay re-reads the on-disk log into the pending list and visited set,
// for resuming a queue backed by a file that already has entries. It is not
// invoked automatically by New, since a fresh crawl should start empty even
// if an old log is reused by mistake.
func (q *Queue) Replay() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	f, err := q.fs.Open(q.path)
	if err != nil {
		return fmt.Errorf("open queue log for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec taskRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		u, err := crawler.ParseURL(rec.URL, crawler.DefaultLimits)
		if err != nil {
			continue
		}
		fp := u.Fingerprint()
		if _, ok := q.visited[fp]; ok {
			continue
		}
		q.visited[fp] = struct{}{}
		q.pending = append(q.pending, crawler.CrawlTask{
			URL:           u,
			Depth:         rec.Depth,
			Referer:       rec.Referer,
			DiscoveredVia: crawler.DiscoveredVia(rec.DiscoveredVia),
		})
	}
	return scanner.Err()
}

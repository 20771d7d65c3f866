// Package postgres provides the postgres-backed TaskQueue: pending tasks
// live in a table so a crawl can be resumed by a different process, while
// an in-memory fingerprint set still guards the fast-path dedup check.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrawl/crawler/internal/crawler"
)

// PgxIface is the subset of *pgxpool.Pool the Queue needs, so tests can
// substitute pgxmock.PgxPoolIface.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queue is a crawler.TaskQueue backed by a Postgres table.
type Queue struct {
	pool  PgxIface
	table string
	limit int

	mu      sync.Mutex
	visited map[[16]byte]struct{}
	size    int
	closed  bool
}

// New opens a pgxpool.Pool for dsn and constructs a Queue on it, bounded at
// limit pending entries. The returned func closes the pool.
func New(ctx context.Context, dsn, table string, limit int) (*Queue, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to queue database: %w", err)
	}
	q, err := NewWithPool(ctx, pool, table, limit)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return q, pool.Close, nil
}

// NewWithPool constructs a Queue against an already-open pool (or a
// pgxmock.PgxPoolIface in tests), creating the backing table if absent and
// loading any rows already pending from a prior run.
func NewWithPool(ctx context.Context, pool PgxIface, table string, limit int) (*Queue, error) {
	if table == "" {
		table = "crawl_queue_tasks"
	}
	if limit <= 0 {
		limit = 1
	}
	q := &Queue{
		pool:    pool,
		table:   table,
		limit:   limit,
		visited: make(map[[16]byte]struct{}),
	}
	if _, err := pool.Exec(ctx, q.createTableSQL()); err != nil {
		return nil, fmt.Errorf("create queue table: %w", err)
	}
	if err := q.loadVisited(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) createTableSQL() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			fingerprint BYTEA PRIMARY KEY,
			url TEXT NOT NULL,
			depth INT NOT NULL,
			referer TEXT,
			discovered_via TEXT NOT NULL,
			dequeued BOOLEAN NOT NULL DEFAULT FALSE,
			enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, q.table)
}

func (q *Queue) loadVisited(ctx context.Context) error {
	rows, err := q.pool.Query(ctx, fmt.Sprintf(`SELECT fingerprint FROM %s`, q.table))
	if err != nil {
		return fmt.Errorf("load queue fingerprints: %w", err)
	}
	defer rows.Close()

	q.mu.Lock()
	defer q.mu.Unlock()
	for rows.Next() {
		var fp []byte
		if err := rows.Scan(&fp); err != nil {
			return fmt.Errorf("scan queue fingerprint: %w", err)
		}
		if len(fp) == 16 {
			var key [16]byte
			copy(key[:], fp)
			q.visited[key] = struct{}{}
		}
	}
	return rows.Err()
}

// Enqueue implements crawler.TaskQueue.
func (q *Queue) Enqueue(ctx context.Context, task crawler.CrawlTask) (crawler.EnqueueResult, error) {
	fp := task.URL.Fingerprint()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return crawler.RejectedFull, crawler.WrapErr(crawler.ErrKindQueueFull, task.URL.String(), fmt.Errorf("queue is closed"))
	}
	if _, ok := q.visited[fp]; ok {
		q.mu.Unlock()
		return crawler.Duplicate, nil
	}
	if q.size >= q.limit {
		q.mu.Unlock()
		return crawler.RejectedFull, crawler.WrapErr(crawler.ErrKindQueueFull, task.URL.String(), fmt.Errorf("queue is at capacity (%d)", q.limit))
	}
	q.visited[fp] = struct{}{}
	q.size++
	q.mu.Unlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (fingerprint, url, depth, referer, discovered_via)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fingerprint) DO NOTHING;`, q.table)
	_, err := q.pool.Exec(ctx, query, fp[:], task.URL.String(), task.Depth, task.Referer, string(task.DiscoveredVia))
	if err != nil {
		q.mu.Lock()
		delete(q.visited, fp)
		q.size--
		q.mu.Unlock()
		return crawler.RejectedFull, fmt.Errorf("insert queue task: %w", err)
	}
	return crawler.Enqueued, nil
}

// pollInterval is how often Dequeue re-polls the table while waiting for a
// new row, since Postgres gives us no LISTEN/NOTIFY wakeup here.
const pollInterval = 200 * time.Millisecond

// Dequeue implements crawler.TaskQueue.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlTask, error) {
	query := fmt.Sprintf(`
		UPDATE %s SET dequeued = TRUE
		WHERE fingerprint = (
			SELECT fingerprint FROM %s WHERE dequeued = FALSE ORDER BY enqueued_at LIMIT 1
		)
		RETURNING url, depth, referer, discovered_via;`, q.table, q.table)

	for {
		var rawURL, referer, discoveredVia string
		var depth int
		err := q.pool.QueryRow(ctx, query).Scan(&rawURL, &depth, &referer, &discoveredVia)
		if err == nil {
			u, perr := crawler.ParseURL(rawURL, crawler.DefaultLimits)
			if perr != nil {
				return crawler.CrawlTask{}, fmt.Errorf("parse dequeued url %q: %w", rawURL, perr)
			}
			q.mu.Lock()
			q.size--
			q.mu.Unlock()
			return crawler.CrawlTask{
				URL:           u,
				Depth:         depth,
				Referer:       referer,
				DiscoveredVia: crawler.DiscoveredVia(discoveredVia),
			}, nil
		}
		if err != pgx.ErrNoRows {
			return crawler.CrawlTask{}, fmt.Errorf("dequeue task: %w", err)
		}

		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return crawler.CrawlTask{}, crawler.ErrQueueClosed
		}

		timer := time.NewTimer(pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return crawler.CrawlTask{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// Close implements crawler.TaskQueue.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

// Size implements crawler.TaskQueue.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Empty implements crawler.TaskQueue.
func (q *Queue) Empty() bool { return q.Size() == 0 }

// Package postgres provides the Postgres-backed jobstore.Store: one row per
// crawl, durable across process restarts, following the same pgxpool idiom
// as internal/queue/postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldcrawl/crawler/internal/jobstore"
	"github.com/fieldcrawl/crawler/internal/progress"
)

// PgxIface is the subset of *pgxpool.Pool Store needs, so tests can
// substitute pgxmock.PgxPoolIface.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a jobstore.Store backed by a Postgres table.
type Store struct {
	pool  PgxIface
	table string
}

// New constructs a Store against a new pgxpool.Pool.
func New(ctx context.Context, dsn, table string) (*Store, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to jobstore database: %w", err)
	}
	s, err := NewWithPool(ctx, pool, table)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// NewWithPool constructs a Store against an already-open pool (or a
// pgxmock.PgxPoolIface in tests), creating the backing table if absent.
func NewWithPool(ctx context.Context, pool PgxIface, table string) (*Store, error) {
	if table == "" {
		table = "crawl_jobs"
	}
	s := &Store{pool: pool, table: table}
	if _, err := pool.Exec(ctx, s.createTableSQL()); err != nil {
		return nil, fmt.Errorf("create jobstore table: %w", err)
	}
	return s, nil
}

func (s *Store) createTableSQL() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			crawl_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			error_text TEXT NOT NULL DEFAULT '',
			counters JSONB NOT NULL DEFAULT '{}',
			submitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`, s.table)
}

// CreateJob implements jobstore.Store.
func (s *Store) CreateJob(ctx context.Context, job jobstore.Job) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (crawl_id, status, submitted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (crawl_id) DO NOTHING;`, s.table)
	tag, err := s.pool.Exec(ctx, query, job.CrawlID, string(job.Status), job.Submitted)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobstore.ErrJobExists
	}
	return nil
}

// UpdateJobStatus implements jobstore.Store.
func (s *Store) UpdateJobStatus(ctx context.Context, crawlID string, status jobstore.Status, errText string, counters progress.StatsSnapshot) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal job counters: %w", err)
	}
	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, error_text = $3, counters = $4, updated_at = now()
		WHERE crawl_id = $1;`, s.table)
	tag, err := s.pool.Exec(ctx, query, crawlID, string(status), errText, countersJSON)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobstore.ErrJobNotFound
	}
	return nil
}

// GetJob implements jobstore.Store.
func (s *Store) GetJob(ctx context.Context, crawlID string) (jobstore.Job, error) {
	query := fmt.Sprintf(`
		SELECT crawl_id, status, error_text, counters, submitted_at
		FROM %s WHERE crawl_id = $1;`, s.table)
	row := s.pool.QueryRow(ctx, query, crawlID)
	job, err := scanJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return jobstore.Job{}, jobstore.ErrJobNotFound
		}
		return jobstore.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// ListJobs implements jobstore.Store.
func (s *Store) ListJobs(ctx context.Context) ([]jobstore.Job, error) {
	query := fmt.Sprintf(`
		SELECT crawl_id, status, error_text, counters, submitted_at
		FROM %s ORDER BY submitted_at;`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []jobstore.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (jobstore.Job, error) {
	var job jobstore.Job
	var status string
	var countersJSON []byte
	if err := row.Scan(&job.CrawlID, &status, &job.ErrorText, &countersJSON, &job.Submitted); err != nil {
		return jobstore.Job{}, err
	}
	job.Status = jobstore.Status(status)
	if len(countersJSON) > 0 {
		if err := json.Unmarshal(countersJSON, &job.Counters); err != nil {
			return jobstore.Job{}, fmt.Errorf("unmarshal counters: %w", err)
		}
	}
	return job, nil
}

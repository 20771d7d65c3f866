package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/fieldcrawl/crawler/internal/jobstore"
	"github.com/fieldcrawl/crawler/internal/progress"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	s, err := NewWithPool(context.Background(), mock, "crawl_jobs")
	require.NoError(t, err)
	return s, mock
}

func TestCreateJobInsertsRow(t *testing.T) {
	s, mock := newMockStore(t)
	job := jobstore.Job{CrawlID: "c1", Status: jobstore.StatusQueued, Submitted: time.Now()}

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(job.CrawlID, string(job.Status), job.Submitted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobDuplicateReturnsErrJobExists(t *testing.T) {
	s, mock := newMockStore(t)
	job := jobstore.Job{CrawlID: "c1", Status: jobstore.StatusQueued, Submitted: time.Now()}

	mock.ExpectExec("INSERT INTO crawl_jobs").
		WithArgs(job.CrawlID, string(job.Status), job.Submitted).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.CreateJob(context.Background(), job)
	require.ErrorIs(t, err, jobstore.ErrJobExists)
}

func TestUpdateJobStatusUnknownJob(t *testing.T) {
	s, mock := newMockStore(t)

	counters := progress.StatsSnapshot{}
	countersJSON, err := json.Marshal(counters)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE crawl_jobs").
		WithArgs("missing", string(jobstore.StatusRunning), "", countersJSON).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	updateErr := s.UpdateJobStatus(context.Background(), "missing", jobstore.StatusRunning, "", counters)
	require.ErrorIs(t, updateErr, jobstore.ErrJobNotFound)
}

func TestGetJobScansRow(t *testing.T) {
	s, mock := newMockStore(t)
	submitted := time.Now().UTC()

	mock.ExpectQuery("SELECT crawl_id, status, error_text, counters, submitted_at FROM crawl_jobs").
		WithArgs("c1").
		WillReturnRows(pgxmock.NewRows([]string{"crawl_id", "status", "error_text", "counters", "submitted_at"}).
			AddRow("c1", string(jobstore.StatusSucceeded), "", []byte(`{"pages_visited":3}`), submitted))

	job, err := s.GetJob(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, jobstore.StatusSucceeded, job.Status)
	require.Equal(t, int64(3), job.Counters.PagesVisited)
}

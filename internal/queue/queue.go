// Package queue is the registry of named crawler.TaskQueue constructors,
// replacing the dynamic class-name dispatch: the
// coordinator asks for a url_queue backend by crawler.QueueBackend value
// and gets back a concrete crawler.TaskQueue without importing the backend
// packages directly.
package queue

import (
	"context"
	"fmt"

	"github.com/spf13/afero"

	"github.com/fieldcrawl/crawler/internal/crawler"
	"github.com/fieldcrawl/crawler/internal/queue/file"
	"github.com/fieldcrawl/crawler/internal/queue/memory"
	"github.com/fieldcrawl/crawler/internal/queue/postgres"
)

// Options configures the backend-specific knobs a New call may need,
// beyond the crawler.Config fields common to all backends.
type Options struct {
	// FilePath is the log file path for QueueFileBacked.
	FilePath string
	// FileFs overrides the filesystem for QueueFileBacked; nil means the
	// real OS filesystem.
	FileFs afero.Fs

	// PostgresDSN and PostgresTable configure QueuePostgres.
	PostgresDSN   string
	PostgresTable string
}

// New constructs the crawler.TaskQueue named by cfg.URLQueue.
func New(ctx context.Context, cfg crawler.Config, opts Options) (crawler.TaskQueue, func(), error) {
	noop := func() {}
	switch cfg.URLQueue {
	case crawler.QueueMemoryOnly, "":
		return memory.New(cfg.URLQueueSizeLimit), noop, nil

	case crawler.QueueFileBacked:
		if opts.FilePath == "" {
			return nil, nil, fmt.Errorf("queue: file_backed requires Options.FilePath")
		}
		q, err := file.New(opts.FileFs, opts.FilePath, cfg.URLQueueSizeLimit)
		if err != nil {
			return nil, nil, err
		}
		return q, noop, nil

	case crawler.QueuePostgres:
		if opts.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("queue: postgres requires Options.PostgresDSN")
		}
		q, closer, err := postgres.New(ctx, opts.PostgresDSN, opts.PostgresTable, cfg.URLQueueSizeLimit)
		if err != nil {
			return nil, nil, err
		}
		return q, closer, nil

	default:
		return nil, nil, fmt.Errorf("queue: unknown url_queue backend %q", cfg.URLQueue)
	}
}

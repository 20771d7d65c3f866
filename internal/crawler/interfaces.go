package crawler

import (
	"context"
	"time"
)

// Clock is the minimal time source the coordinator depends on, decoupled
// from time.Now the way crawler.Config is decoupled from Viper, so tests
// can inject a fixed clock. internal/clock/system.Clock satisfies this.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints the globally unique CrawlResult.id.
// internal/id/uuid.Generator satisfies this.
type IDGenerator interface {
	NewID() (string, error)
}

// Sink is the external collaborator results are handed off to: the engine
// only ever calls Emit with a finished CrawlResult. Implementations must be
// safe for concurrent calls when the coordinator runs more than one worker.
type Sink interface {
	Emit(ctx context.Context, result CrawlResult) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, result CrawlResult) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, result CrawlResult) error { return f(ctx, result) }

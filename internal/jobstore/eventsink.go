package jobstore

import (
	"context"

	"go.uber.org/zap"

	"github.com/fieldcrawl/crawler/internal/progress"
)

// EventSink is a progress.Sink that keeps a Store's Job rows in sync with
// the coordinator's event stream: crawl-start creates/marks a job running,
// stats-snapshot refreshes its counters, and crawl-end marks it terminal.
type EventSink struct {
	store  Store
	logger *zap.Logger
}

// NewEventSink wraps store so it can be registered on a progress.Hub
// alongside the logging/Prometheus sinks.
func NewEventSink(store Store, logger *zap.Logger) *EventSink {
	return &EventSink{store: store, logger: logger}
}

// Consume implements progress.Sink.
func (s *EventSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if err := s.consumeEvent(ctx, evt); err != nil {
			s.logger.Warn("jobstore sink dropped event",
				zap.String("crawl_id", evt.CrawlID),
				zap.String("kind", string(evt.Kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *EventSink) consumeEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Kind {
	case progress.KindCrawlStart:
		return s.store.CreateJob(ctx, Job{CrawlID: evt.CrawlID, Status: StatusRunning, Submitted: evt.TS})
	case progress.KindStatsSnapshot:
		if evt.Stats == nil {
			return nil
		}
		return s.store.UpdateJobStatus(ctx, evt.CrawlID, StatusRunning, "", *evt.Stats)
	case progress.KindCrawlEnd:
		// The coordinator itself doesn't distinguish success from an
		// externally canceled run on this event; Run's return value does,
		// so the caller corrects the terminal status once Run returns
		// (see cmd/crawl.go's finalizeJob).
		var counters progress.StatsSnapshot
		if evt.Stats != nil {
			counters = *evt.Stats
		}
		return s.store.UpdateJobStatus(ctx, evt.CrawlID, StatusSucceeded, "", counters)
	default:
		return nil
	}
}

// Close implements progress.Sink; the underlying Store has no lifecycle of
// its own to release here.
func (s *EventSink) Close(context.Context) error { return nil }

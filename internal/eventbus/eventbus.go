// Package eventbus publishes crawl progress events to an external
// collaborator (Pub/Sub or an in-memory stand-in for tests) — the "emit
// event" side of the crawl output interface, built on the
// internal/publisher client implementations.
package eventbus

import (
	"context"

	"go.uber.org/zap"

	"github.com/fieldcrawl/crawler/internal/progress"
)

// Publisher is the subset of internal/publisher's client shape eventbus
// needs: publish a JSON-able payload to a topic, returning a message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Sink is a progress.Sink that republishes every event onto topic via
// Publisher. It never fails Consume on a publish error, since a dropped
// notification must not stall the crawl itself.
type Sink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// New constructs a Sink publishing to topic through publisher.
func New(publisher Publisher, topic string, logger *zap.Logger) *Sink {
	return &Sink{publisher: publisher, topic: topic, logger: logger}
}

// Consume implements progress.Sink.
func (s *Sink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			s.logger.Warn("eventbus publish failed",
				zap.String("crawl_id", evt.CrawlID),
				zap.String("kind", string(evt.Kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close implements progress.Sink; the Publisher's own connection lifecycle
// is owned by whoever constructed it, not by this Sink.
func (s *Sink) Close(context.Context) error { return nil }

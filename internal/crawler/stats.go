package crawler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldcrawl/crawler/internal/progress"
)

// durationBuckets mirrors the bucket boundaries progress/sinks/prometheus.go
// uses for fetch latency, kept here as the canonical set the engine's own
// snapshot histogram buckets against.
var durationBuckets = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Stats holds the crawl's lock-free, fine-grained counters. The coordinator
// updates them as it works and attaches a point-in-time Snapshot to the
// crawl-end event. No stats-snapshot event is emitted during the crawl;
// Config.StatsDumpInterval is not read by the coordinator.
type Stats struct {
	pagesVisited    atomic.Int64
	bytesDownloaded atomic.Int64
	linksExtracted  atomic.Int64
	linksEnqueued   atomic.Int64

	mu              sync.Mutex
	errorsByKind    map[ErrKind]int64
	durationBuckets map[string]int64
}

// NewStats constructs an empty Stats.
func NewStats() *Stats {
	return &Stats{
		errorsByKind:    make(map[ErrKind]int64),
		durationBuckets: make(map[string]int64),
	}
}

// RecordVisit increments pages_visited and bytes_downloaded and buckets the
// fetch duration. It returns the new pages_visited count so callers can
// compare it against max_unique_url_count without a second lock round trip.
func (s *Stats) RecordVisit(bytes int64, dur time.Duration) int64 {
	s.bytesDownloaded.Add(bytes)
	s.observeDuration(dur)
	return s.pagesVisited.Add(1)
}

// RecordLinksExtracted adds n to links_extracted.
func (s *Stats) RecordLinksExtracted(n int64) {
	if n > 0 {
		s.linksExtracted.Add(n)
	}
}

// RecordLinkEnqueued increments links_enqueued.
func (s *Stats) RecordLinkEnqueued() {
	s.linksEnqueued.Add(1)
}

// RecordError increments the errors_by_kind counter for kind.
func (s *Stats) RecordError(kind ErrKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorsByKind[kind]++
}

func (s *Stats) observeDuration(dur time.Duration) {
	bucket := bucketLabel(dur)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durationBuckets[bucket]++
}

func bucketLabel(dur time.Duration) string {
	for _, b := range durationBuckets {
		if dur <= b {
			return b.String()
		}
	}
	return "+Inf"
}

// PagesVisited returns the current pages_visited counter.
func (s *Stats) PagesVisited() int64 { return s.pagesVisited.Load() }

// Snapshot renders a point-in-time view suitable for stats-snapshot and
// crawl-end events, and for the admin /stats endpoint.
func (s *Stats) Snapshot() progress.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make(map[string]int64, len(s.errorsByKind))
	for k, v := range s.errorsByKind {
		errs[string(k)] = v
	}
	buckets := make(map[string]int64, len(s.durationBuckets))
	for k, v := range s.durationBuckets {
		buckets[k] = v
	}
	return progress.StatsSnapshot{
		PagesVisited:    s.pagesVisited.Load(),
		BytesDownloaded: s.bytesDownloaded.Load(),
		LinksExtracted:  s.linksExtracted.Load(),
		LinksEnqueued:   s.linksEnqueued.Load(),
		ErrorsByKind:    errs,
		DurationBuckets: buckets,
	}
}

package sinks

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fieldcrawl/crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for crawl lifecycle, fetch outcomes, link discovery, and errors.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlsRunning   prometheus.Gauge
	crawlDuration   *prometheus.HistogramVec

	fetchRequests *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	linksDiscovered prometheus.Counter
	linksEnqueued   prometheus.Counter
	urlsDropped     *prometheus.CounterVec
	errorsByKind    *prometheus.CounterVec

	tracker *crawlTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_crawls_started_total",
			Help: "Total crawls that have started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_crawls_completed_total",
			Help: "Total crawls completed partitioned by end reason.",
		}, []string{"reason"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_crawls_running",
			Help: "Current number of running crawls.",
		}),
		crawlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_crawl_duration_seconds",
			Help:    "Wall time per completed crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"reason"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_requests_total",
			Help: "Fetch completions partitioned by site and status class.",
		}, []string{"site", "status_class"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_bytes_total",
			Help: "Bytes downloaded per site.",
		}, []string{"site"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by site and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site", "status_class"}),
		linksDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_links_discovered_total",
			Help: "Total url-discover events: URLs accepted onto the URL queue from seeds, sitemaps, and page links.",
		}),
		linksEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_links_enqueued_total",
			Help: "Total links accepted onto the URL queue.",
		}),
		urlsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_urls_dropped_total",
			Help: "URLs dropped before fetching, partitioned by reason.",
		}, []string{"reason"}),
		errorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_errors_total",
			Help: "Errors raised during a crawl, partitioned by kind.",
		}, []string{"kind"}),
		tracker: newCrawlTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.crawlsStarted,
		s.crawlsCompleted,
		s.crawlsRunning,
		s.crawlDuration,
		s.fetchRequests,
		s.fetchBytes,
		s.fetchDuration,
		s.linksDiscovered,
		s.linksEnqueued,
		s.urlsDropped,
		s.errorsByKind,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Kind {
	case progress.KindCrawlStart:
		s.crawlsStarted.Inc()
		if s.tracker.start(evt.CrawlID) {
			s.crawlsRunning.Inc()
		}
	case progress.KindCrawlEnd:
		reason := evt.Reason
		if reason == "" {
			reason = "unknown"
		}
		s.crawlsCompleted.WithLabelValues(reason).Inc()
		if evt.Dur > 0 {
			s.crawlDuration.WithLabelValues(reason).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.CrawlID) {
			s.crawlsRunning.Dec()
		}
	case progress.KindURLFetchEnd:
		s.handleFetchEvent(evt)
	case progress.KindURLDiscover:
		// The coordinator emits url-discover only for an accepted enqueue.
		s.linksDiscovered.Inc()
		s.linksEnqueued.Inc()
	case progress.KindURLDrop:
		reason := evt.Reason
		if reason == "" {
			reason = "unknown"
		}
		s.urlsDropped.WithLabelValues(reason).Inc()
	case progress.KindError:
		kind := evt.ErrorKind
		if kind == "" {
			kind = "unknown"
		}
		s.errorsByKind.WithLabelValues(kind).Inc()
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	site := siteOf(evt.URL)
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(site, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(site).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(site, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func siteOf(rawURL string) string {
	if rawURL == "" {
		return "unknown"
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	return parsed.Host
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[string]struct{})}
}

func (t *crawlTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}

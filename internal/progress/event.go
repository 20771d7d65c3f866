// Package progress defines the event stream the crawl engine raises to the
// event bus and the Hub that batches and fans those events out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Event kinds, one per lifecycle/discovery milestone named in the crawl
// coordinator's design.
const (
	KindCrawlStart    Kind = "crawl-start"
	KindCrawlEnd      Kind = "crawl-end"
	KindURLFetchStart Kind = "url-fetch-start"
	KindURLFetchEnd   Kind = "url-fetch-end"
	KindURLDiscover   Kind = "url-discover"
	KindURLDrop       Kind = "url-drop"
	KindRobotsFetched Kind = "robots-fetched"
	KindError         Kind = "error"
	KindStatsSnapshot Kind = "stats-snapshot"
)

// StatusClass is a coarse HTTP response grouping used for metrics labels.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single component of crawl progress.
type Event struct {
	// CrawlID identifies which crawl run raised the event.
	CrawlID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which lifecycle or discovery milestone occurred.
	Kind Kind
	// URL is the subject URL, when applicable.
	URL string
	// From is the referring URL for url-discover events.
	From string
	// ResultKind mirrors the CrawlResult variant for url-fetch-end events.
	ResultKind string
	// StatusCode is the HTTP status, or the FATAL_ERROR_STATUS sentinel.
	StatusCode int
	// StatusClass groups StatusCode for metrics labels.
	StatusClass StatusClass
	// Bytes carries the response size for url-fetch-end events.
	Bytes int64
	// Dur captures fetch latency.
	Dur time.Duration
	// Reason names why a task was dropped, or the warning/error text.
	Reason string
	// ErrorKind names the taxonomy member for error events.
	ErrorKind string
	// Stats carries a point-in-time counters snapshot for stats-snapshot
	// and crawl-end events.
	Stats *StatsSnapshot
}

// StatsSnapshot is the serializable view of engine counters attached to
// stats-snapshot and crawl-end events.
type StatsSnapshot struct {
	PagesVisited    int64            `json:"pages_visited"`
	BytesDownloaded int64            `json:"bytes_downloaded"`
	LinksExtracted  int64            `json:"links_extracted"`
	LinksEnqueued   int64            `json:"links_enqueued"`
	ErrorsByKind    map[string]int64 `json:"errors_by_kind"`
	DurationBuckets map[string]int64 `json:"duration_buckets"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindCrawlStart, KindCrawlEnd, KindStatsSnapshot:
	case KindURLFetchStart, KindURLFetchEnd:
		if e.URL == "" {
			return errors.New("fetch events require a url")
		}
	case KindURLDiscover:
		if e.URL == "" {
			return errors.New("url-discover requires a to-url")
		}
	case KindURLDrop, KindRobotsFetched, KindError:
		if e.URL == "" && e.Reason == "" {
			return errors.New("drop/error events require a url or reason")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

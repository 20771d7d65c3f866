package crawler

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/time/rate"
)

// RobotsRecord is the per-authority cached robots.txt outcome. Fallback
// records synthesize allow-all when robots.txt could not be retrieved.
type RobotsRecord struct {
	Authority   string
	FetchedAt   time.Time
	SitemapURLs []string
	IsFallback  bool

	group *robotstxt.RobotsData
}

// Allowed reports whether userAgent may fetch path on this authority,
// per the record's Allow/Disallow decision.
func (r *RobotsRecord) Allowed(userAgent, path string) bool {
	if r.IsFallback || r.group == nil {
		return true
	}
	return r.group.TestAgent(path, userAgent)
}

// CrawlDelay returns the crawl-delay directive for userAgent, or zero if
// none was specified.
func (r *RobotsRecord) CrawlDelay(userAgent string) time.Duration {
	if r.IsFallback || r.group == nil {
		return 0
	}
	g := r.group.FindGroup(userAgent)
	if g == nil {
		return 0
	}
	return g.CrawlDelay
}

// RobotsFetcher performs the single GET of /robots.txt a RobotsService
// issues for each newly seen authority. The fetcher decides the redirect
// policy: the one cmd/crawl.go wires in adapts the crawl's shared
// *HTTPClient, so the robots.txt GET follows redirects up to that client's
// MaxRedirects and is not restricted to the same authority.
type RobotsFetcher interface {
	FetchRobots(ctx context.Context, authority string) (statusCode int, body io.ReadCloser, err error)
}

// RobotsService fetches, parses, and caches one RobotsRecord per authority.
// Concurrent first-fetches of the same authority are coordinated by a
// per-authority single-flight gate so authorities never block each other.
type RobotsService struct {
	fetcher   RobotsFetcher
	userAgent string

	mu       sync.Mutex
	records  map[string]*RobotsRecord
	inflight map[string]*robotsCall
	limiters map[string]*rate.Limiter

	// retryBackoff is the base exponential backoff between robots.txt
	// fetch retries, overridable by tests.
	retryBackoff time.Duration
	sleep        func(time.Duration)
}

type robotsCall struct {
	done   chan struct{}
	record *RobotsRecord
	err    error
}

// NewRobotsService constructs a RobotsService. fetcher performs the actual
// GET; userAgent is used both as the request's User-Agent and as the
// matching user-agent for Allowed/CrawlDelay decisions made through
// Fetch's returned record unless the caller names a different one.
func NewRobotsService(fetcher RobotsFetcher, userAgent string) *RobotsService {
	return &RobotsService{
		fetcher:      fetcher,
		userAgent:    userAgent,
		records:      make(map[string]*RobotsRecord),
		inflight:     make(map[string]*robotsCall),
		limiters:     make(map[string]*rate.Limiter),
		retryBackoff: 500 * time.Millisecond,
		sleep:        time.Sleep,
	}
}

// Fetch returns the cached RobotsRecord for authority, fetching and parsing
// it on first encounter. Concurrent callers for the same authority await
// the same fetch; callers for different authorities never block each
// other.
func (s *RobotsService) Fetch(ctx context.Context, authority string) (*RobotsRecord, error) {
	s.mu.Lock()
	if rec, ok := s.records[authority]; ok {
		s.mu.Unlock()
		return rec, nil
	}
	if call, ok := s.inflight[authority]; ok {
		s.mu.Unlock()
		<-call.done
		return call.record, call.err
	}
	call := &robotsCall{done: make(chan struct{})}
	s.inflight[authority] = call
	s.mu.Unlock()

	rec, err := s.fetchAndParse(ctx, authority)

	s.mu.Lock()
	delete(s.inflight, authority)
	if err == nil {
		s.records[authority] = rec
		call.record = rec
	} else {
		call.err = err
	}
	s.mu.Unlock()
	close(call.done)
	return call.record, call.err
}

// fetchAndParse implements the robots.txt fetch failure policy: 2xx
// parses; 4xx falls back allow-all; 5xx/timeout/DNS retries up to 2 times
// with exponential backoff before falling back allow-all.
func (s *RobotsService) fetchAndParse(ctx context.Context, authority string) (*RobotsRecord, error) {
	const maxAttempts = 3 // 1 initial + 2 retries

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.retryBackoff * time.Duration(1<<uint(attempt-1))
			s.sleep(backoff)
		}

		status, body, err := s.fetcher.FetchRobots(ctx, authority)
		if err != nil {
			lastErr = err
			continue
		}

		if status >= 200 && status < 300 {
			data, readErr := io.ReadAll(body)
			_ = body.Close()
			if readErr != nil {
				lastErr = readErr
				continue
			}
			return s.parse(authority, data)
		}

		_ = body.Close()
		if status >= 400 && status < 500 {
			// 404/410/etc.: fallback is immediate, not a retry candidate.
			return s.fallback(authority), nil
		}
		lastErr = fmt.Errorf("robots.txt fetch for %s returned status %d", authority, status)
	}

	// Persistent 5xx/timeout/DNS failure: fallback allow-all; the caller
	// is responsible for emitting the warning event, not an error result.
	_ = lastErr
	return s.fallback(authority), nil
}

func (s *RobotsService) parse(authority string, data []byte) (*RobotsRecord, error) {
	group, err := robotstxt.FromBytes(data)
	if err != nil {
		// A malformed robots.txt body is treated the same as unreachable:
		// fallback allow-all rather than a fatal crawl error.
		return s.fallback(authority), nil //nolint:nilerr
	}
	return &RobotsRecord{
		Authority:   authority,
		FetchedAt:   time.Now().UTC(),
		SitemapURLs: group.Sitemaps,
		group:       group,
	}, nil
}

func (s *RobotsService) fallback(authority string) *RobotsRecord {
	return &RobotsRecord{
		Authority:  authority,
		FetchedAt:  time.Now().UTC(),
		IsFallback: true,
	}
}

// Limiter returns a rate.Limiter enforcing authority's crawl-delay
// directive (if any) against s.userAgent, constructing it lazily from the
// cached RobotsRecord. Callers wait on this limiter before each fetch to
// the authority, implementing the politeness half that sits alongside the
// Allow/Disallow decision.
func (s *RobotsService) Limiter(authority string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lim, ok := s.limiters[authority]; ok {
		return lim
	}
	delay := time.Duration(0)
	if rec, ok := s.records[authority]; ok {
		delay = rec.CrawlDelay(s.userAgent)
	}
	var lim *rate.Limiter
	if delay > 0 {
		lim = rate.NewLimiter(rate.Every(delay), 1)
	} else {
		lim = rate.NewLimiter(rate.Inf, 1)
	}
	s.limiters[authority] = lim
	return lim
}

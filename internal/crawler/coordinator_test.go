package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// testQueue is a minimal TaskQueue used only by these tests, avoiding a
// dependency on internal/queue/memory (which itself imports this package).
type testQueue struct {
	limit int
	tasks chan CrawlTask

	mu      sync.Mutex
	visited map[[16]byte]struct{}
	closed  bool
}

func newTestQueue(limit int) *testQueue {
	return &testQueue{limit: limit, tasks: make(chan CrawlTask, limit), visited: make(map[[16]byte]struct{})}
}

func (q *testQueue) Enqueue(ctx context.Context, task CrawlTask) (EnqueueResult, error) {
	fp := task.URL.Fingerprint()
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return RejectedFull, WrapErr(ErrKindQueueFull, task.URL.String(), fmt.Errorf("queue closed"))
	}
	if _, ok := q.visited[fp]; ok {
		q.mu.Unlock()
		return Duplicate, nil
	}
	if len(q.tasks) >= q.limit {
		q.mu.Unlock()
		return RejectedFull, WrapErr(ErrKindQueueFull, task.URL.String(), fmt.Errorf("queue full"))
	}
	q.visited[fp] = struct{}{}
	q.mu.Unlock()

	select {
	case q.tasks <- task:
		return Enqueued, nil
	case <-ctx.Done():
		return RejectedFull, ctx.Err()
	}
}

func (q *testQueue) Dequeue(ctx context.Context) (CrawlTask, error) {
	select {
	case task, ok := <-q.tasks:
		if !ok {
			return CrawlTask{}, ErrQueueClosed
		}
		return task, nil
	case <-ctx.Done():
		return CrawlTask{}, ctx.Err()
	}
}

func (q *testQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	return nil
}

func (q *testQueue) Size() int   { return len(q.tasks) }
func (q *testQueue) Empty() bool { return q.Size() == 0 }

type resultCollector struct {
	mu      sync.Mutex
	results []CrawlResult
}

func (c *resultCollector) Emit(_ context.Context, result CrawlResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, result)
	return nil
}

func (c *resultCollector) snapshot() []CrawlResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CrawlResult, len(c.results))
	copy(out, c.results)
	return out
}

func newTestHTTPClient(t *testing.T) *HTTPClient {
	t.Helper()
	client, err := NewHTTPClient(HTTPClientConfig{
		UserAgent:        "test-crawler",
		MaxRedirects:     5,
		MaxResponseSize:  1 << 20,
		ConnectTimeout:   2 * time.Second,
		SocketTimeout:    2 * time.Second,
		RequestTimeout:   5 * time.Second,
		AllowedAuthority: func(string) bool { return true },
	})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return client
}

func runCoordinatorAgainst(t *testing.T, mux *http.ServeMux, configure func(cfg *Config)) ([]CrawlResult, *Stats) {
	t.Helper()
	server := httptest.NewServer(mux)
	defer server.Close()

	domain, err := ParseDomain(server.URL)
	if err != nil {
		t.Fatalf("ParseDomain(%q): %v", server.URL, err)
	}

	cfg := DefaultConfig()
	cfg.DomainAllowlist = []Domain{domain}
	cfg.SeedURLs = SliceSeeds([]string{server.URL + "/"})
	cfg.ThreadsPerCrawl = 2
	cfg.MaxCrawlDepth = 5
	cfg.MaxUniqueURLCount = 100
	cfg.URLQueueSizeLimit = 100
	cfg.SitemapDiscoveryDisabled = true
	if configure != nil {
		configure(&cfg)
	}

	sink := &resultCollector{}
	stats := NewStats()
	coord, err := NewCoordinator(cfg, Dependencies{
		Queue: newTestQueue(cfg.URLQueueSizeLimit),
		HTTP:  newTestHTTPClient(t),
		Sink:  sink,
		Stats: stats,
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := coord.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return sink.snapshot(), stats
}

func TestCoordinatorFollowsLinksWithinDepthAndDedups(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/a">a</a><a href="/">self</a></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/">back</a></body></html>`)
	})

	results, stats := runCoordinatorAgainst(t, mux, nil)

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (/ and /a, self/back links deduped)", len(results))
	}
	for _, r := range results {
		if r.Kind != ResultHTML {
			t.Errorf("result kind = %v, want ResultHTML", r.Kind)
		}
	}
	if stats.PagesVisited() != 2 {
		t.Errorf("PagesVisited() = %d, want 2", stats.PagesVisited())
	}
}

func TestCoordinatorDropsChildrenBeyondMaxCrawlDepth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/a">a</a></body></html>`)
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body>leaf</body></html>`)
	})

	results, stats := runCoordinatorAgainst(t, mux, func(cfg *Config) {
		cfg.MaxCrawlDepth = 1
	})

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (only the depth=1 seed processed)", len(results))
	}
	if stats.PagesVisited() != 1 {
		t.Errorf("PagesVisited() = %d, want 1", stats.PagesVisited())
	}
	snap := stats.Snapshot()
	if snap.ErrorsByKind[string(ErrKindDepthExceeded)] == 0 {
		t.Error("expected a depth_exceeded counter for the dropped /a child link")
	}
}

func TestCoordinatorRespectsDomainAllowlist(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="https://not-allowlisted.example/x">x</a></body></html>`)
	})

	results, _ := runCoordinatorAgainst(t, mux, nil)

	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (only the seed, the off-domain link is dropped)", len(results))
	}
}

func TestCoordinatorStopsAtMaxUniqueURLCount(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><a href="/a">a</a><a href="/b">b</a><a href="/c">c</a></body></html>`)
	})
	for _, p := range []string{"/a", "/b", "/c"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body>leaf</body></html>`)
		})
	}

	_, stats := runCoordinatorAgainst(t, mux, func(cfg *Config) {
		cfg.MaxUniqueURLCount = 1
	})

	if stats.PagesVisited() > 1 {
		t.Errorf("PagesVisited() = %d, want at most 1 once max_unique_url_count=1 is hit", stats.PagesVisited())
	}
}

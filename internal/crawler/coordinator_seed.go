package crawler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldcrawl/crawler/internal/progress"
)

// seed lazily pulls cfg.SeedURLs into the queue on demand rather than
// materializing every seed up front. A seed's authority is implicitly
// allowlisted once it has parsed, before it is enqueued, so URLs the operator named directly are
// never dropped for lack of an allowlist entry. Unlike HTML-discovered
// child links, a seed that hits RejectedFull is retried with a short
// backoff rather than dropped, since pacing seed intake to queue capacity
// is the point of the lazy iterator.
func (c *Coordinator) seed(ctx context.Context, crawlID string) {
	defer c.seedingDone.Store(true)

	if c.cfg.SeedURLs == nil {
		return
	}
	next := c.cfg.SeedURLs()
	if next == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rawURL, ok := next()
		if !ok {
			return
		}

		u, err := ParseURL(rawURL, c.cfg.Limits())
		if err != nil {
			c.deps.Stats.RecordError(ErrKindInvalidURL)
			c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDrop, URL: rawURL, Reason: err.Error()})
			continue
		}
		c.allowAuthority(u.Authority())

		task := CrawlTask{URL: u, Depth: 1, DiscoveredVia: DiscoveredSeed}
		c.enqueueWithRetry(ctx, crawlID, task)
	}
}

// enqueueWithRetry retries RejectedFull with a short backoff, used only for
// seeds: an operator-supplied seed is never simply dropped for transient
// backpressure the way a discovered child link is.
func (c *Coordinator) enqueueWithRetry(ctx context.Context, crawlID string, task CrawlTask) {
	const retryDelay = 100 * time.Millisecond
	for {
		result, err := c.enqueue(ctx, crawlID, task, "")
		if result != RejectedFull {
			return
		}
		_ = err
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryDelay):
		}
	}
}

// seedSitemaps concurrently fetches every configured sitemap_urls entry
// (bounded by threads_per_crawl), enqueuing the resulting depth=1 tasks and
// recursing into sitemap-index children.
func (c *Coordinator) seedSitemaps(ctx context.Context, crawlID string) {
	if len(c.cfg.SitemapURLs) == 0 {
		return
	}

	concurrency := c.cfg.ThreadsPerCrawl
	if concurrency <= 0 {
		concurrency = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, url := range c.cfg.SitemapURLs {
		url := url
		g.Go(func() error {
			c.fetchAndSeedSitemap(gctx, crawlID, url)
			return nil
		})
	}
	_ = g.Wait()
}

// fetchAndSeedSitemap fetches and parses one sitemap document, enqueuing its
// tasks or, for a sitemap index, recursively fetching each child sitemap in
// turn (sequentially — sitemap indices are rare and small relative to the
// per-crawl worker budget).
func (c *Coordinator) fetchAndSeedSitemap(ctx context.Context, crawlID, rawURL string) {
	if c.deps.Sitemap == nil {
		return
	}
	result, err := c.deps.Sitemap.FetchSitemap(ctx, rawURL, c.cfg.Limits())
	if err != nil {
		kind, _ := KindOf(err)
		c.deps.Stats.RecordError(kind)
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindError, URL: rawURL, Reason: err.Error(), ErrorKind: string(kind)})
		return
	}
	for _, w := range result.Warnings {
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDrop, URL: rawURL, Reason: w})
	}
	if result.IsIndex {
		for _, childURL := range result.IndexURLs {
			select {
			case <-ctx.Done():
				return
			default:
			}
			c.fetchAndSeedSitemap(ctx, crawlID, childURL)
		}
		return
	}
	for _, task := range result.Tasks {
		if !c.isAllowlisted(task.URL.Authority()) {
			continue
		}
		c.enqueueWithRetry(ctx, crawlID, task)
	}
}

// seedRobotsSitemaps opportunistically fetches the Sitemap: directives a
// robots.txt record names, guarded so each authority is only expanded once
// per crawl even under concurrent first-fetches.
func (c *Coordinator) seedRobotsSitemaps(ctx context.Context, crawlID string, rec *RobotsRecord) {
	if c.cfg.SitemapDiscoveryDisabled || c.deps.Sitemap == nil || len(rec.SitemapURLs) == 0 {
		return
	}
	if _, alreadySeeded := c.robotsSitemapSeeded.LoadOrStore(rec.Authority, struct{}{}); alreadySeeded {
		return
	}
	for _, url := range rec.SitemapURLs {
		go c.fetchAndSeedSitemap(ctx, crawlID, url)
	}
}

package crawler

import (
	"context"
	"time"

	"github.com/fieldcrawl/crawler/internal/progress"
)

// runWorker is one of threads_per_crawl workers: it blocks on Dequeue,
// processes exactly one task at a time, and exits once the queue reports
// ErrQueueClosed or ctx is done.
func (c *Coordinator) runWorker(ctx context.Context, crawlID string) {
	for {
		task, err := c.deps.Queue.Dequeue(ctx)
		if err != nil {
			return
		}
		c.processTask(ctx, crawlID, task)
		c.pending.Add(-1)
	}
}

// processTask fetches task, dispatches on Content-Type, and hands the
// result to the sink. Defensive depth/allowlist checks are repeated here
// even though enqueueChild already filtered them, since a task can also
// arrive from seeding or sitemap discovery.
func (c *Coordinator) processTask(ctx context.Context, crawlID string, task CrawlTask) {
	if task.Depth > c.cfg.MaxCrawlDepth {
		c.dropTask(crawlID, task, ErrKindDepthExceeded, "depth exceeded")
		return
	}
	authority := task.URL.Authority()
	if !c.isAllowlisted(authority) {
		c.dropTask(crawlID, task, ErrKindInvalidHost, "not allowlisted")
		return
	}

	if !c.checkRobots(ctx, crawlID, task, authority) {
		return
	}

	start := c.now()
	c.emit(Event{CrawlID: crawlID, TS: start, Kind: progress.KindURLFetchStart, URL: task.URL.String()})

	resp, err := c.deps.HTTP.Fetch(ctx, task.URL.String())
	if err != nil {
		c.emitFetchError(crawlID, task, start, err)
		return
	}
	defer resp.Body.Close()

	body, err := ReadCapped(resp.Body, c.cfg.MaxResponseSize, task.URL.String())
	if err != nil {
		c.emitFetchError(crawlID, task, start, err)
		return
	}

	dur := c.now().Sub(start)
	c.deps.Stats.RecordVisit(int64(len(body)), dur)
	c.emit(Event{
		CrawlID:     crawlID,
		TS:          c.now(),
		Kind:        progress.KindURLFetchEnd,
		URL:         task.URL.String(),
		StatusCode:  resp.StatusCode,
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Bytes:       int64(len(body)),
		Dur:         dur,
	})

	switch ClassifyDocument(resp.ContentType, c.cfg.ContentExtractionEnabled, c.cfg.ContentExtractionMimeTypes) {
	case DocHTML:
		c.handleHTML(ctx, crawlID, task, resp, body, start, dur)
	case DocSitemap:
		c.handleSitemap(ctx, crawlID, task, resp, body, start, dur)
	case DocContentExtractable:
		c.handleContentExtractable(crawlID, task, resp, body, start, dur)
	default:
		c.handleUnsupported(crawlID, task, resp, start, dur)
	}
}

// checkRobots fetches (or reuses the cached) robots.txt record for
// authority, kicks off any robots-discovered sitemap fetches, waits on the
// authority's crawl-delay limiter, and reports whether the task may
// proceed. A robots.txt fetch failure never blocks the task — Fetch always
// returns a usable (possibly fallback) record.
func (c *Coordinator) checkRobots(ctx context.Context, crawlID string, task CrawlTask, authority string) bool {
	if c.deps.Robots == nil {
		return true
	}
	rec, err := c.deps.Robots.Fetch(ctx, authority)
	if err != nil {
		// RobotsService.Fetch reports fetch failures as a fallback
		// allow-all record, not an error; any error is treated as "not
		// proceeding" rather than crawling unchecked.
		return false
	}
	c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindRobotsFetched, URL: authority, Reason: fallbackReason(rec)})
	c.seedRobotsSitemaps(ctx, crawlID, rec)

	if !rec.Allowed(c.cfg.UserAgent, task.URL.Path) {
		c.dropTask(crawlID, task, ErrKindRobotsDisallowed, "robots disallowed")
		return false
	}
	if lim := c.deps.Robots.Limiter(authority); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return false
		}
	}
	return true
}

func fallbackReason(rec *RobotsRecord) string {
	if rec.IsFallback {
		return "fallback allow-all"
	}
	return ""
}

// handleHTML extracts title/body/meta/headings/links, emits a Success
// result, runs the optional field extractor, and enqueues candidate child
// links.
func (c *Coordinator) handleHTML(ctx context.Context, crawlID string, task CrawlTask, resp *FetchResponse, body []byte, start time.Time, dur time.Duration) {
	doc, err := ExtractHTML(body, resp.ContentType, task.URL, c.cfg.Limits(), c.extractionLimits())
	if err != nil {
		c.emitFetchError(crawlID, task, start, err)
		return
	}

	result := CrawlResult{
		ID:              c.newResultID(),
		Kind:            ResultHTML,
		URL:             task.URL.String(),
		FinalURL:        resp.FinalURL,
		StatusCode:      resp.StatusCode,
		ContentType:     resp.ContentType,
		StartTime:       start,
		EndTime:         start.Add(dur),
		Duration:        dur,
		Title:           doc.Title,
		Body:            doc.Body,
		MetaKeywords:    doc.MetaKeywords,
		MetaDescription: doc.MetaDescription,
		Headings:        doc.Headings,
		Links:           capLinks(doc.Links, c.cfg.MaxIndexedLinksCount),
	}
	c.deps.Stats.RecordLinksExtracted(int64(len(doc.Links)))
	c.emitResult(crawlID, result)

	if c.deps.FieldExtractor != nil {
		if fields := c.deps.Rules.Fields(task.URL.Host); len(fields) > 0 {
			if _, err := c.deps.FieldExtractor.Extract(doc, fields); err != nil {
				c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindError, URL: task.URL.String(), Reason: err.Error(), ErrorKind: string(ErrKindParser)})
			}
		}
	}

	for _, link := range doc.Links {
		c.enqueueChild(ctx, crawlID, task, link.URL)
	}
}

func capLinks(links []Link, max int) []Link {
	if max <= 0 || len(links) <= max {
		return links
	}
	return links[:max]
}

func (c *Coordinator) extractionLimits() ExtractionLimits {
	return ExtractionLimits{
		MaxTitleSize:           c.cfg.MaxTitleSize,
		MaxBodySize:            c.cfg.MaxBodySize,
		MaxKeywordsSize:        c.cfg.MaxKeywordsSize,
		MaxDescriptionSize:     c.cfg.MaxDescriptionSize,
		MaxExtractedLinksCount: c.cfg.MaxExtractedLinksCount,
		MaxIndexedLinksCount:   c.cfg.MaxIndexedLinksCount,
		MaxHeadingsCount:       c.cfg.MaxHeadingsCount,
		DefaultEncoding:        c.cfg.DefaultEncoding,
	}
}

// handleSitemap parses a sitemap document fetched via the generic worker
// path (as opposed to sitemap_urls/robots-discovered sitemaps, which are
// fetched directly by seedSitemaps/seedRobotsSitemaps), emits a Success
// result, and enqueues the tasks or index children it names.
func (c *Coordinator) handleSitemap(ctx context.Context, crawlID string, task CrawlTask, resp *FetchResponse, body []byte, start time.Time, dur time.Duration) {
	result := CrawlResult{
		ID:          c.newResultID(),
		Kind:        ResultSitemap,
		URL:         task.URL.String(),
		FinalURL:    resp.FinalURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		StartTime:   start,
		EndTime:     start.Add(dur),
		Duration:    dur,
	}
	c.emitResult(crawlID, result)

	if c.deps.Sitemap == nil {
		return
	}
	parsed, err := c.deps.Sitemap.ParseSitemap(body, c.cfg.Limits())
	if err != nil {
		kind, _ := KindOf(err)
		c.deps.Stats.RecordError(kind)
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindError, URL: task.URL.String(), Reason: err.Error(), ErrorKind: string(kind)})
		return
	}
	for _, w := range parsed.Warnings {
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDrop, URL: task.URL.String(), Reason: w})
	}
	if parsed.IsIndex {
		for _, childURL := range parsed.IndexURLs {
			c.fetchAndSeedSitemap(ctx, crawlID, childURL)
		}
		return
	}
	for _, childTask := range parsed.Tasks {
		childTask.Referer = task.URL.String()
		if !c.isAllowlisted(childTask.URL.Authority()) {
			continue
		}
		if _, err := c.enqueue(ctx, crawlID, childTask, task.URL.String()); err != nil && err != ErrQueueClosed { //nolint:errorlint
			continue
		}
	}
}

// handleContentExtractable stores the raw body for a configured
// content-extraction MIME type without attempting HTML parsing or link
// discovery.
func (c *Coordinator) handleContentExtractable(crawlID string, task CrawlTask, resp *FetchResponse, body []byte, start time.Time, dur time.Duration) {
	result := CrawlResult{
		ID:          c.newResultID(),
		Kind:        ResultContentExtractable,
		URL:         task.URL.String(),
		FinalURL:    resp.FinalURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		StartTime:   start,
		EndTime:     start.Add(dur),
		Duration:    dur,
		RawBody:     body,
	}
	c.emitResult(crawlID, result)
}

// handleUnsupported records an unsupported-content-type Error result
// without treating it as a fetch failure — the response itself succeeded.
func (c *Coordinator) handleUnsupported(crawlID string, task CrawlTask, resp *FetchResponse, start time.Time, dur time.Duration) {
	c.deps.Stats.RecordError(ErrKindUnsupportedContentType)
	result := CrawlResult{
		ID:          c.newResultID(),
		Kind:        ResultErrorUnsupportedContentType,
		URL:         task.URL.String(),
		FinalURL:    resp.FinalURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType,
		StartTime:   start,
		EndTime:     start.Add(dur),
		Duration:    dur,
		ErrKind:     ErrKindUnsupportedContentType,
		ErrText:     "unsupported content type: " + resp.ContentType,
	}
	c.emitResult(crawlID, result)
}

// emitFetchError classifies err, records stats, and emits either a
// Transient or Fatal Error result depending on the taxonomy.
func (c *Coordinator) emitFetchError(crawlID string, task CrawlTask, start time.Time, err error) {
	kind, _ := KindOf(err)
	if kind == "" {
		kind = ErrKindConnection
	}
	c.deps.Stats.RecordError(kind)

	resultKind := ResultErrorTransient
	statusCode := FatalErrorStatus
	if kind.Terminal() {
		resultKind = ResultErrorFatal
	}

	end := c.now()
	result := CrawlResult{
		ID:         c.newResultID(),
		Kind:       resultKind,
		URL:        task.URL.String(),
		StatusCode: statusCode,
		StartTime:  start,
		EndTime:    end,
		Duration:   end.Sub(start),
		ErrKind:    kind,
		ErrText:    err.Error(),
	}
	c.emitResult(crawlID, result)
	c.emit(Event{CrawlID: crawlID, TS: end, Kind: progress.KindError, URL: task.URL.String(), Reason: err.Error(), ErrorKind: string(kind)})
}

// dropTask records a pre-fetch drop as an event/stat only, keeping the
// distinction between drop kinds (never a Result) and per-URL error kinds.
func (c *Coordinator) dropTask(crawlID string, task CrawlTask, kind ErrKind, reason string) {
	c.deps.Stats.RecordError(kind)
	c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDrop, URL: task.URL.String(), Reason: reason, ErrorKind: string(kind)})
}

// emitResult hands result to the configured Sink, logging (via an error
// event) rather than failing the crawl if the sink itself errors.
func (c *Coordinator) emitResult(crawlID string, result CrawlResult) {
	if err := c.deps.Sink.Emit(context.Background(), result); err != nil {
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindError, URL: result.URL, Reason: err.Error(), ErrorKind: "sink_error"})
	}
}

// enqueueChild validates a discovered link against max_crawl_depth,
// domain_allowlist, and the extraction ruleset's url_filters before handing
// it to enqueue. Unlike seeds, a rejected or queue-full child link is
// dropped and counted, never retried.
func (c *Coordinator) enqueueChild(ctx context.Context, crawlID string, parent CrawlTask, childURL URL) {
	depth := parent.Depth + 1
	if depth > c.cfg.MaxCrawlDepth {
		c.deps.Stats.RecordError(ErrKindDepthExceeded)
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDrop, URL: childURL.String(), From: parent.URL.String(), Reason: "depth exceeded"})
		return
	}
	if !c.isAllowlisted(childURL.Authority()) {
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDrop, URL: childURL.String(), From: parent.URL.String(), Reason: "not_allowlisted"})
		return
	}
	if c.deps.Rules != nil && !c.deps.Rules.Allow(childURL.Host, childURL.String()) {
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDrop, URL: childURL.String(), From: parent.URL.String(), Reason: "url_filter_rejected"})
		return
	}

	task := CrawlTask{URL: childURL, Depth: depth, Referer: parent.URL.String(), DiscoveredVia: DiscoveredHTMLLink}
	_, _ = c.enqueue(ctx, crawlID, task, parent.URL.String())
}

// enqueue is the single path every task (seed, sitemap, or discovered
// child) goes through to reach the queue: it accounts pending/enqueued
// counters, emits the discover/drop events, and stops the crawl once
// max_unique_url_count is reached.
func (c *Coordinator) enqueue(ctx context.Context, crawlID string, task CrawlTask, fromURL string) (EnqueueResult, error) {
	result, err := c.deps.Queue.Enqueue(ctx, task)
	switch result {
	case Enqueued:
		c.pending.Add(1)
		total := c.enqueuedTotal.Add(1)
		c.deps.Stats.RecordLinkEnqueued()
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDiscover, URL: task.URL.String(), From: fromURL})
		if c.cfg.MaxUniqueURLCount > 0 && total >= int64(c.cfg.MaxUniqueURLCount) {
			c.Stop()
		}
	case RejectedFull:
		c.deps.Stats.RecordError(ErrKindQueueFull)
		c.emit(Event{CrawlID: crawlID, TS: c.now(), Kind: progress.KindURLDrop, URL: task.URL.String(), From: fromURL, Reason: "queue_full", ErrorKind: string(ErrKindQueueFull)})
	case Duplicate:
		// Not an error; simply not re-enqueued.
	}
	return result, err
}

package crawler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldcrawl/crawler/internal/progress"
)

// State names one position in the coordinator's lifecycle:
// Idle -> Seeding -> Running -> Draining -> Terminated. Seeding and
// Running overlap in practice (workers start consuming before seeding
// finishes), but the exposed State always reflects the most advanced phase
// reached so far.
type State int32

// State values, in lifecycle order.
const (
	StateIdle State = iota
	StateSeeding
	StateRunning
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeding:
		return "seeding"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Dependencies are the collaborators NewCoordinator wires together. Only
// Queue, HTTP, and Sink are required; the rest have sensible nil/zero
// behavior (no robots politeness, no sitemap discovery, no rule-based
// filtering, no events, no field extraction).
type Dependencies struct {
	Queue   TaskQueue
	HTTP    *HTTPClient
	Robots  *RobotsService
	Sitemap SitemapSource
	Rules   *RuleSet

	FieldExtractor FieldExtractor
	Sink           Sink
	Events         progress.Emitter

	Stats *Stats
	Clock Clock
	IDGen IDGenerator
}

// Coordinator is the crawl engine's central orchestrator:
// it seeds the queue, schedules robots.txt and sitemap acquisition, runs a
// bounded worker pool that fetches and extracts each task, enqueues
// discovered child links, and decides when the crawl has finished.
type Coordinator struct {
	cfg  Config
	deps Dependencies

	allowlistMu sync.RWMutex
	allowlist   map[string]struct{}

	robotsSitemapSeeded sync.Map // authority (string) -> struct{}

	state State

	enqueuedTotal atomic.Int64 // proxy for the queue's visited-set size
	pending       atomic.Int64 // in-flight: enqueued but not yet fully processed
	seedingDone   atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCoordinator validates cfg and wires deps into a Coordinator ready to
// Run. A malformed configuration or rule set is a ConfigError, fatal before
// any network activity starts.
func NewCoordinator(cfg Config, deps Dependencies) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Queue == nil {
		return nil, WrapErr(ErrKindConfig, "", fmt.Errorf("queue dependency is required"))
	}
	if deps.HTTP == nil {
		return nil, WrapErr(ErrKindConfig, "", fmt.Errorf("http client dependency is required"))
	}
	if deps.Sink == nil {
		return nil, WrapErr(ErrKindConfig, "", fmt.Errorf("sink dependency is required"))
	}
	if deps.Stats == nil {
		deps.Stats = NewStats()
	}

	allowlist := make(map[string]struct{}, len(cfg.DomainAllowlist))
	for _, d := range cfg.DomainAllowlist {
		allowlist[d.String()] = struct{}{}
	}

	return &Coordinator{
		cfg:       cfg,
		deps:      deps,
		allowlist: allowlist,
		stopCh:    make(chan struct{}),
	}, nil
}

// State reports the coordinator's current lifecycle phase.
func (c *Coordinator) State() State {
	return State(atomic.LoadInt32((*int32)(&c.state)))
}

func (c *Coordinator) setState(s State) {
	atomic.StoreInt32((*int32)(&c.state), int32(s))
}

// Stop requests early termination: it cancels the run's context, so workers
// stop dequeuing, in-flight fetches are aborted, and tasks still in the
// queue are not processed. Run returns once the workers have exited. Safe
// to call more than once or concurrently with Run.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Run executes the full crawl lifecycle and blocks until the coordinator
// reaches StateTerminated: a seeding goroutine, an optional sitemap-seeding
// goroutine, and a bounded pool of threads_per_crawl workers all run
// concurrently, coordinated by the pending-work counter and the queue's own
// blocking Dequeue. Run returns nil on graceful termination (max_duration
// elapsed, queue drained with no in-flight work, max_unique_url_count
// reached, or an explicit Stop), and ctx.Err() when the caller's ctx is
// canceled or expires. Per-URL failures are reported as results and events,
// never returned from Run.
func (c *Coordinator) Run(ctx context.Context) error {
	c.setState(StateSeeding)
	crawlID := c.cfg.NewCrawlID()
	startedAt := c.now()

	c.emit(progress.Event{CrawlID: crawlID, TS: startedAt, Kind: progress.KindCrawlStart})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.cfg.MaxDuration > 0 {
		timer := time.AfterFunc(c.cfg.MaxDuration, cancel)
		defer timer.Stop()
	}

	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.seed(runCtx, crawlID)
	}()

	if !c.cfg.SitemapDiscoveryDisabled && c.deps.Sitemap != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.seedSitemaps(runCtx, crawlID)
		}()
	}

	c.setState(StateRunning)

	workerCount := c.cfg.ThreadsPerCrawl
	if workerCount <= 0 {
		workerCount = 1
	}
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.runWorker(runCtx, crawlID)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.watchTermination(runCtx, cancel)
	}()

	wg.Wait()
	c.setState(StateDraining)
	_ = c.deps.Queue.Close()

	c.setState(StateTerminated)
	snapshot := c.deps.Stats.Snapshot()
	c.emit(progress.Event{
		CrawlID: crawlID,
		TS:      c.now(),
		Kind:    progress.KindCrawlEnd,
		Dur:     c.now().Sub(startedAt),
		Stats:   &snapshot,
	})

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

// watchTermination polls for "queue empty and no in-flight work" and cancels
// runCtx once reached. A short poll interval is used
// rather than a condition variable because pending/seedingDone/queue size
// change from many goroutines and a poll is simpler to reason about than a
// broadcast-on-every-decrement scheme.
func (c *Coordinator) watchTermination(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.seedingDone.Load() && c.pending.Load() <= 0 && c.deps.Queue.Empty() {
				cancel()
				return
			}
		}
	}
}

func (c *Coordinator) now() time.Time {
	if c.deps.Clock != nil {
		return c.deps.Clock.Now()
	}
	return time.Now().UTC()
}

func (c *Coordinator) newResultID() string {
	if c.deps.IDGen != nil {
		if id, err := c.deps.IDGen.NewID(); err == nil {
			return id
		}
	}
	return "result-" + randomSuffix(8)
}

func (c *Coordinator) emit(evt Event) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.Emit(evt)
}

// Event is an alias so coordinator call sites read naturally; it is the
// progress package's Event type.
type Event = progress.Event

func (c *Coordinator) isAllowlisted(domain string) bool {
	c.allowlistMu.RLock()
	defer c.allowlistMu.RUnlock()
	_, ok := c.allowlist[domain]
	return ok
}

// allowAuthority implicitly allowlists a seed's own authority: a seed URL
// whose authority is not already in domain_allowlist is admitted anyway,
// since refusing to crawl a URL the operator explicitly named would make
// domain_allowlist nearly impossible to configure correctly up front.
func (c *Coordinator) allowAuthority(domain string) {
	c.allowlistMu.Lock()
	defer c.allowlistMu.Unlock()
	c.allowlist[domain] = struct{}{}
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldcrawl/crawler/internal/adminserver"
	"github.com/fieldcrawl/crawler/internal/clock/system"
	"github.com/fieldcrawl/crawler/internal/config"
	"github.com/fieldcrawl/crawler/internal/crawler"
	"github.com/fieldcrawl/crawler/internal/eventbus"
	"github.com/fieldcrawl/crawler/internal/id/uuid"
	"github.com/fieldcrawl/crawler/internal/jobstore"
	jobstoreMemory "github.com/fieldcrawl/crawler/internal/jobstore/memory"
	jobstorePostgres "github.com/fieldcrawl/crawler/internal/jobstore/postgres"
	"github.com/fieldcrawl/crawler/internal/logging"
	"github.com/fieldcrawl/crawler/internal/progress"
	"github.com/fieldcrawl/crawler/internal/progress/sinks"
	publisherMemory "github.com/fieldcrawl/crawler/internal/publisher/memory"
	publisherPubsub "github.com/fieldcrawl/crawler/internal/publisher/pubsub"
	"github.com/fieldcrawl/crawler/internal/queue"
	"github.com/fieldcrawl/crawler/internal/sink"
	"github.com/fieldcrawl/crawler/internal/sitemap"
	"github.com/fieldcrawl/crawler/internal/storage"
	"github.com/fieldcrawl/crawler/internal/storage/local"
	"github.com/fieldcrawl/crawler/internal/storage/memory"
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Starts a single crawl run",
		Long: `Runs one crawl to completion using the configuration file (or
CRAWLER_-prefixed environment variables) supplied via --config.`,
		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	svcCfg, err := config.Load(cfgFile)
	if err != nil {
		return crawler.WrapErr(crawler.ErrKindConfig, "", err)
	}

	engineCfg, err := svcCfg.ToEngineConfig()
	if err != nil {
		return crawler.WrapErr(crawler.ErrKindConfig, "", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	built, err := buildCoordinator(ctx, svcCfg, engineCfg)
	if err != nil {
		return err
	}
	defer built.closeDeps()
	defer func() {
		if cerr := built.hub.Close(context.Background()); cerr != nil {
			logging.L.Warn("progress hub close failed", zap.Error(cerr))
		}
	}()

	if admin := startAdminServer(svcCfg, built.jobs); admin != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if cerr := admin.Shutdown(shutdownCtx); cerr != nil {
				logging.L.Warn("admin server shutdown failed", zap.Error(cerr))
			}
		}()
	}

	logging.L.Info("starting crawl",
		zap.String("crawl_id", engineCfg.CrawlID),
		zap.Int("threads_per_crawl", engineCfg.ThreadsPerCrawl),
		zap.Int("max_crawl_depth", engineCfg.MaxCrawlDepth),
	)

	runErr := built.coordinator.Run(ctx)
	finalizeJob(built.jobs, engineCfg.CrawlID, runErr)
	if runErr != nil {
		return runErr
	}

	logging.L.Info("crawl finished")
	return nil
}

// finalizeJob corrects the terminal jobstore.Status once Run returns: the
// crawl-end event itself can't distinguish a clean finish from an
// externally-canceled one, so the caller settles it here.
func finalizeJob(jobs jobstore.Store, crawlID string, runErr error) {
	if jobs == nil || runErr == nil {
		return
	}
	status := jobstore.StatusFailed
	if err := ctxErr(runErr); err != nil {
		status = jobstore.StatusCanceled
	}
	job, err := jobs.GetJob(context.Background(), crawlID)
	if err != nil {
		return
	}
	if uerr := jobs.UpdateJobStatus(context.Background(), crawlID, status, runErr.Error(), job.Counters); uerr != nil {
		logging.L.Warn("finalize job status failed", zap.String("crawl_id", crawlID), zap.Error(uerr))
	}
}

func ctxErr(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return err
	}
	return nil
}

func startAdminServer(svcCfg config.Config, jobs jobstore.Store) *http.Server {
	if !svcCfg.Server.AdminEnabled {
		return nil
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", svcCfg.Server.Port),
		Handler: adminserver.New(jobs, logging.L).Handler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L.Error("admin server stopped", zap.Error(err))
		}
	}()
	return srv
}

// coordinatorDeps bundles buildCoordinator's outputs so the caller can wire
// lifecycle hooks (job-status finalization, admin server) without a long
// positional return list.
type coordinatorDeps struct {
	coordinator *crawler.Coordinator
	hub         *progress.Hub
	jobs        jobstore.Store
	closeDeps   func()
}

// buildCoordinator wires every crawler.Dependencies collaborator from
// svcCfg/engineCfg: the url_queue backend, the HTTP client (behind the
// DNS-filtering resolver), the robots service, the sitemap source, the
// compiled rule set, the output sink, and the progress event fan-out
// (logging, Prometheus, jobstore, and optionally Pub/Sub sinks).
func buildCoordinator(ctx context.Context, svcCfg config.Config, engineCfg crawler.Config) (*coordinatorDeps, error) {
	taskQueue, closeQueue, err := queue.New(ctx, engineCfg, queue.Options{
		FilePath:      svcCfg.Queue.FilePath,
		PostgresDSN:   svcCfg.Queue.PostgresDSN,
		PostgresTable: svcCfg.Queue.PostgresTable,
	})
	if err != nil {
		return nil, fmt.Errorf("build url queue: %w", err)
	}

	resolver := crawler.NewFilteringResolver(nil, engineCfg.DNSPolicy())
	httpClient, err := crawler.NewHTTPClient(crawler.HTTPClientConfig{
		UserAgent:           engineCfg.UserAgent,
		MaxRedirects:        engineCfg.MaxRedirects,
		MaxResponseSize:     engineCfg.MaxResponseSize,
		ConnectTimeout:      engineCfg.ConnectTimeout,
		SocketTimeout:       engineCfg.SocketTimeout,
		RequestTimeout:      engineCfg.RequestTimeout,
		CompressionEnabled:  engineCfg.CompressionEnabled,
		HeadRequestsEnabled: engineCfg.HeadRequestsEnabled,
		SSLCACertificates:   engineCfg.SSLCACertificates,
		SSLVerificationMode: engineCfg.SSLVerificationMode,
		Proxy:               engineCfg.Proxy,
		Resolver:            resolver,
		AuthFor:             authLookup(engineCfg),
	})
	if err != nil {
		closeQueue()
		return nil, fmt.Errorf("build http client: %w", err)
	}

	robots := crawler.NewRobotsService(&robotsHTTPFetcher{client: httpClient}, engineCfg.UserAgent)

	sitemapSource := sitemap.NewSource(httpClient, engineCfg.MaxResponseSize)

	rules, err := crawler.CompileRuleSet(engineCfg.DomainExtractionRules)
	if err != nil {
		closeQueue()
		return nil, fmt.Errorf("compile domain extraction rules: %w", err)
	}

	outputSink, err := buildSink(svcCfg, engineCfg)
	if err != nil {
		closeQueue()
		return nil, err
	}

	jobs, closeJobs, err := buildJobStore(ctx, svcCfg)
	if err != nil {
		closeQueue()
		return nil, err
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		closeQueue()
		closeJobs()
		return nil, fmt.Errorf("build prometheus sink: %w", err)
	}

	progressSinks := []progress.Sink{
		sinks.NewLogSink(logging.L),
		promSink,
		jobstore.NewEventSink(jobs, logging.L),
	}
	if svcCfg.PubSub.Enabled {
		bus, err := buildEventBus(ctx, svcCfg)
		if err != nil {
			closeQueue()
			closeJobs()
			return nil, err
		}
		progressSinks = append(progressSinks, bus)
	}

	stats := crawler.NewStats()
	hub := progress.NewHub(progress.Config{Logger: logging.L}, progressSinks...)

	coordinator, err := crawler.NewCoordinator(engineCfg, crawler.Dependencies{
		Queue:   taskQueue,
		HTTP:    httpClient,
		Robots:  robots,
		Sitemap: sitemapSource,
		Rules:   rules,
		Sink:    outputSink,
		Events:  hub,
		Stats:   stats,
		Clock:   system.New(),
		IDGen:   uuid.NewUUIDGenerator(),
	})
	if err != nil {
		closeQueue()
		closeJobs()
		return nil, err
	}

	return &coordinatorDeps{
		coordinator: coordinator,
		hub:         hub,
		jobs:        jobs,
		closeDeps: func() {
			closeQueue()
			closeJobs()
		},
	}, nil
}

// buildJobStore selects the jobstore.Store backend per svcCfg.JobStore,
// mirroring buildSink's storage-backend switch.
func buildJobStore(ctx context.Context, svcCfg config.Config) (jobstore.Store, func(), error) {
	switch svcCfg.JobStore.Backend {
	case "postgres":
		store, closeStore, err := jobstorePostgres.New(ctx, svcCfg.JobStore.PostgresDSN, svcCfg.JobStore.PostgresTable)
		if err != nil {
			return nil, nil, fmt.Errorf("build postgres jobstore: %w", err)
		}
		return store, closeStore, nil
	default:
		return jobstoreMemory.New(), func() {}, nil
	}
}

// buildEventBus constructs the Pub/Sub-backed progress.Sink when
// pubsub.enabled is set, falling back to an in-memory publisher (useful in
// tests and local runs without GCP credentials) when no topic is
// configured despite pubsub.enabled being true.
func buildEventBus(ctx context.Context, svcCfg config.Config) (*eventbus.Sink, error) {
	if svcCfg.PubSub.ProjectID == "" || svcCfg.PubSub.TopicName == "" {
		logging.L.Warn("pubsub enabled but project_id/topic_name unset, using in-memory publisher")
		return eventbus.New(publisherMemory.New(), svcCfg.PubSub.TopicName, logging.L), nil
	}
	client, err := pubsubv2.NewClient(ctx, svcCfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("build pubsub client: %w", err)
	}
	publisher := client.Publisher(svcCfg.PubSub.TopicName)
	return eventbus.New(publisherPubsub.New(publisher), svcCfg.PubSub.TopicName, logging.L), nil
}

// robotsHTTPFetcher adapts *crawler.HTTPClient to crawler.RobotsFetcher.
type robotsHTTPFetcher struct {
	client *crawler.HTTPClient
}

func (f *robotsHTTPFetcher) FetchRobots(ctx context.Context, authority string) (int, io.ReadCloser, error) {
	resp, err := f.client.Fetch(ctx, authority+"/robots.txt")
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, resp.Body, nil
}

func authLookup(cfg crawler.Config) func(authority string) (string, string, bool) {
	if !cfg.HTTPAuthAllowed {
		return nil
	}
	byHost := make(map[string]crawler.HostAuth, len(cfg.Auth))
	for _, a := range cfg.Auth {
		byHost[a.Host] = a
	}
	return func(authority string) (string, string, bool) {
		a, ok := byHost[authority]
		if !ok {
			return "", "", false
		}
		return a.Username, a.Password, true
	}
}

func buildSink(svcCfg config.Config, engineCfg crawler.Config) (crawler.Sink, error) {
	switch engineCfg.OutputSink {
	case crawler.SinkConsole, "":
		return sink.NewConsole(os.Stdout), nil
	case crawler.SinkFile:
		switch svcCfg.Storage.Backend {
		case "gcs":
			provider, err := storage.NewGCSProvider(context.Background(), svcCfg.Storage.GCSBucket)
			if err != nil {
				return nil, fmt.Errorf("build gcs sink: %w", err)
			}
			return sink.NewGCS(provider, svcCfg.Storage.Prefix), nil
		case "memory":
			return sink.NewBlobSink(memory.NewBlobStore(), logging.L), nil
		default:
			store, err := local.New(local.Config{BaseDir: svcCfg.Storage.BaseDir})
			if err != nil {
				return nil, fmt.Errorf("build local sink: %w", err)
			}
			return sink.NewBlobSink(store, logging.L), nil
		}
	case crawler.SinkCustom:
		return nil, fmt.Errorf("output_sink=custom requires a caller-supplied crawler.Sink; not available via the CLI")
	default:
		return nil, fmt.Errorf("unknown output_sink %q", engineCfg.OutputSink)
	}
}

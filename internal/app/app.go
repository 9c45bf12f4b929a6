// Package app initializes and holds the long-lived services of a crawl run,
// acting as the dependency injection container between the CLI and the
// worker pool.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/moditems-crawler/internal/clock/system"
	"github.com/JakeFAU/moditems-crawler/internal/config"
	"github.com/JakeFAU/moditems-crawler/internal/crawler"
	"github.com/JakeFAU/moditems-crawler/internal/dispatcher"
	"github.com/JakeFAU/moditems-crawler/internal/download"
	collyfetcher "github.com/JakeFAU/moditems-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/moditems-crawler/internal/fetcher/gated"
	iduuid "github.com/JakeFAU/moditems-crawler/internal/id/uuid"
	"github.com/JakeFAU/moditems-crawler/internal/metrics"
	"github.com/JakeFAU/moditems-crawler/internal/progress"
	"github.com/JakeFAU/moditems-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/moditems-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/moditems-crawler/internal/queue/memory"
	"github.com/JakeFAU/moditems-crawler/internal/ratelimit"
	"github.com/JakeFAU/moditems-crawler/internal/retry"
	"github.com/JakeFAU/moditems-crawler/internal/storage/gcs"
	"github.com/JakeFAU/moditems-crawler/internal/storage/local"
	"github.com/JakeFAU/moditems-crawler/internal/storage/s3"
	"github.com/JakeFAU/moditems-crawler/internal/store"
	"github.com/JakeFAU/moditems-crawler/internal/wiki"
	"github.com/JakeFAU/moditems-crawler/internal/worker"
)

const shutdownTimeout = 5 * time.Second

// ClientFactory opens the Google Cloud clients used by optional backends.
type ClientFactory interface {
	Storage(ctx context.Context) (*storage.Client, error)
	PubSub(ctx context.Context, projectID string) (*pubsub.Client, error)
}

// DefaultClientFactory uses application default credentials.
type DefaultClientFactory struct{}

// Storage opens a GCS client.
func (DefaultClientFactory) Storage(ctx context.Context) (*storage.Client, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return client, nil
}

// PubSub opens a Pub/Sub client for projectID.
func (DefaultClientFactory) PubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return client, nil
}

// Option customizes New.
type Option func(*options)

type options struct {
	clients  ClientFactory
	registry prometheus.Registerer
	fetcher  crawler.Fetcher
	ids      crawler.IDGenerator
}

// WithClientFactory replaces the Google Cloud client factory.
func WithClientFactory(f ClientFactory) Option {
	return func(o *options) { o.clients = f }
}

// WithRegisterer registers the progress collectors on reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registry = reg }
}

// WithFetcher replaces the Colly transport shared by API calls and downloads.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithIDGenerator replaces the run ID source. IDs must be textual UUIDs.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// App holds the services shared by every worker of one crawl run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  uuid.UUID

	hub        *progress.Hub
	store      *store.Store
	wiki       crawler.WikiClient
	downloader crawler.ImageDownloader
	publisher  crawler.Publisher
	stats      *worker.Stats

	metricsSrv *http.Server
	closers    []func() error
}

// New builds every service named by cfg. It fails fast when a configured
// backend cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{
		clients:  DefaultClientFactory{},
		registry: prometheus.DefaultRegisterer,
		ids:      iduuid.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	runID, err := newRunID(o.ids)
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:    cfg,
		logger: logger.With(zap.String("run_id", runID.String())),
		runID:  runID,
		stats:  &worker.Stats{},
	}
	a.logger.Info("initializing crawl services")

	if err := a.initServices(ctx, o); err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.logger.Info("crawl services initialized")
	return a, nil
}

func newRunID(ids crawler.IDGenerator) (uuid.UUID, error) {
	raw, err := ids.NewID()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("generate run id: %w", err)
	}
	id, err := progress.ParseRunID(raw)
	if err != nil {
		return uuid.UUID{}, err
	}
	return uuid.UUID(id), nil
}

func (a *App) initServices(ctx context.Context, o options) error {
	cfg := a.cfg

	promSink, err := sinks.NewPrometheusSink(o.registry)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")},
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
	)

	a.store, err = store.Open(cfg.Store.Path, a.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	transport := o.fetcher
	if transport == nil {
		transport = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.Wiki.UserAgent,
			RespectRobots: cfg.Wiki.RespectRobots,
			Timeout:       cfg.RequestTimeout(),
			MaxBodyBytes:  cfg.Download.MaxBytes,
		})
	}
	fetcher := gated.New(transport, cfg.Crawler.Workers)

	policy := retry.New(retry.Config{
		MaxAttempts: cfg.HTTP.MaxRetries,
		BaseDelay:   time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.RPS,
		DefaultBurst: cfg.RateLimit.Burst,
	})
	a.wiki, err = wiki.New(wiki.Config{
		BaseURL:     cfg.Wiki.BaseURL,
		SearchLimit: cfg.Wiki.SearchLimit,
		Timeout:     cfg.RequestTimeout(),
	}, fetcher, limiter, policy, a.logger)
	if err != nil {
		return fmt.Errorf("init wiki client: %w", err)
	}

	if cfg.Download.Enabled {
		blobs, err := a.blobStore(ctx, o.clients)
		if err != nil {
			return err
		}
		a.downloader = download.New(download.Config{Timeout: cfg.DownloadTimeout()}, fetcher, blobs, a.logger)
	}

	if cfg.PubSub.TopicName != "" {
		client, err := o.clients.PubSub(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		pub := pubsubpublisher.New(client)
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("publishing mod notifications",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}

	if cfg.Metrics.Addr != "" {
		a.startMetricsServer(cfg.Metrics.Addr)
	}
	return nil
}

func (a *App) blobStore(ctx context.Context, clients ClientFactory) (crawler.BlobStore, error) {
	switch a.cfg.Download.Backend {
	case config.BackendGCS:
		client, err := clients.Storage(ctx)
		if err != nil {
			return nil, fmt.Errorf("init image storage: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("using GCS image storage", zap.String("bucket", a.cfg.Download.GCSBucket))
		blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Download.GCSBucket, Prefix: a.cfg.Download.Dir})
		if err != nil {
			return nil, fmt.Errorf("init image storage: %w", err)
		}
		return blobs, nil
	case config.BackendS3:
		s3cfg := a.cfg.Download.S3
		a.logger.Info("using S3 image storage",
			zap.String("endpoint", s3cfg.Endpoint),
			zap.String("bucket", s3cfg.Bucket),
		)
		blobs, err := s3.New(ctx, s3.Config{
			Endpoint:  s3cfg.Endpoint,
			Region:    s3cfg.Region,
			Bucket:    s3cfg.Bucket,
			Prefix:    a.cfg.Download.Dir,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			UseSSL:    s3cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init image storage: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		a.logger.Info("using local image storage", zap.String("dir", a.cfg.Download.Dir))
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Download.Dir})
		if err != nil {
			return nil, fmt.Errorf("init image storage: %w", err)
		}
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown download backend: %s", a.cfg.Download.Backend)
	}
}

func (a *App) startMetricsServer(addr string) {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server started", zap.String("addr", addr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// RunID identifies this crawl in logs, progress events and notifications.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Run crawls names with the configured worker pool and returns the run
// totals. Per-mod failures are counted, never returned; the error only
// reports that the worklist could not be fully enqueued.
func (a *App) Run(ctx context.Context, names []string) (worker.Summary, error) {
	start := time.Now()
	workers := a.cfg.Crawler.Workers
	a.logger.Info("crawl started",
		zap.Int("mods", len(names)),
		zap.Int("workers", workers),
		zap.Bool("download", a.downloader != nil),
	)
	a.hub.Emit(progress.Event{RunID: a.runID, TS: time.Now().UTC(), Stage: progress.StageRunStart, Count: int64(len(names))})

	queue := queueMemory.NewQueue(a.cfg.Crawler.QueueDepth)
	deps := worker.Dependencies{
		Queue:      queue,
		Wiki:       a.wiki,
		Store:      a.store,
		Downloader: a.downloader,
		Publisher:  a.publisher,
		Clock:      system.New(),
		Emitter:    a.hub,
		Stats:      a.stats,
	}
	wcfg := worker.Config{Topic: a.cfg.PubSub.TopicName, ModDelay: a.cfg.ModDelay()}
	pool := make([]*worker.Worker, 0, workers)
	for i := range workers {
		pool = append(pool, worker.New(i, a.runID, deps, wcfg, a.logger))
	}

	err := dispatcher.New(queue, pool).Process(ctx, names)
	summary := a.stats.Snapshot()
	elapsed := time.Since(start)
	a.hub.Emit(progress.Event{
		RunID: a.runID,
		TS:    time.Now().UTC(),
		Stage: progress.StageRunDone,
		Count: summary.ModsPersisted,
		Dur:   elapsed,
	})
	a.logger.Info("crawl finished",
		zap.Int("total", len(names)),
		zap.Int64("processed", summary.ItemsProcessed),
		zap.Int64("failed", summary.Failed()),
		zap.Int64("mods_persisted", summary.ModsPersisted),
		zap.Int64("mods_skipped", summary.ModsSkipped),
		zap.Int64("images", summary.ImagesResolved),
		zap.Int64("downloads", summary.Downloads),
		zap.Int64("progress_dropped", a.hub.Dropped()),
		zap.String("store", a.store.Path()),
		zap.Int("stored_mods", a.store.Len()),
		zap.Duration("elapsed", elapsed),
	)
	if err != nil {
		return summary, fmt.Errorf("feed worklist: %w", err)
	}
	return summary, nil
}

// Close flushes progress sinks and releases every client. It is safe to call
// on a partially initialized App.
func (a *App) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(shutdownCtx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close client failed", zap.Error(err))
		}
	}
	a.closers = nil
}

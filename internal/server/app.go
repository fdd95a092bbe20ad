// Package server builds the crawl run from configuration and drives it to
// completion.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/api"
	"github.com/JakeFAU/adlibrary-crawler/internal/classifier"
	"github.com/JakeFAU/adlibrary-crawler/internal/clock/system"
	"github.com/JakeFAU/adlibrary-crawler/internal/config"
	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/dispatcher"
	"github.com/JakeFAU/adlibrary-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/adlibrary-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/adlibrary-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/adlibrary-crawler/internal/frontier"
	"github.com/JakeFAU/adlibrary-crawler/internal/governor"
	"github.com/JakeFAU/adlibrary-crawler/internal/hash/sha256"
	"github.com/JakeFAU/adlibrary-crawler/internal/headless/detector"
	idgen "github.com/JakeFAU/adlibrary-crawler/internal/id/uuid"
	"github.com/JakeFAU/adlibrary-crawler/internal/identity"
	"github.com/JakeFAU/adlibrary-crawler/internal/metrics"
	"github.com/JakeFAU/adlibrary-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/adlibrary-crawler/internal/policy/simple"
	"github.com/JakeFAU/adlibrary-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/adlibrary-crawler/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/adlibrary-crawler/internal/publisher/kafka"
	gcppublisher "github.com/JakeFAU/adlibrary-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/adlibrary-crawler/internal/sink"
	gcsstorage "github.com/JakeFAU/adlibrary-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/adlibrary-crawler/internal/storage/local"
	pgstore "github.com/JakeFAU/adlibrary-crawler/internal/storage/postgres"
	"github.com/JakeFAU/adlibrary-crawler/internal/telemetry"
	"github.com/JakeFAU/adlibrary-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App holds one run's components.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string
	clock  crawler.Clock

	frontier   *frontier.Frontier
	governor   *governor.Governor
	identities *identity.Pool
	idStore    identity.Store
	tracker    *progress.Tracker
	hub        *progress.Hub
	output     crawler.Sink
	worker     *worker.Worker
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server
	headless   *headlessfetcher.Fetcher
	tracer     *sdktrace.TracerProvider
}

// Option customizes Build.
type Option func(*options)

type options struct {
	fetcher    crawler.Fetcher
	sinks      []crawler.Sink
	registerer prometheus.Registerer
	clock      crawler.Clock
}

// WithFetcher replaces the configured primary fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithSink adds an output sink next to the configured ones.
func WithSink(s crawler.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithRegisterer registers run metrics against reg instead of the default
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithClock overrides the wall clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// Build creates the run's dependencies. On error everything opened so far is
// closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (app *App, err error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = system.New()
	}
	metrics.Init()

	app = &App{
		cfg:    cfg,
		logger: logger,
		runID:  cfg.Run.RunID,
		clock:  o.clock,
	}
	if app.runID == "" {
		if app.runID, err = idgen.NewWithPrefix("run-").NewID(); err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if cerr := app.Close(closeCtx); cerr != nil {
				logger.Warn("cleanup after failed build", zap.Error(cerr))
			}
			app = nil
		}
	}()

	logger.Info("building crawl run",
		zap.String("run_id", app.runID),
		zap.String("account_owner", cfg.Run.AccountOwner),
		zap.String("keyword", cfg.Run.Keyword),
		zap.Int("max_urls", cfg.Run.MaxURLs),
		zap.Bool("unlimited", cfg.Run.Unlimited),
		zap.Bool("local", cfg.Run.Local),
		zap.Bool("scrape_details", cfg.Run.ScrapeDetails),
	)

	if app.tracer, err = telemetry.InitTracerProvider(ctx, cfg.Tracing); err != nil {
		return app, fmt.Errorf("init tracing: %w", err)
	}

	observer := metrics.NewObserver()
	app.frontier = frontier.New(frontier.Config{MaxDetails: cfg.Run.MaxURLs, Unlimited: cfg.Run.Unlimited}, o.clock)
	app.governor = governor.New(governor.Config{
		Floor:   time.Duration(cfg.Backoff.FloorMS) * time.Millisecond,
		Ceiling: time.Duration(cfg.Backoff.CeilingMS) * time.Millisecond,
		Factor:  cfg.Backoff.Factor,
	}, governor.WithObserver(observer), governor.WithLogger(logger.Named("governor")))

	if err = app.setupIdentities(ctx, observer); err != nil {
		return app, err
	}

	var runRepo *pgstore.RunStore
	app.output, runRepo, err = app.setupOutput(ctx, o.sinks)
	if err != nil {
		return app, err
	}

	if err = app.setupProgress(runRepo, o.registerer); err != nil {
		return app, err
	}

	fetcher, headless, err := app.setupFetchers(o.fetcher)
	if err != nil {
		return app, err
	}

	if err = app.setupWorkers(fetcher, headless); err != nil {
		return app, err
	}

	if cfg.Server.Port > 0 {
		app.apiServer = api.NewServer(api.Sources{
			Progress:   app.tracker,
			Governor:   app.governor,
			Frontier:   app.frontier,
			Identities: app.identities,
		}, logger)
	}
	return app, nil
}

func (a *App) setupIdentities(ctx context.Context, observer identity.Observer) error {
	maxIdentities := a.cfg.Crawler.MaxConcurrency
	if a.cfg.Run.Local {
		maxIdentities = 1
	}
	a.identities = identity.NewPool(identity.Config{
		MaxIdentities: maxIdentities,
		UsageCeiling:  a.cfg.Identity.UsageCeiling,
		Seeds:         a.cfg.Identity.Seeds,
	}, idgen.NewWithPrefix("identity-"), a.logger.Named("identity"), observer)

	store := a.cfg.Identity.Store
	switch store.Kind {
	case "file":
		a.idStore = identity.NewFileStore(store.Path)
	case "redis":
		a.idStore = identity.NewRedisStore(store.RedisAddr, store.RedisKey, time.Duration(store.TTLSeconds)*time.Second)
	default:
		a.logger.Info("identity persistence disabled")
		return nil
	}
	if err := identity.LoadInto(ctx, a.idStore, a.identities); err != nil {
		return fmt.Errorf("load identities: %w", err)
	}
	active, retired := a.identities.Counts()
	a.logger.Info("identity pool restored",
		zap.String("store", store.Kind),
		zap.Int("active", active),
		zap.Int("retired", retired),
	)
	return nil
}

func (a *App) setupOutput(ctx context.Context, extra []crawler.Sink) (crawler.Sink, *pgstore.RunStore, error) {
	sinks := append([]crawler.Sink(nil), extra...)
	var runRepo *pgstore.RunStore
	// Sinks are added to the list as soon as they open so a later failure
	// still closes them through the Multi.
	fail := func(err error) (crawler.Sink, *pgstore.RunStore, error) {
		return sink.NewMulti(a.logger.Named("sink"), sinks...), nil, err
	}

	switch a.cfg.Storage.Backend {
	case "gcs":
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return fail(fmt.Errorf("gcs blob store init failed: %w", err))
		}
		sinks = append(sinks, sink.NewBlob(store, "", store.Close))
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Dir})
		if err != nil {
			return fail(fmt.Errorf("local blob store init failed: %w", err))
		}
		sinks = append(sinks, sink.NewBlob(store, a.cfg.Storage.Prefix, nil))
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Dir))
	default:
		a.logger.Info("blob storage disabled")
	}

	if a.cfg.DB.DSN != "" {
		pool, err := pgstore.OpenPool(ctx, pgstore.PoolConfig{DSN: a.cfg.DB.DSN, MaxConns: int32(a.cfg.DB.MaxConns)})
		if err != nil {
			return fail(fmt.Errorf("postgres init failed: %w", err))
		}
		ads, err := pgstore.NewAdStore(pool, pgstore.AdStoreConfig{
			RunID:            a.runID,
			AdsTable:         a.cfg.DB.AdsTable,
			CheckpointsTable: a.cfg.DB.CheckpointsTable,
		})
		if err != nil {
			pool.Close()
			return fail(fmt.Errorf("ad store init failed: %w", err))
		}
		sinks = append(sinks, ads)
		if runRepo, err = pgstore.NewRunStore(pool); err != nil {
			return fail(fmt.Errorf("run store init failed: %w", err))
		}
		a.logger.Info("postgres sink initialized", zap.String("table", a.cfg.DB.AdsTable))
	} else {
		a.logger.Warn("No DSN specified for database, skipping postgres sink")
	}

	if a.cfg.PubSub.Topic != "" {
		pub, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
		if err != nil {
			return fail(fmt.Errorf("pubsub publisher init failed: %w", err))
		}
		sinks = append(sinks, sink.NewPublish(pub, sink.PublishConfig{
			RunID:           a.runID,
			RecordTopic:     a.cfg.PubSub.Topic,
			CheckpointTopic: a.cfg.PubSub.CheckpointTopic,
		}, a.clock, pub.Close))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic),
		)
	}

	if len(a.cfg.Kafka.Brokers) > 0 {
		pub, err := kafkapublisher.New(kafkapublisher.Config{Brokers: a.cfg.Kafka.Brokers, Topic: a.cfg.Kafka.Topic})
		if err != nil {
			return fail(fmt.Errorf("kafka publisher init failed: %w", err))
		}
		sinks = append(sinks, sink.NewPublish(pub, sink.PublishConfig{
			RunID:           a.runID,
			RecordTopic:     a.cfg.Kafka.Topic,
			CheckpointTopic: a.cfg.Kafka.CheckpointTopic,
		}, a.clock, pub.Close))
		a.logger.Info("Kafka publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	}

	if len(sinks) == 0 {
		a.logger.Warn("no output sinks configured; records will only be counted")
	}
	return sink.NewMulti(a.logger.Named("sink"), sinks...), runRepo, nil
}

func (a *App) setupProgress(runRepo *pgstore.RunStore, reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	if runRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(runRepo, a.logger.Named("progress_store")))
	}
	a.hub = progress.NewHub(progress.HubConfig{Logger: a.logger.Named("progress_hub")}, sinkList...)
	a.tracker = progress.NewTracker(progress.TrackerConfig{
		RunID:        a.runID,
		AccountOwner: a.cfg.Run.AccountOwner,
		Keyword:      a.cfg.Run.Keyword,
		EveryPages:   a.cfg.Output.CheckpointEveryPages,
		EveryRecords: a.cfg.Output.CheckpointEveryRecords,
	}, a.output, a.hub, a.clock, a.logger.Named("progress"))
	return nil
}

// setupFetchers returns the primary fetcher and, when promotion is enabled,
// the headless fallback.
func (a *App) setupFetchers(override crawler.Fetcher) (crawler.Fetcher, crawler.Fetcher, error) {
	if a.cfg.HeadlessRequired() {
		h, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
			WaitSelector:      a.cfg.Headless.WaitSelector,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = h
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	var primary crawler.Fetcher
	switch {
	case override != nil:
		primary = override
	case a.cfg.Crawler.Fetcher == "headless":
		primary = a.headless
	default:
		primary = collyfetcher.New(collyfetcher.Config{
			Timeout:    a.cfg.RequestTimeout(),
			MaxRetries: a.cfg.HTTP.MaxRetries,
			RetryBase:  time.Duration(a.cfg.HTTP.BackoffInitialMs) * time.Millisecond,
			RetryMax:   time.Duration(a.cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		}, a.logger.Named("fetcher"))
	}

	var fallback crawler.Fetcher
	if a.headless != nil && a.cfg.Headless.Enabled && primary != crawler.Fetcher(a.headless) {
		fallback = a.headless
	}
	return primary, fallback, nil
}

func (a *App) setupWorkers(fetcher, headless crawler.Fetcher) error {
	cfgMin, cfgMax := a.cfg.DetailDelays()
	minDelay, maxDelay := governor.WindowFor(a.cfg.Run.Local, cfgMin, cfgMax)
	var limiter *ratelimit.Limiter
	if a.cfg.Crawler.RequestsPerSecond > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerSecond: a.cfg.Crawler.RequestsPerSecond,
			Burst:             a.cfg.Crawler.Burst,
		}, metrics.ObserveRateLimitWait)
		a.logger.Info("request rate ceiling enabled", zap.Float64("rps", a.cfg.Crawler.RequestsPerSecond))
	}
	var detect crawler.HeadlessDetector
	if headless != nil {
		detect = detector.NewHeuristic(a.cfg.Headless.PromotionThreshold)
	}

	engine := extract.New(extract.Config{
		PlaceholderSignatures: a.cfg.Extract.PlaceholderSignatures,
		TrackingParams:        a.cfg.Extract.TrackingParams,
	}, classifier.New(), sha256.New(), a.clock, a.logger.Named("extract"))

	w, err := worker.New(worker.Config{
		BaseURL:       a.cfg.Run.BaseURL,
		AccountOwner:  a.cfg.Run.AccountOwner,
		Keyword:       a.cfg.Run.Keyword,
		ScrapeDetails: a.cfg.Run.ScrapeDetails,
		SaveRawHTML:   a.cfg.Output.SaveRawHTML,
	}, worker.Deps{
		Frontier:   a.frontier,
		Governor:   a.governor,
		Jitter:     governor.NewJitter(minDelay, maxDelay),
		Limiter:    limiter,
		Identities: a.identities,
		Fetcher:    fetcher,
		Headless:   headless,
		Detector:   detect,
		Policy:     simple.New(a.cfg.Crawler.MaxItemAttempts),
		Extractor:  engine,
		Tracker:    a.tracker,
		Sink:       a.output,
		Clock:      a.clock,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("worker init failed: %w", err)
	}
	a.worker = w

	a.dispatch = dispatcher.New(dispatcher.Config{
		Local:          a.cfg.Run.Local,
		MinConcurrency: a.cfg.Crawler.MinConcurrency,
		MaxConcurrency: a.cfg.Crawler.MaxConcurrency,
		ScaleInterval:  time.Duration(a.cfg.Autoscale.IntervalSeconds) * time.Second,
		Scaling: dispatcher.ScaleConfig{
			HeapHighWater: a.cfg.HeapHighWater(),
			QueueWaitHigh: time.Duration(a.cfg.Autoscale.QueueWaitHighMS) * time.Millisecond,
			QueueWaitLow:  time.Duration(a.cfg.Autoscale.QueueWaitLowMS) * time.Millisecond,
			Step:          a.cfg.Autoscale.Step,
		},
	}, a.frontier, a.worker, a.governor, a.logger)
	a.logger.Info("worker pool configured",
		zap.Int("min_concurrency", a.cfg.Crawler.MinConcurrency),
		zap.Int("max_concurrency", a.cfg.Crawler.MaxConcurrency),
		zap.Duration("jitter_min", minDelay),
		zap.Duration("jitter_max", maxDelay),
	)
	return nil
}

// RunID identifies this run in checkpoints and stored rows.
func (a *App) RunID() string {
	return a.runID
}

// Tracker exposes run progress.
func (a *App) Tracker() *progress.Tracker {
	return a.tracker
}

// Run seeds the frontier and blocks until it drains or ctx ends. The final
// checkpoint is written and identities are saved either way.
func (a *App) Run(ctx context.Context) error {
	a.tracker.Start()
	a.logger.Info("run started", zap.String("run_id", a.runID))

	serverErr := make(chan error, 1)
	serverCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()
	if a.apiServer != nil {
		go func() {
			serverErr <- a.apiServer.ListenAndServe(serverCtx, fmt.Sprintf(":%d", a.cfg.Server.Port))
		}()
	} else {
		serverErr <- nil
	}

	a.worker.Seed()
	runErr := a.dispatch.Run(ctx)

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.tracker.Finish(finishCtx, runErr); err != nil {
		a.logger.Warn("final checkpoint failed", zap.Error(err))
	}
	if a.idStore != nil {
		if err := identity.SaveFrom(finishCtx, a.idStore, a.identities); err != nil {
			a.logger.Warn("identity save failed", zap.Error(err))
		}
	}

	counters := a.tracker.Snapshot()
	a.logger.Info("run finished",
		zap.String("run_id", a.runID),
		zap.Int("ads_collected", counters.AdsCollected),
		zap.Int("details_collected", counters.DetailsCollected),
		zap.Int("details_failed", counters.DetailsFailed),
		zap.Int("pages_processed", counters.PagesProcessed),
		zap.Int("rate_limits", counters.RateLimits),
		zap.Int("blocks", counters.Blocks),
		zap.Error(runErr),
	)

	stopServer()
	if err := <-serverErr; err != nil {
		a.logger.Warn("ops server stopped with error", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("run %s: %w", a.runID, runErr)
	}
	return nil
}

// Close releases every component opened by Build.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("progress hub close: %w", err))
		}
	}
	if a.output != nil {
		if err := a.output.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("sink close: %w", err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if closer, ok := a.idStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("identity store close: %w", err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

// Package server builds the portal's dependency graph and runs its roles.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fleetinfo/portal/internal/ai"
	"github.com/fleetinfo/portal/internal/api"
	"github.com/fleetinfo/portal/internal/auth"
	"github.com/fleetinfo/portal/internal/clock/system"
	"github.com/fleetinfo/portal/internal/config"
	"github.com/fleetinfo/portal/internal/dispatcher"
	"github.com/fleetinfo/portal/internal/external"
	collyfetcher "github.com/fleetinfo/portal/internal/fetcher/colly"
	headlessfetcher "github.com/fleetinfo/portal/internal/fetcher/headless"
	"github.com/fleetinfo/portal/internal/headless/detector"
	"github.com/fleetinfo/portal/internal/id/uuid"
	"github.com/fleetinfo/portal/internal/jobs"
	"github.com/fleetinfo/portal/internal/metrics"
	"github.com/fleetinfo/portal/internal/pipeline"
	"github.com/fleetinfo/portal/internal/policy/ratelimit"
	"github.com/fleetinfo/portal/internal/portal"
	"github.com/fleetinfo/portal/internal/progress"
	progresssinks "github.com/fleetinfo/portal/internal/progress/sinks"
	memorypublisher "github.com/fleetinfo/portal/internal/publisher/memory"
	gcppublisher "github.com/fleetinfo/portal/internal/publisher/pubsub"
	queueMemory "github.com/fleetinfo/portal/internal/queue/memory"
	"github.com/fleetinfo/portal/internal/scheduler"
	"github.com/fleetinfo/portal/internal/scrape"
	"github.com/fleetinfo/portal/internal/search"
	gcsstorage "github.com/fleetinfo/portal/internal/storage/gcs"
	localstorage "github.com/fleetinfo/portal/internal/storage/local"
	memoryStorage "github.com/fleetinfo/portal/internal/storage/memory"
	pgstore "github.com/fleetinfo/portal/internal/storage/postgres"
	"github.com/fleetinfo/portal/internal/worker"
)

const cachePurgeInterval = time.Hour

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	store     *pgstore.Store
	redis     *redis.Client
	hub       *progress.Hub
	publisher portal.Publisher
	pubsub    *gcppublisher.Publisher
	gcs       *storage.Client
	headless  *headlessfetcher.Fetcher

	processor *jobs.Processor
	service   *jobs.Service
	// exactly one of these backs service
	asynqClient *jobs.AsynqEnqueuer
	queue       *queueMemory.Queue
	dispatch    *dispatcher.Dispatcher

	apiServer *api.Server
	tokens    *auth.Tokens

	closeOnce sync.Once
}

// Build creates the application's dependencies. The caller owns the logger.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if cfg.Database.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	metrics.Init()
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, err
	}
	app := &App{cfg: cfg, logger: logger, clock: system.NewIn(loc)}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("durable_queue", cfg.DurableQueue()),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.Background())
		}
	}()

	app.store, err = pgstore.Open(ctx, pgstore.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	if cfg.DurableQueue() {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx); err != nil {
		return nil, err
	}
	app.processor = jobs.NewProcessor(jobs.ProcessorConfig{
		Store:     app.store.Jobs,
		Hub:       app.hub,
		Publisher: app.publisher,
		Topic:     cfg.PubSub.TopicName,
		Clock:     app.clock,
		Timeout:   cfg.Jobs.Timeout,
		Logger:    logger.Named("jobs"),
	})
	app.service = jobs.NewService(app.store.Jobs, app.setupQueue(), uuid.New(), app.clock, logger.Named("jobs"))

	pipe, err := app.setupPipeline(loc)
	if err != nil {
		return nil, err
	}
	pipe.Register(app.processor, app.service)

	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	app.tokens = auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	app.apiServer = app.setupAPI(blobs)

	ok = true
	return app, nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New(a.logger.Named("publisher"))
		return nil
	}
	p, err := gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = p
	a.publisher = p
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinks := []progress.Sink{
		progresssinks.NewStoreSink(a.store.Jobs, a.logger.Named("progress_store")),
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Jobs.LogBuffer,
		MaxBatchEvents: a.cfg.Jobs.LogBatch,
		MaxBatchWait:   a.cfg.Jobs.LogFlush,
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinks...)
	a.logger.Debug("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

// setupQueue picks Redis when configured and the in-process queue otherwise.
func (a *App) setupQueue() jobs.Enqueuer {
	if a.cfg.DurableQueue() {
		a.asynqClient = jobs.NewAsynqEnqueuer(jobs.RedisOpt(a.cfg.Redis), a.cfg.Jobs)
		a.logger.Info("using asynq job queue", zap.String("queue", a.cfg.Jobs.Queue))
		return a.asynqClient
	}
	a.queue = queueMemory.NewQueue(a.cfg.Jobs.QueueDepth)
	a.dispatch = dispatcher.NewPool(
		a.cfg.Jobs.Concurrency,
		a.queue,
		a.processor,
		worker.Config{MaxRetry: a.cfg.Jobs.MaxRetry},
		a.logger.Named("worker"),
	)
	a.logger.Info("using in-process job queue",
		zap.Int("depth", a.cfg.Jobs.QueueDepth),
		zap.Int("workers", a.cfg.Jobs.Concurrency),
	)
	return a.dispatch
}

func (a *App) setupPipeline(loc *time.Location) (*pipeline.Pipeline, error) {
	scraper, err := a.setupScraper()
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Config{
		Stores: pipeline.Stores{
			PromptRules:   a.store.PromptRules,
			ScrapingRules: a.store.ScrapingRules,
			Regions:       a.store.Regions,
			Generated:     a.store.Generated,
			Scraped:       a.store.ScrapedContent,
			Subscriptions: a.store.Subscriptions,
			Cache:         a.store.Cache,
		},
		Generator:     ai.FromConfig(a.cfg.AI, a.logger.Named("ai")),
		Searcher:      search.New(a.cfg.Search, nil),
		Scraper:       scraper,
		Clock:         a.clock,
		Location:      loc,
		CacheTTL:      a.cfg.Cache.TTL,
		MaxInputChars: a.cfg.AI.MaxInputChars,
		Logger:        a.logger.Named("pipeline"),
	})
}

func (a *App) setupScraper() (*scrape.Scraper, error) {
	cfg := scrape.Config{
		Static: collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.Scraper.UserAgent,
			RespectRobots: a.cfg.Scraper.RespectRobots,
			Timeout:       a.cfg.Scraper.Timeout,
			MaxBodyBytes:  a.cfg.Scraper.MaxBodyBytes,
		}),
		Headless: headlessfetcher.NewNoop(),
		Store:    a.store.ScrapedContent,
		MaxItems: a.cfg.Scraper.MaxItems,
		Logger:   a.logger.Named("scrape"),
	}
	if a.cfg.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Scraper.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = f
		cfg.Headless = f
		cfg.Promoter = detector.NewHeuristic(0)
		a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	if a.cfg.RateLimit.Enabled {
		cfg.Throttle = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
			DefaultBurst: a.cfg.RateLimit.DefaultBurst,
		})
	}
	s, err := scrape.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("scraper init failed: %w", err)
	}
	return s, nil
}

func (a *App) setupStorage(ctx context.Context) (portal.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:        a.cfg.Storage.Bucket,
			Prefix:        a.cfg.Storage.Prefix,
			PublicBaseURL: a.cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{
			BaseDir:       a.cfg.Storage.Local.BaseDir,
			PublicBaseURL: a.cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		a.logger.Warn("using in-memory storage backend; uploads are lost on restart")
		return memoryStorage.NewBlobStore(), nil
	}
}

func (a *App) setupAPI(blobs portal.BlobStore) *api.Server {
	st := a.store
	ready := map[string]api.ReadyCheck{"database": st.Ping}
	if a.redis != nil {
		ready["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	var google *auth.Google
	if g := a.cfg.Auth.Google; g.Enabled() {
		google = auth.NewGoogle(g.ClientID, g.ClientSecret, g.RedirectURL)
	}
	return api.NewServer(api.Deps{
		Stores: api.Stores{
			Partners:       st.Partners,
			Regions:        st.Regions,
			Roles:          st,
			Users:          st.Users,
			Categories:     st.Categories,
			Tags:           st.Tags,
			WidgetTypes:    st.WidgetTypes,
			WidgetAccess:   st.WidgetAccess,
			Advertisements: st.Advertisements,
			PartnerActions: st.PartnerActions,
			ScrapingRules:  st.ScrapingRules,
			ScrapedContent: st.ScrapedContent,
			Traffic:        st.Traffic,
			PromptRules:    st.PromptRules,
			Generated:      st.Generated,
			Subscriptions:  st.Subscriptions,
			Jobs:           st.Jobs,
			Cache:          st.Cache,
			Feed:           st.Feed,
			Audit:          st.Audit,
		},
		Tokens:   a.tokens,
		Google:   google,
		Jobs:     a.service,
		Blobs:    blobs,
		External: external.New(a.cfg.External, nil, a.logger.Named("external")),
		Ready:    ready,
		Clock:    a.clock,
		Config:   a.cfg,
		Logger:   a.logger.Named("api"),
	})
}

// Migrate applies the database schema.
func (a *App) Migrate(ctx context.Context) error {
	return a.store.Migrate(ctx)
}

// IssueToken signs an access token for the active user with email.
func (a *App) IssueToken(ctx context.Context, email string) (string, time.Time, error) {
	user, err := a.store.Users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("lookup %s: %w", email, err)
	}
	if !user.Active {
		return "", time.Time{}, fmt.Errorf("user %s is inactive: %w", email, portal.ErrForbidden)
	}
	return a.tokens.Issue(user)
}

// ProcessSubscriptions queues one run over every active subscription.
func (a *App) ProcessSubscriptions(ctx context.Context) error {
	return a.service.SubmitFanout(ctx, jobs.TypeSubscriptionsAll)
}

// Serve runs the HTTP API until ctx is canceled. Without Redis the job
// workers, the daily schedule and the cache purge run in this process too.
func (a *App) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if a.dispatch != nil {
		g.Go(func() error {
			a.logger.Info("dispatcher started")
			a.dispatch.Run(ctx)
			return nil
		})
		if a.cfg.Scheduler.Enabled {
			cron, err := scheduler.NewCron(a.cfg.Scheduler.Cron, a.clock.Location(), a.service, a.logger.Named("scheduler"))
			if err != nil {
				return err
			}
			g.Go(func() error { return cron.Run(ctx) })
		}
		g.Go(func() error { return a.purgeCache(ctx) })
	}
	g.Go(func() error { return a.serveHTTP(ctx) })
	return g.Wait()
}

// Work consumes jobs from Redis until ctx is canceled.
func (a *App) Work(ctx context.Context) error {
	if !a.cfg.DurableQueue() {
		return errors.New("worker needs redis.addr; without it jobs run inside serve")
	}
	w := jobs.NewAsynqWorker(jobs.RedisOpt(a.cfg.Redis), a.cfg.Jobs, a.processor, a.logger.Named("worker"))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })
	g.Go(func() error { return a.purgeCache(ctx) })
	return g.Wait()
}

// Schedule registers the daily subscription run. With Redis the entry lives
// in asynq so only one scheduler fires; otherwise a local cron submits it.
func (a *App) Schedule(ctx context.Context) error {
	var runner scheduler.Runner
	var err error
	if a.cfg.DurableQueue() {
		runner, err = scheduler.NewAsynq(
			jobs.RedisOpt(a.cfg.Redis),
			a.cfg.Scheduler.Cron,
			a.clock.Location(),
			a.cfg.Jobs.Queue,
			a.logger.Named("scheduler"),
		)
	} else {
		runner, err = scheduler.NewCron(a.cfg.Scheduler.Cron, a.clock.Location(), a.service, a.logger.Named("scheduler"))
	}
	if err != nil {
		return err
	}
	return runner.Run(ctx)
}

func (a *App) serveHTTP(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return nil
}

// purgeCache deletes expired generated-content cache rows every hour.
func (a *App) purgeCache(ctx context.Context) error {
	t := time.NewTicker(cachePurgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := a.store.Cache.Purge(ctx, a.clock.Now())
			if err != nil {
				a.logger.Warn("cache purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info("purged expired cache entries", zap.Int64("count", n))
			}
		}
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close flushes pending job logs and releases every connection.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		a.closeInfrastructure(ctx)
		a.logger.Info("shutdown complete")
	})
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.asynqClient != nil {
		if err := a.asynqClient.Close(); err != nil {
			a.logger.Warn("asynq client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

// Package app wires configuration into a running bot: fetch strategies,
// extractor, admission dispatcher, report navigator, delivery front end and
// the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/album-credits-bot/internal/api"
	"github.com/JakeFAU/album-credits-bot/internal/clock/system"
	"github.com/JakeFAU/album-credits-bot/internal/config"
	"github.com/JakeFAU/album-credits-bot/internal/delivery/memory"
	"github.com/JakeFAU/album-credits-bot/internal/delivery/telegram"
	"github.com/JakeFAU/album-credits-bot/internal/dispatcher"
	"github.com/JakeFAU/album-credits-bot/internal/export"
	"github.com/JakeFAU/album-credits-bot/internal/extractor"
	"github.com/JakeFAU/album-credits-bot/internal/fetcher"
	"github.com/JakeFAU/album-credits-bot/internal/fetcher/cache"
	collyfetcher "github.com/JakeFAU/album-credits-bot/internal/fetcher/colly"
	"github.com/JakeFAU/album-credits-bot/internal/fetcher/detector"
	"github.com/JakeFAU/album-credits-bot/internal/fetcher/headless"
	"github.com/JakeFAU/album-credits-bot/internal/hash/sha256"
	"github.com/JakeFAU/album-credits-bot/internal/id/uuid"
	"github.com/JakeFAU/album-credits-bot/internal/ledger"
	pubmemory "github.com/JakeFAU/album-credits-bot/internal/publisher/memory"
	natspublisher "github.com/JakeFAU/album-credits-bot/internal/publisher/nats"
	pubsubpublisher "github.com/JakeFAU/album-credits-bot/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/album-credits-bot/internal/queue/memory"
	"github.com/JakeFAU/album-credits-bot/internal/report"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
	"github.com/JakeFAU/album-credits-bot/internal/storage/gcs"
	"github.com/JakeFAU/album-credits-bot/internal/storage/local"
	storememory "github.com/JakeFAU/album-credits-bot/internal/storage/memory"
	"github.com/JakeFAU/album-credits-bot/internal/worker"
)

const readHeaderTimeout = 5 * time.Second

// App holds the long-lived components of a running bot.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Ledger     *ledger.Ledger
	Queue      *queuememory.Queue
	JobStore   *storememory.JobStore
	Dispatcher *dispatcher.Dispatcher
	Navigator  *report.Navigator
	Fetcher    scraper.Fetcher
	Extractor  *extractor.Extractor
	// Outbox is set when the memory delivery backend is selected.
	Outbox *memory.Delivery

	server  *api.Server
	checks  map[string]api.ReadinessCheck
	closers []func() error
}

// Option customizes New.
type Option func(*options)

type options struct {
	fetcher scraper.Fetcher
}

// WithFetcher replaces the configured fetch strategies.
func WithFetcher(f scraper.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New builds every dependency named by cfg. Callers must Close the App,
// including when Run returns an error.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		Ledger:   ledger.New(cfg.Ledger.InitialBalance),
		Queue:    queuememory.NewQueue(cfg.Pool.QueueCapacity),
		JobStore: storememory.NewJobStore(),
		checks:   make(map[string]api.ReadinessCheck),
	}
	a.logger.Info("building application dependencies")

	a.Fetcher = o.fetcher
	if a.Fetcher == nil {
		var err error
		if a.Fetcher, err = a.setupFetcher(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Extractor = extractor.New(extractor.Config{
		SubjectMaxLen: cfg.Extract.SubjectMaxLen,
		RoleKeywords:  cfg.Extract.RoleKeywords,
	}, logger)

	delivery, client := a.setupDelivery()

	exporter, err := a.setupExporter(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Navigator = report.NewNavigator(report.Config{
		PageSize:   cfg.Report.PageSize,
		NavTimeout: cfg.Report.NavTimeout,
	}, delivery, logger)

	w := worker.New(worker.Deps{
		Fetcher:   a.Fetcher,
		Extractor: a.Extractor,
		Reporter:  a.Navigator,
		Delivery:  delivery,
		Ledger:    a.Ledger,
		JobStore:  a.JobStore,
		Exporter:  exporter,
		Publisher: publisher,
		Clock:     system.New(),
	}, worker.Config{Topic: cfg.Events.Topic}, logger)

	a.Dispatcher = dispatcher.New(dispatcher.Deps{
		Queue:    a.Queue,
		Ledger:   a.Ledger,
		JobStore: a.JobStore,
		Executor: w,
		Delivery: delivery,
		IDs:      uuid.New(),
		Clock:    system.New(),
	}, dispatcher.Config{
		MaxConcurrent: cfg.Pool.MaxConcurrent,
		PollInterval:  cfg.Pool.PollInterval,
	}, logger)

	deps := api.Deps{
		Submitter: a.Dispatcher,
		JobStore:  a.JobStore,
		Ledger:    a.Ledger,
		Navigator: a.Navigator,
		Checks:    a.checks,
	}
	if a.Outbox != nil {
		deps.Reports = a.Outbox
	}
	if client != nil {
		deps.Webhook = telegram.NewWebhook(telegram.WebhookDeps{
			Client:    client,
			Delivery:  delivery,
			Submitter: a.Dispatcher,
			Navigator: a.Navigator,
			Ledger:    a.Ledger,
		}, cfg.Telegram.WebhookSecret, logger)
	}
	a.server = api.NewServer(deps, api.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger)

	return a, nil
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP and dispatches jobs until ctx is cancelled or the listener
// fails, then drains in-flight jobs and navigation sessions.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g.Go(func() error {
		a.Dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		a.logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.shutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.Navigator.Wait()
	a.logger.Info("shutdown complete")
	return err
}

// Close releases external connections in reverse construction order.
func (a *App) Close() {
	if a.Queue != nil {
		a.Queue.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

func (a *App) setupFetcher(ctx context.Context) (scraper.Fetcher, error) {
	fc := a.cfg.Fetch
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:     fc.UserAgent,
		RespectRobots: fc.RespectRobots,
		Timeout:       fc.AttemptTimeout,
	})
	det := detector.NewHeuristic(fc.MinContentBytes, fc.ChallengeMarkers, fc.MissingMarkers)

	var opts []fetcher.Option
	if a.cfg.Headless.Enabled {
		hf, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         fc.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.closers = append(a.closers, func() error { hf.Close(); return nil })
		opts = append(opts, fetcher.WithHeadless(hf))
		a.logger.Info("headless fallback enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	if a.cfg.Cache.Addr != "" {
		rc, err := cache.NewRedisCache(ctx, a.cfg.Cache.Addr, a.cfg.Cache.Password, a.cfg.Cache.DB, a.cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("document cache init failed: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		a.checks["redis"] = rc.Ping
		opts = append(opts, fetcher.WithCache(rc))
		a.logger.Info("document cache enabled", zap.String("addr", a.cfg.Cache.Addr))
	}

	return fetcher.New(fetcher.Config{
		AlbumURLTemplate:  fc.AlbumURLTemplate,
		SearchURLTemplate: fc.SearchURLTemplate,
		ResultLinkPattern: fc.ResultLinkPattern,
		DefaultQuery:      fc.DefaultQuery,
		AttemptTimeout:    fc.AttemptTimeout,
		MaxCandidates:     fc.MaxCandidates,
	}, plain, det, a.logger, opts...), nil
}

// setupDelivery returns the Telegram client only for the telegram backend.
func (a *App) setupDelivery() (scraper.Delivery, *telegram.Client) {
	if a.cfg.Delivery.Backend == config.BackendTelegram {
		a.logger.Info("using telegram delivery")
		client := telegram.NewClient(telegram.ClientConfig{
			Token:      a.cfg.Telegram.BotToken,
			APIBaseURL: a.cfg.Telegram.APIBaseURL,
			Timeout:    a.cfg.Telegram.Timeout,
		})
		return telegram.NewDelivery(client), client
	}
	a.logger.Info("using in-memory delivery")
	a.Outbox = memory.New()
	return a.Outbox, nil
}

// setupExporter returns a nil interface when exports are disabled.
func (a *App) setupExporter(ctx context.Context) (worker.Exporter, error) {
	var store scraper.BlobStore
	switch a.cfg.Storage.Backend {
	case config.BackendNone:
		a.logger.Info("CSV export disabled")
		return nil, nil
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		gs, err := gcs.Connect(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.closers = append(a.closers, gs.Close)
		store = gs
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.LocalDir))
		ls, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		store = ls
	default:
		a.logger.Info("using in-memory storage backend")
		store = storememory.NewBlobStore()
	}
	return export.New(store, sha256.New(), a.cfg.Storage.Prefix), nil
}

// setupPublisher returns a nil interface when events are disabled.
func (a *App) setupPublisher(ctx context.Context) (scraper.Publisher, error) {
	switch a.cfg.Events.Backend {
	case config.BackendPubSub:
		p, err := pubsubpublisher.Connect(ctx, a.cfg.Events.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Events.ProjectID),
			zap.String("topic", a.cfg.Events.Topic))
		return p, nil
	case config.BackendNATS:
		p, err := natspublisher.Connect(a.cfg.Events.NATSURL, a.logger)
		if err != nil {
			return nil, fmt.Errorf("nats publisher init failed: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		a.logger.Info("NATS publisher initialized", zap.String("url", a.cfg.Events.NATSURL))
		return p, nil
	case config.BackendMemory:
		return pubmemory.New(), nil
	default:
		a.logger.Info("job events disabled")
		return nil, nil
	}
}

// Package server builds the application graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/api"
	"github.com/JakeFAU/listing-harvester/internal/browser"
	"github.com/JakeFAU/listing-harvester/internal/browser/headless"
	"github.com/JakeFAU/listing-harvester/internal/browser/rodbrowser"
	"github.com/JakeFAU/listing-harvester/internal/browser/static"
	"github.com/JakeFAU/listing-harvester/internal/clock/system"
	"github.com/JakeFAU/listing-harvester/internal/config"
	"github.com/JakeFAU/listing-harvester/internal/dispatcher"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/hash/sha256"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/orchestrator"
	"github.com/JakeFAU/listing-harvester/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/listing-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/listing-harvester/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/listing-harvester/internal/queue/memory"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
	"github.com/JakeFAU/listing-harvester/internal/session"
	gcsstorage "github.com/JakeFAU/listing-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/listing-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/listing-harvester/internal/storage/memory"
	"github.com/JakeFAU/listing-harvester/internal/webhook"
	"github.com/JakeFAU/listing-harvester/internal/worker"
)

// snapshotHashLength keeps archive object names short.
const snapshotHashLength = 16

type publisher interface {
	scrape.Publisher
	Close() error
}

// App contains the application's long-lived dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock        *system.Clock
	jobs         *memorystorage.JobStore
	sessions     *session.Registry
	pool         *browser.Pool
	launcher     scrape.Launcher
	queue        *queuememory.Queue
	dispatch     *dispatcher.Dispatcher
	orchestrator *orchestrator.Orchestrator
	apiServer    *api.Server
	publisher    publisher
	storage      *storage.Client
}

// Option overrides a collaborator Build would otherwise construct.
type Option func(*options)

type options struct {
	launcher scrape.Launcher
}

// WithLauncher replaces the configured browser backend.
func WithLauncher(l scrape.Launcher) Option {
	return func(o *options) { o.launcher = l }
}

// Build wires every component described by cfg. Nothing runs until Run.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("browser_backend", cfg.Browser.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("workers", cfg.Jobs.Workers),
	)

	app.jobs = memorystorage.NewJobStore(app.clock, uuid.New(), logger.Named("jobs"))
	app.sessions = session.NewRegistry(session.Config{TTL: cfg.Sessions.TTL}, app.clock, uuid.NewRandom(), logger.Named("sessions"))
	app.sessions.OnChange(metrics.SetActiveSessions)

	blobs, err := app.setupStorage(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if app.publisher, err = app.setupPublisher(ctx); err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.launcher = o.launcher
	if app.launcher == nil {
		if app.launcher, err = app.setupLauncher(); err != nil {
			app.closeInfrastructure()
			return nil, err
		}
	}
	if app.pool, err = browser.NewPool(app.launcher, cfg.Browser.MaxInstances, logger.Named("browser")); err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("browser pool init failed: %w", err)
	}

	app.orchestrator, err = orchestrator.New(orchestratorConfig(cfg), orchestrator.Deps{
		Jobs:      app.jobs,
		Sessions:  app.sessions,
		Pool:      app.pool,
		Static:    static.NewLauncher(static.Config{UserAgent: cfg.Browser.UserAgent, Timeout: cfg.Browser.NavTimeout}),
		Engine:    extract.NewEngine(logger.Named("extract")),
		Notifier:  app.setupNotifier(),
		Publisher: app.publisher,
		Blobs:     blobs,
		Hasher:    &sha256.Hasher{Length: snapshotHashLength},
		Throttle: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.RPS,
			DefaultBurst: cfg.RateLimit.Burst,
			Hosts:        cfg.RateLimit.HostRates(),
		}),
		Clock: app.clock,
	}, logger.Named("orchestrator"))
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("orchestrator init failed: %w", err)
	}

	app.queue = queuememory.NewQueue(cfg.Jobs.QueueDepth)
	workers := make([]*worker.Worker, 0, cfg.Jobs.Workers)
	for i := range cfg.Jobs.Workers {
		workers = append(workers, worker.New(i+1, app.queue, app.orchestrator, logger.Named("worker")))
	}
	app.dispatch = dispatcher.New(app.queue, workers, app.jobs, logger.Named("dispatcher"))

	app.apiServer = api.NewServer(api.Deps{
		Jobs:     app.jobs,
		Sessions: app.sessions,
		Scraper:  app.orchestrator,
		Queue:    app.dispatch,
		Clock:    app.clock,
		Ready:    app.dispatch.Ready,
	}, cfg, logger.Named("api"))

	return app, nil
}

// Orchestrator exposes the workflow runner for one-shot commands.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the sweepers, workers and HTTP server, and blocks until ctx
// is canceled or the listener fails. It always shuts down before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Workers outlive ctx so Close can drain them; Shutdown cancels them
	// if the drain deadline passes.
	a.dispatch.Start(context.WithoutCancel(ctx))
	if a.cfg.Jobs.SweepInterval > 0 {
		go a.jobs.RunSweeper(ctx, a.cfg.Jobs.SweepInterval, a.cfg.Jobs.Retention)
	}
	if a.cfg.Sessions.SweepInterval > 0 {
		go a.sessions.RunSweeper(ctx, a.cfg.Sessions.SweepInterval)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			a.logger.Error("http server error", zap.Error(err))
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close drains the workers and releases every browser and client. Jobs
// still queued when ctx ends are failed.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.dispatch != nil {
		if derr := a.dispatch.Shutdown(ctx); derr != nil {
			a.logger.Warn("dispatcher shutdown incomplete", zap.Error(derr))
			err = derr
		}
	}
	a.closeInfrastructure()
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

func (a *App) closeInfrastructure() {
	if a.sessions != nil {
		a.sessions.CloseAll()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if c, ok := a.launcher.(interface{ Close() }); ok {
		c.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

func (a *App) setupStorage(ctx context.Context) (scrape.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       a.cfg.Storage.Bucket,
			CacheControl: a.cfg.Storage.CacheControl,
			Metadata:     map[string]string{"service": "listing-harvester"},
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(client), nil
}

func (a *App) setupLauncher() (scrape.Launcher, error) {
	b := a.cfg.Browser
	switch b.Backend {
	case "rod":
		l, err := rodbrowser.NewLauncher(rodbrowser.Config{
			Headless:          b.Headless,
			NoSandbox:         b.NoSandbox,
			Stealth:           b.Stealth,
			Bin:               b.Bin,
			UserAgent:         b.UserAgent,
			NavigationTimeout: b.NavTimeout,
			ElementTimeout:    b.ElementTimeout,
			ViewportWidth:     b.ViewportWidth,
			ViewportHeight:    b.ViewportHeight,
		})
		if err != nil {
			return nil, fmt.Errorf("rod launcher init failed: %w", err)
		}
		return l, nil
	case "static":
		return static.NewLauncher(static.Config{UserAgent: b.UserAgent, Timeout: b.NavTimeout}), nil
	default:
		l, err := headless.NewLauncher(headless.Config{
			Headless:          b.Headless,
			UserAgent:         b.UserAgent,
			NavigationTimeout: b.NavTimeout,
			ElementTimeout:    b.ElementTimeout,
			ViewportWidth:     b.ViewportWidth,
			ViewportHeight:    b.ViewportHeight,
			ExecPath:          b.Bin,
		})
		if err != nil {
			return nil, fmt.Errorf("chromedp launcher init failed: %w", err)
		}
		return l, nil
	}
}

func (a *App) setupNotifier() *webhook.Notifier {
	w := a.cfg.Webhook
	return webhook.New(webhook.Config{
		MaxAttempts:    w.MaxAttempts,
		InitialBackoff: w.InitialBackoff,
		MaxBackoff:     w.MaxBackoff,
		Timeout:        w.Timeout,
		Secret:         w.SigningSecret,
	}, a.logger.Named("webhook"))
}

func orchestratorConfig(cfg config.Config) orchestrator.Config {
	return orchestrator.Config{
		LoginURL:         cfg.Site.LoginURL,
		LoginMarker:      cfg.Site.LoginPathMarker,
		Credentials:      scrape.Credentials{Email: cfg.Site.Email, Password: cfg.Site.Password},
		ChannelsURL:      cfg.Site.ChannelsURL,
		VideosURL:        cfg.Site.VideosURL,
		FormTimeout:      cfg.Site.FormTimeout,
		RedirectTimeout:  cfg.Site.RedirectTimeout,
		ChannelsWait:     cfg.Site.WaitTime,
		NichesWait:       cfg.Niches.WaitTime,
		ScrollPause:      cfg.Browser.ScrollPause,
		JobTimeout:       cfg.Jobs.JobTimeout,
		ChannelSelectors: cfg.Site.ChannelCardSelectors,
		NicheProfile:     nicheProfile(cfg.Niches),
		Topic:            cfg.PubSub.TopicName,
		ArchiveSnapshots: cfg.Storage.ArchiveSnapshots,
		SnapshotPrefix:   cfg.Storage.Prefix,
	}
}

func nicheProfile(n config.NichesConfig) extract.Profile {
	p := extract.NicheProfile()
	if n.MinCandidates > 0 {
		p.MinCandidates = n.MinCandidates
	}
	if n.HeaderSelector != "" {
		p.HeaderSelector = n.HeaderSelector
	}
	if n.UncategorizedLabel != "" {
		p.Uncategorized = n.UncategorizedLabel
	}
	return p
}

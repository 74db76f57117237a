// Package orchestrator drives browsers through the login script and the
// scrape workflows and records every job outcome.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/browser"
	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
	"github.com/JakeFAU/listing-harvester/internal/session"
	"github.com/JakeFAU/listing-harvester/internal/webhook"
)

// Errors reported by workflows before any browser work starts.
var (
	ErrUnknownKind         = errors.New("unknown job kind")
	ErrNotNotionURL        = errors.New("url must be a public notion.site page")
	ErrCredentialsMissing  = errors.New("site credentials not configured")
	ErrSessionsUnavailable = errors.New("session registry not configured")
)

// Clock reads time and pauses between polls.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Notifier delivers terminal job events. *webhook.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, url string, ev webhook.Event) webhook.Delivery
}

// Throttle paces navigations. *ratelimit.Limiter satisfies it.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls the login script and the workflows.
type Config struct {
	LoginURL    string
	LoginMarker string
	Credentials scrape.Credentials
	ChannelsURL string
	VideosURL   string

	// FormTimeout bounds the wait for the login form to render.
	FormTimeout     time.Duration
	RedirectTimeout time.Duration
	PollInterval    time.Duration

	// ChannelsWait and NichesWait are the settle budgets used when a
	// request does not set its own.
	ChannelsWait time.Duration
	NichesWait   time.Duration
	ScrollPause  time.Duration
	JobTimeout   time.Duration

	ChannelSelectors []string
	NicheProfile     extract.Profile

	Topic            string
	ArchiveSnapshots bool
	SnapshotPrefix   string
}

func (c Config) withDefaults() Config {
	if c.LoginMarker == "" {
		c.LoginMarker = "login"
	}
	if c.FormTimeout <= 0 {
		c.FormTimeout = 30 * time.Second
	}
	if c.RedirectTimeout <= 0 {
		c.RedirectTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ChannelsWait <= 0 {
		c.ChannelsWait = 15 * time.Second
	}
	if c.NichesWait <= 0 {
		c.NichesWait = 25 * time.Second
	}
	if c.ScrollPause <= 0 {
		c.ScrollPause = 2 * time.Second
	}
	if c.NicheProfile.Name == "" {
		c.NicheProfile = extract.NicheProfile()
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Jobs, Pool and Clock are
// required; the rest are optional.
type Deps struct {
	Jobs      scrape.JobStore
	Sessions  *session.Registry
	Pool      *browser.Pool
	Static    scrape.Launcher
	Engine    *extract.Engine
	Notifier  Notifier
	Publisher scrape.Publisher
	Blobs     scrape.BlobStore
	Hasher    scrape.Hasher
	Throttle  Throttle
	Clock     Clock
}

// Orchestrator runs jobs end to end.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	channels []extract.Strategy
	logger   *zap.Logger
}

// New constructs an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Jobs == nil {
		return nil, fmt.Errorf("job store is required")
	}
	if deps.Pool == nil {
		return nil, fmt.Errorf("browser pool is required")
	}
	if deps.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Engine == nil {
		deps.Engine = extract.NewEngine(logger.Named("extract"))
	}
	return &Orchestrator{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		channels: extract.ChannelSelectors(cfg.ChannelSelectors),
		logger:   logger,
	}, nil
}

// Process runs one queued job to a terminal state. It implements
// worker.Processor and never panics or returns an error.
func (o *Orchestrator) Process(ctx context.Context, workerID int, item scrape.QueueItem) {
	logger := o.logger.With(
		zap.String("job_id", item.JobID),
		zap.String("kind", string(item.Request.Kind)),
		zap.Int("worker_id", workerID),
	)
	if err := o.deps.Jobs.Transition(ctx, item.JobID, scrape.JobStatusProcessing, scrape.Outcome{}); err != nil {
		logger.Error("start job failed", zap.Error(err))
		return
	}
	logger.Info("job started")

	result, err := o.run(ctx, item, logger)
	o.finish(ctx, item, result, err, logger)
}

func (o *Orchestrator) run(ctx context.Context, item scrape.QueueItem, logger *zap.Logger) (result any, err error) {
	ctx, cancel := o.jobContext(ctx)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("workflow panicked", zap.Any("panic", r))
			result, err = nil, fmt.Errorf("workflow panic: %v", r)
		}
	}()

	progress := o.progressFor(ctx, item.JobID, logger)
	switch item.Request.Kind {
	case scrape.JobKindChannels:
		res, snap, err := o.scrapeChannels(ctx, item.Request, progress, logger)
		if err != nil {
			return nil, err
		}
		res.SnapshotURI = o.archive(ctx, item, snap, logger)
		return res, nil
	case scrape.JobKindNiches:
		res, snap, err := o.scrapeNiches(ctx, item.Request, progress, logger)
		if err != nil {
			return nil, err
		}
		res.SnapshotURI = o.archive(ctx, item, snap, logger)
		return res, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, item.Request.Kind)
	}
}

func (o *Orchestrator) jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.JobTimeout > 0 {
		return context.WithTimeout(ctx, o.cfg.JobTimeout)
	}
	return context.WithCancel(ctx)
}

func (o *Orchestrator) progressFor(ctx context.Context, jobID string, logger *zap.Logger) func(int) {
	return func(percent int) {
		if err := o.deps.Jobs.UpdateProgress(ctx, jobID, percent); err != nil {
			logger.Debug("progress update skipped", zap.Int("progress", percent), zap.Error(err))
		}
	}
}

// finish records the terminal state, then fans the outcome out to metrics,
// the event topic and the webhook. Only the store write can fail the job.
func (o *Orchestrator) finish(ctx context.Context, item scrape.QueueItem, result any, runErr error, logger *zap.Logger) {
	storeCtx := context.WithoutCancel(ctx)

	status := scrape.JobStatusCompleted
	outcome := scrape.Outcome{Result: result}
	if runErr != nil {
		status = scrape.JobStatusFailed
		outcome = scrape.Outcome{Error: runErr.Error()}
		logger.Error("job failed", zap.Error(runErr))
	}
	if err := o.deps.Jobs.Transition(storeCtx, item.JobID, status, outcome); err != nil {
		logger.Warn("terminal transition rejected", zap.String("status", string(status)), zap.Error(err))
		return
	}
	metrics.ObserveJob(string(item.Request.Kind), string(status))

	job, err := o.deps.Jobs.Get(storeCtx, item.JobID)
	if err != nil {
		logger.Warn("reload finished job failed", zap.Error(err))
		return
	}
	logger.Info("job finished",
		zap.String("status", string(job.Status)),
		zap.Duration("execution_time", job.ExecutionTime()),
	)

	o.publish(storeCtx, job, logger)
	if job.WebhookURL != "" && o.deps.Notifier != nil {
		d := o.deps.Notifier.Notify(storeCtx, job.WebhookURL, webhook.EventFromJob(job, o.deps.Clock.Now()))
		if !d.Delivered {
			logger.Warn("webhook not delivered", zap.Int("attempts", d.Attempts), zap.Error(d.Err))
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, job scrape.Job, logger *zap.Logger) {
	if o.deps.Publisher == nil || o.cfg.Topic == "" {
		return
	}
	ev := scrape.JobEvent{
		JobID:                job.ID,
		Kind:                 job.Kind,
		Status:               job.Status,
		Error:                job.Error,
		ExecutionTimeSeconds: job.ExecutionTime().Seconds(),
		OccurredAt:           o.deps.Clock.Now(),
	}
	id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, ev)
	if err != nil {
		logger.Warn("publish job event failed", zap.String("topic", o.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("job event published", zap.String("topic", o.cfg.Topic), zap.String("message_id", id))
}

// archive stores the snapshot HTML and returns its URI, or "" when archiving
// is disabled or fails.
func (o *Orchestrator) archive(ctx context.Context, item scrape.QueueItem, snap *extract.Snapshot, logger *zap.Logger) string {
	if !o.cfg.ArchiveSnapshots || o.deps.Blobs == nil || snap == nil {
		return ""
	}
	body := []byte(snap.HTML)
	name := "snapshot"
	if o.deps.Hasher != nil {
		digest, err := o.deps.Hasher.Hash(body)
		if err != nil {
			logger.Warn("hash snapshot failed", zap.Error(err))
		} else {
			name = digest
		}
	}
	uri, err := o.deps.Blobs.PutObject(ctx, o.snapshotPath(item, name), "text/html; charset=utf-8", body)
	if err != nil {
		logger.Warn("archive snapshot failed", zap.Error(err))
		return ""
	}
	logger.Info("snapshot archived", zap.String("uri", uri))
	return uri
}

func (o *Orchestrator) snapshotPath(item scrape.QueueItem, name string) string {
	prefix := strings.Trim(o.cfg.SnapshotPrefix, "/")
	path := fmt.Sprintf("%s/%s/%s.html", item.Request.Kind, item.JobID, name)
	if prefix == "" {
		return path
	}
	return prefix + "/" + path
}

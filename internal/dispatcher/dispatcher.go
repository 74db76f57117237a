// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
	"github.com/JakeFAU/listing-harvester/internal/worker"
)

// ShutdownError is recorded on jobs still queued when shutdown gives up.
const ShutdownError = "shutdown before execution"

// Queue is a job queue the dispatcher can close.
type Queue interface {
	scrape.Queue
	Close()
}

// PendingStore lists jobs that have not started yet.
type PendingStore interface {
	scrape.JobStore
	Pending() []string
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []*worker.Worker
	jobs    PendingStore
	logger  *zap.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Dispatcher. jobs may be nil, in which case an abandoned
// shutdown leaves queued jobs untouched.
func New(queue Queue, workers []*worker.Worker, jobs PendingStore, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		jobs:    jobs,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the workers and returns. It is a no-op after the first call.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	d.started = true
	d.cancel = cancel

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	d.logger.Info("dispatcher started", zap.Int("workers", len(d.workers)))
	go func() {
		wg.Wait()
		cancel()
		d.logger.Info("dispatcher stopped")
		close(d.done)
	}()
}

// Run starts the workers and blocks until they exit, either because the
// queue was closed and drained or because ctx finished.
func (d *Dispatcher) Run(ctx context.Context) {
	d.Start(ctx)
	<-d.done
}

// Ready returns nil while the workers are running.
func (d *Dispatcher) Ready() error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return errors.New("dispatcher not started")
	}
	select {
	case <-d.done:
		return errors.New("dispatcher stopped")
	default:
		return nil
	}
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item scrape.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Shutdown stops intake and waits for workers to drain the queue. If ctx
// ends first, running jobs are canceled and every job still pending is
// marked failed.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.queue.Close()

	d.mu.Lock()
	started, cancel := d.started, d.cancel
	d.mu.Unlock()

	if started {
		select {
		case <-d.done:
			return nil
		case <-ctx.Done():
			cancel()
		}
	}
	if failed := d.failPending(context.WithoutCancel(ctx)); failed > 0 {
		d.logger.Warn("dispatcher shutdown abandoned queued jobs", zap.Int("failed", failed))
	}
	if !started {
		return nil
	}
	return fmt.Errorf("dispatcher drain: %w", ctx.Err())
}

func (d *Dispatcher) failPending(ctx context.Context) int {
	if d.jobs == nil {
		return 0
	}
	failed := 0
	for _, id := range d.jobs.Pending() {
		// pending may only move to processing, so failing takes two steps.
		if err := d.jobs.Transition(ctx, id, scrape.JobStatusProcessing, scrape.Outcome{}); err != nil {
			if !errors.Is(err, scrape.ErrInvalidTransition) {
				d.logger.Error("fail pending job", zap.String("job_id", id), zap.Error(err))
			}
			continue
		}
		if err := d.jobs.Transition(ctx, id, scrape.JobStatusFailed, scrape.Outcome{Error: ShutdownError}); err != nil {
			d.logger.Error("fail pending job", zap.String("job_id", id), zap.Error(err))
			continue
		}
		failed++
	}
	return failed
}

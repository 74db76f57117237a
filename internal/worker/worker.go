// Package worker implements the job execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Processor runs one dequeued job to a terminal state.
type Processor interface {
	Process(ctx context.Context, workerID int, item scrape.QueueItem)
}

// Worker consumes queue items and hands them to a Processor.
type Worker struct {
	id        int
	queue     scrape.Queue
	processor Processor
	logger    *zap.Logger
}

// New constructs a Worker.
func New(id int, queue scrape.Queue, processor Processor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:        id,
		queue:     queue,
		processor: processor,
		logger:    logger.With(zap.Int("worker_id", id)),
	}
}

// Run blocks, consuming queue items until the queue is closed and drained
// or the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, scrape.ErrQueueClosed) {
				w.logger.Debug("worker stopping", zap.Error(err))
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item scrape.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job processor panicked",
				zap.String("job_id", item.JobID),
				zap.Error(fmt.Errorf("panic: %v", r)),
			)
		}
	}()
	if w.processor == nil {
		w.logger.Error("no processor configured", zap.String("job_id", item.JobID))
		return
	}
	w.processor.Process(ctx, w.id, item)
}

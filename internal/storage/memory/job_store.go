// Package memory provides in-memory stores for jobs and page snapshots.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

const unknownError = "unknown error"

// JobStore tracks job state behind a single mutex. State is lost on restart.
type JobStore struct {
	mu     sync.Mutex
	jobs   map[string]*scrape.Job
	clock  scrape.Clock
	idGen  scrape.IDGenerator
	logger *zap.Logger
}

// NewJobStore constructs a JobStore.
func NewJobStore(clock scrape.Clock, idGen scrape.IDGenerator, logger *zap.Logger) *JobStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStore{
		jobs:   make(map[string]*scrape.Job),
		clock:  clock,
		idGen:  idGen,
		logger: logger,
	}
}

// Create allocates a pending job for req.
func (s *JobStore) Create(_ context.Context, req scrape.JobRequest) (scrape.Job, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return scrape.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	job := &scrape.Job{
		ID:         id,
		Kind:       req.Kind,
		Status:     scrape.JobStatusPending,
		CreatedAt:  s.clock.Now(),
		WebhookURL: req.WebhookURL,
		Request:    req,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[id]; exists {
		return scrape.Job{}, fmt.Errorf("job %s already exists", id)
	}
	s.jobs[id] = job
	return snapshot(job), nil
}

// Get returns a copy of the job.
func (s *JobStore) Get(_ context.Context, jobID string) (scrape.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return scrape.Job{}, fmt.Errorf("get %s: %w", jobID, scrape.ErrJobNotFound)
	}
	return snapshot(job), nil
}

// Transition moves the job along pending -> processing -> {completed, failed}.
// An out-of-order transition, or a completion without a result, leaves the
// job untouched and returns scrape.ErrInvalidTransition.
func (s *JobStore) Transition(_ context.Context, jobID string, to scrape.JobStatus, outcome scrape.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("transition %s: %w", jobID, scrape.ErrJobNotFound)
	}
	if !job.Status.CanTransition(to) {
		s.logger.Warn("ignoring invalid job transition",
			zap.String("job_id", jobID),
			zap.String("from", string(job.Status)),
			zap.String("to", string(to)),
		)
		return fmt.Errorf("%s -> %s: %w", job.Status, to, scrape.ErrInvalidTransition)
	}
	// A completed job always carries its result.
	if to == scrape.JobStatusCompleted && outcome.Result == nil {
		s.logger.Warn("ignoring completion without result", zap.String("job_id", jobID))
		return fmt.Errorf("%s -> %s without result: %w", job.Status, to, scrape.ErrInvalidTransition)
	}
	now := s.clock.Now()
	switch to {
	case scrape.JobStatusProcessing:
		job.StartedAt = pointerTime(now)
	case scrape.JobStatusCompleted:
		job.Result = outcome.Result
		job.Progress = 100
		job.CompletedAt = pointerTime(now)
	case scrape.JobStatusFailed:
		job.Error = outcome.Error
		if job.Error == "" {
			job.Error = unknownError
		}
		job.CompletedAt = pointerTime(now)
	}
	job.Status = to
	return nil
}

// UpdateProgress raises progress to percent clamped to [0,100]. Lower values
// and jobs that are not processing are ignored.
func (s *JobStore) UpdateProgress(_ context.Context, jobID string, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("progress %s: %w", jobID, scrape.ErrJobNotFound)
	}
	if job.Status != scrape.JobStatusProcessing {
		return nil
	}
	percent = min(max(percent, 0), 100)
	if percent > job.Progress {
		job.Progress = percent
	}
	return nil
}

// Sweep removes jobs created more than maxAge ago and returns how many went.
func (s *JobStore) Sweep(_ context.Context, maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, job := range s.jobs {
		if job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Delete removes a job unconditionally.
func (s *JobStore) Delete(_ context.Context, jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return false
	}
	delete(s.jobs, jobID)
	return true
}

// Pending returns the ids of jobs still waiting for a worker.
func (s *JobStore) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, job := range s.jobs {
		if job.Status == scrape.JobStatusPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// RunSweeper sweeps on every tick until ctx ends.
func (s *JobStore) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx, maxAge); n > 0 {
				s.logger.Info("swept expired jobs", zap.Int("removed", n))
			}
		}
	}
}

func snapshot(job *scrape.Job) scrape.Job {
	cp := *job
	if job.StartedAt != nil {
		cp.StartedAt = pointerTime(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		cp.CompletedAt = pointerTime(*job.CompletedAt)
	}
	return cp
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

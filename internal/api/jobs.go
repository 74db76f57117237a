package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/orchestrator"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

type channelsJobRequest struct {
	SessionID  string `json:"session_id"`
	URL        string `json:"url" validate:"omitempty,http_url"`
	WebhookURL string `json:"webhook_url" validate:"omitempty,http_url"`
	WaitTime   int    `json:"wait_time" validate:"omitempty,min=5,max=60"`
}

type nichesJobRequest struct {
	NotionURL  string `json:"notion_url" validate:"required,http_url"`
	WebhookURL string `json:"webhook_url" validate:"omitempty,http_url"`
	WaitTime   int    `json:"wait_time" validate:"omitempty,min=5,max=60"`
}

type jobAccepted struct {
	JobID     string           `json:"job_id"`
	Status    scrape.JobStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// JobStatusResponse is the status-dependent view of a job.
type JobStatusResponse struct {
	JobID                string           `json:"job_id"`
	Kind                 scrape.JobKind   `json:"kind,omitempty"`
	Status               scrape.JobStatus `json:"status"`
	CreatedAt            time.Time        `json:"created_at"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
	Progress             *int             `json:"progress,omitempty"`
	Message              string           `json:"message,omitempty"`
	Result               any              `json:"result,omitempty"`
	Error                string           `json:"error,omitempty"`
	ExecutionTimeSeconds *float64         `json:"execution_time_seconds,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	FailedAt             *time.Time       `json:"failed_at,omitempty"`
}

// NewJobStatusResponse renders job for pollers.
func NewJobStatusResponse(job scrape.Job) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:     job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		StartedAt: job.StartedAt,
	}
	switch job.Status {
	case scrape.JobStatusPending:
		progress := job.Progress
		resp.Progress = &progress
		resp.Message = "job is queued"
	case scrape.JobStatusProcessing:
		progress := job.Progress
		resp.Progress = &progress
		resp.Message = "job is running"
	case scrape.JobStatusCompleted:
		secs := job.ExecutionTime().Seconds()
		resp.Result = job.Result
		resp.ExecutionTimeSeconds = &secs
		resp.CompletedAt = job.CompletedAt
	case scrape.JobStatusFailed:
		secs := job.ExecutionTime().Seconds()
		resp.Error = job.Error
		resp.ExecutionTimeSeconds = &secs
		resp.FailedAt = job.CompletedAt
	}
	return resp
}

func (s *Server) startChannels(w http.ResponseWriter, r *http.Request) {
	var req channelsJobRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	if !s.checkSession(w, req.SessionID) {
		return
	}
	s.submit(w, r, scrape.JobRequest{
		Kind:        scrape.JobKindChannels,
		SessionID:   req.SessionID,
		URL:         req.URL,
		WebhookURL:  req.WebhookURL,
		WaitSeconds: req.WaitTime,
	})
}

func (s *Server) startNiches(w http.ResponseWriter, r *http.Request) {
	var req nichesJobRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	if err := orchestrator.ValidateNotionURL(req.NotionURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(w, r, scrape.JobRequest{
		Kind:        scrape.JobKindNiches,
		URL:         req.NotionURL,
		WebhookURL:  req.WebhookURL,
		WaitSeconds: req.WaitTime,
	})
}

// submit records a pending job and queues it. A job that cannot be queued
// is failed at once so it never lingers in pending.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, req scrape.JobRequest) {
	job, err := s.deps.Jobs.Create(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	item := scrape.QueueItem{JobID: job.ID, Request: req, Submitted: job.CreatedAt.Unix()}
	if err := s.deps.Queue.Enqueue(queueCtx, item); err != nil {
		s.logger.Error("enqueue job failed", zap.String("job_id", job.ID), zap.Error(err))
		s.abandon(context.WithoutCancel(r.Context()), job.ID, err)
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("enqueue job: %v", err))
		return
	}
	s.logger.Info("job accepted", zap.String("job_id", job.ID), zap.String("kind", string(req.Kind)))
	writeJSON(w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status, CreatedAt: job.CreatedAt})
}

func (s *Server) abandon(ctx context.Context, jobID string, cause error) {
	if err := s.deps.Jobs.Transition(ctx, jobID, scrape.JobStatusProcessing, scrape.Outcome{}); err != nil {
		s.logger.Warn("abandon job failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	msg := fmt.Sprintf("enqueue job: %v", cause)
	if err := s.deps.Jobs.Transition(ctx, jobID, scrape.JobStatusFailed, scrape.Outcome{Error: msg}); err != nil {
		s.logger.Warn("abandon job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// jobResult serves the status payload. A non-empty kind hides jobs of
// other kinds behind a 404.
func (s *Server) jobResult(kind scrape.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
		if err != nil || (kind != "" && job.Kind != kind) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, NewJobStatusResponse(job))
	}
}

// decodeOptional decodes a JSON body into dst. An empty body leaves dst
// untouched; malformed JSON is answered with 400.
func decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON")
	return false
}

// decodeValid decodes like decodeOptional, then applies dst's validate
// tags. Either failure is answered with 400.
func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !decodeOptional(w, r, dst) {
		return false
	}
	if err := s.validateRequest(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, scrape.ErrJobNotFound), errors.Is(err, scrape.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, scrape.ErrSessionExpired), errors.Is(err, scrape.ErrLoginRejected):
		return http.StatusUnauthorized
	case errors.Is(err, scrape.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNotNotionURL):
		return http.StatusBadRequest
	case errors.Is(err, scrape.ErrQueueClosed), errors.Is(err, scrape.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

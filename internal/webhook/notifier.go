// Package webhook delivers terminal job outcomes to caller-supplied URLs.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Webhook-Signature"

// Config controls delivery behavior.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	Secret         string
	UserAgent      string
}

// Event is the JSON body posted to the callback.
type Event struct {
	JobID                string           `json:"job_id"`
	Status               scrape.JobStatus `json:"status"`
	Result               any              `json:"result,omitempty"`
	Error                string           `json:"error,omitempty"`
	ExecutionTimeSeconds float64          `json:"execution_time_seconds"`
	Timestamp            float64          `json:"timestamp"`
}

// EventFromJob builds the callback body for a terminal job.
func EventFromJob(job scrape.Job, now time.Time) Event {
	ev := Event{
		JobID:                job.ID,
		Status:               job.Status,
		ExecutionTimeSeconds: job.ExecutionTime().Seconds(),
		Timestamp:            float64(now.UnixNano()) / float64(time.Second),
	}
	switch job.Status {
	case scrape.JobStatusCompleted:
		ev.Result = job.Result
	case scrape.JobStatusFailed:
		ev.Error = job.Error
	}
	return ev
}

// Delivery summarizes a Notify call.
type Delivery struct {
	Attempts   int
	Delivered  bool
	StatusCode int
	Err        error
}

// Notifier posts events with bounded retries and exponential backoff.
type Notifier struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New constructs a Notifier. Zero config values fall back to 3 attempts,
// 2s initial backoff, 30s max backoff, and a 30s per-attempt timeout.
func New(cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "listing-harvester-webhook/1.0"
	}
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepContext,
	}
}

// Backoff returns the wait before retry number attempt (1-based): the
// initial backoff doubled per attempt, capped at MaxBackoff.
func (n *Notifier) Backoff(attempt int) time.Duration {
	delay := float64(n.cfg.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if delay > float64(n.cfg.MaxBackoff) {
		return n.cfg.MaxBackoff
	}
	return time.Duration(delay)
}

// Notify delivers ev to url. It never returns an error; the outcome is
// logged and summarized in the returned Delivery.
func (n *Notifier) Notify(ctx context.Context, url string, ev Event) Delivery {
	logger := n.logger.With(zap.String("job_id", ev.JobID), zap.String("url", url))
	body, err := json.Marshal(ev)
	if err != nil {
		logger.Error("webhook payload marshal failed", zap.Error(err))
		return Delivery{Err: fmt.Errorf("marshal event: %w", err)}
	}

	var d Delivery
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		d.Attempts = attempt
		status, err := n.post(ctx, url, body)
		d.StatusCode = status
		d.Err = err
		if err == nil && status >= 200 && status < 300 {
			d.Delivered = true
			metrics.ObserveWebhookAttempt("delivered")
			logger.Info("webhook delivered", zap.Int("attempt", attempt), zap.Int("status", status))
			return d
		}
		if ctx.Err() != nil {
			metrics.ObserveWebhookAttempt("canceled")
			logger.Warn("webhook delivery canceled", zap.Int("attempt", attempt), zap.Error(ctx.Err()))
			return d
		}
		if err == nil && !retryableStatus(status) {
			d.Err = fmt.Errorf("callback rejected with status %d", status)
			metrics.ObserveWebhookAttempt("rejected")
			logger.Warn("webhook rejected, not retrying", zap.Int("attempt", attempt), zap.Int("status", status))
			return d
		}
		if err == nil {
			d.Err = fmt.Errorf("callback returned status %d", status)
		}
		metrics.ObserveWebhookAttempt("retry")
		logger.Warn("webhook attempt failed", zap.Int("attempt", attempt), zap.Int("status", status), zap.Error(d.Err))
		if attempt == n.cfg.MaxAttempts {
			break
		}
		if err := n.sleep(ctx, n.Backoff(attempt)); err != nil {
			d.Err = err
			return d
		}
	}
	metrics.ObserveWebhookAttempt("exhausted")
	logger.Error("webhook delivery exhausted retries", zap.Int("attempts", d.Attempts), zap.Error(d.Err))
	return d
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", n.cfg.UserAgent)
	if n.cfg.Secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(n.cfg.Secret, body))
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("deliver: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// retryableStatus reports whether a non-2xx status is worth another attempt.
// Client errors abort, except 408 which is a timeout in disguise.
func retryableStatus(status int) bool {
	if status == http.StatusRequestTimeout {
		return true
	}
	return status < 400 || status >= 500
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("webhook backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

package scrape

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of a scrape job.
type JobStatus string

// Job status values. The only legal order is
// pending -> processing -> {completed, failed}.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// JobKind names the workflow a job runs.
type JobKind string

// Supported background workflows.
const (
	JobKindChannels JobKind = "channels"
	JobKindNiches   JobKind = "niches"
)

// JobRequest is the immutable input recorded with a job and replayed by a worker.
type JobRequest struct {
	Kind       JobKind `json:"kind"`
	SessionID  string  `json:"session_id,omitempty"`
	URL        string  `json:"url,omitempty"`
	WebhookURL string  `json:"webhook_url,omitempty"`
	// WaitSeconds bounds how long the page may take to settle.
	WaitSeconds int `json:"wait_time,omitempty"`
}

// Job is the tracked state of one unit of background work.
type Job struct {
	ID          string     `json:"job_id"`
	Kind        JobKind    `json:"kind"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	WebhookURL  string     `json:"webhook_url,omitempty"`
	Request     JobRequest `json:"-"`
}

// ExecutionTime is the time between processing start and terminal state.
// It is zero until the job finishes.
func (j Job) ExecutionTime() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// Outcome carries the payload of a transition. Result is only recorded on
// completion and Error only on failure.
type Outcome struct {
	Result any
	Error  string
}

// JobEvent is published whenever a job reaches a terminal state.
type JobEvent struct {
	JobID                string    `json:"job_id"`
	Kind                 JobKind   `json:"kind"`
	Status               JobStatus `json:"status"`
	Error                string    `json:"error,omitempty"`
	ExecutionTimeSeconds float64   `json:"execution_time_seconds"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// EventType is "job.completed" or "job.failed".
func (e JobEvent) EventType() string {
	return "job." + string(e.Status)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Request   JobRequest
	Submitted int64
}

// Card is one record extracted from a repeated DOM structure.
type Card struct {
	Name     string            `json:"name"`
	Link     string            `json:"url"`
	ImageURL string            `json:"image_url,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Category string            `json:"category"`
	Position float64           `json:"-"`
}

// MarshalJSON flattens Fields next to the fixed keys so a niche card reads
// {"name","rpm","sub_niche","image_url","url","category"}.
func (c Card) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(c.Fields)+4)
	for k, v := range c.Fields {
		out[k] = v
	}
	out["name"] = c.Name
	out["url"] = c.Link
	out["image_url"] = c.ImageURL
	out["category"] = c.Category
	return json.Marshal(out)
}

// Section is a category label anchored at a vertical page position.
type Section struct {
	Label    string
	Position float64
}

// ExtractionStats counts how candidates were accepted or dropped.
type ExtractionStats struct {
	Strategy   string `json:"strategy"`
	Candidates int    `json:"candidates"`
	Duplicates int    `json:"duplicates"`
	Unnamed    int    `json:"unnamed"`
	Rejected   int    `json:"rejected"`
	Accepted   int    `json:"accepted"`
}

// NicheResult is the payload of a completed niches job.
type NicheResult struct {
	Niches      []Card          `json:"nichos"`
	TotalNiches int             `json:"total_nichos"`
	URL         string          `json:"url"`
	Stats       ExtractionStats `json:"stats"`
	SnapshotURI string          `json:"snapshot_uri,omitempty"`
}

// Video is one recent video listed under a channel card.
type Video struct {
	Title        string `json:"title"`
	VideoLink    string `json:"video_link"`
	ThumbnailURL string `json:"thumbnail_url"`
	Duration     string `json:"duration,omitempty"`
	Views        string `json:"views,omitempty"`
	Comments     string `json:"comments,omitempty"`
	UploadedTime string `json:"uploaded_time,omitempty"`
}

// Channel is one record from the channel listing page.
type Channel struct {
	Name                 string  `json:"channel_name"`
	Link                 string  `json:"channel_link"`
	Handle               string  `json:"channel_handle"`
	Country              string  `json:"country"`
	Subscribers          string  `json:"subscribers"`
	Verified             bool    `json:"is_verified"`
	Monetized            bool    `json:"is_monetized"`
	TotalViews           string  `json:"total_views"`
	ViewsLast60Days      string  `json:"views_last_60_days"`
	AverageViewsPerVideo string  `json:"average_views_per_video"`
	TimeSinceFirstVideo  string  `json:"time_since_first_video"`
	TotalVideos          string  `json:"total_videos"`
	OutlierScore         string  `json:"outlier_score"`
	RecentVideos         []Video `json:"recent_videos"`
}

// ChannelResult is the payload of a completed channels job.
type ChannelResult struct {
	Channels      []Channel       `json:"channels"`
	TotalChannels int             `json:"total_channels"`
	URL           string          `json:"url"`
	Stats         ExtractionStats `json:"stats"`
	SnapshotURI   string          `json:"snapshot_uri,omitempty"`
}

// PageSummary counts common element kinds on a loaded page.
type PageSummary struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	VideoCount  int    `json:"video_elements_count"`
	LinkCount   int    `json:"links_count"`
	ImageCount  int    `json:"images_count"`
	ButtonCount int    `json:"buttons_count"`
}

// Credentials authenticate a browser against the target site.
type Credentials struct {
	Email    string
	Password string
}

package scrape

import (
	"context"
	"time"
)

// JobStore tracks job lifecycle state.
type JobStore interface {
	Create(ctx context.Context, req JobRequest) (Job, error)
	Get(ctx context.Context, jobID string) (Job, error)
	Transition(ctx context.Context, jobID string, to JobStatus, outcome Outcome) error
	UpdateProgress(ctx context.Context, jobID string, percent int) error
	Sweep(ctx context.Context, maxAge time.Duration) int
	Delete(ctx context.Context, jobID string) bool
}

// Page is one browser tab. Implementations are not safe for concurrent use;
// a page belongs to exactly one goroutine at a time.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Query returns the number of elements matching selector without waiting.
	Query(ctx context.Context, selector string) (int, error)
	// WaitFor blocks until selector matches at least one element.
	WaitFor(ctx context.Context, selector string) error
	// Evaluate runs a JavaScript expression and JSON-decodes its value into out.
	// out may be nil when the value is ignored.
	Evaluate(ctx context.Context, script string, out any) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
}

// Browser owns one browser, context, and page triple.
type Browser interface {
	Page() Page
	Close() error
}

// Launcher starts isolated browsers.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes job events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for background jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher derives a content address for archived artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces opaque identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

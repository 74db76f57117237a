package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/extract"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

const (
	channelCardSelector = ".channel-card"
	bodySelector        = "body"

	defaultExtractSelector = "h1"
)

var scrollSteps = []int{25, 50, 75, 100}

// PageRequest asks for a one-off scrape of an arbitrary URL.
type PageRequest struct {
	URL       string
	Wait      time.Duration
	Selectors map[string]string
	// Render selects a full browser; false fetches the raw document.
	Render bool
}

// PageResult carries the extracted fields of a page scrape.
type PageResult struct {
	URL  string         `json:"url"`
	Data map[string]any `json:"data"`
}

// ExtractRequest asks for a signed-in page and the text of one element.
type ExtractRequest struct {
	SessionID string
	// Selector defaults to h1.
	Selector string
	Wait     time.Duration
}

// ExtractResult is the element text and the page it was read from.
// Found is false when the selector matched nothing and Text holds the
// page title instead.
type ExtractResult struct {
	Text  string `json:"text"`
	Found bool   `json:"found"`
	URL   string `json:"url"`
}

// ValidateNotionURL rejects URLs that are not public Notion pages.
func ValidateNotionURL(raw string) error {
	if !strings.Contains(raw, "notion.site") {
		return fmt.Errorf("%w: %q", ErrNotNotionURL, raw)
	}
	return nil
}

// Channels runs the channel listing workflow synchronously.
func (o *Orchestrator) Channels(ctx context.Context, req scrape.JobRequest) (scrape.ChannelResult, error) {
	ctx, cancel := o.jobContext(ctx)
	defer cancel()
	res, _, err := o.scrapeChannels(ctx, req, func(int) {}, o.logger)
	return res, err
}

// Niches runs the niche gallery workflow synchronously.
func (o *Orchestrator) Niches(ctx context.Context, req scrape.JobRequest) (scrape.NicheResult, error) {
	ctx, cancel := o.jobContext(ctx)
	defer cancel()
	res, _, err := o.scrapeNiches(ctx, req, func(int) {}, o.logger)
	return res, err
}

// Videos loads the video listing and summarizes it.
func (o *Orchestrator) Videos(ctx context.Context, sessionID string) (scrape.PageSummary, error) {
	ctx, cancel := o.jobContext(ctx)
	defer cancel()

	page, release, err := o.authenticatedPage(ctx, sessionID, "videos")
	if err != nil {
		return scrape.PageSummary{}, err
	}
	defer release()

	if err := o.navigate(ctx, page, o.cfg.VideosURL); err != nil {
		return scrape.PageSummary{}, err
	}
	o.settle(ctx, page, ".video", o.cfg.ChannelsWait, o.logger)
	snap, err := extract.TakeSnapshot(ctx, page)
	if err != nil {
		return scrape.PageSummary{}, fmt.Errorf("snapshot videos page: %w", err)
	}
	return extract.Summary(snap), nil
}

// LoginAndExtract signs in (or leases a session) and reads the text of
// the first element matching the selector on the landing page.
func (o *Orchestrator) LoginAndExtract(ctx context.Context, req ExtractRequest) (ExtractResult, error) {
	ctx, cancel := o.jobContext(ctx)
	defer cancel()

	selector := strings.TrimSpace(req.Selector)
	if selector == "" {
		selector = defaultExtractSelector
	}
	page, release, err := o.authenticatedPage(ctx, req.SessionID, "extract")
	if err != nil {
		return ExtractResult{}, err
	}
	defer release()

	wait := req.Wait
	if wait <= 0 {
		wait = o.cfg.ChannelsWait
	}
	o.settle(ctx, page, selector, wait, o.logger)

	snap, err := extract.TakeSnapshot(ctx, page)
	if err != nil {
		return ExtractResult{}, fmt.Errorf("snapshot landing page: %w", err)
	}
	if text, ok := extract.FirstText(snap, selector); ok {
		return ExtractResult{Text: text, Found: true, URL: snap.URL}, nil
	}
	o.logger.Warn("extract selector matched nothing, using title", zap.String("selector", selector))
	return ExtractResult{Text: extract.Summary(snap).Title, URL: snap.URL}, nil
}

// Page scrapes an arbitrary URL with a field selector map. Without
// selectors the result holds the page title and final URL.
func (o *Orchestrator) Page(ctx context.Context, req PageRequest) (PageResult, error) {
	ctx, cancel := o.jobContext(ctx)
	defer cancel()

	page, release, err := o.anonymousPage(ctx, req.Render, "page")
	if err != nil {
		return PageResult{}, err
	}
	defer release()

	if err := o.navigate(ctx, page, req.URL); err != nil {
		return PageResult{}, err
	}
	wait := req.Wait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	o.settle(ctx, page, bodySelector, wait, o.logger)

	snap, err := extract.TakeSnapshot(ctx, page)
	if err != nil {
		return PageResult{}, fmt.Errorf("snapshot page: %w", err)
	}
	if len(req.Selectors) == 0 {
		summary := extract.Summary(snap)
		return PageResult{URL: req.URL, Data: map[string]any{"title": summary.Title, "url": summary.URL}}, nil
	}
	return PageResult{URL: req.URL, Data: extract.Selectors(snap, req.Selectors)}, nil
}

func (o *Orchestrator) scrapeChannels(
	ctx context.Context,
	req scrape.JobRequest,
	progress func(int),
	logger *zap.Logger,
) (scrape.ChannelResult, *extract.Snapshot, error) {
	page, release, err := o.authenticatedPage(ctx, req.SessionID, "channels")
	if err != nil {
		return scrape.ChannelResult{}, nil, err
	}
	defer release()
	progress(10)

	target := req.URL
	if target == "" {
		target = o.cfg.ChannelsURL
	}
	if err := o.navigate(ctx, page, target); err != nil {
		return scrape.ChannelResult{}, nil, err
	}
	progress(30)

	o.settle(ctx, page, channelCardSelector, o.waitBudget(req, o.cfg.ChannelsWait), logger)
	progress(60)

	snap, err := extract.TakeSnapshot(ctx, page)
	if err != nil {
		return scrape.ChannelResult{}, nil, fmt.Errorf("snapshot channels page: %w", err)
	}
	channels, stats := o.deps.Engine.ChannelsWith(snap, o.channels)
	progress(90)

	return scrape.ChannelResult{
		Channels:      channels,
		TotalChannels: len(channels),
		URL:           snap.URL,
		Stats:         stats,
	}, snap, nil
}

func (o *Orchestrator) scrapeNiches(
	ctx context.Context,
	req scrape.JobRequest,
	progress func(int),
	logger *zap.Logger,
) (scrape.NicheResult, *extract.Snapshot, error) {
	if err := ValidateNotionURL(req.URL); err != nil {
		return scrape.NicheResult{}, nil, err
	}
	handle, err := o.deps.Pool.Acquire(ctx, "niches")
	if err != nil {
		return scrape.NicheResult{}, nil, fmt.Errorf("acquire browser: %w", err)
	}
	defer o.closeHandle(handle)
	page := handle.Page()
	progress(10)

	if err := o.navigate(ctx, page, req.URL); err != nil {
		return scrape.NicheResult{}, nil, err
	}
	progress(30)

	if err := o.deps.Clock.Sleep(ctx, o.waitBudget(req, o.cfg.NichesWait)); err != nil {
		return scrape.NicheResult{}, nil, fmt.Errorf("wait for notion page: %w", err)
	}
	if err := o.scroll(ctx, page, logger); err != nil {
		return scrape.NicheResult{}, nil, err
	}
	progress(60)

	snap, err := extract.TakeSnapshot(ctx, page)
	if err != nil {
		return scrape.NicheResult{}, nil, fmt.Errorf("snapshot notion page: %w", err)
	}
	cards, stats := o.deps.Engine.Cards(snap, o.cfg.NicheProfile)
	progress(90)

	return scrape.NicheResult{
		Niches:      cards,
		TotalNiches: len(cards),
		URL:         req.URL,
		Stats:       stats,
	}, snap, nil
}

// scroll walks the page down in quarters and back to the top so lazily
// rendered blocks reach the DOM. Backends without script support skip it.
func (o *Orchestrator) scroll(ctx context.Context, page scrape.Page, logger *zap.Logger) error {
	scripts := make([]string, 0, len(scrollSteps)+1)
	for _, pct := range scrollSteps {
		scripts = append(scripts, fmt.Sprintf("window.scrollTo(0, document.body.scrollHeight * %d / 100)", pct))
	}
	scripts = append(scripts, "window.scrollTo(0, 0)")

	for _, script := range scripts {
		if err := page.Evaluate(ctx, script, nil); err != nil {
			if errors.Is(err, scrape.ErrUnsupported) {
				logger.Debug("scroll skipped", zap.Error(err))
				return nil
			}
			logger.Warn("scroll failed, extracting what is loaded", zap.Error(err))
			return nil
		}
		if err := o.deps.Clock.Sleep(ctx, o.cfg.ScrollPause); err != nil {
			return fmt.Errorf("scroll pause: %w", err)
		}
	}
	return nil
}

// authenticatedPage returns a logged-in page and its release func. A
// session id leases the registry's browser; otherwise a fresh browser is
// launched and signed in.
func (o *Orchestrator) authenticatedPage(ctx context.Context, sessionID, owner string) (scrape.Page, func(), error) {
	if sessionID != "" {
		if o.deps.Sessions == nil {
			return nil, nil, ErrSessionsUnavailable
		}
		lease, err := o.deps.Sessions.Checkout(sessionID)
		if err != nil {
			return nil, nil, fmt.Errorf("checkout session: %w", err)
		}
		return lease.Page(), lease.Release, nil
	}

	handle, err := o.deps.Pool.Acquire(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire browser: %w", err)
	}
	if err := o.login(ctx, handle.Page(), o.cfg.Credentials); err != nil {
		o.closeHandle(handle)
		return nil, nil, fmt.Errorf("login: %w", err)
	}
	return handle.Page(), func() { o.closeHandle(handle) }, nil
}

// anonymousPage returns a page that needs no login. Without rendering it
// comes from the static launcher, outside the browser pool.
func (o *Orchestrator) anonymousPage(ctx context.Context, render bool, owner string) (scrape.Page, func(), error) {
	if !render && o.deps.Static != nil {
		b, err := o.deps.Static.Launch(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("launch static fetcher: %w", err)
		}
		return b.Page(), func() {
			if err := b.Close(); err != nil {
				o.logger.Warn("static fetcher teardown failed", zap.Error(err))
			}
		}, nil
	}
	handle, err := o.deps.Pool.Acquire(ctx, owner)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire browser: %w", err)
	}
	return handle.Page(), func() { o.closeHandle(handle) }, nil
}

func (o *Orchestrator) navigate(ctx context.Context, page scrape.Page, url string) error {
	if o.deps.Throttle != nil {
		if err := o.deps.Throttle.Wait(ctx, url); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	if err := page.Navigate(ctx, url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// settle waits up to timeout for selector. A miss is logged and the
// workflow continues with whatever rendered.
func (o *Orchestrator) settle(ctx context.Context, page scrape.Page, selector string, timeout time.Duration, logger *zap.Logger) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := page.WaitFor(waitCtx, selector); err != nil {
		logger.Warn("selector wait failed, continuing",
			zap.String("selector", selector),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) waitBudget(req scrape.JobRequest, fallback time.Duration) time.Duration {
	if req.WaitSeconds > 0 {
		return time.Duration(req.WaitSeconds) * time.Second
	}
	return fallback
}

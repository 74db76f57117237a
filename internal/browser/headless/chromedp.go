// Package headless drives Chrome through chromedp.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/listing-harvester/internal/browser"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Config controls the Chrome processes started by the Launcher.
type Config struct {
	Headless          bool
	UserAgent         string
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	ViewportWidth     int
	ViewportHeight    int
	ExecPath          string
}

// Launcher starts one Chrome process per Launch from a shared allocator.
type Launcher struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewLauncher builds the exec allocator. Chrome itself starts lazily on Launch.
func NewLauncher(cfg Config) (*Launcher, error) {
	if cfg.ViewportWidth < 0 || cfg.ViewportHeight < 0 {
		return nil, fmt.Errorf("viewport dimensions must be >= 0")
	}
	cfg = withDefaults(cfg)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Launcher{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}, nil
}

// Close cancels the allocator, killing any remaining Chrome processes.
func (l *Launcher) Close() {
	l.allocCancel()
}

// Launch starts a new Chrome process with a single tab. ctx bounds only the
// startup; the browser lives until Close.
func (l *Launcher) Launch(ctx context.Context) (scrape.Browser, error) {
	taskCtx, taskCancel := chromedp.NewContext(l.allocator)
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	page := &Page{ctx: taskCtx, cfg: l.cfg, meta: &documentMeta{}}
	chromedp.ListenTarget(taskCtx, page.meta.captureEvent)
	if err := chromedp.Run(taskCtx, l.setupAction()); err != nil {
		taskCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &Browser{page: page, cancel: taskCancel}, nil
}

func (l *Launcher) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if l.cfg.ViewportWidth > 0 && l.cfg.ViewportHeight > 0 {
			err := emulation.SetDeviceMetricsOverride(int64(l.cfg.ViewportWidth), int64(l.cfg.ViewportHeight), 1, false).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		return nil
	})
}

// Browser is one Chrome process and its tab.
type Browser struct {
	page   *Page
	cancel context.CancelFunc
}

// Page returns the browser's only tab.
func (b *Browser) Page() scrape.Page {
	return b.page
}

// Close shuts Chrome down gracefully, then cancels its context.
func (b *Browser) Close() error {
	defer b.cancel()
	if err := chromedp.Cancel(b.page.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

// Page implements scrape.Page over a chromedp tab context.
type Page struct {
	ctx  context.Context
	cfg  Config
	meta *documentMeta
}

// Navigate loads url and fails on an HTTP error status for the document.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.meta.reset()
	if err := p.run(ctx, p.cfg.NavigationTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if status := p.meta.status(); status >= 400 {
		return fmt.Errorf("navigate %s: document returned status %d", url, status)
	}
	return nil
}

// Query counts elements matching selector.
func (p *Page) Query(ctx context.Context, selector string) (int, error) {
	var n int
	if err := p.run(ctx, p.cfg.ElementTimeout, chromedp.Evaluate(countScript(selector), &n)); err != nil {
		return 0, fmt.Errorf("query %q: %w", selector, err)
	}
	return n, nil
}

// WaitFor waits until selector is present in the DOM. A deadline on ctx
// replaces the element timeout.
func (p *Page) WaitFor(ctx context.Context, selector string) error {
	if err := p.run(ctx, p.waitTimeout(ctx), chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// Evaluate runs script and decodes its JSON value into out.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	if out == nil {
		if err := p.run(ctx, p.cfg.ElementTimeout, chromedp.Evaluate(script, nil)); err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
		return nil
	}
	var raw []byte
	if err := p.run(ctx, p.cfg.ElementTimeout, chromedp.Evaluate(script, &raw)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// Click clicks the first visible element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, p.cfg.ElementTimeout, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// Fill replaces the value of the first element matching selector.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	err := p.run(ctx, p.cfg.ElementTimeout,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

// URL returns the current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.cfg.ElementTimeout, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("location: %w", err)
	}
	return loc, nil
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.cfg.NavigationTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

func (p *Page) waitTimeout(ctx context.Context) time.Duration {
	return browser.WaitTimeout(ctx, p.cfg.ElementTimeout)
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w (caller: %w)", err, ctxErr)
		}
		return fmt.Errorf("chromedp run: %w", err)
	}
	return nil
}

func countScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, quoted)
}

func withDefaults(cfg Config) Config {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 15 * time.Second
	}
	return cfg
}

// documentMeta records the status of the last top-level document response.
type documentMeta struct {
	mu   sync.Mutex
	code int
}

func (m *documentMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.code = int(resp.Response.Status)
	m.mu.Unlock()
}

func (m *documentMeta) reset() {
	m.mu.Lock()
	m.code = 0
	m.mu.Unlock()
}

func (m *documentMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

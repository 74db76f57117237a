// Package rodbrowser drives Chrome through go-rod, optionally with stealth
// evasions applied to every page.
package rodbrowser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/JakeFAU/listing-harvester/internal/browser"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Config controls the Chrome processes started by the Launcher.
type Config struct {
	Headless          bool
	NoSandbox         bool
	Stealth           bool
	Bin               string
	UserAgent         string
	Headers           map[string]string
	NavigationTimeout time.Duration
	ElementTimeout    time.Duration
	ViewportWidth     int
	ViewportHeight    int
}

// Launcher starts one Chrome process per Launch.
type Launcher struct {
	cfg Config
}

// NewLauncher validates cfg. Chrome is not started until Launch.
func NewLauncher(cfg Config) (*Launcher, error) {
	if cfg.ViewportWidth < 0 || cfg.ViewportHeight < 0 {
		return nil, fmt.Errorf("viewport dimensions must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.ElementTimeout <= 0 {
		cfg.ElementTimeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg}, nil
}

func (l *Launcher) processLauncher(ctx context.Context) *launcher.Launcher {
	pl := launcher.New().
		Context(ctx).
		Headless(l.cfg.Headless).
		NoSandbox(l.cfg.NoSandbox)
	if l.cfg.Bin != "" {
		pl = pl.Bin(l.cfg.Bin)
	}
	pl.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	pl.Delete(flags.Flag("enable-automation"))
	pl.Set(flags.Flag("disable-dev-shm-usage"))
	pl.Set(flags.Flag("disable-extensions"))
	pl.Set(flags.Flag("no-first-run"))
	if l.cfg.UserAgent != "" {
		pl.Set(flags.Flag("user-agent"), l.cfg.UserAgent)
	}
	return pl
}

// Launch starts Chrome, connects to it and opens one page.
func (l *Launcher) Launch(ctx context.Context) (scrape.Browser, error) {
	pl := l.processLauncher(context.Background())
	stop := context.AfterFunc(ctx, pl.Kill)
	defer stop()

	controlURL, err := pl.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		pl.Kill()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}

	page, err := l.openPage(browser)
	if err != nil {
		_ = browser.Close()
		pl.Kill()
		return nil, err
	}
	// Detach from the launch ctx so later calls are bound only by their own ctx.
	return &Browser{
		browser:  browser.Context(context.Background()),
		page:     &Page{page: page.Context(context.Background()), cfg: l.cfg},
		launcher: pl,
	}, nil
}

func (l *Launcher) openPage(browser *rod.Browser) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if l.cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if l.cfg.ViewportWidth > 0 && l.cfg.ViewportHeight > 0 {
		err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             l.cfg.ViewportWidth,
			Height:            l.cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}
	if len(l.cfg.Headers) > 0 {
		if err := (proto.NetworkSetExtraHTTPHeaders{Headers: headersMap(l.cfg.Headers)}).Call(page); err != nil {
			return nil, fmt.Errorf("set extra headers: %w", err)
		}
	}
	return page, nil
}

// Browser owns one Chrome process.
type Browser struct {
	browser  *rod.Browser
	page     *Page
	launcher *launcher.Launcher
}

// Page returns the browser's only page.
func (b *Browser) Page() scrape.Page {
	return b.page
}

// Close closes the page and the browser, then kills the process and removes
// its profile directory.
func (b *Browser) Close() error {
	pageErr := b.page.page.Close()
	browserErr := b.browser.Close()
	b.launcher.Kill()
	b.launcher.Cleanup()
	if browserErr != nil {
		return fmt.Errorf("close browser: %w", browserErr)
	}
	if pageErr != nil {
		return fmt.Errorf("close page: %w", pageErr)
	}
	return nil
}

// Page implements scrape.Page on a rod page.
type Page struct {
	page *rod.Page
	cfg  Config
}

func (p *Page) bind(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return p.page.Context(ctx), cancel
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	page, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// Query counts elements matching selector without waiting.
func (p *Page) Query(ctx context.Context, selector string) (int, error) {
	page, cancel := p.bind(ctx, p.cfg.ElementTimeout)
	defer cancel()
	res, err := page.Eval(wrapScript(countScript(selector)))
	if err != nil {
		return 0, fmt.Errorf("query %q: %w", selector, err)
	}
	return res.Value.Int(), nil
}

// WaitFor retries until selector matches an element. A deadline on ctx
// replaces the element timeout.
func (p *Page) WaitFor(ctx context.Context, selector string) error {
	page, cancel := p.bind(ctx, browser.WaitTimeout(ctx, p.cfg.ElementTimeout))
	defer cancel()
	if _, err := page.Element(selector); err != nil {
		return fmt.Errorf("wait for %q: %w", selector, err)
	}
	return nil
}

// Evaluate runs an expression and decodes its value into out.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	page, cancel := p.bind(ctx, p.cfg.ElementTimeout)
	defer cancel()
	res, err := page.Eval(wrapScript(script))
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	return decodeValue(res.Value, out)
}

// Click clicks the first element matching selector.
func (p *Page) Click(ctx context.Context, selector string) error {
	page, cancel := p.bind(ctx, p.cfg.ElementTimeout)
	defer cancel()
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// Fill replaces the text of the first input matching selector.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	page, cancel := p.bind(ctx, p.cfg.ElementTimeout)
	defer cancel()
	el, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("fill %q: select: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

// URL returns the page's current location.
func (p *Page) URL(ctx context.Context) (string, error) {
	page, cancel := p.bind(ctx, p.cfg.ElementTimeout)
	defer cancel()
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("page info: %w", err)
	}
	return info.URL, nil
}

// HTML returns the serialized document.
func (p *Page) HTML(ctx context.Context) (string, error) {
	page, cancel := p.bind(ctx, p.cfg.NavigationTimeout)
	defer cancel()
	html, err := page.HTML()
	if err != nil {
		return "", fmt.Errorf("page html: %w", err)
	}
	return html, nil
}

// wrapScript turns an expression into the function form rod evaluates.
func wrapScript(script string) string {
	trimmed := strings.TrimSpace(script)
	if strings.HasPrefix(trimmed, "() =>") || strings.HasPrefix(trimmed, "function") {
		return trimmed
	}
	return "() => (" + strings.TrimSuffix(trimmed, ";") + ")"
}

func countScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, quoted)
}

func decodeValue(v gson.JSON, out any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode evaluate result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

func headersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

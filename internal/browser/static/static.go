// Package static implements a script-free browser backend on gocolly. Pages
// are fetched over plain HTTP and queried with goquery; anything that needs
// a JavaScript runtime returns scrape.ErrUnsupported.
package static

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Launcher hands out static pages that share one collector and transport.
type Launcher struct {
	cfg  Config
	base *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewLauncher builds a Launcher.
func NewLauncher(cfg Config) *Launcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Launcher{cfg: cfg, base: c}
}

// Launch returns a fresh page. There is no process to start.
func (l *Launcher) Launch(context.Context) (scrape.Browser, error) {
	return &Browser{page: &Page{launcher: l}}, nil
}

// Browser wraps a single static page.
type Browser struct {
	page *Page
}

// Page returns the browser's page.
func (b *Browser) Page() scrape.Page { return b.page }

// Close is a no-op.
func (b *Browser) Close() error { return nil }

// Page holds the last fetched document.
type Page struct {
	launcher *Launcher

	mu   sync.Mutex
	url  string
	body []byte
	doc  *goquery.Document
}

type fetchResult struct {
	url    string
	status int
	body   []byte
}

func (l *Launcher) collector() *colly.Collector {
	c := l.base.Clone()
	if l.cfg.UserAgent != "" {
		c.UserAgent = l.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !l.cfg.RespectRobots
	c.SetRequestTimeout(l.cfg.Timeout)
	return c
}

func (l *Launcher) configureHooks(hooks collectorHooks, result *fetchResult, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range l.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	hooks.OnResponse(func(r *colly.Response) {
		*result = fetchResult{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

// Navigate fetches url and replaces the page's document.
func (p *Page) Navigate(ctx context.Context, url string) error {
	var (
		result   fetchResult
		fetchErr error
	)
	c := p.launcher.collector()
	p.launcher.configureHooks(c, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(url)
	}()
	select {
	case <-ctx.Done():
		return fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", url, fetchErr)
		}
		if err != nil {
			return fmt.Errorf("visit %s: %w", url, err)
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(result.body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", url, err)
	}
	p.mu.Lock()
	p.url = result.url
	p.body = result.body
	p.doc = doc
	p.mu.Unlock()
	return nil
}

func (p *Page) document() (*goquery.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	return p.doc, nil
}

// Query counts elements matching selector in the fetched document.
func (p *Page) Query(_ context.Context, selector string) (int, error) {
	doc, err := p.document()
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

// WaitFor succeeds only if selector is already present; nothing changes
// after the fetch.
func (p *Page) WaitFor(ctx context.Context, selector string) error {
	n, err := p.Query(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("selector %q not present in static document", selector)
	}
	return nil
}

// Evaluate is unsupported.
func (p *Page) Evaluate(context.Context, string, any) error {
	return fmt.Errorf("evaluate: %w", scrape.ErrUnsupported)
}

// Click is unsupported.
func (p *Page) Click(context.Context, string) error {
	return fmt.Errorf("click: %w", scrape.ErrUnsupported)
}

// Fill is unsupported.
func (p *Page) Fill(context.Context, string, string) error {
	return fmt.Errorf("fill: %w", scrape.ErrUnsupported)
}

// URL returns the final URL after redirects.
func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// HTML returns the fetched body.
func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.body == nil {
		return "", fmt.Errorf("no document loaded")
	}
	return string(p.body), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

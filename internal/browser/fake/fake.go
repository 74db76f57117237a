// Package fake provides a scripted in-memory browser for tests and dry runs.
// Documents are served by URL and queried with goquery; no JavaScript runs.
package fake

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Site is the set of documents every page launched from it can reach.
type Site struct {
	// Documents maps a URL to the HTML served for it.
	Documents map[string]string
	// Redirects maps a clicked selector to the URL the page moves to.
	Redirects map[string]string
	// EvalResult is the JSON returned by Evaluate. Empty means "0".
	EvalResult string
	// EvalErr, when set, is returned by every Evaluate call.
	EvalErr error
	// PanicOn makes Navigate panic for the given URL.
	PanicOn string
}

// Page is a scripted scrape.Page.
type Page struct {
	site *Site

	mu      sync.Mutex
	current string
	filled  map[string]string
	clicked []string
	scripts []string
	visited []string
}

// NewPage returns a page serving site.
func NewPage(site *Site) *Page {
	return &Page{site: site, filled: make(map[string]string)}
}

var _ scrape.Page = (*Page)(nil)

// Navigate loads url. Unknown URLs fail like a 404.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.site.PanicOn != "" && url == p.site.PanicOn {
		panic("fake: navigate " + url)
	}
	if _, ok := p.site.Documents[url]; !ok {
		return fmt.Errorf("fake: status 404 for %s", url)
	}
	p.mu.Lock()
	p.current = url
	p.visited = append(p.visited, url)
	p.mu.Unlock()
	return nil
}

// Query counts matches in the current document.
func (p *Page) Query(_ context.Context, selector string) (int, error) {
	doc, err := p.document()
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

// WaitFor returns once selector matches, or when ctx ends. The document
// never changes on its own, so a miss always waits out the context.
func (p *Page) WaitFor(ctx context.Context, selector string) error {
	n, err := p.Query(ctx, selector)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	<-ctx.Done()
	return fmt.Errorf("wait for %q: %w", selector, ctx.Err())
}

// Evaluate records script and decodes the site's EvalResult into out.
func (p *Page) Evaluate(_ context.Context, script string, out any) error {
	p.mu.Lock()
	p.scripts = append(p.scripts, script)
	p.mu.Unlock()
	if p.site.EvalErr != nil {
		return p.site.EvalErr
	}
	if out == nil {
		return nil
	}
	raw := p.site.EvalResult
	if raw == "" {
		raw = "0"
	}
	return json.Unmarshal([]byte(raw), out)
}

// Click records the click and follows any configured redirect.
func (p *Page) Click(ctx context.Context, selector string) error {
	n, err := p.Query(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("fake: no element matches %q", selector)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicked = append(p.clicked, selector)
	if next, ok := p.site.Redirects[selector]; ok {
		p.current = next
	}
	return nil
}

// Fill records value for selector.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	n, err := p.Query(ctx, selector)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("fake: no element matches %q", selector)
	}
	p.mu.Lock()
	p.filled[selector] = value
	p.mu.Unlock()
	return nil
}

// URL returns the current URL.
func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, nil
}

// HTML returns the current document.
func (p *Page) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.site.Documents[p.current], nil
}

// Filled returns the value typed into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filled[selector]
}

// Clicked returns the clicked selectors in order.
func (p *Page) Clicked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicked...)
}

// Scripts returns every evaluated script in order.
func (p *Page) Scripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.scripts...)
}

// Visited returns every navigated URL in order.
func (p *Page) Visited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visited...)
}

func (p *Page) document() (*goquery.Document, error) {
	body, _ := p.HTML(context.Background())
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("fake: parse document: %w", err)
	}
	return doc, nil
}

// Browser wraps one Page.
type Browser struct {
	page   *Page
	closed atomic.Bool
}

// Page returns the browser's page.
func (b *Browser) Page() scrape.Page { return b.page }

// Close marks the browser closed.
func (b *Browser) Close() error {
	b.closed.Store(true)
	return nil
}

// Closed reports whether Close ran.
func (b *Browser) Closed() bool { return b.closed.Load() }

// Launcher launches browsers over one Site and remembers them.
type Launcher struct {
	Site *Site
	// LaunchErr, when set, fails every launch.
	LaunchErr error

	mu       sync.Mutex
	browsers []*Browser
}

// Launch implements scrape.Launcher.
func (l *Launcher) Launch(ctx context.Context) (scrape.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	b := &Browser{page: NewPage(l.Site)}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Browsers returns every launched browser in order.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}

// LastPage returns the page of the most recent launch, or nil.
func (l *Launcher) LastPage() *Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.browsers) == 0 {
		return nil
	}
	return l.browsers[len(l.browsers)-1].page
}

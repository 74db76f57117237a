package static

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

const fixture = `<html><body>
<div class="video">one</div><div class="video">two</div>
<a href="/a">a</a><button>go</button>
</body></html>`

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Trace") != "yes" {
			http.Error(w, "missing header", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(fixture))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPage_NavigateAndQuery(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	l := NewLauncher(Config{Timeout: time.Second, Headers: http.Header{"X-Trace": {"yes"}}})
	b, err := l.Launch(context.Background())
	require.NoError(t, err)
	page := b.Page()
	ctx := context.Background()

	require.NoError(t, page.Navigate(ctx, srv.URL+"/page"))

	n, err := page.Query(ctx, ".video")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, page.WaitFor(ctx, "button"))
	require.Error(t, page.WaitFor(ctx, "form"))

	u, err := page.URL(ctx)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/page", u)

	html, err := page.HTML(ctx)
	require.NoError(t, err)
	require.Contains(t, html, `class="video"`)
	require.NoError(t, b.Close())
}

func TestPage_NavigateErrorStatus(t *testing.T) {
	t.Parallel()
	srv := newServer(t)

	b, err := NewLauncher(Config{}).Launch(context.Background())
	require.NoError(t, err)
	err = b.Page().Navigate(context.Background(), srv.URL+"/gone")
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 410")
}

func TestPage_ScriptOpsUnsupported(t *testing.T) {
	t.Parallel()

	b, err := NewLauncher(Config{}).Launch(context.Background())
	require.NoError(t, err)
	page := b.Page()
	ctx := context.Background()

	require.True(t, errors.Is(page.Evaluate(ctx, "1", nil), scrape.ErrUnsupported))
	require.True(t, errors.Is(page.Click(ctx, "a"), scrape.ErrUnsupported))
	require.True(t, errors.Is(page.Fill(ctx, "a", "b"), scrape.ErrUnsupported))

	_, err = page.Query(ctx, "a")
	require.Error(t, err)
	_, err = page.HTML(ctx)
	require.Error(t, err)
}

func TestCollector_AppliesConfig(t *testing.T) {
	t.Parallel()

	l := NewLauncher(Config{UserAgent: "harvester-test", RespectRobots: false})
	c := l.collector()
	require.Equal(t, "harvester-test", c.UserAgent)
	require.True(t, c.IgnoreRobotsTxt)
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback)   { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestConfigureHooks_ErrorIncludesStatus(t *testing.T) {
	t.Parallel()

	l := NewLauncher(Config{})
	var (
		result   fetchResult
		fetchErr error
	)
	hooks := &stubHooks{}
	l.configureHooks(hooks, &result, &fetchErr)

	hooks.onError(&colly.Response{StatusCode: http.StatusForbidden}, errors.New("Forbidden"))
	require.EqualError(t, fetchErr, "status 403: Forbidden")

	hooks.onError(nil, errors.New("dial tcp"))
	require.EqualError(t, fetchErr, "dial tcp")
}

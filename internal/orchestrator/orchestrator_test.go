package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-harvester/internal/browser"
	"github.com/JakeFAU/listing-harvester/internal/browser/fake"
	"github.com/JakeFAU/listing-harvester/internal/hash/sha256"
	pubmem "github.com/JakeFAU/listing-harvester/internal/publisher/memory"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
	"github.com/JakeFAU/listing-harvester/internal/session"
	storemem "github.com/JakeFAU/listing-harvester/internal/storage/memory"
	"github.com/JakeFAU/listing-harvester/internal/webhook"
)

const (
	loginURL    = "https://app.test/login"
	homeURL     = "https://app.test/"
	channelsURL = "https://app.test/channels"
	videosURL   = "https://app.test/videos"
	nicheURL    = "https://acme.notion.site/niches"
	hookURL     = "https://hooks.test/cb"
	submitSel   = "button[type='submit']"
)

const loginForm = `<html><body><form>
<input id="email" type="email"><input id="password" type="password">
<button type="submit">Entrar</button></form></body></html>`

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept += d
	return nil
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	urls   []string
	events []webhook.Event
}

func (n *recordingNotifier) Notify(_ context.Context, url string, ev webhook.Event) webhook.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
	n.events = append(n.events, ev)
	return webhook.Delivery{Attempts: 1, Delivered: true, StatusCode: 200}
}

func channelCard(name, href string) string {
	return fmt.Sprintf(`<div class="channel-card">
<a class="fw-semibold fs-4" href="%s">%s</a>
<div class="small text-secondary">Since 2021 • 10K subscribers</div></div>`, href, name)
}

func nicheCard(name, href string) string {
	return fmt.Sprintf(`<div class="notion-collection-item"><a href="%s"><img src="/img/%s.png"></a>
<span class="notion-enable-hover">%s</span>
<div style="color: var(--c-oraTexPri)"><span>$5 RPM</span></div></div>`, href, name, name)
}

func tubeSite() *fake.Site {
	return &fake.Site{
		Documents: map[string]string{
			loginURL: loginForm,
			homeURL:  "<html><body>home</body></html>",
			channelsURL: "<html><body>" +
				channelCard("Alpha", "/channel/a") +
				channelCard("Beta", "/channel/b") +
				channelCard("Alpha again", "/channel/a?tab=1") +
				"</body></html>",
			videosURL: `<html><head><title>Videos</title></head><body>
<div class="video"></div><div class="video"></div><a href="/x">x</a><img src="/y.png"><button>b</button></body></html>`,
		},
		Redirects: map[string]string{submitSel: homeURL},
	}
}

type harness struct {
	orch     *Orchestrator
	jobs     *storemem.JobStore
	blobs    *storemem.BlobStore
	pub      *pubmem.Publisher
	notifier *recordingNotifier
	sessions *session.Registry
	launcher *fake.Launcher
	static   *fake.Launcher
	clock    *fakeClock
	logs     *observer.ObservedLogs
}

func newHarness(t *testing.T, site *fake.Site, mutate func(*Config)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	launcher := &fake.Launcher{Site: site}
	pool, err := browser.NewPool(launcher, 2, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	h := &harness{
		jobs:     storemem.NewJobStore(clock, &seqIDs{}, logger),
		blobs:    storemem.NewBlobStore(),
		pub:      pubmem.New(),
		notifier: &recordingNotifier{},
		sessions: session.NewRegistry(session.Config{TTL: time.Hour}, clock, &seqIDs{}, logger),
		launcher: launcher,
		static:   &fake.Launcher{Site: site},
		clock:    clock,
		logs:     logs,
	}
	cfg := Config{
		LoginURL:         loginURL,
		Credentials:      scrape.Credentials{Email: "ops@example.test", Password: "hunter2"},
		ChannelsURL:      channelsURL,
		VideosURL:        videosURL,
		FormTimeout:      50 * time.Millisecond,
		ChannelsWait:     50 * time.Millisecond,
		Topic:            "harvester-jobs",
		ArchiveSnapshots: true,
		SnapshotPrefix:   "snapshots",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.orch, err = New(cfg, Deps{
		Jobs:      h.jobs,
		Sessions:  h.sessions,
		Pool:      pool,
		Static:    h.static,
		Notifier:  h.notifier,
		Publisher: h.pub,
		Blobs:     h.blobs,
		Hasher:    &sha256.Hasher{Length: 16},
		Clock:     clock,
	}, logger)
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T, req scrape.JobRequest) scrape.Job {
	t.Helper()
	ctx := context.Background()
	job, err := h.jobs.Create(ctx, req)
	require.NoError(t, err)
	h.orch.Process(ctx, 1, scrape.QueueItem{JobID: job.ID, Request: job.Request})
	got, err := h.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	return got
}

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, Deps{}, nil)
	require.Error(t, err)

	pool, err := browser.NewPool(&fake.Launcher{Site: &fake.Site{}}, 1, nil)
	require.NoError(t, err)
	_, err = New(Config{}, Deps{Jobs: storemem.NewJobStore(&fakeClock{}, &seqIDs{}, nil), Pool: pool}, nil)
	require.ErrorContains(t, err, "clock")
}

func TestProcess_ChannelsJobCompletes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindChannels, WebhookURL: hookURL})

	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.Equal(t, 100, job.Progress)
	require.Empty(t, job.Error)

	res, ok := job.Result.(scrape.ChannelResult)
	require.True(t, ok, "result type %T", job.Result)
	require.Equal(t, 2, res.TotalChannels)
	require.Equal(t, "Alpha", res.Channels[0].Name)
	require.Equal(t, "Beta", res.Channels[1].Name)
	require.Equal(t, 1, res.Stats.Duplicates)
	require.Equal(t, channelsURL, res.URL)

	page := h.launcher.LastPage()
	require.Equal(t, "ops@example.test", page.Filled("#email"))
	require.Equal(t, "hunter2", page.Filled("#password"))
	require.Equal(t, []string{submitSel}, page.Clicked())
	require.Equal(t, []string{loginURL, channelsURL}, page.Visited())
	require.True(t, h.launcher.Browsers()[0].Closed(), "fresh browser must be closed after the job")

	require.True(t, strings.HasPrefix(res.SnapshotURI, "memory://snapshots/channels/"+job.ID+"/"), res.SnapshotURI)
	stored, ok := h.blobs.Object(strings.TrimPrefix(res.SnapshotURI, "memory://"))
	require.True(t, ok)
	require.Contains(t, string(stored), "channel-card")

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "harvester-jobs", msgs[0].Topic)
	ev, ok := msgs[0].Payload.(scrape.JobEvent)
	require.True(t, ok)
	require.Equal(t, "job.completed", ev.EventType())
	require.Equal(t, ev.EventType(), msgs[0].EventType)

	require.Equal(t, []string{hookURL}, h.notifier.urls)
	require.Equal(t, scrape.JobStatusCompleted, h.notifier.events[0].Status)
	require.NotNil(t, h.notifier.events[0].Result)

	for _, entry := range h.logs.All() {
		for _, f := range entry.Context {
			require.NotEqual(t, "hunter2", f.String, "password leaked into log %q", entry.Message)
		}
	}
}

func TestProcess_LoginRejectedFailsJob(t *testing.T) {
	t.Parallel()

	site := tubeSite()
	site.Redirects[submitSel] = loginURL + "?error=invalid"
	site.Documents[loginURL+"?error=invalid"] = loginForm
	h := newHarness(t, site, nil)

	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindChannels, WebhookURL: hookURL})
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, scrape.ErrLoginRejected.Error())
	require.Nil(t, job.Result)
	require.Len(t, h.notifier.events, 1)
	require.Equal(t, scrape.JobStatusFailed, h.notifier.events[0].Status)
	require.True(t, h.launcher.Browsers()[0].Closed())
}

func TestProcess_MissingLoginFormFailsJob(t *testing.T) {
	t.Parallel()

	site := tubeSite()
	site.Documents[loginURL] = `<html><body><p>maintenance</p></body></html>`
	h := newHarness(t, site, nil)

	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindChannels})
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, scrape.ErrLoginFormNotFound.Error())
	require.Len(t, h.logs.FilterMessage("selector wait failed, continuing").All(), 1)
}

func TestProcess_SlowRedirectProceeds(t *testing.T) {
	t.Parallel()

	site := tubeSite()
	delete(site.Redirects, submitSel)
	h := newHarness(t, site, func(c *Config) { c.RedirectTimeout = 3 * time.Second })

	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindChannels})
	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.GreaterOrEqual(t, h.clock.slept, 3*time.Second)
	require.Len(t, h.logs.FilterMessage("login redirect timed out, continuing").All(), 1)
}

func TestProcess_MissingCredentials(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), func(c *Config) { c.Credentials = scrape.Credentials{} })
	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindChannels})
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, ErrCredentialsMissing.Error())
}

func TestProcess_UsesLeasedSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	s, err := h.orch.Login(context.Background(), scrape.Credentials{})
	require.NoError(t, err)
	require.Equal(t, "ops@example.test", s.Owner)
	require.Equal(t, 1, h.sessions.Count())

	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindChannels, SessionID: s.ID})
	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.Len(t, h.launcher.Browsers(), 1, "session reuse must not launch a second browser")
	require.False(t, h.launcher.Browsers()[0].Closed())

	lease, err := h.sessions.Checkout(s.ID)
	require.NoError(t, err, "lease must be released after the job")
	lease.Release()
}

func TestProcess_UnknownSessionFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindChannels, SessionID: "missing"})
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, scrape.ErrSessionNotFound.Error())
	require.Empty(t, h.launcher.Browsers())
}

func TestProcess_NichesJob(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString(nicheCard("Orphan Niche", "/orphan"))
	b.WriteString("<h3>Finance</h3>")
	for i := 0; i < 3; i++ {
		b.WriteString(nicheCard(fmt.Sprintf("Finance %d", i), fmt.Sprintf("/f-%d", i)))
	}
	b.WriteString("<h3>Gaming</h3>")
	for i := 0; i < 3; i++ {
		b.WriteString(nicheCard(fmt.Sprintf("Gaming %d", i), fmt.Sprintf("/g-%d", i)))
	}
	b.WriteString("</body></html>")
	site := &fake.Site{Documents: map[string]string{nicheURL: b.String()}}
	h := newHarness(t, site, func(c *Config) { c.ArchiveSnapshots = false })

	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindNiches, URL: nicheURL})
	require.Equal(t, scrape.JobStatusCompleted, job.Status, job.Error)

	res, ok := job.Result.(scrape.NicheResult)
	require.True(t, ok)
	require.Equal(t, 7, res.TotalNiches)
	require.Empty(t, res.SnapshotURI)
	require.Equal(t, "uncategorized", res.Niches[0].Category)
	require.Equal(t, "Finance", res.Niches[1].Category)
	require.Equal(t, "Gaming", res.Niches[6].Category)

	scripts := h.launcher.LastPage().Scripts()
	require.Len(t, scripts, 6, "four scroll steps, back to top, then position stamping")
	require.Equal(t, "window.scrollTo(0, 0)", scripts[4])
	require.Equal(t, 25*time.Second+5*2*time.Second, h.clock.slept)
}

func TestProcess_NichesRejectsNonNotionURL(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindNiches, URL: "https://example.com/list"})
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, ErrNotNotionURL.Error())
	require.Empty(t, h.launcher.Browsers())
}

func TestProcess_PanicBecomesFailure(t *testing.T) {
	t.Parallel()

	site := tubeSite()
	site.PanicOn = channelsURL
	h := newHarness(t, site, nil)

	job := h.run(t, scrape.JobRequest{Kind: scrape.JobKindChannels})
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, "workflow panic")
	require.True(t, h.launcher.Browsers()[0].Closed(), "deferred release must still run")
}

func TestProcess_UnknownKind(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	job := h.run(t, scrape.JobRequest{Kind: "podcasts"})
	require.Equal(t, scrape.JobStatusFailed, job.Status)
	require.Contains(t, job.Error, ErrUnknownKind.Error())
}

func TestProcess_SkipsJobThatAlreadyStarted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	ctx := context.Background()
	job, err := h.jobs.Create(ctx, scrape.JobRequest{Kind: scrape.JobKindChannels})
	require.NoError(t, err)
	require.NoError(t, h.jobs.Transition(ctx, job.ID, scrape.JobStatusProcessing, scrape.Outcome{}))

	h.orch.Process(ctx, 1, scrape.QueueItem{JobID: job.ID, Request: job.Request})
	require.Empty(t, h.launcher.Browsers())
	require.Len(t, h.logs.FilterMessage("start job failed").All(), 1)
}

func TestLogin_FailureClosesBrowser(t *testing.T) {
	t.Parallel()

	site := tubeSite()
	site.Redirects[submitSel] = "https://app.test/login/error"
	site.Documents["https://app.test/login/error"] = loginForm
	h := newHarness(t, site, nil)

	_, err := h.orch.Login(context.Background(), scrape.Credentials{Email: "a@b.test", Password: "pw"})
	require.ErrorIs(t, err, scrape.ErrLoginRejected)
	require.Equal(t, 0, h.sessions.Count())
	require.True(t, h.launcher.Browsers()[0].Closed())
	require.Equal(t, "a@b.test", h.launcher.LastPage().Filled("#email"))
}

func TestVideos_Summary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	summary, err := h.orch.Videos(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, scrape.PageSummary{
		URL:         videosURL,
		Title:       "Videos",
		VideoCount:  2,
		LinkCount:   1,
		ImageCount:  1,
		ButtonCount: 1,
	}, summary)
}

func TestLoginAndExtract_ReadsLandingElement(t *testing.T) {
	t.Parallel()

	site := tubeSite()
	site.Documents[homeURL] = `<html><head><title>Dashboard</title></head><body><h1> TubeHunt.io </h1><h2>Welcome</h2></body></html>`
	h := newHarness(t, site, nil)

	res, err := h.orch.LoginAndExtract(context.Background(), ExtractRequest{})
	require.NoError(t, err)
	require.Equal(t, ExtractResult{Text: "TubeHunt.io", Found: true, URL: homeURL}, res)

	page := h.launcher.LastPage()
	require.Equal(t, "ops@example.test", page.Filled("#email"))
	require.Equal(t, []string{loginURL}, page.Visited())
	require.True(t, h.launcher.Browsers()[0].Closed())

	res, err = h.orch.LoginAndExtract(context.Background(), ExtractRequest{Selector: "h2"})
	require.NoError(t, err)
	require.Equal(t, "Welcome", res.Text)
}

func TestLoginAndExtract_FallsBackToTitle(t *testing.T) {
	t.Parallel()

	site := tubeSite()
	site.Documents[homeURL] = `<html><head><title>Dashboard</title></head><body><p>no heading</p></body></html>`
	h := newHarness(t, site, nil)

	res, err := h.orch.LoginAndExtract(context.Background(), ExtractRequest{Selector: ".missing", Wait: 10 * time.Millisecond})
	require.NoError(t, err)
	require.False(t, res.Found)
	require.Equal(t, "Dashboard", res.Text)
	require.Equal(t, 1, h.logs.FilterMessage("extract selector matched nothing, using title").Len())
}

func TestLoginAndExtract_LoginFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), func(c *Config) { c.Credentials = scrape.Credentials{} })
	_, err := h.orch.LoginAndExtract(context.Background(), ExtractRequest{})
	require.ErrorIs(t, err, ErrCredentialsMissing)
}

func TestPage_StaticAndRendered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	ctx := context.Background()

	res, err := h.orch.Page(ctx, PageRequest{URL: videosURL, Selectors: map[string]string{"videos": ".video", "nothing": ".none"}})
	require.NoError(t, err)
	require.Len(t, h.static.Browsers(), 1)
	require.Empty(t, h.launcher.Browsers())
	require.Nil(t, res.Data["nothing"])
	require.Len(t, res.Data["videos"], 2)

	res, err = h.orch.Page(ctx, PageRequest{URL: videosURL, Render: true})
	require.NoError(t, err)
	require.Len(t, h.launcher.Browsers(), 1)
	require.Equal(t, map[string]any{"title": "Videos", "url": videosURL}, res.Data)
}

func TestPage_NavigationError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, tubeSite(), nil)
	_, err := h.orch.Page(context.Background(), PageRequest{URL: "https://app.test/missing"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
	require.True(t, h.static.Browsers()[0].Closed())
}

func TestScroll_SkipsUnsupportedBackend(t *testing.T) {
	t.Parallel()

	site := &fake.Site{EvalErr: fmt.Errorf("static: %w", scrape.ErrUnsupported)}
	h := newHarness(t, site, nil)
	page := fake.NewPage(site)
	require.NoError(t, h.orch.scroll(context.Background(), page, zap.NewNop()))
	require.Len(t, page.Scripts(), 1)
	require.Zero(t, h.clock.slept)
}

func TestValidateNotionURL(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateNotionURL(nicheURL))
	require.True(t, errors.Is(ValidateNotionURL("https://notion.so/x"), ErrNotNotionURL))
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/browser/fake"
	"github.com/JakeFAU/listing-harvester/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadWithEnvFile("", "")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Jobs.Workers = 1
	cfg.Browser.Backend = "static"
	cfg.Storage.Backend = "memory"
	cfg.PubSub.ProjectID = ""
	return cfg
}

func TestBuild_ServesProbes(t *testing.T) {
	t.Parallel()

	launcher := &fake.Launcher{Site: &fake.Site{}}
	app, err := Build(context.Background(), testConfig(t), zap.NewNop(), WithLauncher(launcher))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	require.NotNil(t, app.Orchestrator())

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "workers are not running before Run")
}

func TestBuild_LocalStorageRequiresDirectory(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = "local"
	cfg.Storage.BaseDir = t.TempDir()
	app, err := Build(context.Background(), cfg, zap.NewNop(), WithLauncher(&fake.Launcher{Site: &fake.Site{}}))
	require.NoError(t, err)
	require.NoError(t, app.Close(context.Background()))

	cfg.Storage.BaseDir = "  "
	_, err = Build(context.Background(), cfg, zap.NewNop(), WithLauncher(&fake.Launcher{Site: &fake.Site{}}))
	require.ErrorContains(t, err, "local blob store init failed")
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	launcher := &fake.Launcher{Site: &fake.Site{}}
	app, err := Build(context.Background(), testConfig(t), zap.NewNop(), WithLauncher(launcher))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.dispatch.Ready() == nil }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.Error(t, app.dispatch.Ready())
}

func TestOrchestratorConfig_MapsSections(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Site.Email = "ops@example.test"
	cfg.Site.Password = "pw"
	cfg.Site.ChannelCardSelectors = []string{".card"}
	cfg.Niches.MinCandidates = 9
	cfg.Niches.HeaderSelector = "h2"
	cfg.Niches.UncategorizedLabel = "misc"

	oc := orchestratorConfig(cfg)
	require.Equal(t, cfg.Site.LoginURL, oc.LoginURL)
	require.Equal(t, "ops@example.test", oc.Credentials.Email)
	require.Equal(t, []string{".card"}, oc.ChannelSelectors)
	require.Equal(t, cfg.Jobs.JobTimeout, oc.JobTimeout)
	require.Equal(t, 30*time.Second, oc.FormTimeout)
	require.NotEqual(t, cfg.Browser.ElementTimeout, oc.FormTimeout)
	require.Equal(t, cfg.PubSub.TopicName, oc.Topic)
	require.Equal(t, 9, oc.NicheProfile.MinCandidates)
	require.Equal(t, "h2", oc.NicheProfile.HeaderSelector)
	require.Equal(t, "misc", oc.NicheProfile.Uncategorized)
	require.Equal(t, "niches", oc.NicheProfile.Name)
}

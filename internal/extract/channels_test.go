package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func channelCard(name, href string, videos int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="channel-card">
  <a class="fw-semibold fs-4" href="%s"> %s </a>
  <i class="bi bi-patch-check-fill"></i>
  <div class="small"><span class="fw-bold">@handle</span></div>
  <span class="country">BR</span>
  <div class="small text-secondary">Since 2020 • 1.2M inscritos</div>`, href, name)
	for _, v := range []string{"10M", "2M", "50K", "4 years", "120", "3.4x"} {
		fmt.Fprintf(&b, `<div class="stat-card"><div class="fs-4 fw-semibold">%s</div></div>`, v)
	}
	for i := 0; i < videos; i++ {
		fmt.Fprintf(&b, `<div class="entry-video"><a href="/watch/%d"><img class="video-thumb" src="/t/%d.jpg"></a>
<span class="duration">10:0%d</span>
<div class="mt-2 mb-2 text-dark fw-semibold small">Video %d</div>
<div class="small text-secondary">1K views • 5 comentários • 2 days ago</div></div>`, i, i, i, i)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func TestChannels_ExtractsSchema(t *testing.T) {
	t.Parallel()

	body := channelCard("Money Channel", "/channel/1", 8) + channelCard("Money Channel", "/channel/1", 0) +
		channelCard("Second", "/channel/2", 1)
	channels, stats := NewEngine(nil).Channels(mustSnapshot(t, body))
	require.Equal(t, "channel-card", stats.Strategy)
	require.Equal(t, 1, stats.Duplicates)
	require.Len(t, channels, 2)

	ch := channels[0]
	require.Equal(t, "Money Channel", ch.Name)
	require.Equal(t, "/channel/1", ch.Link)
	require.Equal(t, "@handle", ch.Handle)
	require.Equal(t, "BR", ch.Country)
	require.Equal(t, "1.2M", ch.Subscribers)
	require.True(t, ch.Verified)
	require.False(t, ch.Monetized)
	require.Equal(t, "10M", ch.TotalViews)
	require.Equal(t, "2M", ch.ViewsLast60Days)
	require.Equal(t, "50K", ch.AverageViewsPerVideo)
	require.Equal(t, "4 years", ch.TimeSinceFirstVideo)
	require.Equal(t, "120", ch.TotalVideos)
	require.Equal(t, "3.4x", ch.OutlierScore)

	require.Len(t, ch.RecentVideos, MaxRecentVideos)
	v := ch.RecentVideos[2]
	require.Equal(t, "Video 2", v.Title)
	require.Equal(t, "/watch/2", v.VideoLink)
	require.Equal(t, "/t/2.jpg", v.ThumbnailURL)
	require.Equal(t, "10:02", v.Duration)
	require.Equal(t, "1K", v.Views)
	require.Equal(t, "5", v.Comments)
	require.Equal(t, "2 days ago", v.UploadedTime)
}

func TestChannels_FallbackSelectors(t *testing.T) {
	t.Parallel()

	body := `<div data-testid="channel-row"><a class="fw-semibold fs-4" href="/c/9">Fallback</a></div>`
	channels, stats := NewEngine(nil).Channels(mustSnapshot(t, body))
	require.Equal(t, "channel-like", stats.Strategy)
	require.Len(t, channels, 1)
	require.Equal(t, "Fallback", channels[0].Name)
	require.Empty(t, channels[0].RecentVideos)
}

func TestChannels_DropsUnnamed(t *testing.T) {
	t.Parallel()

	channels, stats := NewEngine(nil).Channels(mustSnapshot(t, `<div class="channel-card"><span>nothing</span></div>`))
	require.Empty(t, channels)
	require.Equal(t, 1, stats.Unnamed)
}

func TestChannels_ConfiguredSelectors(t *testing.T) {
	t.Parallel()

	require.Equal(t, ChannelStrategies, ChannelSelectors(nil))

	body := `<section class="row"><a class="fw-semibold fs-4" href="/c/3">Configured</a></section>`
	channels, stats := NewEngine(nil).ChannelsWith(mustSnapshot(t, body), ChannelSelectors([]string{"section.row"}))
	require.Equal(t, "configured-0", stats.Strategy)
	require.Len(t, channels, 1)
	require.Equal(t, "/c/3", channels[0].Link)
}

package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// MaxRecentVideos caps the videos kept per channel.
const MaxRecentVideos = 6

const channelProfile = "channels"

// ChannelStrategies is the card cascade for the channel listing page.
var ChannelStrategies = []Strategy{
	SelectorStrategy{Label: "channel-card", Selector: ".channel-card"},
	SelectorStrategy{Label: "channel-like", Selector: "[data-testid*='channel'], .card, [class*='channel']"},
}

// statOrder maps the listing's stat cards, left to right, to channel fields.
var statOrder = []func(*scrape.Channel) *string{
	func(c *scrape.Channel) *string { return &c.TotalViews },
	func(c *scrape.Channel) *string { return &c.ViewsLast60Days },
	func(c *scrape.Channel) *string { return &c.AverageViewsPerVideo },
	func(c *scrape.Channel) *string { return &c.TimeSinceFirstVideo },
	func(c *scrape.Channel) *string { return &c.TotalVideos },
	func(c *scrape.Channel) *string { return &c.OutlierScore },
}

// ChannelSelectors turns an ordered selector list into a channel cascade.
// An empty list yields ChannelStrategies.
func ChannelSelectors(selectors []string) []Strategy {
	if len(selectors) == 0 {
		return ChannelStrategies
	}
	out := make([]Strategy, 0, len(selectors))
	for i, sel := range selectors {
		out = append(out, SelectorStrategy{Label: fmt.Sprintf("configured-%d", i), Selector: sel})
	}
	return out
}

// Channels extracts channel cards from the listing page using ChannelStrategies.
func (e *Engine) Channels(snap *Snapshot) ([]scrape.Channel, scrape.ExtractionStats) {
	return e.ChannelsWith(snap, ChannelStrategies)
}

// ChannelsWith extracts channel cards using the given cascade.
func (e *Engine) ChannelsWith(snap *Snapshot, strategies []Strategy) ([]scrape.Channel, scrape.ExtractionStats) {
	name, candidates := e.selectCandidates(snap.Doc.Selection, strategies, 1, channelProfile)
	stats := scrape.ExtractionStats{Strategy: name, Candidates: candidates.Length()}

	seen := make(map[string]struct{}, candidates.Length())
	channels := make([]scrape.Channel, 0, candidates.Length())
	candidates.Each(func(_ int, card *goquery.Selection) {
		ch := channel(card)
		if ch.Name == "" {
			stats.Unnamed++
			return
		}
		if key := canonicalLink(ch.Link); key != "" {
			if _, dup := seen[key]; dup {
				stats.Duplicates++
				return
			}
			seen[key] = struct{}{}
		}
		channels = append(channels, ch)
	})
	stats.Accepted = len(channels)

	metrics.ObserveExtraction(channelProfile, "accepted", stats.Accepted)
	metrics.ObserveExtraction(channelProfile, "duplicate", stats.Duplicates)
	metrics.ObserveExtraction(channelProfile, "unnamed", stats.Unnamed)
	e.logger.Info("channels extracted",
		zap.String("strategy", stats.Strategy),
		zap.Int("candidates", stats.Candidates),
		zap.Int("accepted", stats.Accepted),
		zap.Int("duplicates", stats.Duplicates),
	)
	return channels, stats
}

func channel(card *goquery.Selection) scrape.Channel {
	title := card.Find("a.fw-semibold.fs-4").First()
	ch := scrape.Channel{
		Name:      collapseSpace(title.Text()),
		Handle:    collapseSpace(card.Find(".small .fw-bold").First().Text()),
		Country:   collapseSpace(card.Find(".country").First().Text()),
		Verified:  card.Find("i.bi-patch-check-fill").Length() > 0,
		Monetized: card.Find("i.bi-currency-dollar").Length() > 0,
	}
	ch.Link, _ = title.Attr("href")

	subs := card.Find(".small.text-secondary").First().Text()
	if parts := strings.Split(subs, "•"); len(parts) > 1 {
		ch.Subscribers = trimUnit(parts[1], "inscritos", "subscribers")
	}

	stats := card.Find(".stat-card")
	for i, field := range statOrder {
		if i >= stats.Length() {
			break
		}
		*field(&ch) = collapseSpace(stats.Eq(i).Find(".fs-4.fw-semibold").First().Text())
	}

	ch.RecentVideos = make([]scrape.Video, 0, MaxRecentVideos)
	card.Find(".entry-video").EachWithBreak(func(_ int, v *goquery.Selection) bool {
		ch.RecentVideos = append(ch.RecentVideos, video(v))
		return len(ch.RecentVideos) < MaxRecentVideos
	})
	return ch
}

func video(v *goquery.Selection) scrape.Video {
	out := scrape.Video{
		Title:    collapseSpace(v.Find(".mt-2.mb-2.text-dark.fw-semibold.small").First().Text()),
		Duration: collapseSpace(v.Find(".duration").First().Text()),
	}
	out.VideoLink, _ = v.Find("a").First().Attr("href")
	out.ThumbnailURL, _ = v.Find(".video-thumb").First().Attr("src")

	statsText := v.Find(".small.text-secondary").First().Text()
	if strings.TrimSpace(statsText) == "" {
		return out
	}
	parts := strings.Split(statsText, "•")
	out.Views = trimUnit(parts[0], "views")
	if len(parts) > 1 {
		out.Comments = trimUnit(parts[1], "comentários", "comments")
	}
	if len(parts) > 2 {
		out.UploadedTime = collapseSpace(parts[2])
	}
	return out
}

func trimUnit(s string, units ...string) string {
	s = collapseSpace(s)
	for _, u := range units {
		s = strings.TrimSpace(strings.TrimSuffix(s, u))
	}
	return s
}

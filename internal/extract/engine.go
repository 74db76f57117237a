package extract

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Engine runs profiles against snapshots.
type Engine struct {
	logger *zap.Logger
}

// NewEngine builds an Engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Cards extracts, deduplicates and categorizes the cards described by p.
func (e *Engine) Cards(snap *Snapshot, p Profile) ([]scrape.Card, scrape.ExtractionStats) {
	name, candidates := e.selectCandidates(snap.Doc.Selection, p.Strategies, p.MinCandidates, p.Name)
	stats := scrape.ExtractionStats{Strategy: name, Candidates: candidates.Length()}

	unique := make([]*goquery.Selection, 0, candidates.Length())
	seen := make(map[string]struct{}, candidates.Length())
	candidates.Each(func(_ int, card *goquery.Selection) {
		key := DedupKey(card)
		if key != "" {
			if _, dup := seen[key]; dup {
				stats.Duplicates++
				return
			}
			seen[key] = struct{}{}
		}
		unique = append(unique, card)
	})

	sections := Sections(snap, p.HeaderSelector)
	cards := make([]scrape.Card, 0, len(unique))
	for _, sel := range unique {
		card := p.card(sel)
		if card.Name == "" {
			stats.Unnamed++
			continue
		}
		if !p.plausible(card) {
			stats.Rejected++
			continue
		}
		card.Position = snap.Position(sel)
		card.Category = Categorize(sections, card.Position, p.Uncategorized)
		cards = append(cards, card)
	}
	stats.Accepted = len(cards)

	metrics.ObserveExtraction(p.Name, "accepted", stats.Accepted)
	metrics.ObserveExtraction(p.Name, "duplicate", stats.Duplicates)
	metrics.ObserveExtraction(p.Name, "unnamed", stats.Unnamed)
	metrics.ObserveExtraction(p.Name, "rejected", stats.Rejected)
	e.logger.Info("cards extracted",
		zap.String("profile", p.Name),
		zap.String("strategy", stats.Strategy),
		zap.Int("candidates", stats.Candidates),
		zap.Int("accepted", stats.Accepted),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("unnamed", stats.Unnamed),
		zap.Int("rejected", stats.Rejected),
		zap.Int("sections", len(sections)),
		zap.Bool("layout", snap.Layout),
	)
	return cards, stats
}

// selectCandidates returns the first strategy reaching threshold, or else the one
// with the most candidates. Earlier strategies win ties.
func (e *Engine) selectCandidates(doc *goquery.Selection, strategies []Strategy, threshold int, profile string) (string, *goquery.Selection) {
	bestName := ""
	best := doc.Slice(0, 0)
	for _, s := range strategies {
		sel, err := runStrategy(s, doc)
		if err != nil {
			e.logger.Warn("extraction strategy failed",
				zap.String("profile", profile),
				zap.String("strategy", s.Name()),
				zap.Error(err),
			)
			continue
		}
		n := sel.Length()
		e.logger.Debug("extraction strategy evaluated",
			zap.String("profile", profile),
			zap.String("strategy", s.Name()),
			zap.Int("candidates", n),
		)
		if n >= threshold && n > 0 {
			return s.Name(), sel
		}
		if n > best.Length() {
			bestName, best = s.Name(), sel
		}
	}
	return bestName, best
}

// DedupKey is the card's first link with query and fragment removed.
func DedupKey(card *goquery.Selection) string {
	href, ok := card.Find("a[href]").First().Attr("href")
	if !ok {
		return ""
	}
	return canonicalLink(href)
}

func canonicalLink(href string) string {
	href = strings.TrimSpace(href)
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	return href
}

// Sections collects headers with text, ordered by position.
func Sections(snap *Snapshot, selector string) []scrape.Section {
	if selector == "" {
		return nil
	}
	var out []scrape.Section
	snap.Doc.Find(selector).Each(func(_ int, h *goquery.Selection) {
		label := collapseSpace(h.Text())
		if label == "" {
			return
		}
		out = append(out, scrape.Section{Label: label, Position: snap.Position(h)})
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Categorize returns the label of the last section at or above position.
func Categorize(sections []scrape.Section, position float64, fallback string) string {
	i := sort.Search(len(sections), func(i int) bool { return sections[i].Position > position })
	if i == 0 {
		return fallback
	}
	return sections[i-1].Label
}

func (p Profile) plausible(card scrape.Card) bool {
	if card.Link == "" {
		return false
	}
	if p.LinkPrefix != "" {
		if !strings.HasPrefix(card.Link, p.LinkPrefix) || strings.HasPrefix(card.Link, "//") {
			return false
		}
		if u, err := url.Parse(card.Link); err != nil || u.IsAbs() {
			return false
		}
	}
	for _, pattern := range p.PlaceholderImages {
		if card.ImageURL != "" && strings.Contains(card.ImageURL, pattern) {
			return false
		}
	}
	return true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

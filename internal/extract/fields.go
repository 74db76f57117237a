package extract

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// card reads the fixed schema from one candidate element.
func (p Profile) card(sel *goquery.Selection) scrape.Card {
	card := scrape.Card{Fields: make(map[string]string, len(p.MetricFields))}
	if href, ok := sel.Find("a[href]").First().Attr("href"); ok {
		card.Link = href
	}
	if src, ok := sel.Find("img[src]").First().Attr("src"); ok {
		card.ImageURL = src
	}

	leaves := p.leafTexts(sel)
	card.Name = p.name(sel, leaves)

	for field, selector := range p.FieldSelectors {
		if text := firstText(sel, selector); text != "" {
			card.Fields[field] = text
		}
	}
	// Remaining metric fields take the leftover leaves in order.
	rest := make([]string, 0, len(leaves))
	for _, text := range leaves {
		if text != card.Name && !p.claimed(card.Fields, text) {
			rest = append(rest, text)
		}
	}
	for _, field := range p.MetricFields {
		if _, ok := card.Fields[field]; ok {
			continue
		}
		if len(rest) == 0 {
			break
		}
		card.Fields[field], rest = rest[0], rest[1:]
	}
	return card
}

func (p Profile) name(sel *goquery.Selection, leaves []string) string {
	for _, selector := range p.NameSelectors {
		if text := firstText(sel, selector); text != "" {
			return text
		}
	}
	for _, text := range leaves {
		if len(text) < p.MinNameLength {
			continue
		}
		if p.MetricPattern != nil && p.MetricPattern.MatchString(text) {
			continue
		}
		return text
	}
	return ""
}

func (p Profile) leafTexts(sel *goquery.Selection) []string {
	if p.LeafSelector == "" {
		return nil
	}
	m, err := cascadia.Compile(p.LeafSelector)
	if err != nil {
		return nil
	}
	var out []string
	sel.FindMatcher(m).Each(func(_ int, leaf *goquery.Selection) {
		// Only innermost leaves; a wrapping span repeats its children's text.
		if leaf.FindMatcher(m).Length() > 0 {
			return
		}
		if text := collapseSpace(leaf.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func (p Profile) claimed(fields map[string]string, text string) bool {
	for _, v := range fields {
		if v == text {
			return true
		}
	}
	return false
}

// firstText returns the text of the first element matching selector, or ""
// when the selector is invalid or matches nothing with text.
func firstText(sel *goquery.Selection, selector string) string {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return ""
	}
	var text string
	sel.FindMatcher(m).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text = collapseSpace(s.Text())
		return text == ""
	})
	return text
}

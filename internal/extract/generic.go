package extract

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// Selectors maps each field to the text of the elements its selector
// matches: nil for none or an invalid selector, a string for one, and a
// []string for several.
func Selectors(snap *Snapshot, fields map[string]string) map[string]any {
	out := make(map[string]any, len(fields))
	for field, selector := range fields {
		m, err := cascadia.Compile(selector)
		if err != nil {
			out[field] = nil
			continue
		}
		matches := snap.Doc.FindMatcher(m)
		switch matches.Length() {
		case 0:
			out[field] = nil
		case 1:
			out[field] = collapseSpace(matches.Text())
		default:
			texts := make([]string, 0, matches.Length())
			matches.Each(func(_ int, s *goquery.Selection) {
				texts = append(texts, collapseSpace(s.Text()))
			})
			out[field] = texts
		}
	}
	return out
}

// FirstText returns the collapsed text of the first element selector
// matches. An invalid selector matches nothing.
func FirstText(snap *Snapshot, selector string) (string, bool) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return "", false
	}
	first := snap.Doc.FindMatcher(m).First()
	if first.Length() == 0 {
		return "", false
	}
	return collapseSpace(first.Text()), true
}

// Summary counts common element kinds on the page.
func Summary(snap *Snapshot) scrape.PageSummary {
	doc := snap.Doc
	return scrape.PageSummary{
		URL:         snap.URL,
		Title:       collapseSpace(doc.Find("title").First().Text()),
		VideoCount:  doc.Find(".video").Length(),
		LinkCount:   doc.Find("a").Length(),
		ImageCount:  doc.Find("img").Length(),
		ButtonCount: doc.Find("button").Length(),
	}
}

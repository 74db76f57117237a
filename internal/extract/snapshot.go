package extract

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

// PositionAttr holds an element's absolute top offset in CSS pixels.
const PositionAttr = "data-harvest-top"

const stampScript = `(() => {
  const y = window.scrollY || 0;
  let n = 0;
  document.querySelectorAll('body *').forEach((el) => {
    el.setAttribute('` + PositionAttr + `', String(Math.round(el.getBoundingClientRect().top + y)));
    n++;
  });
  return n;
})()`

// Snapshot is a parsed copy of a page. When Layout is false the positions
// are document-order ordinals instead of pixel offsets.
type Snapshot struct {
	Doc    *goquery.Document
	URL    string
	HTML   string
	Layout bool

	ordinals map[*html.Node]int
}

// TakeSnapshot stamps positions on the live page, then reads and parses it.
// A stamping failure degrades to document order.
func TakeSnapshot(ctx context.Context, page scrape.Page) (*Snapshot, error) {
	var stamped int
	layout := page.Evaluate(ctx, stampScript, &stamped) == nil && stamped > 0

	body, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page html: %w", err)
	}
	url, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("read page url: %w", err)
	}
	snap, err := NewSnapshot(body, url)
	if err != nil {
		return nil, err
	}
	snap.Layout = layout && snap.Layout
	return snap, nil
}

// NewSnapshot parses body. Layout is set when the markup already carries
// position attributes.
func NewSnapshot(body, url string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page html: %w", err)
	}
	return &Snapshot{
		Doc:    doc,
		URL:    url,
		HTML:   body,
		Layout: doc.Find("[" + PositionAttr + "]").Length() > 0,
	}, nil
}

// Position returns the vertical position of the first node in sel.
func (s *Snapshot) Position(sel *goquery.Selection) float64 {
	if sel.Length() == 0 {
		return 0
	}
	node := sel.Get(0)
	if s.Layout {
		for n := node; n != nil; n = n.Parent {
			if v, ok := attr(n, PositionAttr); ok {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					return f
				}
			}
		}
		return 0
	}
	return float64(s.ordinal(node))
}

func (s *Snapshot) ordinal(node *html.Node) int {
	if s.ordinals == nil {
		s.ordinals = make(map[*html.Node]int)
		i := 0
		var walk func(*html.Node)
		walk = func(n *html.Node) {
			if n.Type == html.ElementNode {
				s.ordinals[n] = i
				i++
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walk(c)
			}
		}
		for _, root := range s.Doc.Nodes {
			walk(root)
		}
	}
	return s.ordinals[node]
}

func attr(n *html.Node, key string) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

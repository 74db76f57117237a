package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Strategy enumerates candidate card elements in a document.
type Strategy interface {
	Name() string
	Candidates(doc *goquery.Selection) (*goquery.Selection, error)
}

// SelectorStrategy matches cards with a single CSS selector.
type SelectorStrategy struct {
	Label    string
	Selector string
}

// Name implements Strategy.
func (s SelectorStrategy) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Selector
}

// Candidates implements Strategy.
func (s SelectorStrategy) Candidates(doc *goquery.Selection) (*goquery.Selection, error) {
	m, err := cascadia.Compile(s.Selector)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", s.Selector, err)
	}
	return doc.FindMatcher(m), nil
}

// ShapeStrategy accepts containers that look like a card: exactly one image,
// at least one link and a bounded amount of text. Nested matches collapse to
// the innermost one.
type ShapeStrategy struct {
	Label     string
	Container string
	MinText   int
	MaxText   int
	// Exclude drops containers holding an element that matches it.
	Exclude string
}

// Name implements Strategy.
func (s ShapeStrategy) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "shape"
}

// Candidates implements Strategy.
func (s ShapeStrategy) Candidates(doc *goquery.Selection) (*goquery.Selection, error) {
	container := s.Container
	if container == "" {
		container = "div"
	}
	containerMatcher, err := cascadia.Compile(container)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", container, err)
	}
	var exclude cascadia.Selector
	if s.Exclude != "" {
		if exclude, err = cascadia.Compile(s.Exclude); err != nil {
			return nil, fmt.Errorf("compile %q: %w", s.Exclude, err)
		}
	}

	matched := doc.FindMatcher(containerMatcher).FilterFunction(func(_ int, sel *goquery.Selection) bool {
		if sel.Find("img").Length() != 1 || sel.Find("a").Length() == 0 {
			return false
		}
		if exclude != nil && sel.FindMatcher(exclude).Length() > 0 {
			return false
		}
		n := len(strings.TrimSpace(sel.Text()))
		return n > s.MinText && (s.MaxText <= 0 || n < s.MaxText)
	})

	set := make(map[*html.Node]struct{}, matched.Length())
	for _, n := range matched.Nodes {
		set[n] = struct{}{}
	}
	return matched.FilterFunction(func(_ int, sel *goquery.Selection) bool {
		return !hasMatchedDescendant(sel.Get(0), set)
	}), nil
}

func hasMatchedDescendant(n *html.Node, set map[*html.Node]struct{}) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if _, ok := set[c]; ok {
			return true
		}
		if hasMatchedDescendant(c, set) {
			return true
		}
	}
	return false
}

// runStrategy contains selector errors and panics so one broken strategy only
// costs its own candidates.
func runStrategy(s Strategy, doc *goquery.Selection) (sel *goquery.Selection, err error) {
	defer func() {
		if r := recover(); r != nil {
			sel, err = nil, fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Candidates(doc)
}

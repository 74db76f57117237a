package extract

import "regexp"

// Profile configures card extraction for one kind of listing page.
type Profile struct {
	Name          string
	Strategies    []Strategy
	MinCandidates int

	HeaderSelector string
	Uncategorized  string

	// LinkPrefix is the path prefix every accepted card link must start with.
	LinkPrefix string
	// PlaceholderImages are substrings that mark an image as an icon.
	PlaceholderImages []string

	// NameSelectors are tried in order; the first non-empty text wins.
	NameSelectors []string
	// LeafSelector lists the text-bearing children used for the name
	// fallback and for positional metric fields.
	LeafSelector string
	// MetricPattern marks leaf text that is a metric and never a name.
	MetricPattern *regexp.Regexp
	MinNameLength int

	// FieldSelectors locate named fields directly. Fields listed in
	// MetricFields but not found here are filled positionally from leaves.
	FieldSelectors map[string]string
	MetricFields   []string
}

// NicheProfile matches the curated niche gallery on a public Notion page.
func NicheProfile() Profile {
	return Profile{
		Name: "niches",
		Strategies: []Strategy{
			SelectorStrategy{Label: "collection-item", Selector: ".notion-collection-item"},
			SelectorStrategy{Label: "page-block", Selector: "div[data-block-id].notion-page-block"},
			ShapeStrategy{Label: "shape", Container: "div", MinText: 20, MaxText: 3000, Exclude: ".notion-collection-item"},
		},
		MinCandidates:     5,
		HeaderSelector:    "h3",
		Uncategorized:     "uncategorized",
		LinkPrefix:        "/",
		PlaceholderImages: []string{"/icons/", ".svg"},
		NameSelectors: []string{
			"div[style*='position: relative; width: 100%; display: flex;'] [contenteditable='false']",
			"span.notion-enable-hover",
		},
		LeafSelector:  "span",
		MetricPattern: regexp.MustCompile(`\$|RPM`),
		MinNameLength: 4,
		FieldSelectors: map[string]string{
			"rpm":       "div[style*='color: var(--c-oraTexPri)'] span",
			"sub_niche": "div[style*='color: var(--c-redTexPri)'] span",
		},
		MetricFields: []string{"rpm", "sub_niche"},
	}
}

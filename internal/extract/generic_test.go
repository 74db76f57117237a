package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/scrape"
)

func TestSelectors(t *testing.T) {
	t.Parallel()

	snap := mustSnapshot(t, `<h1>Title</h1><li>a</li><li> b  c </li>`)
	got := Selectors(snap, map[string]string{
		"heading": "h1",
		"items":   "li",
		"missing": ".nope",
		"invalid": "[[",
	})
	require.Equal(t, "Title", got["heading"])
	require.Equal(t, []string{"a", "b c"}, got["items"])
	require.Contains(t, got, "missing")
	require.Nil(t, got["missing"])
	require.Nil(t, got["invalid"])
}

func TestFirstText(t *testing.T) {
	t.Parallel()

	snap := mustSnapshot(t, `<h1> Dashboard  home </h1><h1>Second</h1>`)
	text, ok := FirstText(snap, "h1")
	require.True(t, ok)
	require.Equal(t, "Dashboard home", text)

	_, ok = FirstText(snap, ".missing")
	require.False(t, ok)
	_, ok = FirstText(snap, "[[")
	require.False(t, ok)
}

func TestSummary(t *testing.T) {
	t.Parallel()

	snap, err := NewSnapshot(`<html><head><title> Videos </title></head><body>
<div class="video"></div><div class="video"></div><a></a><img><button></button><button></button></body></html>`, "https://app.example/videos")
	require.NoError(t, err)

	s := Summary(snap)
	require.Equal(t, scrape.PageSummary{
		URL:         "https://app.example/videos",
		Title:       "Videos",
		VideoCount:  2,
		LinkCount:   1,
		ImageCount:  1,
		ButtonCount: 2,
	}, s)
}

type snapshotPage struct {
	scrape.Page
	html     string
	evalErr  error
	stamped  int
	evaluate int
}

func (p *snapshotPage) Evaluate(_ context.Context, _ string, out any) error {
	p.evaluate++
	if p.evalErr != nil {
		return p.evalErr
	}
	*(out.(*int)) = p.stamped
	return nil
}

func (p *snapshotPage) HTML(context.Context) (string, error) { return p.html, nil }

func (p *snapshotPage) URL(context.Context) (string, error) { return "https://example.test/", nil }

func TestTakeSnapshot_LayoutDependsOnStamping(t *testing.T) {
	t.Parallel()

	page := &snapshotPage{html: `<p data-harvest-top="10">x</p>`, stamped: 3}
	snap, err := TakeSnapshot(context.Background(), page)
	require.NoError(t, err)
	require.True(t, snap.Layout)
	require.Equal(t, "https://example.test/", snap.URL)
	require.InDelta(t, 10.0, snap.Position(snap.Doc.Find("p")), 0.001)

	page = &snapshotPage{html: `<p>x</p><p>y</p>`, evalErr: errors.New("unsupported")}
	snap, err = TakeSnapshot(context.Background(), page)
	require.NoError(t, err)
	require.False(t, snap.Layout)
	ps := snap.Doc.Find("p")
	require.Less(t, snap.Position(ps.First()), snap.Position(ps.Last()))
}

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeHost(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard https", "https://App.TubeHunt.io/long/?page=1", "app.tubehunt.io"},
		{"no scheme", "example.notion.site/page", "example.notion.site"},
		{"host with port", "localhost:8080", "localhost"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeHost(tc.input); got != tc.expected {
				t.Errorf("SanitizeHost(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitAndObserve(t *testing.T) {
	Init()
	Init()

	if jobsTotal == nil || webhookAttemptsTotal == nil || activeSessions == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	before := testutil.ToFloat64(jobsTotal.WithLabelValues("niches", "completed"))
	ObserveJob("niches", "completed")
	if got := testutil.ToFloat64(jobsTotal.WithLabelValues("niches", "completed")); got != before+1 {
		t.Errorf("expected jobs counter to grow by 1, got %f -> %f", before, got)
	}

	SetActiveSessions(3)
	if got := testutil.ToFloat64(activeSessions); got != 3 {
		t.Errorf("expected 3 active sessions, got %f", got)
	}

	ObserveExtraction("niches", "accepted", 0)
	ObserveExtraction("niches", "accepted", 4)
	if got := testutil.ToFloat64(extractionCardsTotal.WithLabelValues("niches", "accepted")); got < 4 {
		t.Errorf("expected at least 4 accepted cards, got %f", got)
	}
}

func FuzzSanitizeHost(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeHost(orig) == "" {
			t.Errorf("SanitizeHost(%q) returned an empty string", orig)
		}
	})
}

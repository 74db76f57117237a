package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddleware(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/jobs/{job_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/abc", nil))

	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")); got != before+1 {
		t.Errorf("expected one more 418 request, got %f -> %f", before, got)
	}
	if n := testutil.CollectAndCount(httpRequestDurationSeconds); n <= 0 {
		t.Errorf("expected duration histogram to be observed, got %d", n)
	}
}

package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected scrape status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestRegistryCarriesGLCollectors(t *testing.T) {
	m := NewMetrics()
	posting.NewMetrics(m.Registerer())
	_ = jobmetrics.NewMetrics(m.Registerer()).Track("gl_integrity").End(nil)

	body := scrape(t, m)
	for _, name := range []string{"odyssey_jobs_total", "go_goroutines", "odyssey_http_in_flight_requests"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in scrape", name)
		}
	}
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewMetrics()
	var inFlight float64

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Post("/gl/postings/{sourceID}", func(w http.ResponseWriter, _ *http.Request) {
		inFlight = testutil.ToFloat64(m.inFlight)
		w.WriteHeader(http.StatusConflict)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/gl/postings/"+id, nil))
	}

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("/gl/postings/{sourceID}", "409")); got != 3 {
		t.Fatalf("expected 3 requests on the route pattern, got %v", got)
	}
	if inFlight != 1 {
		t.Fatalf("expected one in-flight request while handling, got %v", inFlight)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected in-flight gauge to drain, got %v", got)
	}
	if n := testutil.CollectAndCount(m.requestDuration); n != 1 {
		t.Fatalf("expected one duration series, got %d", n)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without metrics, got %d", rr.Code)
	}

	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatalf("expected passthrough middleware")
	}
}

package perf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-gl/internal/testing/gltest"
)

func newRouter(t testing.TB, w *gltest.World) http.Handler {
	t.Helper()
	svc := reconcile.NewService(w.Reconciler, w.Store, w.Tracker, nil, w.Logger)
	svc.WithNow(func() time.Time { return w.Now })
	handler := accounting.NewHandler(w.Logger, w.Engine, svc,
		accounts.NewHandler(w.Logger, accounts.NewService(w.Store, w.Resolver)), w.Tracker)
	handler.ReconcileRate = 1 << 20
	r := chi.NewRouter()
	r.Route("/gl", handler.MountRoutes)
	return r
}

func TestPostingLatencyTargets(t *testing.T) {
	w := gltest.NewWorld(t)
	router := newRouter(t, w)
	cc := w.Ref(t, "cost_center", "CC-001")

	var posting, reconciling []time.Duration
	for i := 0; i < 40; i++ {
		src := w.ManufacturingOrder(t, "500", "200", "100", cc)
		start := time.Now()
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/gl/postings/"+src.ID.String(), nil))
		posting = append(posting, time.Since(start))
		if rec.Code != http.StatusCreated {
			t.Fatalf("post %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
	}
	for i := 0; i < 20; i++ {
		start := time.Now()
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gl/reconciliation?period="+gltest.Period+"&axis=cost_center", nil))
		reconciling = append(reconciling, time.Since(start))
		if rec.Code != http.StatusOK {
			t.Fatalf("reconcile %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
	}

	scenarios := []struct {
		name      string
		samples   []time.Duration
		threshold time.Duration
	}{
		{name: "post", samples: posting, threshold: 250 * time.Millisecond},
		{name: "reconcile", samples: reconciling, threshold: 500 * time.Millisecond},
	}
	for _, scenario := range scenarios {
		p95 := percentile95(scenario.samples)
		if p95 > scenario.threshold {
			t.Fatalf("%s latency regression: p95=%s threshold=%s", scenario.name, p95, scenario.threshold)
		}
	}
}

func BenchmarkPostManufacturingOrder(b *testing.B) {
	w := gltest.NewWorld(b)
	cc := w.Ref(b, "cost_center", "CC-001")
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		src := w.ManufacturingOrder(b, "500", "200", "100", cc)
		b.StartTimer()
		if _, err := w.Engine.Post(ctx, src.ID, 1); err != nil {
			b.Fatalf("post: %v", err)
		}
	}
}

func BenchmarkReconcile(b *testing.B) {
	w := gltest.NewWorld(b)
	cc := w.Ref(b, "cost_center", "CC-001")
	ctx := context.Background()
	for i := 0; i < 500; i++ {
		src := w.ManufacturingOrder(b, "500", "200", "100", cc)
		if i%10 == 0 {
			continue
		}
		if _, err := w.Engine.Post(ctx, src.ID, 1); err != nil {
			b.Fatalf("post: %v", err)
		}
	}
	req := reconcile.Request{Period: gltest.Period, Axis: "cost_center"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := w.Reconciler.Reconcile(ctx, req); err != nil {
			b.Fatalf("reconcile: %v", err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}

package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/testing/gltest"
)

func newCache(t *testing.T) *cache.Versioned {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewVersioned(client, time.Minute)
}

func TestServiceCurrentCachesUntilBump(t *testing.T) {
	w := gltest.NewWorld(t)
	versioned := newCache(t)
	w.Engine.WithInvalidator(versioned)
	svc := reconcile.NewService(w.Reconciler, w.Store, w.Tracker, versioned, w.Logger)
	ctx := context.Background()
	cc := w.Ref(t, "cost_center", "CC-001")

	first := w.ManufacturingOrder(t, "100", "0", "0", cc)
	_, err := w.Engine.Post(ctx, first.ID, 1)
	require.NoError(t, err)

	report, err := svc.Current(ctx, costCenterRequest())
	require.NoError(t, err)
	assert.Equal(t, "100.00", rowByCode(t, report, "CC-001").LedgerTotal.StringFixed(2))

	// registering a source does not bump; the cached report is served
	w.ManufacturingOrder(t, "50", "0", "0", cc)
	cached, err := svc.Current(ctx, costCenterRequest())
	require.NoError(t, err)
	assert.Equal(t, report.ID, cached.ID)

	// a posting bumps the version
	second := w.ManufacturingOrder(t, "25", "0", "0", cc)
	_, err = w.Engine.Post(ctx, second.ID, 1)
	require.NoError(t, err)
	fresh, err := svc.Current(ctx, costCenterRequest())
	require.NoError(t, err)
	row := rowByCode(t, fresh, "CC-001")
	assert.Equal(t, "175.00", row.SourceTotal.StringFixed(2))
	assert.Equal(t, "125.00", row.LedgerTotal.StringFixed(2))
	assert.NotEqual(t, report.ID, fresh.ID)

	stored, err := svc.List(ctx, "", "", 0)
	require.NoError(t, err)
	assert.Empty(t, stored, "current reads are not persisted")
}

func TestServiceCurrentWithoutCache(t *testing.T) {
	w := gltest.NewWorld(t)
	svc := reconcile.NewService(w.Reconciler, nil, nil, nil, w.Logger)
	report, err := svc.Current(context.Background(), costCenterRequest())
	require.NoError(t, err)
	assert.Empty(t, report.Rows)

	_, err = svc.Get(context.Background(), uuid.New())
	assert.Error(t, err)
}

func TestServiceRunPersistsAndAudits(t *testing.T) {
	w := gltest.NewWorld(t)
	svc := reconcile.NewService(w.Reconciler, w.Store, w.Tracker, nil, w.Logger)
	svc.WithNow(func() time.Time { return w.Now })
	ctx := context.Background()
	cc := w.Ref(t, "cost_center", "CC-001")

	posted := w.ManufacturingOrder(t, "5000", "2000", "1000", cc)
	_, err := w.Engine.Post(ctx, posted.ID, 1)
	require.NoError(t, err)
	clean, err := svc.Run(ctx, costCenterRequest(), 7)
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusReconciled, clean.Status)
	assert.True(t, clean.GeneratedAt.Equal(w.Now), "run stamps the report when persisting")

	again, err := svc.Run(ctx, costCenterRequest(), 7)
	require.NoError(t, err)
	assert.Equal(t, clean.ID, again.ID)

	w.ManufacturingOrder(t, "5000", "2000", "1000", cc)
	variance, err := svc.Run(ctx, costCenterRequest(), 8)
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusVarianceDetected, variance.Status)

	reports, err := svc.List(ctx, gltest.Period, "cost_center", 10)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, variance.ID, reports[0].ID)

	got, err := svc.Get(ctx, clean.ID)
	require.NoError(t, err)
	assert.Equal(t, clean.Status, got.Status)
	_, err = svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, reconcile.ErrReportNotFound)

	timeline, err := w.Tracker.Timeline(ctx, audit.TimelineFilters{Kind: audit.KindReconciliation})
	require.NoError(t, err)
	require.Len(t, timeline.Rows, 3)
	newest := timeline.Rows[0]
	assert.Equal(t, audit.StatusReconciled, newest.From)
	assert.Equal(t, audit.StatusVarianceDetected, newest.To)
	assert.Equal(t, int64(8), newest.ActorID)
	oldest := timeline.Rows[2]
	assert.Equal(t, audit.StatusUnreconciled, oldest.From)
}

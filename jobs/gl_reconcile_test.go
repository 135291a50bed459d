package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/testing/gltest"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

func newReconcileJob(t *testing.T) (*gltest.World, *jobs.ReconcileJob, *cache.Locker) {
	t.Helper()
	w := gltest.NewWorld(t)
	svc := reconcile.NewService(w.Reconciler, w.Store, w.Tracker, nil, w.Logger)
	svc.WithNow(func() time.Time { return w.Now })

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := cache.NewLocker(client)

	job := jobs.NewReconcileJob(svc, locker, []string{"cost_center"}, w.Logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return w.Now })
	return w, job, locker
}

func TestReconcileJobRunsConfiguredAxes(t *testing.T) {
	w, job, _ := newReconcileJob(t)
	src := w.ManufacturingOrder(t, "5000", "2000", "1000", w.Ref(t, "cost_center", "CC-001"))
	_, err := w.Engine.Post(context.Background(), src.ID, 7)
	require.NoError(t, err)

	outcomes, err := job.Run(context.Background(), jobs.ReconcilePayload{Period: jobs.PeriodCurrent})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "cost_center", outcomes[0].Axis)
	assert.Equal(t, reconcile.StatusReconciled, outcomes[0].Status)
	assert.Zero(t, outcomes[0].VarianceRows)
	assert.NotEmpty(t, outcomes[0].ReportID)

	reports, err := w.Store.ListReports(context.Background(), gltest.Period, "cost_center", 10)
	require.NoError(t, err)
	assert.Len(t, reports, 1)
}

func TestReconcileJobCountsVarianceRows(t *testing.T) {
	w, job, _ := newReconcileJob(t)
	w.ManufacturingOrder(t, "5000", "2000", "1000", w.Ref(t, "cost_center", "CC-001"))

	outcomes, err := job.Run(context.Background(), jobs.ReconcilePayload{Period: gltest.Period, Modules: []string{"manufacturing"}})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1, outcomes[0].VarianceRows)
	assert.NotEqual(t, reconcile.StatusReconciled, outcomes[0].Status)
}

func TestReconcileJobSkipsLockedAxis(t *testing.T) {
	_, job, locker := newReconcileJob(t)
	release, ok, err := locker.Acquire(context.Background(), shared.ReconcileLockKey(gltest.Period, "cost_center"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = release(context.Background()) }()

	outcomes, err := job.Run(context.Background(), jobs.ReconcilePayload{Period: gltest.Period})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Skipped)
	assert.Empty(t, outcomes[0].ReportID)
}

func TestReconcileJobSkipsRetryOnBadInput(t *testing.T) {
	_, job, _ := newReconcileJob(t)

	_, err := job.Run(context.Background(), jobs.ReconcilePayload{Period: "October"})
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	_, err = job.Run(context.Background(), jobs.ReconcilePayload{Period: gltest.Period, Axes: []string{"region"}})
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = job.Handle(context.Background(), asynq.NewTask(jobs.TaskGLReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileJobHandleDecodesPayload(t *testing.T) {
	_, job, _ := newReconcileJob(t)
	task, err := jobs.NewReconcileTask(jobs.ReconcilePayload{})
	require.NoError(t, err)
	assert.Equal(t, jobs.TaskGLReconcile, task.Type())

	var payload jobs.ReconcilePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, jobs.PeriodCurrent, payload.Period)
	assert.NoError(t, job.Handle(context.Background(), task))
}

func TestResolvePeriod(t *testing.T) {
	now := time.Date(2025, 3, 31, 23, 0, 0, 0, time.UTC)
	cases := map[string]string{
		"":         "2025-03",
		"current":  "2025-03",
		"Previous": "2025-02",
		"2024-12":  "2024-12",
	}
	for in, want := range cases {
		got, err := jobs.ResolvePeriod(in, now)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	got, err := jobs.ResolvePeriod(jobs.PeriodPrevious, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2024-12", got)

	_, err = jobs.ResolvePeriod("2025-13", now)
	assert.Error(t, err)
}

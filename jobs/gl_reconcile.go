package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/reconcile"
	gl "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/shared"
)

const reconcileLockTTL = 10 * time.Minute

// ReconcileRunner persists a reconciliation report.
type ReconcileRunner interface {
	Run(ctx context.Context, req reconcile.Request, actorID int64) (reconcile.Report, error)
}

// Locker grants exclusive locks so two workers never reconcile the same period and axis.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// ReconcileOutcome summarises one axis of a run.
type ReconcileOutcome struct {
	Axis         string
	ReportID     string
	Status       reconcile.Status
	VarianceRows int
	Skipped      bool
}

// ReconcileJob reconciles every configured axis of a period in parallel.
type ReconcileJob struct {
	Runner      ReconcileRunner
	Locker      Locker
	Axes        []string
	Concurrency int
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(runner ReconcileRunner, locker Locker, axes []string, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Runner:      runner,
		Locker:      locker,
		Axes:        axes,
		Concurrency: 4,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the reconcile task.
func (j *ReconcileJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload ReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run reconciles the payload scope and returns one outcome per axis.
func (j *ReconcileJob) Run(ctx context.Context, payload ReconcilePayload) ([]ReconcileOutcome, error) {
	if j == nil || j.Runner == nil {
		return nil, errors.New("gl reconcile: dependencies not configured")
	}
	tracker := j.metrics().Track("gl_reconcile")
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	period, err := ResolvePeriod(payload.Period, j.now())
	if err != nil {
		resultErr = fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		return nil, resultErr
	}
	axes := payload.Axes
	if len(axes) == 0 {
		axes = j.Axes
	}
	if len(axes) == 0 {
		resultErr = fmt.Errorf("%w: gl reconcile: no axes configured", asynq.SkipRetry)
		return nil, resultErr
	}
	modules := make([]gl.ModuleType, 0, len(payload.Modules))
	for _, m := range payload.Modules {
		modules = append(modules, gl.ModuleType(strings.ToUpper(m)))
	}

	outcomes := make([]ReconcileOutcome, len(axes))
	g, gctx := errgroup.WithContext(ctx)
	if j.Concurrency > 0 {
		g.SetLimit(j.Concurrency)
	}
	for i, axis := range axes {
		g.Go(func() error {
			outcome, err := j.reconcileAxis(gctx, period, axis, modules)
			outcomes[i] = outcome
			return err
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		return outcomes, resultErr
	}
	j.log().Info("gl reconciliation finished", slog.String("period", period), slog.Int("axes", len(axes)))
	return outcomes, resultErr
}

func (j *ReconcileJob) reconcileAxis(ctx context.Context, period, axis string, modules []gl.ModuleType) (ReconcileOutcome, error) {
	outcome := ReconcileOutcome{Axis: axis}
	logger := j.log().With(slog.String("period", period), slog.String("axis", axis))

	release := func(context.Context) error { return nil }
	if j.Locker != nil {
		rel, ok, err := j.Locker.Acquire(ctx, shared.ReconcileLockKey(period, axis), reconcileLockTTL)
		if err != nil {
			return outcome, fmt.Errorf("gl reconcile: lock %s: %w", axis, err)
		}
		if !ok {
			logger.Info("reconciliation already running elsewhere, skipped")
			outcome.Skipped = true
			return outcome, nil
		}
		release = rel
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release reconcile lock", slog.Any("error", err))
		}
	}()

	report, err := j.Runner.Run(ctx, reconcile.Request{Period: period, Axis: axis, Modules: modules}, 0)
	if err != nil {
		if errors.Is(err, gl.ErrDimensionNotFound) || errors.Is(err, gl.ErrUnsupportedModule) || errors.Is(err, gl.ErrInvalidPeriod) {
			return outcome, fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return outcome, err
	}
	for _, row := range report.Rows {
		if row.Status != reconcile.StatusReconciled {
			outcome.VarianceRows++
		}
	}
	outcome.ReportID = report.ID.String()
	outcome.Status = report.Status
	j.metrics().SetVarianceRows(axis, outcome.VarianceRows)
	if report.Status != reconcile.StatusReconciled {
		logger.Warn("gl variance detected",
			slog.String("report_id", outcome.ReportID),
			slog.Int("variance_rows", outcome.VarianceRows),
			slog.String("variance", report.Variance.StringFixed(2)))
	}
	return outcome, nil
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ReconcileJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLReconcile))
	}
	return slog.Default().With(slog.String("job", TaskGLReconcile))
}

func (j *ReconcileJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ReconcileJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

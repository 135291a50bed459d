package jobs

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	gl "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

// Violation kinds reported by the integrity scan.
const (
	ViolationUnbalanced          = "unbalanced"
	ViolationTooFewEntries       = "too_few_entries"
	ViolationInconsistentDims    = "inconsistent_dimensions"
	ViolationInvalidEntryAmounts = "invalid_entry_amounts"
)

// Violation is one integrity finding.
type Violation struct {
	Kind     string    `json:"kind"`
	BatchID  uuid.UUID `json:"batch_id"`
	SourceID uuid.UUID `json:"source_id"`
	Detail   string    `json:"detail"`
}

// BatchSource lists the posted batches of a period.
type BatchSource interface {
	BatchesInPeriod(ctx context.Context, period gl.Period) ([]posting.Batch, error)
}

// CheckIntegrity verifies that every batch balances, has at least two lines, carries the same
// dimension set on every entry and has one-sided non-negative amounts.
func CheckIntegrity(batches []posting.Batch) []Violation {
	var out []Violation
	for _, b := range batches {
		add := func(kind, detail string) {
			out = append(out, Violation{Kind: kind, BatchID: b.ID, SourceID: b.SourceID, Detail: detail})
		}
		if len(b.Entries) < 2 {
			add(ViolationTooFewEntries, fmt.Sprintf("%d entries", len(b.Entries)))
		}
		debit, credit := b.Totals()
		if !debit.Equal(credit) {
			add(ViolationUnbalanced, fmt.Sprintf("debit %s credit %s", debit.StringFixed(2), credit.StringFixed(2)))
		}
		for _, e := range b.Entries {
			if e.Debit.IsNegative() || e.Credit.IsNegative() || e.Debit.IsPositive() == e.Credit.IsPositive() {
				add(ViolationInvalidEntryAmounts, fmt.Sprintf("line %d debit %s credit %s", e.LineNo, e.Debit.StringFixed(2), e.Credit.StringFixed(2)))
			}
		}
		if len(b.Entries) > 1 {
			first := dimensionKey(b.Entries[0].Dimensions)
			for _, e := range b.Entries[1:] {
				if !slices.Equal(first, dimensionKey(e.Dimensions)) {
					add(ViolationInconsistentDims, fmt.Sprintf("line %d differs from line %d", e.LineNo, b.Entries[0].LineNo))
					break
				}
			}
		}
	}
	return out
}

func dimensionKey(refs []dimensions.Reference) []dimensions.Reference {
	out := slices.Clone(refs)
	slices.SortFunc(out, func(a, b dimensions.Reference) int {
		if a.DimensionID != b.DimensionID {
			return cmp.Compare(a.DimensionID, b.DimensionID)
		}
		return cmp.Compare(a.ValueID, b.ValueID)
	})
	return out
}

// IntegrityReport is the result of one scan.
type IntegrityReport struct {
	Period     string          `json:"period"`
	Batches    int             `json:"batches"`
	Debit      decimal.Decimal `json:"debit"`
	Credit     decimal.Decimal `json:"credit"`
	Violations []Violation     `json:"violations"`
}

// IntegrityJob scans the ledger of a period.
type IntegrityJob struct {
	Source  BatchSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityJob constructs the job handler.
func NewIntegrityJob(source BatchSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityJob {
	return &IntegrityJob{
		Source:  source,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity task. Violations are reported through logs and metrics; the task
// itself only fails on read errors.
func (j *IntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload IntegrityPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.Period)
	return err
}

// Run scans period, which may be a YYYY-MM code or one of PeriodCurrent and PeriodPrevious.
func (j *IntegrityJob) Run(ctx context.Context, period string) (IntegrityReport, error) {
	if j == nil || j.Source == nil {
		return IntegrityReport{}, errors.New("gl integrity: dependencies not configured")
	}
	tracker := j.metrics().Track("gl_integrity")
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	code, err := ResolvePeriod(period, j.now())
	if err != nil {
		resultErr = fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		return IntegrityReport{}, resultErr
	}
	p, err := gl.ParsePeriod(code)
	if err != nil {
		resultErr = fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		return IntegrityReport{}, resultErr
	}
	batches, err := j.Source.BatchesInPeriod(ctx, p)
	if err != nil {
		resultErr = fmt.Errorf("gl integrity: load batches: %w", err)
		return IntegrityReport{}, resultErr
	}

	report := IntegrityReport{Period: p.Code, Batches: len(batches), Violations: CheckIntegrity(batches)}
	for _, b := range batches {
		debit, credit := b.Totals()
		report.Debit = report.Debit.Add(debit)
		report.Credit = report.Credit.Add(credit)
	}
	if report.Violations == nil {
		report.Violations = []Violation{}
	}

	counts := map[string]int{}
	for _, v := range report.Violations {
		counts[v.Kind]++
		j.log().Error("gl integrity violation",
			slog.String("period", p.Code),
			slog.String("kind", v.Kind),
			slog.String("batch_id", v.BatchID.String()),
			slog.String("source_id", v.SourceID.String()),
			slog.String("detail", v.Detail))
	}
	for kind, n := range counts {
		j.metrics().AddViolations(kind, n)
	}
	j.log().Info("gl integrity check executed",
		slog.String("period", p.Code),
		slog.Int("batches", report.Batches),
		slog.Int("violations", len(report.Violations)))
	return report, resultErr
}

func (j *IntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *IntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}

func (j *IntegrityJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *IntegrityJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	gl "github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
	"github.com/odyssey-erp/odyssey-gl/internal/testing/gltest"
	"github.com/odyssey-erp/odyssey-gl/jobs"
)

func entry(line int, debit, credit string, refs ...dimensions.Reference) posting.Entry {
	return posting.Entry{LineNo: line, Debit: decimal.RequireFromString(debit), Credit: decimal.RequireFromString(credit), Dimensions: refs}
}

func kinds(vs []jobs.Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Kind)
	}
	return out
}

func TestCheckIntegrity(t *testing.T) {
	cc1 := dimensions.Reference{DimensionID: 1, ValueID: 10}
	cc2 := dimensions.Reference{DimensionID: 1, ValueID: 11}
	proj := dimensions.Reference{DimensionID: 2, ValueID: 20}

	cases := map[string]struct {
		entries []posting.Entry
		want    []string
	}{
		"clean": {
			entries: []posting.Entry{entry(1, "100", "0", cc1, proj), entry(2, "0", "100", proj, cc1)},
		},
		"unbalanced": {
			entries: []posting.Entry{entry(1, "100", "0"), entry(2, "0", "99.99")},
			want:    []string{jobs.ViolationUnbalanced},
		},
		"single line": {
			entries: []posting.Entry{entry(1, "0", "0")},
			want:    []string{jobs.ViolationTooFewEntries, jobs.ViolationInvalidEntryAmounts},
		},
		"double sided": {
			entries: []posting.Entry{entry(1, "100", "100"), entry(2, "50", "0"), entry(3, "0", "50")},
			want:    []string{jobs.ViolationInvalidEntryAmounts},
		},
		"negative": {
			entries: []posting.Entry{entry(1, "-10", "0"), entry(2, "0", "-10")},
			want:    []string{jobs.ViolationInvalidEntryAmounts, jobs.ViolationInvalidEntryAmounts},
		},
		"dimension drift": {
			entries: []posting.Entry{entry(1, "100", "0", cc1), entry(2, "0", "60", cc1), entry(3, "0", "40", cc2)},
			want:    []string{jobs.ViolationInconsistentDims},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			batch := posting.Batch{ID: uuid.New(), SourceID: uuid.New(), Entries: tc.entries}
			got := jobs.CheckIntegrity([]posting.Batch{batch})
			if len(tc.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, kinds(got))
			for _, v := range got {
				assert.Equal(t, batch.ID, v.BatchID)
				assert.Equal(t, batch.SourceID, v.SourceID)
				assert.NotEmpty(t, v.Detail)
			}
		})
	}
}

type batchSource struct {
	batches []posting.Batch
	err     error
	period  gl.Period
}

func (s *batchSource) BatchesInPeriod(_ context.Context, period gl.Period) ([]posting.Batch, error) {
	s.period = period
	return s.batches, s.err
}

func TestIntegrityJobOverPostedLedger(t *testing.T) {
	w := gltest.NewWorld(t)
	ctx := context.Background()
	for _, src := range []posting.SourceTransaction{
		w.ManufacturingOrder(t, "5000", "2000", "1000", w.Ref(t, "cost_center", "CC-001")),
		w.SalesInvoice(t, "1000", "110"),
	} {
		_, err := w.Engine.Post(ctx, src.ID, 1)
		require.NoError(t, err)
	}

	job := jobs.NewIntegrityJob(w.Store, w.Logger, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.WithClock(func() time.Time { return w.Now.AddDate(0, 1, 0) })
	report, err := job.Run(ctx, jobs.PeriodPrevious)
	require.NoError(t, err)
	assert.Equal(t, gltest.Period, report.Period)
	assert.Equal(t, 2, report.Batches)
	assert.Empty(t, report.Violations)
	assert.True(t, report.Debit.Equal(report.Credit))
	assert.True(t, report.Debit.Equal(decimal.NewFromInt(9110)), report.Debit.String())
}

func TestIntegrityJobReportsViolations(t *testing.T) {
	source := &batchSource{batches: []posting.Batch{
		{ID: uuid.New(), Entries: []posting.Entry{entry(1, "10", "0"), entry(2, "0", "5")}},
	}}
	job := jobs.NewIntegrityJob(source, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	report, err := job.Run(context.Background(), "2025-09")
	require.NoError(t, err)
	assert.Equal(t, "2025-09", source.period.Code)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, jobs.ViolationUnbalanced, report.Violations[0].Kind)
}

func TestIntegrityJobPropagatesReadErrors(t *testing.T) {
	boom := errors.New("boom")
	job := jobs.NewIntegrityJob(&batchSource{err: boom}, nil, nil)
	_, err := job.Run(context.Background(), "2025-09")
	assert.ErrorIs(t, err, boom)

	_, err = job.Run(context.Background(), "bogus")
	assert.Error(t, err)
}

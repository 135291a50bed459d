package posting_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/memory"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
	"github.com/odyssey-erp/odyssey-gl/internal/testing/gltest"
)

func TestPostManufacturingOrder(t *testing.T) {
	w := gltest.NewWorld(t)
	cc := w.Ref(t, "cost_center", "CC-001")
	src := w.ManufacturingOrder(t, "5000", "2000", "1000", cc)

	res, err := w.Engine.Post(context.Background(), src.ID, 42)
	require.NoError(t, err)
	require.Len(t, res.EntryIDs, 3)
	assert.True(t, res.TotalAmount.Equal(gltest.D("8000")))
	assert.Equal(t, src.ID, res.SourceID)

	batch, err := w.Store.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	require.True(t, posting.Balanced(batch))

	byRole := map[shared.Role]posting.Entry{}
	for _, e := range batch.Entries {
		byRole[e.Role] = e
		assert.Equal(t, shared.ModuleManufacturing, e.SourceModule)
	}
	assert.True(t, byRole[shared.RoleWIP].Debit.Equal(gltest.D("6000")))
	assert.Equal(t, "1310", byRole[shared.RoleWIP].AccountCode)
	assert.True(t, byRole[shared.RoleLabor].Debit.Equal(gltest.D("2000")))
	assert.True(t, byRole[shared.RoleProductionOffset].Credit.Equal(gltest.D("8000")))

	stored, err := w.Store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusPosted, stored.Status)
	require.NotNil(t, stored.BatchID)
	assert.Equal(t, res.BatchID, *stored.BatchID)

	history, err := w.Tracker.History(context.Background(), src.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, shared.StatusUnposted, history[0].From)
	assert.Equal(t, shared.StatusPosted, history[0].To)
	assert.Equal(t, int64(42), history[0].ActorID)
}

func TestPostEveryEntryCarriesSameDimensions(t *testing.T) {
	w := gltest.NewWorld(t)
	cc := w.Ref(t, "cost_center", "CC-001-A")
	prjA := w.Ref(t, "project", "PRJ-A")
	prjB := w.Ref(t, "project", "PRJ-B")
	src := w.ManufacturingOrder(t, "120.50", "80", "10", prjB, cc, prjA)

	res, err := w.Engine.Post(context.Background(), src.ID, 1)
	require.NoError(t, err)
	require.Len(t, res.Dimensions, 3)

	batch, err := w.Store.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	for _, e := range batch.Entries {
		assert.Equal(t, res.Dimensions, e.Dimensions, "entry %d", e.LineNo)
	}
}

func TestPostTwiceReturnsAlreadyPosted(t *testing.T) {
	w := gltest.NewWorld(t)
	src := w.ManufacturingOrder(t, "5000", "2000", "1000", w.Ref(t, "cost_center", "CC-001"))

	first, err := w.Engine.Post(context.Background(), src.ID, 1)
	require.NoError(t, err)
	before := w.Store.Batches()
	sourceBefore, err := w.Store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)

	_, err = w.Engine.Post(context.Background(), src.ID, 2)
	require.ErrorIs(t, err, shared.ErrAlreadyPosted)
	var already *shared.AlreadyPostedError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, first.BatchID, already.BatchID)

	assert.Equal(t, before, w.Store.Batches())
	sourceAfter, err := w.Store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, sourceBefore, sourceAfter)

	history, err := w.Tracker.History(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// brokenAuditLog fails every status append inside the unit of work.
type brokenAuditLog struct {
	*memory.Store
}

type brokenAuditTx struct {
	posting.TxRepository
}

func (brokenAuditTx) AppendStatus(context.Context, audit.StatusEvent) (audit.StatusEvent, error) {
	return audit.StatusEvent{}, errors.New("audit log unavailable")
}

func (r brokenAuditLog) WithTx(ctx context.Context, fn func(context.Context, posting.TxRepository) error) error {
	return r.Store.WithTx(ctx, func(ctx context.Context, tx posting.TxRepository) error {
		return fn(ctx, brokenAuditTx{tx})
	})
}

func TestPostRollsBackWhenStatusEventFails(t *testing.T) {
	w := gltest.NewWorld(t)
	src := w.ManufacturingOrder(t, "5000", "2000", "1000", w.Ref(t, "cost_center", "CC-001"))

	engine := posting.NewEngine(brokenAuditLog{w.Store}, w.Registry, w.Resolver, w.Strategies, w.Logger)
	_, err := engine.Post(context.Background(), src.ID, 3)
	require.Error(t, err)

	stored, err := w.Store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusUnposted, stored.Status)
	assert.Empty(t, w.Store.Batches())
	history, err := w.Tracker.History(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	res, err := w.Engine.Post(context.Background(), src.ID, 4)
	require.NoError(t, err)
	history, err = w.Tracker.History(context.Background(), src.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, shared.StatusUnposted, history[0].From)
	assert.Equal(t, shared.StatusPosted, history[0].To)
	assert.Equal(t, res.BatchID, *history[0].BatchID)
}

func TestPostMissingAccountConfiguration(t *testing.T) {
	w := gltest.NewWorld(t, gltest.WithoutMapping(shared.ModuleSales, shared.RoleRevenue))
	src := w.SalesInvoice(t, "1000", "0")

	_, err := w.Engine.Post(context.Background(), src.ID, 1)
	require.ErrorIs(t, err, shared.ErrMissingAccountConfiguration)
	var resolution *shared.ResolutionError
	require.ErrorAs(t, err, &resolution)
	assert.Equal(t, []shared.Role{shared.RoleRevenue}, resolution.Roles)

	stored, err := w.Store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusUnposted, stored.Status)
	assert.Empty(t, w.Store.Entries())
}

func TestPostMaterialOnlyOrderWithoutLaborMapping(t *testing.T) {
	w := gltest.NewWorld(t, gltest.WithoutMapping(shared.ModuleManufacturing, shared.RoleLabor))
	src := w.ManufacturingOrder(t, "400", "0", "50", w.Ref(t, "cost_center", "CC-002"))

	res, err := w.Engine.Post(context.Background(), src.ID, 1)
	require.NoError(t, err)
	assert.Len(t, res.EntryIDs, 2)

	labored := w.ManufacturingOrder(t, "400", "10", "0", w.Ref(t, "cost_center", "CC-002"))
	_, err = w.Engine.Post(context.Background(), labored.ID, 1)
	var resolution *shared.ResolutionError
	require.ErrorAs(t, err, &resolution)
	assert.Equal(t, []shared.Role{shared.RoleLabor}, resolution.Roles)
}

func TestPostUsesBranchMappingAndGlobalFallback(t *testing.T) {
	w := gltest.NewWorld(t)
	branch := int64(7)
	src := w.SalesInvoice(t, "1000", "110")
	src.ID = uuid.New()
	src.BranchID = &branch
	src = w.Register(t, src)

	res, err := w.Engine.Post(context.Background(), src.ID, 1)
	require.NoError(t, err)
	batch, err := w.Store.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	codes := map[shared.Role]string{}
	for _, e := range batch.Entries {
		codes[e.Role] = e.AccountCode
	}
	assert.Equal(t, "4110", codes[shared.RoleRevenue])
	assert.Equal(t, "2200", codes[shared.RoleVATOutput])
	assert.Equal(t, "1200", codes[shared.RoleReceivable])
}

func TestPostRejectsInvalidDimensions(t *testing.T) {
	w := gltest.NewWorld(t)
	cc := w.Ref(t, "cost_center", "CC-001")
	cc2 := w.Ref(t, "cost_center", "CC-002")
	prj := w.Ref(t, "project", "PRJ-A")
	w.Store.SetValueActive(w.Ref(t, "project", "PRJ-B").ValueID, false)
	w.Refresh(t)

	cases := map[string]posting.SourceTransaction{
		"missing required":     w.ManufacturingOrder(t, "10", "0", "0"),
		"unknown value":        w.ManufacturingOrder(t, "11", "0", "0", cc, dimRef(prj.DimensionID, 9999)),
		"value of other axis":  w.ManufacturingOrder(t, "12", "0", "0", cc, dimRef(prj.DimensionID, cc2.ValueID)),
		"duplicate single":     w.ManufacturingOrder(t, "13", "0", "0", cc, cc2),
		"inactive value":       w.ManufacturingOrder(t, "14", "0", "0", cc, w.Ref(t, "project", "PRJ-B")),
		"unknown dimension id": w.ManufacturingOrder(t, "15", "0", "0", cc, dimRef(777, prj.ValueID)),
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := w.Engine.Post(context.Background(), src.ID, 1)
			require.ErrorIs(t, err, shared.ErrInvalidDimensionReference)
			var dimErr *shared.DimensionError
			require.ErrorAs(t, err, &dimErr)

			stored, err := w.Store.GetSource(context.Background(), src.ID)
			require.NoError(t, err)
			assert.Equal(t, shared.StatusUnposted, stored.Status)
		})
	}
	assert.Empty(t, w.Store.Entries())
}

func TestPostConcurrentCallsProduceOneBatch(t *testing.T) {
	w := gltest.NewWorld(t)
	src := w.ManufacturingOrder(t, "5000", "2000", "1000", w.Ref(t, "cost_center", "CC-001"))

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		posted  int
		already int
		other   []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(actor int64) {
			defer wg.Done()
			<-start
			_, err := w.Engine.Post(context.Background(), src.ID, actor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				posted++
			case errors.Is(err, shared.ErrAlreadyPosted):
				already++
			default:
				other = append(other, err)
			}
		}(int64(i + 1))
	}
	close(start)
	wg.Wait()

	require.Empty(t, other)
	assert.Equal(t, 1, posted)
	assert.Equal(t, workers-1, already)
	assert.Len(t, w.Store.Batches(), 1)
	assert.Len(t, w.Store.Entries(), 3)

	history, err := w.Tracker.History(context.Background(), src.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, shared.StatusPosted, history[0].To)
}

// skewed decomposes manufacturing orders one unit short on the credit side.
type skewed struct{}

func (skewed) Module() shared.ModuleType { return shared.ModuleManufacturing }

func (skewed) Roles(posting.SourceTransaction) []shared.Role {
	return []shared.Role{shared.RoleWIP, shared.RoleProductionOffset}
}

func (skewed) MeasuredRoles() []shared.Role { return []shared.Role{shared.RoleWIP} }

func (skewed) Decompose(src posting.SourceTransaction) ([]posting.LineSpec, error) {
	return []posting.LineSpec{
		{Role: shared.RoleWIP, Debit: src.Amount},
		{Role: shared.RoleProductionOffset, Credit: src.Amount.Sub(gltest.D("1"))},
	}, nil
}

func TestPostUnbalancedMarksErrorAndCanBeRetried(t *testing.T) {
	w := gltest.NewWorld(t)
	src := w.ManufacturingOrder(t, "100", "0", "0", w.Ref(t, "cost_center", "CC-001"))

	broken := posting.NewEngine(w.Store, w.Registry, w.Resolver, posting.NewStrategies(skewed{}), w.Logger)
	_, err := broken.Post(context.Background(), src.ID, 5)
	require.ErrorIs(t, err, shared.ErrUnbalancedComputation)
	var unbalanced *shared.UnbalancedError
	require.ErrorAs(t, err, &unbalanced)
	assert.True(t, unbalanced.Credit.Equal(gltest.D("99")))

	stored, err := w.Store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusError, stored.Status)
	assert.NotEmpty(t, stored.LastError)
	assert.Empty(t, w.Store.Entries())

	_, err = w.Engine.Post(context.Background(), src.ID, 6)
	require.NoError(t, err)

	history, err := w.Tracker.History(context.Background(), src.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, shared.StatusError, history[0].To)
	assert.Equal(t, shared.StatusError, history[1].From)
	assert.Equal(t, shared.StatusPosted, history[1].To)
	assert.Less(t, history[0].Seq, history[1].Seq)
}

func TestPostValidationErrors(t *testing.T) {
	w := gltest.NewWorld(t)

	_, err := w.Engine.Post(context.Background(), uuid.New(), 1)
	assert.ErrorIs(t, err, shared.ErrSourceNotFound)

	payroll := w.Register(t, posting.SourceTransaction{Module: "PAYROLL", Amount: gltest.D("10")})
	_, err = w.Engine.Post(context.Background(), payroll.ID, 1)
	assert.ErrorIs(t, err, shared.ErrUnsupportedModule)

	empty := w.ManufacturingOrder(t, "0", "0", "0", w.Ref(t, "cost_center", "CC-001"))
	_, err = w.Engine.Post(context.Background(), empty.ID, 1)
	assert.ErrorIs(t, err, shared.ErrNothingToPost)
	stored, err := w.Store.GetSource(context.Background(), empty.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusUnposted, stored.Status)

	subCent := w.ManufacturingOrder(t, "0.004", "0.004", "0", w.Ref(t, "cost_center", "CC-001"))
	_, err = w.Engine.Post(context.Background(), subCent.ID, 1)
	assert.ErrorIs(t, err, shared.ErrNothingToPost)
	assert.NotErrorIs(t, err, shared.ErrUnbalancedComputation)
	stored, err = w.Store.GetSource(context.Background(), subCent.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusUnposted, stored.Status)
	assert.Empty(t, w.Store.Entries())
}

func TestPreviewDoesNotPersist(t *testing.T) {
	w := gltest.NewWorld(t)
	src := w.SalesInvoice(t, "1000", "110", w.Ref(t, "project", "PRJ-A"))

	preview, err := w.Engine.Preview(context.Background(), src.ID)
	require.NoError(t, err)
	require.Len(t, preview.Lines, 3)
	assert.True(t, preview.TotalAmount.Equal(gltest.D("1110")))
	assert.Equal(t, shared.ModuleSales, preview.Module)
	assert.Empty(t, w.Store.Batches())

	stored, err := w.Store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusUnposted, stored.Status)

	_, err = w.Engine.Post(context.Background(), src.ID, 1)
	require.NoError(t, err)
	_, err = w.Engine.Preview(context.Background(), src.ID)
	assert.ErrorIs(t, err, shared.ErrAlreadyPosted)
}

func TestReverseMirrorsOriginalBatch(t *testing.T) {
	w := gltest.NewWorld(t)
	cc := w.Ref(t, "cost_center", "CC-001")
	src := w.ManufacturingOrder(t, "5000", "2000", "1000", cc)
	original, err := w.Engine.Post(context.Background(), src.ID, 1)
	require.NoError(t, err)

	reversedAt := time.Date(2025, 10, 25, 0, 0, 0, 0, time.UTC)
	res, err := w.Engine.Reverse(context.Background(), posting.ReverseInput{BatchID: original.BatchID, ActorID: 2, Date: &reversedAt, Reason: "wrong order"})
	require.NoError(t, err)
	assert.NotEqual(t, original.BatchID, res.BatchID)
	assert.Equal(t, original.Dimensions, res.Dimensions)

	first, err := w.Store.GetBatch(context.Background(), original.BatchID)
	require.NoError(t, err)
	contra, err := w.Store.GetBatch(context.Background(), res.BatchID)
	require.NoError(t, err)
	assert.Equal(t, shared.ModuleReversal, contra.SourceModule)
	require.True(t, posting.Balanced(contra))
	require.Len(t, contra.Entries, len(first.Entries))
	for i, e := range contra.Entries {
		assert.Equal(t, first.Entries[i].AccountID, e.AccountID)
		assert.True(t, first.Entries[i].Debit.Equal(e.Credit))
		assert.True(t, first.Entries[i].Credit.Equal(e.Debit))
		assert.Equal(t, shared.ModuleManufacturing, e.SourceModule)
		assert.True(t, e.Date.Equal(reversedAt))
	}

	stored, err := w.Store.GetSource(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.StatusPosted, stored.Status)

	_, err = w.Engine.Reverse(context.Background(), posting.ReverseInput{BatchID: original.BatchID, ActorID: 2})
	assert.ErrorIs(t, err, shared.ErrAlreadyPosted)

	_, err = w.Engine.Reverse(context.Background(), posting.ReverseInput{BatchID: res.BatchID, ActorID: 2})
	assert.ErrorIs(t, err, shared.ErrReversalNotAllowed)

	_, err = w.Engine.Reverse(context.Background(), posting.ReverseInput{BatchID: uuid.New()})
	assert.ErrorIs(t, err, shared.ErrBatchNotFound)
}

type countingInvalidator struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingInvalidator) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
	return nil
}

func TestPostBumpsCacheOnlyOnSuccess(t *testing.T) {
	w := gltest.NewWorld(t)
	inv := &countingInvalidator{}
	w.Engine.WithInvalidator(inv)
	src := w.ManufacturingOrder(t, "1", "1", "1", w.Ref(t, "cost_center", "CC-002"))

	_, err := w.Engine.Post(context.Background(), src.ID, 1)
	require.NoError(t, err)
	_, err = w.Engine.Post(context.Background(), src.ID, 1)
	require.Error(t, err)
	assert.Equal(t, 1, inv.bumps)
}

func dimRef(dimensionID, valueID int64) dimensions.Reference {
	return dimensions.Reference{DimensionID: dimensionID, ValueID: valueID}
}

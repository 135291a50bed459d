package posting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
)

const maxPostAttempts = 3

// reversalNamespace seeds deterministic contra source ids so a batch can only be reversed once.
var reversalNamespace = uuid.MustParse("8f7f5a3e-2b0c-5d4e-9a61-6c1f0e2d4b7a")

// DimensionValidator checks dimension references on a source transaction.
type DimensionValidator interface {
	ValidateReferences(refs []dimensions.Reference, scope dimensions.Scope) error
}

// AccountResolver maps roles to postable accounts.
type AccountResolver interface {
	ResolveRoles(ctx context.Context, roles []shared.Role, rc accounts.ResolveContext) (map[shared.Role]accounts.Account, error)
}

// Engine turns source transactions into balanced, dimension-tagged batches.
type Engine struct {
	repo       RepositoryPort
	dims       DimensionValidator
	resolver   AccountResolver
	strategies Strategies
	cache      Invalidator
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine constructs the posting engine.
func NewEngine(repo RepositoryPort, dims DimensionValidator, resolver AccountResolver, strategies Strategies, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		repo:       repo,
		dims:       dims,
		resolver:   resolver,
		strategies: strategies,
		logger:     logger,
		now:        time.Now,
	}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// WithInvalidator wires cache invalidation after successful postings.
func (e *Engine) WithInvalidator(cache Invalidator) {
	e.cache = cache
}

// WithMetrics wires prometheus collectors.
func (e *Engine) WithMetrics(m *Metrics) {
	e.metrics = m
}

// Post builds and persists the batch for sourceID as one unit of work.
func (e *Engine) Post(ctx context.Context, sourceID uuid.UUID, actorID int64) (Result, error) {
	start := time.Now()
	var (
		result Result
		module shared.ModuleType
		err    error
	)
	for attempt := 1; attempt <= maxPostAttempts; attempt++ {
		result, module, err = e.post(ctx, sourceID, actorID)
		if !errors.Is(err, ErrConcurrentUpdate) {
			break
		}
		e.logger.DebugContext(ctx, "posting retried after concurrent update",
			slog.String("source_id", sourceID.String()), slog.Int("attempt", attempt))
	}
	e.metrics.observe(module, err, time.Since(start))

	var unbalanced *shared.UnbalancedError
	if errors.As(err, &unbalanced) {
		e.logger.ErrorContext(ctx, "gl posting produced unbalanced batch",
			slog.String("source_id", sourceID.String()),
			slog.String("module", string(module)),
			slog.String("debit", unbalanced.Debit.StringFixed(2)),
			slog.String("credit", unbalanced.Credit.StringFixed(2)),
			slog.Int("lines", unbalanced.Lines))
		e.markError(ctx, sourceID, actorID, err)
		return Result{}, err
	}
	if err != nil {
		return Result{}, err
	}

	if e.cache != nil {
		if cacheErr := e.cache.Bump(ctx); cacheErr != nil {
			e.logger.WarnContext(ctx, "bump gl cache", slog.Any("error", cacheErr))
		}
	}
	e.logger.InfoContext(ctx, "gl batch posted",
		slog.String("source_id", sourceID.String()),
		slog.String("batch_id", result.BatchID.String()),
		slog.String("module", string(module)),
		slog.Int("entries", len(result.EntryIDs)),
		slog.String("total", result.TotalAmount.StringFixed(2)))
	return result, nil
}

func (e *Engine) post(ctx context.Context, sourceID uuid.UUID, actorID int64) (Result, shared.ModuleType, error) {
	var (
		result Result
		module shared.ModuleType
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.LockSource(ctx, sourceID)
		if err != nil {
			return err
		}
		module = src.Module
		if src.Status == shared.StatusPosted {
			existing := uuid.Nil
			if src.BatchID != nil {
				existing = *src.BatchID
			}
			return &shared.AlreadyPostedError{SourceID: src.ID, BatchID: existing}
		}
		entries, refs, err := e.build(ctx, src)
		if err != nil {
			return err
		}
		postedAt := e.now()
		batch := Batch{
			ID:           uuid.New(),
			SourceID:     src.ID,
			SourceModule: src.Module,
			Date:         src.Date,
			PostedBy:     actorID,
			PostedAt:     postedAt,
		}
		for i := range entries {
			entries[i].ID = uuid.New()
			entries[i].BatchID = batch.ID
		}
		batch.Entries = entries
		if err := tx.InsertBatch(ctx, batch); err != nil {
			if errors.Is(err, shared.ErrAlreadyPosted) {
				existing, lookupErr := tx.BatchForSource(ctx, src.ID)
				if lookupErr != nil {
					return lookupErr
				}
				return &shared.AlreadyPostedError{SourceID: src.ID, BatchID: existing}
			}
			return err
		}
		if err := tx.InsertEntries(ctx, entries); err != nil {
			return err
		}
		if err := tx.MarkPosted(ctx, src.ID, batch.ID, actorID, postedAt); err != nil {
			return err
		}
		if _, err := audit.RecordPosting(ctx, tx, src.ID, actorID, postedAt, batch.ID); err != nil {
			return fmt.Errorf("gl: record posting status: %w", err)
		}
		result = newResult(batch, refs)
		return nil
	})
	return result, module, err
}

// Preview runs validation, resolution and decomposition without persisting anything.
func (e *Engine) Preview(ctx context.Context, sourceID uuid.UUID) (Preview, error) {
	src, err := e.repo.GetSource(ctx, sourceID)
	if err != nil {
		return Preview{}, err
	}
	if src.Status == shared.StatusPosted {
		existing := uuid.Nil
		if src.BatchID != nil {
			existing = *src.BatchID
		}
		return Preview{}, &shared.AlreadyPostedError{SourceID: src.ID, BatchID: existing}
	}
	entries, refs, err := e.build(ctx, src)
	if err != nil {
		return Preview{}, err
	}
	total, _ := Batch{Entries: entries}.Totals()
	return Preview{SourceID: src.ID, Module: src.Module, Lines: entries, TotalAmount: total, Dimensions: refs}, nil
}

// Batch returns a persisted batch with its entries.
func (e *Engine) Batch(ctx context.Context, id uuid.UUID) (Batch, error) {
	return e.repo.GetBatch(ctx, id)
}

// Reverse posts a contra batch for an existing batch through a new REVERSAL source transaction.
// The original batch and its source stay POSTED.
func (e *Engine) Reverse(ctx context.Context, in ReverseInput) (Result, error) {
	original, err := e.repo.GetBatch(ctx, in.BatchID)
	if err != nil {
		return Result{}, err
	}
	if original.SourceModule == shared.ModuleReversal {
		return Result{}, shared.ErrReversalNotAllowed
	}
	src, err := e.repo.GetSource(ctx, original.SourceID)
	if err != nil {
		return Result{}, err
	}
	date := e.now()
	if in.Date != nil {
		date = *in.Date
	}
	contra := reversalSource(src, original, date, in.Reason)
	if err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertSource(ctx, contra)
	}); err != nil {
		return Result{}, fmt.Errorf("gl: create reversal source: %w", err)
	}
	return e.Post(ctx, contra.ID, in.ActorID)
}

func reversalSource(src SourceTransaction, original Batch, date time.Time, reason string) SourceTransaction {
	mirror := make([]LineSpec, 0, len(original.Entries))
	overrides := make(map[shared.Role]int64, len(original.Entries))
	memo := "Reversal of batch " + original.ID.String()
	if reason != "" {
		memo += ": " + reason
	}
	for _, entry := range original.Entries {
		mirror = append(mirror, LineSpec{Role: entry.Role, Debit: entry.Credit, Credit: entry.Debit, Memo: memo})
		overrides[entry.Role] = entry.AccountID
	}
	batchID := original.ID
	return SourceTransaction{
		ID:               uuid.NewSHA1(reversalNamespace, original.ID[:]),
		Module:           shared.ModuleReversal,
		OriginModule:     src.Module,
		Number:           "REV-" + src.Number,
		Description:      memo,
		Date:             date,
		BranchID:         src.BranchID,
		Amount:           src.Amount.Neg(),
		DimensionRefs:    append([]dimensions.Reference(nil), src.DimensionRefs...),
		AccountOverrides: overrides,
		Status:           shared.StatusUnposted,
		ReversesBatchID:  &batchID,
		Mirror:           mirror,
	}
}

// build validates, resolves and decomposes src into unsaved entries. It never writes.
func (e *Engine) build(ctx context.Context, src SourceTransaction) ([]Entry, []dimensions.Reference, error) {
	strategy, err := e.strategies.Lookup(src.Module)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", err, src.Module)
	}
	roles := strategy.Roles(src)
	resolved, err := e.resolver.ResolveRoles(ctx, roles, accounts.ResolveContext{
		Module:    src.LedgerModule(),
		BranchID:  src.BranchID,
		Overrides: src.AccountOverrides,
	})
	if err != nil {
		return nil, nil, err
	}
	codes := make([]string, 0, len(resolved))
	for _, account := range resolved {
		codes = append(codes, account.Code)
	}
	sort.Strings(codes)
	refs := normalizeRefs(src.DimensionRefs)
	if err := e.dims.ValidateReferences(refs, dimensions.Scope{Module: string(src.LedgerModule()), AccountCodes: codes}); err != nil {
		return nil, nil, err
	}

	specs, err := strategy.Decompose(src)
	if err != nil {
		return nil, nil, err
	}
	lines, err := balanceLines(src.ID, specs)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]Entry, 0, len(lines))
	for i, line := range lines {
		account, ok := resolved[line.Role]
		if !ok {
			// strategy used a role it did not declare
			return nil, nil, &shared.ResolutionError{Module: src.Module, Roles: []shared.Role{line.Role}}
		}
		description := line.Memo
		if description == "" {
			description = src.Description
		}
		entries = append(entries, Entry{
			LineNo:       i + 1,
			AccountID:    account.ID,
			AccountCode:  account.Code,
			Role:         line.Role,
			Debit:        line.Debit,
			Credit:       line.Credit,
			Date:         src.Date,
			Description:  description,
			SourceID:     src.ID,
			SourceModule: src.LedgerModule(),
			Dimensions:   append([]dimensions.Reference(nil), refs...),
		})
	}
	return entries, refs, nil
}

func (e *Engine) markError(ctx context.Context, sourceID uuid.UUID, actorID int64, cause error) {
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		src, err := tx.LockSource(ctx, sourceID)
		if err != nil {
			return err
		}
		if src.Status == shared.StatusPosted {
			return nil
		}
		if err := tx.MarkError(ctx, sourceID, cause.Error()); err != nil {
			return err
		}
		_, err = audit.RecordPostingError(ctx, tx, sourceID, actorID, e.now(), cause.Error())
		return err
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "mark source error", slog.String("source_id", sourceID.String()), slog.Any("error", err))
	}
}

func normalizeRefs(refs []dimensions.Reference) []dimensions.Reference {
	out := append([]dimensions.Reference(nil), refs...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DimensionID != out[j].DimensionID {
			return out[i].DimensionID < out[j].DimensionID
		}
		return out[i].ValueID < out[j].ValueID
	})
	return out
}

func newResult(batch Batch, refs []dimensions.Reference) Result {
	ids := make([]uuid.UUID, len(batch.Entries))
	for i, entry := range batch.Entries {
		ids[i] = entry.ID
	}
	total, _ := batch.Totals()
	if refs == nil {
		refs = []dimensions.Reference{}
	}
	return Result{BatchID: batch.ID, SourceID: batch.SourceID, EntryIDs: ids, TotalAmount: total, Dimensions: refs}
}

// Balanced reports whether a persisted batch satisfies the ledger invariants.
func Balanced(batch Batch) bool {
	if len(batch.Entries) < 2 {
		return false
	}
	debit, credit := batch.Totals()
	return debit.Equal(credit) && debit.GreaterThan(decimal.Zero)
}

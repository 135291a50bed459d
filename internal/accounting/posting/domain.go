package posting

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	"github.com/odyssey-erp/odyssey-gl/internal/audit"
)

// ErrConcurrentUpdate signals a serialization failure; the posting attempt may be retried.
var ErrConcurrentUpdate = errors.New("gl: concurrent update")

// SourceTransaction is a business event eligible for GL posting.
type SourceTransaction struct {
	ID          uuid.UUID
	Module      shared.ModuleType
	Number      string
	Description string
	Date        time.Time
	BranchID    *int64
	// Amount is the module-native total the reconciliation compares against the ledger.
	Amount           decimal.Decimal
	Components       map[shared.Component]decimal.Decimal
	DimensionRefs    []dimensions.Reference
	AccountOverrides map[shared.Role]int64
	Status           shared.PostingStatus
	BatchID          *uuid.UUID
	PostedBy         *int64
	PostedAt         *time.Time
	LastError        string

	// Reversal sources only.
	OriginModule    shared.ModuleType
	ReversesBatchID *uuid.UUID
	Mirror          []LineSpec
}

// Component returns the component amount or zero.
func (s SourceTransaction) Component(c shared.Component) decimal.Decimal {
	return s.Components[c]
}

// LedgerModule is the module tag written on ledger entries. Reversals carry their origin so
// contra postings net out against the original module.
func (s SourceTransaction) LedgerModule() shared.ModuleType {
	if s.Module == shared.ModuleReversal && s.OriginModule != "" {
		return s.OriginModule
	}
	return s.Module
}

// LineSpec is one decomposed line before account resolution.
type LineSpec struct {
	Role   shared.Role
	Debit  decimal.Decimal
	Credit decimal.Decimal
	Memo   string
}

// Strategy decomposes a module's source transactions into balanced lines.
type Strategy interface {
	Module() shared.ModuleType
	// Roles lists the roles Decompose will use for src.
	Roles(src SourceTransaction) []shared.Role
	// MeasuredRoles are the roles whose net movement equals the module-native amount.
	MeasuredRoles() []shared.Role
	Decompose(src SourceTransaction) ([]LineSpec, error)
}

// Strategies indexes strategies by module.
type Strategies map[shared.ModuleType]Strategy

// NewStrategies builds the index. Later registrations replace earlier ones.
func NewStrategies(list ...Strategy) Strategies {
	out := make(Strategies, len(list))
	for _, s := range list {
		out[s.Module()] = s
	}
	return out
}

// Lookup returns the strategy for module.
func (s Strategies) Lookup(module shared.ModuleType) (Strategy, error) {
	strategy, ok := s[module]
	if !ok {
		return nil, shared.ErrUnsupportedModule
	}
	return strategy, nil
}

// MeasuredRoles satisfies the reconciliation's role source.
func (s Strategies) MeasuredRoles(module shared.ModuleType) []shared.Role {
	strategy, ok := s[module]
	if !ok {
		return nil
	}
	return strategy.MeasuredRoles()
}

// Entry is one persisted ledger line.
type Entry struct {
	ID           uuid.UUID
	BatchID      uuid.UUID
	LineNo       int
	AccountID    int64
	AccountCode  string
	Role         shared.Role
	Debit        decimal.Decimal
	Credit       decimal.Decimal
	Date         time.Time
	Description  string
	SourceID     uuid.UUID
	SourceModule shared.ModuleType
	Dimensions   []dimensions.Reference
}

// Batch groups the entries of one posting.
type Batch struct {
	ID           uuid.UUID
	SourceID     uuid.UUID
	SourceModule shared.ModuleType
	Date         time.Time
	Entries      []Entry
	PostedBy     int64
	PostedAt     time.Time
}

// Totals sums debits and credits.
func (b Batch) Totals() (debit, credit decimal.Decimal) {
	for _, e := range b.Entries {
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	return debit, credit
}

// Result is returned from a successful posting.
type Result struct {
	BatchID     uuid.UUID              `json:"batch_id"`
	SourceID    uuid.UUID              `json:"source_id"`
	EntryIDs    []uuid.UUID            `json:"entry_ids"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	Dimensions  []dimensions.Reference `json:"dimensions"`
}

// Preview is a dry-run batch that was never persisted.
type Preview struct {
	SourceID    uuid.UUID              `json:"source_id"`
	Module      shared.ModuleType      `json:"module"`
	Lines       []Entry                `json:"lines"`
	TotalAmount decimal.Decimal        `json:"total_amount"`
	Dimensions  []dimensions.Reference `json:"dimensions"`
}

// ReverseInput requests a contra posting for an existing batch.
type ReverseInput struct {
	BatchID uuid.UUID
	ActorID int64
	Date    *time.Time
	Reason  string
}

// RepositoryPort abstracts transactional persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// GetSource reads without locking.
	GetSource(ctx context.Context, id uuid.UUID) (SourceTransaction, error)
	GetBatch(ctx context.Context, id uuid.UUID) (Batch, error)
}

// TxRepository exposes operations inside one unit of work.
type TxRepository interface {
	// LockSource loads the source and holds a write lock until the unit of work ends.
	LockSource(ctx context.Context, id uuid.UUID) (SourceTransaction, error)
	// InsertBatch returns ErrAlreadyPosted when the source already owns a batch.
	InsertBatch(ctx context.Context, batch Batch) error
	InsertEntries(ctx context.Context, entries []Entry) error
	// MarkPosted transitions a non-posted source to POSTED and fails with ErrAlreadyPosted otherwise.
	MarkPosted(ctx context.Context, sourceID, batchID uuid.UUID, actorID int64, at time.Time) error
	MarkError(ctx context.Context, sourceID uuid.UUID, reason string) error
	InsertSource(ctx context.Context, src SourceTransaction) error
	BatchForSource(ctx context.Context, sourceID uuid.UUID) (uuid.UUID, error)
	GetBatch(ctx context.Context, id uuid.UUID) (Batch, error)
	// The status log shares the unit of work, so a posting_status change and its
	// audit event commit or roll back together.
	audit.StatusLog
}

// Invalidator drops cached ledger-derived reads.
type Invalidator interface {
	Bump(ctx context.Context) error
}

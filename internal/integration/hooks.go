package integration

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/dimensions"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Ledger exposes posting operations required by integrations.
type Ledger interface {
	Post(ctx context.Context, sourceID uuid.UUID, actorID int64) (posting.Result, error)
}

// SourceRegistrar records source transactions handed over by operational modules.
// Registering an existing id is a no-op.
type SourceRegistrar interface {
	RegisterSource(ctx context.Context, src posting.SourceTransaction) error
}

// ManufacturingOrderCompleted is emitted when a production order closes.
type ManufacturingOrderCompleted struct {
	ID          int64
	Number      string
	CompletedAt time.Time
	BranchID    *int64
	Material    decimal.Decimal
	Labor       decimal.Decimal
	Overhead    decimal.Decimal
	Dimensions  []dimensions.Reference
	Overrides   map[shared.Role]int64
	ActorID     int64
}

// SalesInvoicePosted is emitted when an invoice is issued.
type SalesInvoicePosted struct {
	ID         int64
	Number     string
	PostedAt   time.Time
	BranchID   *int64
	Net        decimal.Decimal
	Tax        decimal.Decimal
	Dimensions []dimensions.Reference
	Overrides  map[shared.Role]int64
	ActorID    int64
}

// PurchaseLine is one purchased item.
type PurchaseLine struct {
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
	Stock    bool
}

// PurchaseInvoicePosted is emitted when a supplier invoice is approved.
type PurchaseInvoicePosted struct {
	ID         int64
	Number     string
	PostedAt   time.Time
	BranchID   *int64
	Lines      []PurchaseLine
	Tax        decimal.Decimal
	Dimensions []dimensions.Reference
	Overrides  map[shared.Role]int64
	ActorID    int64
}

// BankTransactionRecorded is emitted for a bank statement line. Amount is signed.
type BankTransactionRecorded struct {
	ID          int64
	Reference   string
	BookedAt    time.Time
	BranchID    *int64
	Amount      decimal.Decimal
	Counterpart *int64
	Dimensions  []dimensions.Reference
	ActorID     int64
}

// AdjustmentLine is one counted item. QtyDelta is counted minus booked.
type AdjustmentLine struct {
	QtyDelta decimal.Decimal
	UnitCost decimal.Decimal
}

// InventoryAdjustmentPosted is emitted when a stock count is approved.
type InventoryAdjustmentPosted struct {
	ID         int64
	Number     string
	PostedAt   time.Time
	BranchID   *int64
	Lines      []AdjustmentLine
	Dimensions []dimensions.Reference
	ActorID    int64
}

// Hooks wires domain events from operational modules into the general ledger.
type Hooks struct {
	ledger  Ledger
	sources SourceRegistrar
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, sources SourceRegistrar) *Hooks {
	return &Hooks{ledger: ledger, sources: sources}
}

func (h *Hooks) post(ctx context.Context, src posting.SourceTransaction, actorID int64) error {
	if src.ID == uuid.Nil {
		return errors.New("integration: source id required")
	}
	if src.Date.IsZero() {
		return errors.New("integration: document date required")
	}
	src.Status = shared.StatusUnposted
	if err := h.sources.RegisterSource(ctx, src); err != nil {
		return err
	}
	_, err := h.ledger.Post(ctx, src.ID, actorID)
	if errors.Is(err, shared.ErrAlreadyPosted) {
		return nil
	}
	return err
}

// HandleManufacturingOrderCompleted posts production cost.
func (h *Hooks) HandleManufacturingOrderCompleted(ctx context.Context, evt ManufacturingOrderCompleted) error {
	if h == nil || h.ledger == nil || h.sources == nil {
		return nil
	}
	total := evt.Material.Add(evt.Labor).Add(evt.Overhead)
	return h.post(ctx, posting.SourceTransaction{
		ID:       sourceID("MO", evt.ID),
		Module:   shared.ModuleManufacturing,
		Number:   evt.Number,
		Date:     evt.CompletedAt,
		BranchID: evt.BranchID,
		Amount:   total,
		Components: map[shared.Component]decimal.Decimal{
			shared.ComponentMaterial: evt.Material,
			shared.ComponentLabor:    evt.Labor,
			shared.ComponentOverhead: evt.Overhead,
		},
		DimensionRefs:    evt.Dimensions,
		AccountOverrides: evt.Overrides,
	}, evt.ActorID)
}

// HandleSalesInvoicePosted posts an invoice.
func (h *Hooks) HandleSalesInvoicePosted(ctx context.Context, evt SalesInvoicePosted) error {
	if h == nil || h.ledger == nil || h.sources == nil {
		return nil
	}
	return h.post(ctx, posting.SourceTransaction{
		ID:       sourceID("SI", evt.ID),
		Module:   shared.ModuleSales,
		Number:   evt.Number,
		Date:     evt.PostedAt,
		BranchID: evt.BranchID,
		Amount:   evt.Net.Add(evt.Tax),
		Components: map[shared.Component]decimal.Decimal{
			shared.ComponentNet: evt.Net,
			shared.ComponentTax: evt.Tax,
		},
		DimensionRefs:    evt.Dimensions,
		AccountOverrides: evt.Overrides,
	}, evt.ActorID)
}

// HandlePurchaseInvoicePosted posts a supplier invoice.
func (h *Hooks) HandlePurchaseInvoicePosted(ctx context.Context, evt PurchaseInvoicePosted) error {
	if h == nil || h.ledger == nil || h.sources == nil {
		return nil
	}
	var net, stock decimal.Decimal
	for _, line := range evt.Lines {
		amount := monetary(line.Qty, line.UnitCost)
		net = net.Add(amount)
		if line.Stock {
			stock = stock.Add(amount)
		}
	}
	return h.post(ctx, posting.SourceTransaction{
		ID:       sourceID("PI", evt.ID),
		Module:   shared.ModulePurchase,
		Number:   evt.Number,
		Date:     evt.PostedAt,
		BranchID: evt.BranchID,
		Amount:   net.Add(evt.Tax),
		Components: map[shared.Component]decimal.Decimal{
			shared.ComponentNet:   net,
			shared.ComponentStock: stock,
			shared.ComponentTax:   evt.Tax,
		},
		DimensionRefs:    evt.Dimensions,
		AccountOverrides: evt.Overrides,
	}, evt.ActorID)
}

// HandleBankTransactionRecorded posts a bank movement.
func (h *Hooks) HandleBankTransactionRecorded(ctx context.Context, evt BankTransactionRecorded) error {
	if h == nil || h.ledger == nil || h.sources == nil {
		return nil
	}
	var overrides map[shared.Role]int64
	if evt.Counterpart != nil {
		overrides = map[shared.Role]int64{shared.RoleCounterpart: *evt.Counterpart}
	}
	return h.post(ctx, posting.SourceTransaction{
		ID:               sourceID("BANK", evt.ID),
		Module:           shared.ModuleBanking,
		Number:           evt.Reference,
		Date:             evt.BookedAt,
		BranchID:         evt.BranchID,
		Amount:           evt.Amount,
		Components:       map[shared.Component]decimal.Decimal{shared.ComponentAmount: evt.Amount},
		DimensionRefs:    evt.Dimensions,
		AccountOverrides: overrides,
	}, evt.ActorID)
}

// HandleInventoryAdjustmentPosted posts a stock count difference.
func (h *Hooks) HandleInventoryAdjustmentPosted(ctx context.Context, evt InventoryAdjustmentPosted) error {
	if h == nil || h.ledger == nil || h.sources == nil {
		return nil
	}
	var delta decimal.Decimal
	for _, line := range evt.Lines {
		delta = delta.Add(monetary(line.QtyDelta, line.UnitCost))
	}
	return h.post(ctx, posting.SourceTransaction{
		ID:            sourceID("ADJ", evt.ID),
		Module:        shared.ModuleInventory,
		Number:        evt.Number,
		Date:          evt.PostedAt,
		BranchID:      evt.BranchID,
		Amount:        delta,
		Components:    map[shared.Component]decimal.Decimal{shared.ComponentAmount: delta},
		DimensionRefs: evt.Dimensions,
	}, evt.ActorID)
}

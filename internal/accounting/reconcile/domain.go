package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Status classifies a row or a whole report.
type Status string

const (
	StatusReconciled       Status = "RECONCILED"
	StatusVarianceDetected Status = "VARIANCE_DETECTED"
)

// DefaultModules are reconciled when a request names none.
var DefaultModules = []shared.ModuleType{
	shared.ModuleManufacturing,
	shared.ModuleSales,
	shared.ModulePurchase,
	shared.ModuleBanking,
	shared.ModuleInventory,
}

// Tolerance decides whether a variance is acceptable. A variance is detected when it reaches the
// absolute threshold, or, when Percent is positive, when it exceeds Percent of a non-zero source total.
type Tolerance struct {
	Absolute decimal.Decimal `json:"absolute"`
	Percent  decimal.Decimal `json:"percent,omitempty"`
}

// DefaultTolerance is one cent, no relative threshold.
func DefaultTolerance() Tolerance {
	return Tolerance{Absolute: shared.Cent}
}

// Within reports whether variance is acceptable against source.
func (t Tolerance) Within(variance, source decimal.Decimal) bool {
	v := variance.Abs()
	if v.GreaterThanOrEqual(t.Absolute) {
		return false
	}
	if t.Percent.IsPositive() && !source.IsZero() {
		limit := source.Abs().Mul(t.Percent).Div(decimal.NewFromInt(100))
		if v.GreaterThan(limit) {
			return false
		}
	}
	return true
}

// Request selects the period, axis and modules to reconcile.
type Request struct {
	Period  string              `json:"period"`
	Axis    string              `json:"axis"`
	Modules []shared.ModuleType `json:"modules,omitempty"`
}

// Row is one dimension value of a report. ValueID 0 collects amounts with no value on the axis.
type Row struct {
	ValueID     int64           `json:"value_id"`
	ValueCode   string          `json:"value_code"`
	ValueName   string          `json:"value_name,omitempty"`
	SourceTotal decimal.Decimal `json:"source_total"`
	LedgerTotal decimal.Decimal `json:"ledger_total"`
	Variance    decimal.Decimal `json:"variance"`
	Status      Status          `json:"status"`
}

// Report is an immutable reconciliation snapshot.
type Report struct {
	ID          uuid.UUID           `json:"id"`
	Period      string              `json:"period"`
	Axis        string              `json:"axis"`
	Modules     []shared.ModuleType `json:"modules"`
	Rows        []Row               `json:"rows"`
	SourceTotal decimal.Decimal     `json:"source_total"`
	LedgerTotal decimal.Decimal     `json:"ledger_total"`
	Variance    decimal.Decimal     `json:"variance"`
	Status      Status              `json:"status"`
	Tolerance   Tolerance           `json:"tolerance"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Reconciled reports whether the whole report is within tolerance.
func (r Report) Reconciled() bool {
	return r.Status == StatusReconciled
}

// Query is what the totals reader aggregates.
type Query struct {
	Period      shared.Period
	DimensionID int64
	Modules     []shared.ModuleType
	// Measured lists, per module, the roles whose net ledger movement mirrors the source amount.
	Measured map[shared.ModuleType][]shared.Role
}

// Total is an aggregated amount for one dimension value.
type Total struct {
	ValueID int64
	Amount  decimal.Decimal
}

// TotalsReader aggregates both sides from one consistent snapshot.
type TotalsReader interface {
	Totals(ctx context.Context, q Query) (source []Total, ledger []Total, err error)
}

// RoleSource exposes the measured roles of each module.
type RoleSource interface {
	MeasuredRoles(module shared.ModuleType) []shared.Role
}

// ReportStore persists reconciliation snapshots.
type ReportStore interface {
	SaveReport(ctx context.Context, report Report) error
	GetReport(ctx context.Context, id uuid.UUID) (Report, error)
	ListReports(ctx context.Context, period, axis string, limit int) ([]Report, error)
}

// AuditPort records reconciliation outcomes.
type AuditPort interface {
	RecordReconciliation(ctx context.Context, reportID uuid.UUID, actorID int64, at time.Time, status, period, axis string) error
}

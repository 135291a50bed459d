package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ModuleType tags the business module a source transaction belongs to.
type ModuleType string

const (
	ModuleManufacturing ModuleType = "MANUFACTURING"
	ModuleSales         ModuleType = "SALES"
	ModulePurchase      ModuleType = "PURCHASE"
	ModuleBanking       ModuleType = "BANKING"
	ModuleInventory     ModuleType = "INVENTORY"
	ModuleReversal      ModuleType = "REVERSAL"
)

// ModuleAny matches every module in role mappings.
const ModuleAny ModuleType = "*"

// ParseModule normalises a module code.
func ParseModule(raw string) (ModuleType, error) {
	module := ModuleType(strings.ToUpper(strings.TrimSpace(raw)))
	switch module {
	case ModuleManufacturing, ModuleSales, ModulePurchase, ModuleBanking, ModuleInventory, ModuleReversal, ModuleAny:
		return module, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedModule, raw)
}

// Role is a logical account slot resolved to a concrete ledger account.
type Role string

const (
	RoleWIP              Role = "WIP"
	RoleLabor            Role = "LABOR"
	RoleProductionOffset Role = "PRODUCTION_OFFSET"
	RoleReceivable       Role = "RECEIVABLE"
	RoleRevenue          Role = "REVENUE"
	RoleVATOutput        Role = "VAT_OUTPUT"
	RoleExpense          Role = "EXPENSE"
	RoleInventory        Role = "INVENTORY"
	RoleVATInput         Role = "VAT_INPUT"
	RolePayable          Role = "PAYABLE"
	RoleBank             Role = "BANK"
	RoleCounterpart      Role = "COUNTERPART"
	RoleAdjustmentGain   Role = "ADJUSTMENT_GAIN"
	RoleAdjustmentLoss   Role = "ADJUSTMENT_LOSS"
)

// Component names one monetary part of a source transaction.
type Component string

const (
	ComponentMaterial Component = "material"
	ComponentLabor    Component = "labor"
	ComponentOverhead Component = "overhead"
	ComponentNet      Component = "net"
	ComponentTax      Component = "tax"
	ComponentStock    Component = "stock"
	ComponentAmount   Component = "amount"
)

// PostingStatus enumerates source transaction posting states.
type PostingStatus string

const (
	StatusUnposted PostingStatus = "UNPOSTED"
	StatusPosted   PostingStatus = "POSTED"
	StatusError    PostingStatus = "ERROR"
)

// CurrencyScale is the number of decimal places kept on ledger amounts.
const CurrencyScale = 2

// Cent is the smallest currency unit.
var Cent = decimal.New(1, -CurrencyScale)

// Round2 rounds half away from zero to currency scale.
func Round2(v decimal.Decimal) decimal.Decimal {
	return v.Round(CurrencyScale)
}

// Period is a calendar month window [Start, End).
type Period struct {
	Code  string
	Start time.Time
	End   time.Time
}

// ParsePeriod parses a YYYY-MM identifier.
func ParsePeriod(code string) (Period, error) {
	code = strings.TrimSpace(code)
	start, err := time.Parse("2006-01", code)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q (expected YYYY-MM)", ErrInvalidPeriod, code)
	}
	start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Code: start.Format("2006-01"), Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.End)
}

package integration

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// Strategies returns the decomposition rules of every supported module.
func Strategies() posting.Strategies {
	return posting.NewStrategies(
		Manufacturing{},
		Sales{},
		Purchase{},
		Banking{},
		InventoryAdjustment{},
		Reversal{},
	)
}

// Manufacturing posts production cost: material and overhead to WIP, labor to LABOR, both
// offset by one credit.
type Manufacturing struct{}

func (Manufacturing) Module() shared.ModuleType { return shared.ModuleManufacturing }

func (Manufacturing) Roles(src posting.SourceTransaction) []shared.Role {
	roles := []shared.Role{shared.RoleWIP, shared.RoleProductionOffset}
	if !src.Component(shared.ComponentLabor).IsZero() {
		roles = append(roles, shared.RoleLabor)
	}
	return roles
}

func (Manufacturing) MeasuredRoles() []shared.Role {
	return []shared.Role{shared.RoleWIP, shared.RoleLabor}
}

func (Manufacturing) Decompose(src posting.SourceTransaction) ([]posting.LineSpec, error) {
	material := src.Component(shared.ComponentMaterial)
	overhead := src.Component(shared.ComponentOverhead)
	labor := src.Component(shared.ComponentLabor)
	for _, v := range []decimal.Decimal{material, overhead, labor} {
		if v.IsNegative() {
			return nil, fmt.Errorf("integration: manufacturing order %s has negative cost component", src.Number)
		}
	}
	total := material.Add(overhead).Add(labor)
	memo := memoFor("Production", src)
	return []posting.LineSpec{
		{Role: shared.RoleWIP, Debit: material.Add(overhead), Memo: memo},
		{Role: shared.RoleLabor, Debit: labor, Memo: memo},
		{Role: shared.RoleProductionOffset, Credit: total, Memo: memo},
	}, nil
}

// Sales posts an invoice: receivable for the gross total against revenue and output VAT.
// Negative totals are credit notes and post mirrored.
type Sales struct{}

func (Sales) Module() shared.ModuleType { return shared.ModuleSales }

func (Sales) Roles(src posting.SourceTransaction) []shared.Role {
	roles := []shared.Role{shared.RoleReceivable, shared.RoleRevenue}
	if !src.Component(shared.ComponentTax).IsZero() {
		roles = append(roles, shared.RoleVATOutput)
	}
	return roles
}

func (Sales) MeasuredRoles() []shared.Role {
	return []shared.Role{shared.RoleReceivable}
}

func (Sales) Decompose(src posting.SourceTransaction) ([]posting.LineSpec, error) {
	net := netAmount(src)
	tax := src.Component(shared.ComponentTax)
	memo := memoFor("Sales invoice", src)
	return []posting.LineSpec{
		signed(shared.RoleReceivable, net.Add(tax), true, memo),
		signed(shared.RoleRevenue, net, false, memo),
		signed(shared.RoleVATOutput, tax, false, memo),
	}, nil
}

// Purchase posts a supplier invoice. The stock component goes to INVENTORY, the rest of the net
// amount to EXPENSE, tax to input VAT, all against PAYABLE.
type Purchase struct{}

func (Purchase) Module() shared.ModuleType { return shared.ModulePurchase }

func (Purchase) Roles(src posting.SourceTransaction) []shared.Role {
	stock, expense := purchaseSplit(src)
	var roles []shared.Role
	if !stock.IsZero() {
		roles = append(roles, shared.RoleInventory)
	}
	if !expense.IsZero() || stock.IsZero() {
		roles = append(roles, shared.RoleExpense)
	}
	if !src.Component(shared.ComponentTax).IsZero() {
		roles = append(roles, shared.RoleVATInput)
	}
	return append(roles, shared.RolePayable)
}

func (Purchase) MeasuredRoles() []shared.Role {
	return []shared.Role{shared.RoleExpense, shared.RoleInventory, shared.RoleVATInput}
}

func (Purchase) Decompose(src posting.SourceTransaction) ([]posting.LineSpec, error) {
	stock, expense := purchaseSplit(src)
	tax := src.Component(shared.ComponentTax)
	total := stock.Add(expense).Add(tax)
	memo := memoFor("Purchase", src)
	return []posting.LineSpec{
		signed(shared.RoleInventory, stock, true, memo),
		signed(shared.RoleExpense, expense, true, memo),
		signed(shared.RoleVATInput, tax, true, memo),
		signed(shared.RolePayable, total, false, memo),
	}, nil
}

func purchaseSplit(src posting.SourceTransaction) (stock, expense decimal.Decimal) {
	stock = src.Component(shared.ComponentStock)
	return stock, netAmount(src).Sub(stock)
}

// Banking posts a bank movement. Positive amounts are deposits, negative are withdrawals.
type Banking struct{}

func (Banking) Module() shared.ModuleType { return shared.ModuleBanking }

func (Banking) Roles(posting.SourceTransaction) []shared.Role {
	return []shared.Role{shared.RoleBank, shared.RoleCounterpart}
}

func (Banking) MeasuredRoles() []shared.Role {
	return []shared.Role{shared.RoleBank}
}

func (Banking) Decompose(src posting.SourceTransaction) ([]posting.LineSpec, error) {
	amount := movement(src)
	memo := memoFor("Bank transaction", src)
	return []posting.LineSpec{
		signed(shared.RoleBank, amount, true, memo),
		signed(shared.RoleCounterpart, amount, false, memo),
	}, nil
}

// InventoryAdjustment posts a stock count difference. Positive amounts are gains.
type InventoryAdjustment struct{}

func (InventoryAdjustment) Module() shared.ModuleType { return shared.ModuleInventory }

func (InventoryAdjustment) Roles(src posting.SourceTransaction) []shared.Role {
	if movement(src).IsNegative() {
		return []shared.Role{shared.RoleInventory, shared.RoleAdjustmentLoss}
	}
	return []shared.Role{shared.RoleInventory, shared.RoleAdjustmentGain}
}

func (InventoryAdjustment) MeasuredRoles() []shared.Role {
	return []shared.Role{shared.RoleInventory}
}

func (InventoryAdjustment) Decompose(src posting.SourceTransaction) ([]posting.LineSpec, error) {
	amount := movement(src)
	memo := memoFor("Inventory adjustment", src)
	if amount.IsNegative() {
		loss := amount.Neg()
		return []posting.LineSpec{
			{Role: shared.RoleAdjustmentLoss, Debit: loss, Memo: memo},
			{Role: shared.RoleInventory, Credit: loss, Memo: memo},
		}, nil
	}
	return []posting.LineSpec{
		{Role: shared.RoleInventory, Debit: amount, Memo: memo},
		{Role: shared.RoleAdjustmentGain, Credit: amount, Memo: memo},
	}, nil
}

// Reversal posts the mirrored lines of an earlier batch.
type Reversal struct{}

func (Reversal) Module() shared.ModuleType { return shared.ModuleReversal }

func (Reversal) Roles(src posting.SourceTransaction) []shared.Role {
	seen := make(map[shared.Role]struct{}, len(src.Mirror))
	roles := make([]shared.Role, 0, len(src.Mirror))
	for _, line := range src.Mirror {
		if _, ok := seen[line.Role]; ok {
			continue
		}
		seen[line.Role] = struct{}{}
		roles = append(roles, line.Role)
	}
	return roles
}

// MeasuredRoles is empty: reversal entries are measured under their origin module.
func (Reversal) MeasuredRoles() []shared.Role { return nil }

func (Reversal) Decompose(src posting.SourceTransaction) ([]posting.LineSpec, error) {
	if src.ReversesBatchID == nil || len(src.Mirror) == 0 {
		return nil, fmt.Errorf("integration: reversal %s has no lines to mirror", src.ID)
	}
	return append([]posting.LineSpec(nil), src.Mirror...), nil
}

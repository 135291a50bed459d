package integration

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

func monetary(qty, unitCost decimal.Decimal) decimal.Decimal {
	return shared.Round2(qty.Mul(unitCost))
}

// signed places amount on the natural side of role, or the opposite side when negative.
func signed(role shared.Role, amount decimal.Decimal, debitWhenPositive bool, memo string) posting.LineSpec {
	line := posting.LineSpec{Role: role, Memo: memo}
	positive := !amount.IsNegative()
	if positive == debitWhenPositive {
		line.Debit = amount.Abs()
	} else {
		line.Credit = amount.Abs()
	}
	return line
}

// netAmount falls back to the module-native total when no net component was supplied.
func netAmount(src posting.SourceTransaction) decimal.Decimal {
	if net, ok := src.Components[shared.ComponentNet]; ok {
		return net
	}
	return src.Amount.Sub(src.Component(shared.ComponentTax))
}

func movement(src posting.SourceTransaction) decimal.Decimal {
	if amount, ok := src.Components[shared.ComponentAmount]; ok {
		return amount
	}
	return src.Amount
}

func memoFor(prefix string, src posting.SourceTransaction) string {
	if src.Description != "" {
		return src.Description
	}
	if src.Number == "" {
		return prefix
	}
	return fmt.Sprintf("%s %s", prefix, src.Number)
}

// sourceID derives a stable source transaction id from a module document.
func sourceID(kind string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%d", kind, id)))
}

package posting

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBalanceLinesDropsZeroLines(t *testing.T) {
	lines, err := balanceLines(uuid.New(), []LineSpec{
		{Role: shared.RoleReceivable, Debit: d("100")},
		{Role: shared.RoleRevenue, Credit: d("100")},
		{Role: shared.RoleVATOutput},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}

func TestBalanceLinesAbsorbsResidualCent(t *testing.T) {
	// 33.335 rounds to 33.34 three times against a credit of 100.01
	lines, err := balanceLines(uuid.New(), []LineSpec{
		{Role: shared.RoleWIP, Debit: d("33.335")},
		{Role: shared.RoleWIP, Debit: d("33.335")},
		{Role: shared.RoleLabor, Debit: d("33.335")},
		{Role: shared.RoleProductionOffset, Credit: d("100.01")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	debit, credit := sumLines(lines)
	if !debit.Equal(credit) {
		t.Fatalf("expected balanced lines, got %s/%s", debit, credit)
	}
	if got := lines[3].Credit; !got.Equal(d("100.02")) {
		t.Fatalf("expected residual on last line, got %s", got)
	}
}

func TestBalanceLinesResidualOnDebitLine(t *testing.T) {
	lines, err := balanceLines(uuid.New(), []LineSpec{
		{Role: shared.RoleProductionOffset, Credit: d("10.00")},
		{Role: shared.RoleWIP, Debit: d("10.01")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := lines[1].Debit; !got.Equal(d("10.00")) {
		t.Fatalf("expected debit 10.00, got %s", got)
	}
}

func TestBalanceLinesRejectsLargeResidual(t *testing.T) {
	_, err := balanceLines(uuid.New(), []LineSpec{
		{Role: shared.RoleWIP, Debit: d("100")},
		{Role: shared.RoleProductionOffset, Credit: d("99.98")},
	})
	var unbalanced *shared.UnbalancedError
	if !errors.As(err, &unbalanced) {
		t.Fatalf("expected UnbalancedError, got %v", err)
	}
	if !errors.Is(err, shared.ErrUnbalancedComputation) {
		t.Fatalf("expected ErrUnbalancedComputation")
	}
	if !unbalanced.Debit.Equal(d("100")) || unbalanced.Lines != 2 {
		t.Fatalf("unexpected detail: %+v", unbalanced)
	}
}

func TestBalanceLinesRejectsSingleLine(t *testing.T) {
	_, err := balanceLines(uuid.New(), []LineSpec{{Role: shared.RoleWIP, Debit: d("0.01")}})
	if !errors.Is(err, shared.ErrUnbalancedComputation) {
		t.Fatalf("expected unbalanced, got %v", err)
	}
}

func TestBalanceLinesNothingToPost(t *testing.T) {
	_, err := balanceLines(uuid.New(), []LineSpec{{Role: shared.RoleWIP}, {Role: shared.RoleLabor, Credit: d("0.001")}})
	if !errors.Is(err, shared.ErrNothingToPost) {
		t.Fatalf("expected ErrNothingToPost, got %v", err)
	}
}

func TestBalanceLinesSubCentComponents(t *testing.T) {
	_, err := balanceLines(uuid.New(), []LineSpec{
		{Role: shared.RoleWIP, Debit: d("0.004")},
		{Role: shared.RoleLabor, Debit: d("0.004")},
		{Role: shared.RoleProductionOffset, Credit: d("0.008")},
	})
	if !errors.Is(err, shared.ErrNothingToPost) {
		t.Fatalf("expected ErrNothingToPost, got %v", err)
	}
	var unbalanced *shared.UnbalancedError
	if errors.As(err, &unbalanced) {
		t.Fatalf("sub-cent amounts must not be reported as unbalanced")
	}
}

func TestBalanceLinesRejectsNegativeAndDoubleSided(t *testing.T) {
	if _, err := balanceLines(uuid.New(), []LineSpec{{Role: shared.RoleWIP, Debit: d("-1")}}); !errors.Is(err, shared.ErrUnbalancedComputation) {
		t.Fatalf("expected negative amount rejected, got %v", err)
	}
	if _, err := balanceLines(uuid.New(), []LineSpec{{Role: shared.RoleWIP, Debit: d("1"), Credit: d("1")}}); !errors.Is(err, shared.ErrUnbalancedComputation) {
		t.Fatalf("expected double-sided line rejected, got %v", err)
	}
}

package posting

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
)

// balanceLines rounds every line to currency scale, drops zero lines and folds a residual of at
// most one cent into the last line. Anything larger is an UnbalancedError. Components that
// round away and leave a one-sided batch are rejected as ErrNothingToPost.
func balanceLines(sourceID uuid.UUID, specs []LineSpec) ([]LineSpec, error) {
	lines := make([]LineSpec, 0, len(specs))
	roundedAway := false
	for _, spec := range specs {
		if spec.Debit.IsNegative() || spec.Credit.IsNegative() {
			return nil, fmt.Errorf("%w: negative amount on %s line", shared.ErrUnbalancedComputation, spec.Role)
		}
		nonZero := !spec.Debit.IsZero() || !spec.Credit.IsZero()
		spec.Debit = shared.Round2(spec.Debit)
		spec.Credit = shared.Round2(spec.Credit)
		switch {
		case spec.Debit.IsZero() && spec.Credit.IsZero():
			roundedAway = roundedAway || nonZero
			continue
		case !spec.Debit.IsZero() && !spec.Credit.IsZero():
			return nil, fmt.Errorf("%w: %s line carries both debit and credit", shared.ErrUnbalancedComputation, spec.Role)
		}
		lines = append(lines, spec)
	}
	if len(lines) == 0 {
		return nil, shared.ErrNothingToPost
	}

	debit, credit := sumLines(lines)
	residual := debit.Sub(credit)
	if roundedAway && (debit.IsZero() || credit.IsZero()) && residual.Abs().LessThanOrEqual(shared.Cent) {
		return nil, fmt.Errorf("%w: amounts round below one cent", shared.ErrNothingToPost)
	}
	if residual.IsZero() && len(lines) >= 2 {
		return lines, nil
	}
	if len(lines) < 2 || residual.Abs().GreaterThan(shared.Cent) {
		return nil, &shared.UnbalancedError{SourceID: sourceID, Debit: debit, Credit: credit, Lines: len(lines)}
	}

	last := &lines[len(lines)-1]
	if last.Debit.IsPositive() {
		last.Debit = last.Debit.Sub(residual)
	} else {
		last.Credit = last.Credit.Add(residual)
	}
	if !last.Debit.IsPositive() && !last.Credit.IsPositive() {
		return nil, &shared.UnbalancedError{SourceID: sourceID, Debit: debit, Credit: credit, Lines: len(lines)}
	}
	return lines, nil
}

func sumLines(lines []LineSpec) (debit, credit decimal.Decimal) {
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

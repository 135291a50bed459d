package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyPosted indicates the source transaction already owns a batch.
	ErrAlreadyPosted = errors.New("gl: source transaction already posted")
	// ErrMissingAccountConfiguration indicates a required account role could not be resolved.
	ErrMissingAccountConfiguration = errors.New("gl: missing account configuration")
	// ErrInvalidDimensionReference indicates an unknown, inactive or misplaced dimension value.
	ErrInvalidDimensionReference = errors.New("gl: invalid dimension reference")
	// ErrUnbalancedComputation indicates debits != credits after decomposition.
	ErrUnbalancedComputation = errors.New("gl: unbalanced computation")
	// ErrSourceNotFound indicates the source transaction does not exist.
	ErrSourceNotFound = errors.New("gl: source transaction not found")
	// ErrUnsupportedModule indicates no posting strategy is registered for the module.
	ErrUnsupportedModule = errors.New("gl: unsupported source module")
	// ErrNothingToPost indicates every component of the source is zero.
	ErrNothingToPost = errors.New("gl: nothing to post")
	// ErrBatchNotFound indicates missing batch.
	ErrBatchNotFound = errors.New("gl: batch not found")
	// ErrInvalidPeriod indicates a malformed period identifier.
	ErrInvalidPeriod = errors.New("gl: invalid period")
	// ErrDimensionNotFound indicates missing or inactive dimension.
	ErrDimensionNotFound = errors.New("gl: dimension not found")
	// ErrReversalNotAllowed indicates an attempt to reverse a reversal batch.
	ErrReversalNotAllowed = errors.New("gl: reversal batches cannot be reversed")
	// ErrAccountNotFound indicates missing ledger account.
	ErrAccountNotFound = errors.New("gl: ledger account not found")
)

// AlreadyPostedError carries the batch that already exists for a source.
type AlreadyPostedError struct {
	SourceID uuid.UUID
	BatchID  uuid.UUID
}

func (e *AlreadyPostedError) Error() string {
	return fmt.Sprintf("gl: source %s already posted as batch %s", e.SourceID, e.BatchID)
}

// Is matches ErrAlreadyPosted.
func (e *AlreadyPostedError) Is(target error) bool { return target == ErrAlreadyPosted }

// ResolutionError lists the roles that could not be mapped to a postable account.
type ResolutionError struct {
	Module ModuleType
	Roles  []Role
}

func (e *ResolutionError) Error() string {
	names := make([]string, len(e.Roles))
	for i, role := range e.Roles {
		names[i] = string(role)
	}
	return fmt.Sprintf("gl: missing account configuration for %s roles [%s]", e.Module, strings.Join(names, ", "))
}

// Is matches ErrMissingAccountConfiguration.
func (e *ResolutionError) Is(target error) bool { return target == ErrMissingAccountConfiguration }

// DimensionError describes a rejected dimension reference.
type DimensionError struct {
	DimensionID int64
	ValueID     int64
	Reason      string
}

func (e *DimensionError) Error() string {
	if e.ValueID == 0 {
		return fmt.Sprintf("gl: dimension %d: %s", e.DimensionID, e.Reason)
	}
	return fmt.Sprintf("gl: dimension %d value %d: %s", e.DimensionID, e.ValueID, e.Reason)
}

// Is matches ErrInvalidDimensionReference.
func (e *DimensionError) Is(target error) bool { return target == ErrInvalidDimensionReference }

// UnbalancedError reports the totals of a batch that failed the balance check.
type UnbalancedError struct {
	SourceID uuid.UUID
	Debit    decimal.Decimal
	Credit   decimal.Decimal
	Lines    int
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("gl: source %s unbalanced (debit %s, credit %s, %d lines)", e.SourceID, e.Debit.StringFixed(2), e.Credit.StringFixed(2), e.Lines)
}

// Is matches ErrUnbalancedComputation.
func (e *UnbalancedError) Is(target error) bool { return target == ErrUnbalancedComputation }

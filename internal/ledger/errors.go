package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"voucherops/backend/internal/store"
)

var (
	ErrUnauthenticated     = errors.New("no authenticated operator")
	ErrInvalidAdjustment   = errors.New("invalid adjustment")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrPartialCommit       = errors.New("partial commit")
	// ErrConfigMissing matches store.ErrNotFound as well.
	ErrConfigMissing          = fmt.Errorf("deposit fee configuration missing: %w", store.ErrNotFound)
	ErrConcurrentModification = errors.New("retailer modified concurrently")
)

// CreditLimitExceededError carries the numbers an operator needs to see why a
// mutation was refused.
type CreditLimitExceededError struct {
	RetailerID string
	Attempted  decimal.Decimal
	Floor      decimal.Decimal
	Balance    decimal.Decimal
	Projected  decimal.Decimal
}

func (e *CreditLimitExceededError) Error() string {
	shortfall := e.Floor.Sub(e.Projected)
	return fmt.Sprintf(
		"credit limit exceeded for retailer %s: amount %s would leave balance at %s, short by %s of the minimum allowed balance %s (current balance %s)",
		e.RetailerID,
		e.Attempted.StringFixed(2),
		e.Projected.StringFixed(2),
		shortfall.StringFixed(2),
		e.Floor.StringFixed(2),
		e.Balance.StringFixed(2),
	)
}

func (e *CreditLimitExceededError) Is(target error) bool {
	return target == ErrCreditLimitExceeded
}

// PartialCommitError reports that the retailer write committed but the audit
// record did not. RollbackErr is nil when the compensating write restored the
// prior balance and credit limit.
type PartialCommitError struct {
	Operation   string
	RetailerID  string
	Cause       error
	RollbackErr error
}

func (e *PartialCommitError) Error() string {
	if e.RollbackErr != nil {
		return fmt.Sprintf("%s for retailer %s failed after the ledger write (%v); rollback also failed: %v, manual reconciliation required",
			e.Operation, e.RetailerID, e.Cause, e.RollbackErr)
	}
	return fmt.Sprintf("%s for retailer %s failed after the ledger write (%v); prior values restored",
		e.Operation, e.RetailerID, e.Cause)
}

func (e *PartialCommitError) Unwrap() []error {
	return []error{ErrPartialCommit, e.Cause}
}

func (e *PartialCommitError) RolledBack() bool {
	return e.RollbackErr == nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAdjustment, fmt.Sprintf(format, args...))
}

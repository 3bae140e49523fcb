package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"voucherops/backend/internal/domain"
	"voucherops/backend/internal/metrics"
	"voucherops/backend/internal/store"
	"voucherops/backend/internal/xid"
)

const (
	opCreditLimit = "credit_limit_adjustment"
	opDeposit     = "retailer_deposit"
)

// OperatorSource resolves the console operator behind a request.
type OperatorSource interface {
	AuthenticatedOperator(ctx context.Context) (domain.Operator, error)
}

// Engine applies balance and credit-limit changes to retailers. Every
// mutation is a read of the retailer, a version-checked write of the new
// values and one audit insert.
//
// When the store implements store.Transactor the write and the audit insert
// share one transaction. Otherwise an audit failure triggers a single
// compensating write that restores the prior values.
type Engine struct {
	store      store.LedgerStore
	operators  OperatorSource
	casRetries int
	now        func() time.Time
}

func NewEngine(ledgerStore store.LedgerStore, operators OperatorSource, casRetries int) *Engine {
	if casRetries < 0 {
		casRetries = 0
	}
	return &Engine{
		store:      ledgerStore,
		operators:  operators,
		casRetries: casRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ledgerWrite is the retailer state an adjustment wants to commit.
type ledgerWrite struct {
	balance     decimal.Decimal
	creditLimit decimal.Decimal
}

type planFunc func(retailer domain.Retailer) (ledgerWrite, error)

type auditFunc func(ctx context.Context, s store.LedgerStore, before domain.Retailer, next ledgerWrite) error

func (e *Engine) ProcessCreditLimitAdjustment(ctx context.Context, req domain.CreditLimitAdjustmentRequest) (*domain.CreditLimitAdjustment, error) {
	rec, err := e.processCreditLimitAdjustment(ctx, req)
	metrics.LedgerAdjustments.WithLabelValues(opCreditLimit, outcome(err)).Inc()
	return rec, err
}

func (e *Engine) processCreditLimitAdjustment(ctx context.Context, req domain.CreditLimitAdjustmentRequest) (*domain.CreditLimitAdjustment, error) {
	req.RetailerID = strings.TrimSpace(req.RetailerID)
	if req.RetailerID == "" {
		return nil, invalidf("retailer id is required")
	}
	if req.Direction != domain.CreditDirectionIncrease && req.Direction != domain.CreditDirectionDecrease {
		return nil, invalidf("unknown credit limit direction %q", req.Direction)
	}
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	operator, err := e.authenticatedOperator(ctx)
	if err != nil {
		return nil, err
	}

	plan := func(r domain.Retailer) (ledgerWrite, error) {
		next := r.CreditLimit.Add(req.Amount)
		if req.Direction == domain.CreditDirectionDecrease {
			next = r.CreditLimit.Sub(req.Amount)
		}
		if next.IsNegative() {
			return ledgerWrite{}, invalidf("decrease of %s would take credit limit %s below zero", req.Amount.StringFixed(2), r.CreditLimit.StringFixed(2))
		}
		if r.Balance.LessThan(next.Neg()) {
			return ledgerWrite{}, &CreditLimitExceededError{
				RetailerID: r.ID,
				Attempted:  req.Amount,
				Floor:      next.Neg(),
				Balance:    r.Balance,
				Projected:  r.Balance,
			}
		}
		return ledgerWrite{balance: r.Balance, creditLimit: next}, nil
	}

	var created *domain.CreditLimitAdjustment
	audit := func(ctx context.Context, s store.LedgerStore, before domain.Retailer, next ledgerWrite) error {
		rec, err := s.CreateCreditLimitAdjustment(ctx, domain.CreditLimitAdjustment{
			ID:                xid.New("cla"),
			RetailerID:        before.ID,
			Direction:         req.Direction,
			Amount:            req.Amount.Round(2),
			CreditLimitBefore: before.CreditLimit.Round(2),
			CreditLimitAfter:  next.creditLimit.Round(2),
			Notes:             strings.TrimSpace(req.Notes),
			OperatorID:        operator.ID,
			CreatedAt:         e.now(),
		})
		if err != nil {
			return err
		}
		created = rec
		return nil
	}

	if err := e.commit(ctx, opCreditLimit, req.RetailerID, plan, audit); err != nil {
		return nil, err
	}
	created.OperatorName = operator.Name
	created.OperatorEmail = operator.Email
	return created, nil
}

func (e *Engine) ProcessRetailerDeposit(ctx context.Context, req domain.RetailerDepositRequest) (*domain.RetailerDeposit, error) {
	rec, err := e.processRetailerDeposit(ctx, req)
	metrics.LedgerAdjustments.WithLabelValues(opDeposit, outcome(err)).Inc()
	return rec, err
}

func (e *Engine) processRetailerDeposit(ctx context.Context, req domain.RetailerDepositRequest) (*domain.RetailerDeposit, error) {
	req.RetailerID = strings.TrimSpace(req.RetailerID)
	req.DepositMethod = strings.TrimSpace(req.DepositMethod)
	if req.RetailerID == "" {
		return nil, invalidf("retailer id is required")
	}
	if req.Direction != domain.DepositDirectionDeposit && req.Direction != domain.DepositDirectionRemoval {
		return nil, invalidf("unknown deposit direction %q", req.Direction)
	}
	if req.DepositMethod == "" {
		return nil, invalidf("deposit method is required")
	}
	if err := validateAmount(req.AmountDeposited); err != nil {
		return nil, err
	}

	operator, err := e.authenticatedOperator(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := e.store.GetActiveFeeConfig(ctx, req.DepositMethod)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: method %q", ErrConfigMissing, req.DepositMethod)
		}
		return nil, err
	}

	fee, err := ComputeFee(cfg.FeeType, cfg.FeeValue, req.AmountDeposited)
	if err != nil {
		return nil, err
	}
	feeAmount := fee.Round(2)
	netAmount := req.AmountDeposited.Sub(feeAmount)
	if !netAmount.IsPositive() {
		return nil, invalidf("amount %s must exceed the fee %s", req.AmountDeposited.StringFixed(2), feeAmount.StringFixed(2))
	}

	plan := func(r domain.Retailer) (ledgerWrite, error) {
		after := r.Balance.Add(netAmount)
		if req.Direction == domain.DepositDirectionRemoval {
			after = r.Balance.Sub(netAmount)
			if after.LessThan(r.Floor()) {
				return ledgerWrite{}, &CreditLimitExceededError{
					RetailerID: r.ID,
					Attempted:  netAmount,
					Floor:      r.Floor(),
					Balance:    r.Balance,
					Projected:  after,
				}
			}
		}
		return ledgerWrite{balance: after, creditLimit: r.CreditLimit}, nil
	}

	var created *domain.RetailerDeposit
	audit := func(ctx context.Context, s store.LedgerStore, before domain.Retailer, next ledgerWrite) error {
		rec, err := s.CreateRetailerDeposit(ctx, domain.RetailerDeposit{
			ID:              xid.New("dep"),
			RetailerID:      before.ID,
			AmountDeposited: req.AmountDeposited.Round(2),
			DepositMethod:   req.DepositMethod,
			FeeType:         cfg.FeeType,
			FeeValue:        cfg.FeeValue,
			FeeAmount:       feeAmount,
			NetAmount:       netAmount.Round(2),
			BalanceBefore:   before.Balance.Round(2),
			BalanceAfter:    next.balance.Round(2),
			Direction:       req.Direction,
			Notes:           strings.TrimSpace(req.Notes),
			OperatorID:      operator.ID,
			CreatedAt:       e.now(),
		})
		if err != nil {
			return err
		}
		created = rec
		return nil
	}

	if err := e.commit(ctx, opDeposit, req.RetailerID, plan, audit); err != nil {
		return nil, err
	}
	created.OperatorName = operator.Name
	created.OperatorEmail = operator.Email
	return created, nil
}

// commit runs one adjustment, recomputing it from a fresh read whenever the
// retailer version moved underneath it.
func (e *Engine) commit(ctx context.Context, op string, retailerID string, plan planFunc, audit auditFunc) error {
	for attempt := 0; ; attempt++ {
		err := e.commitOnce(ctx, op, retailerID, plan, audit)
		var partial *PartialCommitError
		if err == nil || errors.As(err, &partial) || !errors.Is(err, store.ErrConflict) {
			return err
		}
		metrics.LedgerConflicts.WithLabelValues(op).Inc()
		if attempt >= e.casRetries {
			return fmt.Errorf("%w: %s on retailer %s gave up after %d attempts", ErrConcurrentModification, op, retailerID, attempt+1)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (e *Engine) commitOnce(ctx context.Context, op string, retailerID string, plan planFunc, audit auditFunc) error {
	if tx, ok := e.store.(store.Transactor); ok {
		return tx.InTx(ctx, func(s store.LedgerStore) error {
			return e.apply(ctx, s, op, retailerID, plan, audit, false)
		})
	}
	return e.apply(ctx, e.store, op, retailerID, plan, audit, true)
}

func (e *Engine) apply(ctx context.Context, s store.LedgerStore, op string, retailerID string, plan planFunc, audit auditFunc, compensate bool) error {
	retailer, err := s.GetRetailer(ctx, retailerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("retailer %s: %w", retailerID, store.ErrNotFound)
		}
		return err
	}

	next, err := plan(*retailer)
	if err != nil {
		return err
	}

	updated, err := s.UpdateRetailerLedger(ctx, retailer.ID, retailer.Version, next.balance, next.creditLimit)
	if err != nil {
		return err
	}

	if err := audit(ctx, s, *retailer, next); err != nil {
		if !compensate {
			return fmt.Errorf("%s audit record: %w", op, err)
		}
		return e.rollback(ctx, s, op, *retailer, *updated, err)
	}
	return nil
}

// rollback restores the values read before the adjustment. It runs once and
// is never retried; a failure is reported for manual reconciliation.
func (e *Engine) rollback(ctx context.Context, s store.LedgerStore, op string, before domain.Retailer, written domain.Retailer, cause error) error {
	rbCtx := context.WithoutCancel(ctx)
	_, rbErr := s.UpdateRetailerLedger(rbCtx, before.ID, written.Version, before.Balance, before.CreditLimit)
	if rbErr != nil {
		metrics.LedgerRollbacks.WithLabelValues(op, "failed").Inc()
		log.Printf("[ledger] ERROR: rollback of %s failed retailer=%s balance=%s credit_limit=%s cause=%v rollback_err=%v",
			op, before.ID, before.Balance.StringFixed(2), before.CreditLimit.StringFixed(2), cause, rbErr)
	} else {
		metrics.LedgerRollbacks.WithLabelValues(op, "restored").Inc()
		log.Printf("[ledger] WARN: %s rolled back retailer=%s after audit failure: %v", op, before.ID, cause)
	}
	return &PartialCommitError{
		Operation:   op,
		RetailerID:  before.ID,
		Cause:       cause,
		RollbackErr: rbErr,
	}
}

func (e *Engine) authenticatedOperator(ctx context.Context) (domain.Operator, error) {
	if e.operators == nil {
		return domain.Operator{}, ErrUnauthenticated
	}
	operator, err := e.operators.AuthenticatedOperator(ctx)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return domain.Operator{}, err
		}
		return domain.Operator{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if operator.ID == "" {
		return domain.Operator{}, ErrUnauthenticated
	}
	return operator, nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalidf("amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(2)) {
		return invalidf("amount %s has more than 2 decimal places", amount)
	}
	return nil
}

func outcome(err error) string {
	var partial *PartialCommitError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &partial):
		return "partial_commit"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	case errors.Is(err, ErrInvalidAdjustment), errors.Is(err, ErrCreditLimitExceeded),
		errors.Is(err, ErrUnauthenticated), errors.Is(err, store.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

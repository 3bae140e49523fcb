package ledger

import (
	"context"
	"strings"

	"voucherops/backend/internal/domain"
	"voucherops/backend/internal/store"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// AuditTrail reads the append-only adjustment records of a retailer, newest
// first, with operator name and email joined in by the store.
type AuditTrail struct {
	store store.LedgerStore
}

func NewAuditTrail(ledgerStore store.LedgerStore) *AuditTrail {
	return &AuditTrail{store: ledgerStore}
}

func (a *AuditTrail) FetchRetailerCreditHistory(ctx context.Context, retailerID string, limit int) ([]domain.CreditLimitAdjustment, error) {
	retailerID = strings.TrimSpace(retailerID)
	if retailerID == "" {
		return []domain.CreditLimitAdjustment{}, nil
	}
	history, err := a.store.ListCreditLimitAdjustments(ctx, retailerID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []domain.CreditLimitAdjustment{}
	}
	return history, nil
}

func (a *AuditTrail) FetchRetailerDepositHistory(ctx context.Context, retailerID string, limit int) ([]domain.RetailerDeposit, error) {
	retailerID = strings.TrimSpace(retailerID)
	if retailerID == "" {
		return []domain.RetailerDeposit{}, nil
	}
	history, err := a.store.ListRetailerDeposits(ctx, retailerID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []domain.RetailerDeposit{}
	}
	return history, nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

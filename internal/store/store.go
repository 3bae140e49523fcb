package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"voucherops/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransaction = errors.New("invalid transaction")
	// ErrConflict reports a lost optimistic-concurrency race: the retailer
	// version no longer matches, or the database aborted a serializable
	// transaction.
	ErrConflict = errors.New("concurrent modification")
)

// LedgerStore is the record store consumed by the balance adjustment engine.
type LedgerStore interface {
	GetRetailer(ctx context.Context, id string) (*domain.Retailer, error)
	// UpdateRetailerLedger writes balance and credit limit only if the stored
	// version equals expectedVersion, and bumps the version.
	UpdateRetailerLedger(ctx context.Context, id string, expectedVersion int64, balance decimal.Decimal, creditLimit decimal.Decimal) (*domain.Retailer, error)
	CreateCreditLimitAdjustment(ctx context.Context, adj domain.CreditLimitAdjustment) (*domain.CreditLimitAdjustment, error)
	CreateRetailerDeposit(ctx context.Context, dep domain.RetailerDeposit) (*domain.RetailerDeposit, error)
	GetActiveFeeConfig(ctx context.Context, method string) (*domain.DepositFeeConfiguration, error)
	ListCreditLimitAdjustments(ctx context.Context, retailerID string, limit int) ([]domain.CreditLimitAdjustment, error)
	ListRetailerDeposits(ctx context.Context, retailerID string, limit int) ([]domain.RetailerDeposit, error)
	GetOperator(ctx context.Context, id string) (*domain.Operator, error)
}

// Transactor is implemented by stores that can run several ledger writes in
// one atomic transaction. fn receives a store bound to that transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(LedgerStore) error) error
}

type CommissionStore interface {
	GetCommissionGroup(ctx context.Context, id string) (*domain.CommissionGroup, error)
	ListCommissionOverrides(ctx context.Context, groupID string) ([]domain.CommissionOverride, error)
}

type Repository interface {
	LedgerStore
	CommissionStore

	CreateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error)
	ListRetailers(ctx context.Context, limit int) ([]domain.Retailer, error)
	UpdateRetailerStatus(ctx context.Context, id string, status string) (*domain.Retailer, error)
	UpdateRetailerCommissionGroup(ctx context.Context, id string, groupID string) (*domain.Retailer, error)

	UpsertFeeConfig(ctx context.Context, cfg domain.DepositFeeConfiguration) (*domain.DepositFeeConfiguration, error)
	ListFeeConfigs(ctx context.Context) ([]domain.DepositFeeConfiguration, error)

	CreateCommissionGroup(ctx context.Context, group domain.CommissionGroup) (*domain.CommissionGroup, error)
	ListCommissionGroups(ctx context.Context, includeArchived bool) ([]domain.CommissionGroup, error)
	ArchiveCommissionGroup(ctx context.Context, id string) (*domain.CommissionGroup, error)
	UpsertCommissionOverride(ctx context.Context, override domain.CommissionOverride) (*domain.CommissionOverride, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

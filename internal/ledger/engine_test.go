package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voucherops/backend/internal/domain"
	"voucherops/backend/internal/store"
	"voucherops/backend/internal/store/memory"
)

var errAuditDown = errors.New("audit table unavailable")

type staticOperator struct {
	op  domain.Operator
	err error
}

func (s staticOperator) AuthenticatedOperator(context.Context) (domain.Operator, error) {
	return s.op, s.err
}

var financeDesk = staticOperator{op: domain.Operator{ID: "finance", Name: "Finance Desk", Email: "finance@voucherops.local"}}

// faultyStore wraps a ledger store and injects failures. It deliberately does
// not implement store.Transactor.
type faultyStore struct {
	store.LedgerStore

	mu            sync.Mutex
	auditErr      error
	failUpdatesAt map[int]error
	updates       int
}

func (f *faultyStore) UpdateRetailerLedger(ctx context.Context, id string, expectedVersion int64, balance decimal.Decimal, creditLimit decimal.Decimal) (*domain.Retailer, error) {
	f.mu.Lock()
	f.updates++
	err := f.failUpdatesAt[f.updates]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.LedgerStore.UpdateRetailerLedger(ctx, id, expectedVersion, balance, creditLimit)
}

func (f *faultyStore) CreateCreditLimitAdjustment(ctx context.Context, adj domain.CreditLimitAdjustment) (*domain.CreditLimitAdjustment, error) {
	if f.auditErr != nil {
		return nil, f.auditErr
	}
	return f.LedgerStore.CreateCreditLimitAdjustment(ctx, adj)
}

func (f *faultyStore) CreateRetailerDeposit(ctx context.Context, dep domain.RetailerDeposit) (*domain.RetailerDeposit, error) {
	if f.auditErr != nil {
		return nil, f.auditErr
	}
	return f.LedgerStore.CreateRetailerDeposit(ctx, dep)
}

// txStore runs InTx callbacks against the wrapped store and records whether
// the callback asked for a rollback.
type txStore struct {
	*faultyStore
	calls      int
	rolledBack int
}

func (t *txStore) InTx(ctx context.Context, fn func(store.LedgerStore) error) error {
	t.calls++
	if err := fn(t.faultyStore); err != nil {
		t.rolledBack++
		return err
	}
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// newLedgerFixture seeds the retailer from the worked examples:
// balance 100.00, credit limit 50.00.
func newLedgerFixture(t *testing.T) (*memory.Store, string) {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()

	retailer, err := repo.CreateRetailer(ctx, domain.Retailer{Name: "Corner Spaza", Balance: dec("100.00"), CreditLimit: dec("50.00")})
	require.NoError(t, err)

	for _, cfg := range []domain.DepositFeeConfiguration{
		{DepositMethod: "bank_transfer", FeeType: domain.FeeTypeFixed, FeeValue: dec("5.00")},
		{DepositMethod: "card", FeeType: domain.FeeTypePercentage, FeeValue: dec("2")},
		{DepositMethod: "cash", FeeType: domain.FeeTypeFixed, FeeValue: decimal.Zero},
	} {
		_, err := repo.UpsertFeeConfig(ctx, cfg)
		require.NoError(t, err)
	}
	return repo, retailer.ID
}

func TestDepositWithFixedFee(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)

	dep, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("100.00"),
		DepositMethod:   "bank_transfer",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.NoError(t, err)

	assert.True(t, dep.FeeAmount.Equal(dec("5.00")), "fee %s", dep.FeeAmount)
	assert.True(t, dep.NetAmount.Equal(dec("95.00")), "net %s", dep.NetAmount)
	assert.True(t, dep.BalanceBefore.Equal(dec("100.00")))
	assert.True(t, dep.BalanceAfter.Equal(dec("195.00")), "after %s", dep.BalanceAfter)
	assert.Equal(t, domain.FeeTypeFixed, dep.FeeType)
	assert.True(t, dep.FeeValue.Equal(dec("5.00")))
	assert.Equal(t, "finance", dep.OperatorID)
	assert.Equal(t, "Finance Desk", dep.OperatorName)

	retailer, err := repo.GetRetailer(context.Background(), retailerID)
	require.NoError(t, err)
	assert.True(t, retailer.Balance.Equal(dec("195.00")))
}

func TestRemovalBelowFloorIsRejected(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("200.00"),
		DepositMethod:   "card",
		Direction:       domain.DepositDirectionRemoval,
	})
	require.ErrorIs(t, err, ErrCreditLimitExceeded)

	var exceeded *CreditLimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.True(t, exceeded.Attempted.Equal(dec("196.00")), "attempted %s", exceeded.Attempted)
	assert.True(t, exceeded.Floor.Equal(dec("-50.00")))
	assert.True(t, exceeded.Projected.Equal(dec("-96.00")))
	assert.Contains(t, err.Error(), "196.00")
	assert.Contains(t, err.Error(), "-50.00")
	assert.Contains(t, err.Error(), "100.00")

	retailer, err := repo.GetRetailer(context.Background(), retailerID)
	require.NoError(t, err)
	assert.True(t, retailer.Balance.Equal(dec("100.00")), "balance must be untouched")

	history, err := repo.ListRetailerDeposits(context.Background(), retailerID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRemovalToExactFloorIsAccepted(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)

	dep, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("153.06"),
		DepositMethod:   "card",
		Direction:       domain.DepositDirectionRemoval,
	})
	require.NoError(t, err)
	assert.Equal(t, "3.06", dep.FeeAmount.StringFixed(2))
	assert.Equal(t, "150.00", dep.NetAmount.StringFixed(2))
	assert.Equal(t, "-50.00", dep.BalanceAfter.StringFixed(2))
}

func TestRemovalOneCentPastFloorIsRejected(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("150.01"),
		DepositMethod:   "cash",
		Direction:       domain.DepositDirectionRemoval,
	})
	require.ErrorIs(t, err, ErrCreditLimitExceeded)
}

func TestDepositEqualToFeeIsInvalid(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)

	for _, amount := range []string{"5.00", "4.99"} {
		_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
			RetailerID:      retailerID,
			AmountDeposited: dec(amount),
			DepositMethod:   "bank_transfer",
			Direction:       domain.DepositDirectionDeposit,
		})
		require.ErrorIs(t, err, ErrInvalidAdjustment, "amount %s", amount)
	}
}

func TestDepositRejectsBadInput(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)
	ctx := context.Background()

	cases := map[string]domain.RetailerDepositRequest{
		"zero amount":       {RetailerID: retailerID, AmountDeposited: decimal.Zero, DepositMethod: "cash", Direction: domain.DepositDirectionDeposit},
		"negative amount":   {RetailerID: retailerID, AmountDeposited: dec("-1"), DepositMethod: "cash", Direction: domain.DepositDirectionDeposit},
		"sub-cent amount":   {RetailerID: retailerID, AmountDeposited: dec("1.005"), DepositMethod: "cash", Direction: domain.DepositDirectionDeposit},
		"unknown direction": {RetailerID: retailerID, AmountDeposited: dec("10"), DepositMethod: "cash", Direction: "sideways"},
		"missing method":    {RetailerID: retailerID, AmountDeposited: dec("10"), Direction: domain.DepositDirectionDeposit},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := engine.ProcessRetailerDeposit(ctx, req)
			require.ErrorIs(t, err, ErrInvalidAdjustment)
		})
	}
}

func TestDepositRequiresOperator(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, staticOperator{err: errors.New("no session")}, 3)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("10.00"),
		DepositMethod:   "cash",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestDepositWithoutFeeConfig(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("10.00"),
		DepositMethod:   "crypto",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.ErrorIs(t, err, ErrConfigMissing)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDepositUnknownRetailer(t *testing.T) {
	repo, _ := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      "ret-missing",
		AmountDeposited: dec("10.00"),
		DepositMethod:   "cash",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFeeSnapshotSurvivesConfigChange(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)
	ctx := context.Background()

	_, err := engine.ProcessRetailerDeposit(ctx, domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("100.00"),
		DepositMethod:   "bank_transfer",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.NoError(t, err)

	_, err = repo.UpsertFeeConfig(ctx, domain.DepositFeeConfiguration{DepositMethod: "bank_transfer", FeeType: domain.FeeTypePercentage, FeeValue: dec("10")})
	require.NoError(t, err)

	history, err := repo.ListRetailerDeposits(ctx, retailerID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.FeeTypeFixed, history[0].FeeType)
	assert.True(t, history[0].FeeValue.Equal(dec("5.00")))
}

func TestCreditLimitIncreaseAndDecrease(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)
	ctx := context.Background()

	adj, err := engine.ProcessCreditLimitAdjustment(ctx, domain.CreditLimitAdjustmentRequest{
		RetailerID: retailerID,
		Direction:  domain.CreditDirectionIncrease,
		Amount:     dec("25.00"),
		Notes:      "  seasonal uplift ",
	})
	require.NoError(t, err)
	assert.Equal(t, "50.00", adj.CreditLimitBefore.StringFixed(2))
	assert.Equal(t, "75.00", adj.CreditLimitAfter.StringFixed(2))
	assert.Equal(t, "seasonal uplift", adj.Notes)
	assert.Equal(t, "finance@voucherops.local", adj.OperatorEmail)

	adj, err = engine.ProcessCreditLimitAdjustment(ctx, domain.CreditLimitAdjustmentRequest{
		RetailerID: retailerID,
		Direction:  domain.CreditDirectionDecrease,
		Amount:     dec("75.00"),
	})
	require.NoError(t, err, "decrease to exactly zero is allowed")
	assert.True(t, adj.CreditLimitAfter.IsZero())

	_, err = engine.ProcessCreditLimitAdjustment(ctx, domain.CreditLimitAdjustmentRequest{
		RetailerID: retailerID,
		Direction:  domain.CreditDirectionDecrease,
		Amount:     dec("0.01"),
	})
	require.ErrorIs(t, err, ErrInvalidAdjustment)

	retailer, err := repo.GetRetailer(ctx, retailerID)
	require.NoError(t, err)
	assert.True(t, retailer.CreditLimit.IsZero())
}

func TestCreditLimitDecreaseCannotStrandNegativeBalance(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 3)
	ctx := context.Background()

	_, err := engine.ProcessRetailerDeposit(ctx, domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("140.00"),
		DepositMethod:   "cash",
		Direction:       domain.DepositDirectionRemoval,
	})
	require.NoError(t, err)

	_, err = engine.ProcessCreditLimitAdjustment(ctx, domain.CreditLimitAdjustmentRequest{
		RetailerID: retailerID,
		Direction:  domain.CreditDirectionDecrease,
		Amount:     dec("20.00"),
	})
	require.ErrorIs(t, err, ErrCreditLimitExceeded)

	_, err = engine.ProcessCreditLimitAdjustment(ctx, domain.CreditLimitAdjustmentRequest{
		RetailerID: retailerID,
		Direction:  domain.CreditDirectionDecrease,
		Amount:     dec("10.00"),
	})
	require.NoError(t, err, "balance -40.00 still meets floor -40.00")
}

func TestAuditFailureRollsBackBalance(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	faulty := &faultyStore{LedgerStore: repo, auditErr: errAuditDown}
	engine := NewEngine(faulty, financeDesk, 3)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("100.00"),
		DepositMethod:   "bank_transfer",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.ErrorIs(t, err, ErrPartialCommit)
	require.ErrorIs(t, err, errAuditDown)
	assert.NotErrorIs(t, err, ErrInvalidAdjustment)

	var partial *PartialCommitError
	require.ErrorAs(t, err, &partial)
	assert.True(t, partial.RolledBack())

	retailer, err := repo.GetRetailer(context.Background(), retailerID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", retailer.Balance.StringFixed(2))
	assert.Equal(t, 2, faulty.updates, "one write plus one compensating write")
}

func TestAuditFailureRollsBackCreditLimit(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	faulty := &faultyStore{LedgerStore: repo, auditErr: errAuditDown}
	engine := NewEngine(faulty, financeDesk, 3)

	_, err := engine.ProcessCreditLimitAdjustment(context.Background(), domain.CreditLimitAdjustmentRequest{
		RetailerID: retailerID,
		Direction:  domain.CreditDirectionIncrease,
		Amount:     dec("500.00"),
	})
	require.ErrorIs(t, err, ErrPartialCommit)

	retailer, err := repo.GetRetailer(context.Background(), retailerID)
	require.NoError(t, err)
	assert.Equal(t, "50.00", retailer.CreditLimit.StringFixed(2))
}

func TestFailedRollbackIsSurfaced(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	rollbackErr := errors.New("connection reset")
	faulty := &faultyStore{
		LedgerStore:   repo,
		auditErr:      errAuditDown,
		failUpdatesAt: map[int]error{2: rollbackErr},
	}
	engine := NewEngine(faulty, financeDesk, 3)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("100.00"),
		DepositMethod:   "bank_transfer",
		Direction:       domain.DepositDirectionDeposit,
	})
	var partial *PartialCommitError
	require.ErrorAs(t, err, &partial)
	assert.False(t, partial.RolledBack())
	assert.ErrorIs(t, partial.RollbackErr, rollbackErr)
	assert.Contains(t, err.Error(), "manual reconciliation")
	assert.Equal(t, 2, faulty.updates, "rollback is attempted exactly once")

	retailer, err := repo.GetRetailer(context.Background(), retailerID)
	require.NoError(t, err)
	assert.Equal(t, "195.00", retailer.Balance.StringFixed(2))
}

func TestVersionConflictIsRecomputed(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	faulty := &faultyStore{LedgerStore: repo, failUpdatesAt: map[int]error{1: store.ErrConflict}}
	engine := NewEngine(faulty, financeDesk, 3)

	dep, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("10.00"),
		DepositMethod:   "cash",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.NoError(t, err)
	assert.Equal(t, "110.00", dep.BalanceAfter.StringFixed(2))
	assert.Equal(t, 2, faulty.updates)
}

func TestVersionConflictGivesUp(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	faulty := &faultyStore{LedgerStore: repo, failUpdatesAt: map[int]error{1: store.ErrConflict, 2: store.ErrConflict}}
	engine := NewEngine(faulty, financeDesk, 1)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("10.00"),
		DepositMethod:   "cash",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.ErrorIs(t, err, ErrConcurrentModification)

	retailer, err := repo.GetRetailer(context.Background(), retailerID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", retailer.Balance.StringFixed(2))
}

func TestTransactionalStoreSkipsCompensation(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	tx := &txStore{faultyStore: &faultyStore{LedgerStore: repo, auditErr: errAuditDown}}
	engine := NewEngine(tx, financeDesk, 3)

	_, err := engine.ProcessRetailerDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID:      retailerID,
		AmountDeposited: dec("10.00"),
		DepositMethod:   "cash",
		Direction:       domain.DepositDirectionDeposit,
	})
	require.ErrorIs(t, err, errAuditDown)
	assert.NotErrorIs(t, err, ErrPartialCommit)
	assert.Equal(t, 1, tx.calls)
	assert.Equal(t, 1, tx.rolledBack)
	assert.Equal(t, 1, tx.updates, "no compensating write inside a transaction")
}

func TestConcurrentRemovalsNeverBreachFloor(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	engine := NewEngine(repo, financeDesk, 100)
	ctx := context.Background()

	const workers = 24
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.ProcessRetailerDeposit(ctx, domain.RetailerDepositRequest{
				RetailerID:      retailerID,
				AmountDeposited: dec("10.00"),
				DepositMethod:   "cash",
				Direction:       domain.DepositDirectionRemoval,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	retailer, err := repo.GetRetailer(ctx, retailerID)
	require.NoError(t, err)
	assert.Equal(t, 15, succeeded, "100.00 balance with 50.00 credit allows fifteen 10.00 removals")
	assert.True(t, retailer.Balance.Equal(dec("100.00").Sub(dec("10.00").Mul(decimal.NewFromInt(int64(succeeded))))))
	assert.True(t, retailer.Balance.GreaterThanOrEqual(retailer.Floor()))

	history, err := repo.ListRetailerDeposits(ctx, retailerID, 100)
	require.NoError(t, err)
	assert.Len(t, history, succeeded)
}

func TestAuditTrailNewestFirstWithOperator(t *testing.T) {
	repo, retailerID := newLedgerFixture(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateUser(ctx, domain.UserAccount{
		Username: "finance", Password: "x", DisplayName: "Finance Desk", Email: "finance@voucherops.local", Role: domain.RoleFinance,
	}))
	engine := NewEngine(repo, financeDesk, 3)
	trail := NewAuditTrail(repo)

	for _, amount := range []string{"10.00", "20.00", "30.00"} {
		_, err := engine.ProcessRetailerDeposit(ctx, domain.RetailerDepositRequest{
			RetailerID:      retailerID,
			AmountDeposited: dec(amount),
			DepositMethod:   "cash",
			Direction:       domain.DepositDirectionDeposit,
		})
		require.NoError(t, err)
	}
	_, err := engine.ProcessCreditLimitAdjustment(ctx, domain.CreditLimitAdjustmentRequest{
		RetailerID: retailerID, Direction: domain.CreditDirectionIncrease, Amount: dec("5.00"),
	})
	require.NoError(t, err)

	deposits, err := trail.FetchRetailerDepositHistory(ctx, retailerID, 0)
	require.NoError(t, err)
	require.Len(t, deposits, 3)
	assert.Equal(t, "30.00", deposits[0].AmountDeposited.StringFixed(2))
	assert.Equal(t, "10.00", deposits[2].AmountDeposited.StringFixed(2))
	assert.Equal(t, "Finance Desk", deposits[0].OperatorName)

	credits, err := trail.FetchRetailerCreditHistory(ctx, retailerID, 10)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, "finance@voucherops.local", credits[0].OperatorEmail)

	empty, err := trail.FetchRetailerDepositHistory(ctx, "ret-unknown", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

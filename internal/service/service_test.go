package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"voucherops/backend/internal/cache"
	"voucherops/backend/internal/commission"
	"voucherops/backend/internal/domain"
	"voucherops/backend/internal/ledger"
	"voucherops/backend/internal/store"
	"voucherops/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	engine := ledger.NewEngine(repo, NewOperators(repo), 3)
	resolver := commission.NewResolver(repo, repo, cache.NoopCommissionCache{}, time.Minute)
	return New(repo, engine, resolver), repo
}

func asAdmin() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func asFinance() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "finance", Role: domain.RoleFinance})
}

func asViewer() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "auditor", Role: domain.RoleViewer})
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestOperatorsResolveProfileFromActor(t *testing.T) {
	_, repo := newTestService()
	operators := NewOperators(repo)

	op, err := operators.AuthenticatedOperator(asFinance())
	if err != nil {
		t.Fatalf("resolve operator: %v", err)
	}
	if op.ID != "finance" || op.Name != "Finance Desk" || op.Email != "finance@voucherops.local" {
		t.Fatalf("unexpected operator %+v", op)
	}

	if _, err := operators.AuthenticatedOperator(context.Background()); !errors.Is(err, ledger.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated without actor, got %v", err)
	}

	fallback, err := operators.AuthenticatedOperator(asViewer())
	if err != nil {
		t.Fatalf("resolve operator without profile: %v", err)
	}
	if fallback.ID != "auditor" || fallback.Email != "" {
		t.Fatalf("expected username-only operator, got %+v", fallback)
	}
}

func TestRecordDepositJoinsOperatorOnAuditRow(t *testing.T) {
	svc, _ := newTestService()
	ctx := asFinance()

	dep, err := svc.RecordDeposit(ctx, domain.RetailerDepositRequest{
		RetailerID:      "ret-demo-001",
		AmountDeposited: money("200.00"),
		DepositMethod:   "card",
		Direction:       domain.DepositDirectionDeposit,
	})
	if err != nil {
		t.Fatalf("record deposit: %v", err)
	}
	if dep.FeeAmount.StringFixed(2) != "4.00" || dep.NetAmount.StringFixed(2) != "196.00" || dep.BalanceAfter.StringFixed(2) != "296.00" {
		t.Fatalf("unexpected deposit %+v", dep)
	}

	history, err := svc.DepositHistory(asViewer(), "ret-demo-001", 10)
	if err != nil {
		t.Fatalf("deposit history: %v", err)
	}
	if len(history) != 1 || history[0].OperatorName != "Finance Desk" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestLedgerMutationsRequireFinanceOrAdmin(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.AdjustCreditLimit(asViewer(), domain.CreditLimitAdjustmentRequest{
		RetailerID: "ret-demo-001", Direction: domain.CreditDirectionIncrease, Amount: money("10.00"),
	})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}

	_, err = svc.RecordDeposit(context.Background(), domain.RetailerDepositRequest{
		RetailerID: "ret-demo-001", AmountDeposited: money("10.00"), DepositMethod: "cash", Direction: domain.DepositDirectionDeposit,
	})
	if !errors.Is(err, ledger.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated without actor, got %v", err)
	}

	adj, err := svc.AdjustCreditLimit(asAdmin(), domain.CreditLimitAdjustmentRequest{
		RetailerID: "ret-demo-001", Direction: domain.CreditDirectionIncrease, Amount: money("10.00"),
	})
	if err != nil {
		t.Fatalf("admin credit adjustment: %v", err)
	}
	if adj.CreditLimitAfter.StringFixed(2) != "60.00" || adj.OperatorName != "Back Office Admin" {
		t.Fatalf("unexpected adjustment %+v", adj)
	}
}

func TestCreateRetailerStartsAtZeroBalance(t *testing.T) {
	svc, _ := newTestService()

	created, err := svc.CreateRetailer(asFinance(), domain.RetailerCreateRequest{
		Name:              "  Taxi Rank Stall ",
		CreditLimit:       money("75.00"),
		CommissionGroupID: "grp-standard",
	})
	if err != nil {
		t.Fatalf("create retailer: %v", err)
	}
	if created.Name != "Taxi Rank Stall" || !created.Balance.IsZero() || created.Status != domain.RetailerStatusActive {
		t.Fatalf("unexpected retailer %+v", created)
	}

	if _, err := svc.CreateRetailer(asFinance(), domain.RetailerCreateRequest{Name: "x", CreditLimit: money("-1")}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for negative limit, got %v", err)
	}
	if _, err := svc.CreateRetailer(asFinance(), domain.RetailerCreateRequest{Name: "x", CreditLimit: money("1.005")}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for sub-cent limit, got %v", err)
	}
	if _, err := svc.CreateRetailer(asFinance(), domain.RetailerCreateRequest{Name: "x", CommissionGroupID: "grp-missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown group, got %v", err)
	}
	if _, err := svc.CreateRetailer(asViewer(), domain.RetailerCreateRequest{Name: "x"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for viewer, got %v", err)
	}
}

func TestSetRetailerStatusNeverDeletes(t *testing.T) {
	svc, _ := newTestService()

	updated, err := svc.SetRetailerStatus(asAdmin(), "ret-demo-002", domain.RetailerStatusRequest{Status: "Suspended"})
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if updated.Status != domain.RetailerStatusSuspended {
		t.Fatalf("expected suspended, got %s", updated.Status)
	}

	if _, err := svc.SetRetailerStatus(asAdmin(), "ret-demo-002", domain.RetailerStatusRequest{Status: "deleted"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid status error, got %v", err)
	}

	still, err := svc.GetRetailer(asViewer(), "ret-demo-002")
	if err != nil {
		t.Fatalf("retailer should still exist: %v", err)
	}
	if still.Status != domain.RetailerStatusSuspended {
		t.Fatalf("unexpected status %s", still.Status)
	}
}

func TestUpsertFeeConfigValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := asAdmin()

	cases := []struct {
		name string
		req  domain.FeeConfigUpsertRequest
	}{
		{"missing method", domain.FeeConfigUpsertRequest{FeeType: domain.FeeTypeFixed, FeeValue: money("1")}},
		{"unknown type", domain.FeeConfigUpsertRequest{DepositMethod: "cash", FeeType: "tiered", FeeValue: money("1")}},
		{"negative value", domain.FeeConfigUpsertRequest{DepositMethod: "cash", FeeType: domain.FeeTypeFixed, FeeValue: money("-1")}},
		{"percentage above 100", domain.FeeConfigUpsertRequest{DepositMethod: "cash", FeeType: domain.FeeTypePercentage, FeeValue: money("101")}},
	}
	for _, tc := range cases {
		if _, err := svc.UpsertFeeConfig(ctx, tc.req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected invalid request, got %v", tc.name, err)
		}
	}

	if _, err := svc.UpsertFeeConfig(asFinance(), domain.FeeConfigUpsertRequest{DepositMethod: "cash", FeeType: domain.FeeTypeFixed}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected finance to be forbidden from fee management, got %v", err)
	}

	saved, err := svc.UpsertFeeConfig(ctx, domain.FeeConfigUpsertRequest{DepositMethod: "cash", FeeType: "FIXED", FeeValue: money("1.50")})
	if err != nil {
		t.Fatalf("upsert fee config: %v", err)
	}
	if saved.FeeType != domain.FeeTypeFixed || !saved.Active {
		t.Fatalf("unexpected config %+v", saved)
	}

	dep, err := svc.RecordDeposit(asFinance(), domain.RetailerDepositRequest{
		RetailerID: "ret-demo-002", AmountDeposited: money("10.00"), DepositMethod: "cash", Direction: domain.DepositDirectionDeposit,
	})
	if err != nil {
		t.Fatalf("deposit after fee change: %v", err)
	}
	if dep.FeeAmount.StringFixed(2) != "1.50" || dep.NetAmount.StringFixed(2) != "8.50" {
		t.Fatalf("new fee not applied: %+v", dep)
	}
}

func TestCommissionGroupLifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := asAdmin()

	group, err := svc.CreateCommissionGroup(ctx, domain.CommissionGroupCreateRequest{
		Name: "Premium",
		Rates: []domain.CommissionRate{
			{VoucherType: " Airtime", SupplierPercent: money("6"), RetailerRate: money("0.04"), AgentRate: money("0.01")},
		},
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if group.Rates[0].VoucherType != "airtime" {
		t.Fatalf("voucher type not normalized: %q", group.Rates[0].VoucherType)
	}

	breakdown, err := svc.ResolveCommission(asViewer(), group.ID, "", "airtime", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !breakdown.SupplierRate.Equal(money("0.06")) || breakdown.Source != domain.CommissionSourceGroup {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}

	if _, err := svc.SetCommissionOverride(ctx, group.ID, domain.CommissionOverride{
		VoucherType: "airtime", SupplierPercent: money("7"), RetailerRate: money("0.05"),
	}); err != nil {
		t.Fatalf("set override: %v", err)
	}
	breakdown, err = svc.ResolveCommission(asViewer(), group.ID, "", "airtime", nil)
	if err != nil {
		t.Fatalf("resolve after override: %v", err)
	}
	if breakdown.Source != domain.CommissionSourceOverride || !breakdown.RetailerRate.Equal(money("0.05")) {
		t.Fatalf("override not applied %+v", breakdown)
	}

	if _, err := svc.ArchiveCommissionGroup(ctx, group.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := svc.AssignCommissionGroup(ctx, "ret-demo-002", domain.CommissionGroupAssignRequest{CommissionGroupID: group.ID}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected archived group to be rejected for assignment, got %v", err)
	}
	if _, err := svc.ResolveCommission(asViewer(), group.ID, "", "airtime", nil); err != nil {
		t.Fatalf("archived group should still resolve: %v", err)
	}

	active, err := svc.ListCommissionGroups(ctx, false)
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	for _, g := range active {
		if g.ID == group.ID {
			t.Fatalf("archived group listed as active")
		}
	}
}

func TestCreateCommissionGroupRejectsBadRates(t *testing.T) {
	svc, _ := newTestService()
	ctx := asAdmin()

	_, err := svc.CreateCommissionGroup(ctx, domain.CommissionGroupCreateRequest{
		Name:  "Broken",
		Rates: []domain.CommissionRate{{VoucherType: "airtime", RetailerRate: money("3")}},
	})
	if !errors.Is(err, ErrInvalidRequest) || !errors.Is(err, commission.ErrInvalidRate) {
		t.Fatalf("expected invalid request for retailer rate given as percent, got %v", err)
	}

	_, err = svc.CreateCommissionGroup(ctx, domain.CommissionGroupCreateRequest{
		Name: "Dupes",
		Rates: []domain.CommissionRate{
			{VoucherType: "airtime"},
			{VoucherType: "AIRTIME"},
		},
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected duplicate voucher type to be rejected, got %v", err)
	}
}

func TestAssignCommissionGroupAndResolveForRetailer(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.ResolveCommission(asViewer(), "", "ret-demo-002", "airtime", nil); !errors.Is(err, commission.ErrRateNotConfigured) {
		t.Fatalf("expected rate not configured for unassigned retailer, got %v", err)
	}

	if _, err := svc.AssignCommissionGroup(asAdmin(), "ret-demo-002", domain.CommissionGroupAssignRequest{CommissionGroupID: "grp-standard"}); err != nil {
		t.Fatalf("assign group: %v", err)
	}

	amount := money("50.00")
	breakdown, err := svc.ResolveCommission(asViewer(), "", "ret-demo-002", "airtime", &amount)
	if err != nil {
		t.Fatalf("resolve for retailer: %v", err)
	}
	if breakdown.RetailerAmount.StringFixed(2) != "1.50" || breakdown.SupplierAmount.StringFixed(2) != "2.50" {
		t.Fatalf("unexpected amounts %+v", breakdown)
	}

	if _, err := svc.ResolveCommission(asViewer(), "", "", "airtime", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request without group or retailer, got %v", err)
	}
}

func TestManagementRejectsValuesStorageWouldRound(t *testing.T) {
	svc, _ := newTestService()
	ctx := asAdmin()

	_, err := svc.UpsertFeeConfig(ctx, domain.FeeConfigUpsertRequest{
		DepositMethod: "card", FeeType: domain.FeeTypePercentage, FeeValue: money("1.23456"),
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for 5-decimal fee value, got %v", err)
	}
	if _, err := svc.UpsertFeeConfig(ctx, domain.FeeConfigUpsertRequest{
		DepositMethod: "card", FeeType: domain.FeeTypePercentage, FeeValue: money("1.2345"),
	}); err != nil {
		t.Fatalf("4-decimal fee value should be accepted: %v", err)
	}

	_, err = svc.CreateCommissionGroup(ctx, domain.CommissionGroupCreateRequest{
		Name: "Precise",
		Rates: []domain.CommissionRate{
			{VoucherType: "airtime", SupplierPercent: money("5"), RetailerRate: money("0.0333333"), AgentRate: money("0")},
		},
	})
	if !errors.Is(err, commission.ErrInvalidRate) {
		t.Fatalf("expected invalid rate for 7-decimal retailer rate, got %v", err)
	}

	denomination := money("10.005")
	_, err = svc.SetCommissionOverride(ctx, "grp-standard", domain.CommissionOverride{
		VoucherType: "airtime", Denomination: &denomination,
		SupplierPercent: money("6"), RetailerRate: money("0.04"), AgentRate: money("0.01"),
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request for sub-cent denomination, got %v", err)
	}
}

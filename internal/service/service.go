package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"voucherops/backend/internal/commission"
	"voucherops/backend/internal/domain"
	"voucherops/backend/internal/ledger"
	"voucherops/backend/internal/store"
)

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid request")
)

var hundred = decimal.NewFromInt(100)

// feeValuePlaces matches the precision of stored fee values.
const feeValuePlaces = 4

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Operators resolves the signed-in console user into the operator recorded
// on audit rows.
type Operators struct {
	repo store.LedgerStore
}

func NewOperators(repo store.LedgerStore) *Operators {
	return &Operators{repo: repo}
}

func (o *Operators) AuthenticatedOperator(ctx context.Context) (domain.Operator, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.Operator{}, ledger.ErrUnauthenticated
	}

	op, err := o.repo.GetOperator(ctx, actor.Username)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.Operator{}, err
		}
		log.Printf("[service] WARN: no operator profile for user=%s, recording username only", actor.Username)
		return domain.Operator{ID: actor.Username, Name: actor.Username, Role: actor.Role}, nil
	}
	return *op, nil
}

type Service struct {
	repo     store.Repository
	engine   *ledger.Engine
	audit    *ledger.AuditTrail
	resolver *commission.Resolver
}

func New(repo store.Repository, engine *ledger.Engine, resolver *commission.Resolver) *Service {
	return &Service{
		repo:     repo,
		engine:   engine,
		audit:    ledger.NewAuditTrail(repo),
		resolver: resolver,
	}
}

func (s *Service) CreateRetailer(ctx context.Context, req domain.RetailerCreateRequest) (domain.Retailer, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleFinance); err != nil {
		return domain.Retailer{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Retailer{}, invalidf("retailer name is required")
	}
	if req.CreditLimit.IsNegative() || !req.CreditLimit.Equal(req.CreditLimit.Round(2)) {
		return domain.Retailer{}, invalidf("credit limit must be a non-negative amount with at most 2 decimals")
	}

	groupID := strings.TrimSpace(req.CommissionGroupID)
	if groupID != "" {
		if err := s.assignableGroup(ctx, groupID); err != nil {
			return domain.Retailer{}, err
		}
	}

	created, err := s.repo.CreateRetailer(ctx, domain.Retailer{
		Name:              req.Name,
		Balance:           decimal.Zero,
		CreditLimit:       req.CreditLimit,
		CommissionGroupID: groupID,
		AgentID:           strings.TrimSpace(req.AgentID),
		Status:            domain.RetailerStatusActive,
	})
	if err != nil {
		return domain.Retailer{}, err
	}
	return *created, nil
}

func (s *Service) GetRetailer(ctx context.Context, id string) (domain.Retailer, error) {
	retailer, err := s.repo.GetRetailer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Retailer{}, err
	}
	return *retailer, nil
}

func (s *Service) ListRetailers(ctx context.Context, limit int) ([]domain.Retailer, error) {
	return s.repo.ListRetailers(ctx, limit)
}

// SetRetailerStatus is the only way to retire a retailer; rows are never
// deleted.
func (s *Service) SetRetailerStatus(ctx context.Context, id string, req domain.RetailerStatusRequest) (domain.Retailer, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleFinance); err != nil {
		return domain.Retailer{}, err
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !domain.IsValidRetailerStatus(status) {
		return domain.Retailer{}, invalidf("unknown retailer status %q", req.Status)
	}

	updated, err := s.repo.UpdateRetailerStatus(ctx, strings.TrimSpace(id), status)
	if err != nil {
		return domain.Retailer{}, err
	}
	return *updated, nil
}

// AssignCommissionGroup links a retailer to a group, or unlinks it when the
// group id is empty. Archived groups cannot receive new retailers.
func (s *Service) AssignCommissionGroup(ctx context.Context, retailerID string, req domain.CommissionGroupAssignRequest) (domain.Retailer, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Retailer{}, err
	}
	groupID := strings.TrimSpace(req.CommissionGroupID)
	if groupID != "" {
		if err := s.assignableGroup(ctx, groupID); err != nil {
			return domain.Retailer{}, err
		}
	}

	updated, err := s.repo.UpdateRetailerCommissionGroup(ctx, strings.TrimSpace(retailerID), groupID)
	if err != nil {
		return domain.Retailer{}, err
	}
	return *updated, nil
}

func (s *Service) assignableGroup(ctx context.Context, groupID string) error {
	group, err := s.repo.GetCommissionGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if group.Archived {
		return invalidf("commission group %s is archived", groupID)
	}
	return nil
}

func (s *Service) UpsertFeeConfig(ctx context.Context, req domain.FeeConfigUpsertRequest) (domain.DepositFeeConfiguration, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.DepositFeeConfiguration{}, err
	}

	req.DepositMethod = strings.TrimSpace(req.DepositMethod)
	req.FeeType = strings.ToLower(strings.TrimSpace(req.FeeType))
	if req.DepositMethod == "" {
		return domain.DepositFeeConfiguration{}, invalidf("deposit method is required")
	}
	if !ledger.IsValidFeeType(req.FeeType) {
		return domain.DepositFeeConfiguration{}, invalidf("unknown fee type %q", req.FeeType)
	}
	if req.FeeValue.IsNegative() {
		return domain.DepositFeeConfiguration{}, invalidf("fee value cannot be negative")
	}
	if !req.FeeValue.Equal(req.FeeValue.Round(feeValuePlaces)) {
		return domain.DepositFeeConfiguration{}, invalidf("fee value %s has more than %d decimal places", req.FeeValue, feeValuePlaces)
	}
	if req.FeeType == domain.FeeTypePercentage && req.FeeValue.GreaterThan(hundred) {
		return domain.DepositFeeConfiguration{}, invalidf("percentage fee cannot exceed 100")
	}

	saved, err := s.repo.UpsertFeeConfig(ctx, domain.DepositFeeConfiguration{
		DepositMethod: req.DepositMethod,
		FeeType:       req.FeeType,
		FeeValue:      req.FeeValue,
		Active:        true,
	})
	if err != nil {
		return domain.DepositFeeConfiguration{}, err
	}
	return *saved, nil
}

func (s *Service) ListFeeConfigs(ctx context.Context) ([]domain.DepositFeeConfiguration, error) {
	return s.repo.ListFeeConfigs(ctx)
}

func (s *Service) CreateCommissionGroup(ctx context.Context, req domain.CommissionGroupCreateRequest) (domain.CommissionGroup, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionGroup{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.CommissionGroup{}, invalidf("commission group name is required")
	}

	rates := make([]domain.CommissionRate, 0, len(req.Rates))
	seen := make(map[string]struct{}, len(req.Rates))
	for _, rate := range req.Rates {
		rate.VoucherType = commission.NormalizeVoucherType(rate.VoucherType)
		if rate.VoucherType == "" {
			return domain.CommissionGroup{}, invalidf("voucher type is required for every rate")
		}
		if _, dup := seen[rate.VoucherType]; dup {
			return domain.CommissionGroup{}, invalidf("duplicate rate for voucher type %s", rate.VoucherType)
		}
		seen[rate.VoucherType] = struct{}{}
		if err := commission.ValidateRate(rate); err != nil {
			return domain.CommissionGroup{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		rates = append(rates, rate)
	}

	created, err := s.repo.CreateCommissionGroup(ctx, domain.CommissionGroup{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Rates:       rates,
	})
	if err != nil {
		return domain.CommissionGroup{}, err
	}
	return *created, nil
}

func (s *Service) ListCommissionGroups(ctx context.Context, includeArchived bool) ([]domain.CommissionGroup, error) {
	return s.repo.ListCommissionGroups(ctx, includeArchived)
}

// ArchiveCommissionGroup soft-deletes a group. Retailers already linked keep
// resolving against it.
func (s *Service) ArchiveCommissionGroup(ctx context.Context, id string) (domain.CommissionGroup, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionGroup{}, err
	}

	id = strings.TrimSpace(id)
	archived, err := s.repo.ArchiveCommissionGroup(ctx, id)
	if err != nil {
		return domain.CommissionGroup{}, err
	}
	s.invalidate(ctx, id)
	return *archived, nil
}

func (s *Service) SetCommissionOverride(ctx context.Context, groupID string, req domain.CommissionOverride) (domain.CommissionOverride, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CommissionOverride{}, err
	}

	req.GroupID = strings.TrimSpace(groupID)
	req.VoucherType = commission.NormalizeVoucherType(req.VoucherType)
	if req.GroupID == "" || req.VoucherType == "" {
		return domain.CommissionOverride{}, invalidf("group and voucher type are required")
	}
	if req.Denomination != nil {
		if !req.Denomination.IsPositive() {
			return domain.CommissionOverride{}, invalidf("denomination must be greater than zero")
		}
		if !req.Denomination.Equal(req.Denomination.Round(2)) {
			return domain.CommissionOverride{}, invalidf("denomination %s has more than 2 decimal places", req.Denomination)
		}
	}
	if err := commission.ValidateRate(domain.CommissionRate{
		SupplierPercent: req.SupplierPercent,
		RetailerRate:    req.RetailerRate,
		AgentRate:       req.AgentRate,
	}); err != nil {
		return domain.CommissionOverride{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	saved, err := s.repo.UpsertCommissionOverride(ctx, req)
	if err != nil {
		return domain.CommissionOverride{}, err
	}
	s.invalidate(ctx, req.GroupID)
	return *saved, nil
}

func (s *Service) invalidate(ctx context.Context, groupID string) {
	if s.resolver != nil {
		s.resolver.Invalidate(ctx, groupID)
	}
}

func (s *Service) AdjustCreditLimit(ctx context.Context, req domain.CreditLimitAdjustmentRequest) (domain.CreditLimitAdjustment, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleFinance); err != nil {
		return domain.CreditLimitAdjustment{}, err
	}
	rec, err := s.engine.ProcessCreditLimitAdjustment(ctx, req)
	if err != nil {
		return domain.CreditLimitAdjustment{}, err
	}
	return *rec, nil
}

func (s *Service) RecordDeposit(ctx context.Context, req domain.RetailerDepositRequest) (domain.RetailerDeposit, error) {
	if err := requireRole(ctx, domain.RoleAdmin, domain.RoleFinance); err != nil {
		return domain.RetailerDeposit{}, err
	}
	rec, err := s.engine.ProcessRetailerDeposit(ctx, req)
	if err != nil {
		return domain.RetailerDeposit{}, err
	}
	return *rec, nil
}

func (s *Service) CreditLimitHistory(ctx context.Context, retailerID string, limit int) ([]domain.CreditLimitAdjustment, error) {
	return s.audit.FetchRetailerCreditHistory(ctx, retailerID, limit)
}

func (s *Service) DepositHistory(ctx context.Context, retailerID string, limit int) ([]domain.RetailerDeposit, error) {
	return s.audit.FetchRetailerDepositHistory(ctx, retailerID, limit)
}

// ResolveCommission resolves by group when groupID is set, otherwise by the
// retailer's assigned group.
func (s *Service) ResolveCommission(ctx context.Context, groupID string, retailerID string, voucherType string, amount *decimal.Decimal) (domain.CommissionBreakdown, error) {
	groupID = strings.TrimSpace(groupID)
	retailerID = strings.TrimSpace(retailerID)
	switch {
	case groupID != "":
		return s.resolver.Resolve(ctx, groupID, voucherType, amount)
	case retailerID != "":
		return s.resolver.ResolveForRetailer(ctx, retailerID, voucherType, amount)
	}
	return domain.CommissionBreakdown{}, invalidf("group_id or retailer_id is required")
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return ledger.ErrUnauthenticated
	}
	if !slices.Contains(roles, actor.Role) {
		return fmt.Errorf("%w: %s role required", ErrForbidden, strings.Join(roles, " or "))
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

package commission

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"voucherops/backend/internal/cache"
	"voucherops/backend/internal/domain"
	"voucherops/backend/internal/metrics"
	"voucherops/backend/internal/store"
)

var (
	// ErrRateNotConfigured means neither an override nor a group rate exists.
	// Callers must not fall back to a zero commission.
	ErrRateNotConfigured = errors.New("commission rate not configured")
	ErrInvalidRate       = errors.New("invalid commission rate")
	ErrInvalidRequest    = errors.New("invalid commission request")
)

var (
	hundred        = decimal.NewFromInt(100)
	one            = decimal.NewFromInt(1)
	defaultTTL     = 5 * time.Minute
	sourceNotFound = "missing"
)

type RetailerReader interface {
	GetRetailer(ctx context.Context, id string) (*domain.Retailer, error)
}

type Resolver struct {
	store     store.CommissionStore
	retailers RetailerReader
	cache     cache.CommissionCache
	cacheTTL  time.Duration
}

func NewResolver(commissionStore store.CommissionStore, retailers RetailerReader, cacheStore cache.CommissionCache, cacheTTL time.Duration) *Resolver {
	if cacheStore == nil {
		cacheStore = cache.NoopCommissionCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = defaultTTL
	}

	return &Resolver{
		store:     commissionStore,
		retailers: retailers,
		cache:     cacheStore,
		cacheTTL:  cacheTTL,
	}
}

// Resolve returns the supplier, retailer and agent rates that apply to a sale
// of voucherType in groupID. A denomination-specific override wins over a
// voucher-type override, which wins over the group rate. When amount is set
// the breakdown also carries the commission amounts rounded to cents.
func (r *Resolver) Resolve(ctx context.Context, groupID string, voucherType string, amount *decimal.Decimal) (domain.CommissionBreakdown, error) {
	groupID = strings.TrimSpace(groupID)
	voucherType = NormalizeVoucherType(voucherType)
	if groupID == "" || voucherType == "" {
		return domain.CommissionBreakdown{}, fmt.Errorf("%w: group and voucher type are required", ErrInvalidRequest)
	}
	if amount != nil {
		if amount.IsNegative() {
			return domain.CommissionBreakdown{}, fmt.Errorf("%w: sale amount cannot be negative", ErrInvalidRequest)
		}
		if !amount.Equal(amount.Round(2)) {
			return domain.CommissionBreakdown{}, fmt.Errorf("%w: sale amount %s has more than 2 decimal places", ErrInvalidRequest, amount)
		}
	}

	snapshot, err := r.snapshot(ctx, groupID)
	if err != nil {
		return domain.CommissionBreakdown{}, err
	}

	rate, source, ok := pickRate(snapshot, voucherType, amount)
	if !ok {
		metrics.CommissionResolutions.WithLabelValues(sourceNotFound).Inc()
		return domain.CommissionBreakdown{}, fmt.Errorf("%w: group %s voucher type %s", ErrRateNotConfigured, groupID, voucherType)
	}

	breakdown, err := normalize(rate)
	if err != nil {
		return domain.CommissionBreakdown{}, fmt.Errorf("group %s voucher type %s: %w", groupID, voucherType, err)
	}
	breakdown.GroupID = groupID
	breakdown.VoucherType = voucherType
	breakdown.Source = source

	if amount != nil {
		sale := amount.Round(2)
		supplier := sale.Mul(breakdown.SupplierRate).Round(2)
		retailer := sale.Mul(breakdown.RetailerRate).Round(2)
		agent := sale.Mul(breakdown.AgentRate).Round(2)
		breakdown.SaleAmount = &sale
		breakdown.SupplierAmount = &supplier
		breakdown.RetailerAmount = &retailer
		breakdown.AgentAmount = &agent
	}

	metrics.CommissionResolutions.WithLabelValues(source).Inc()
	return breakdown, nil
}

// ResolveForRetailer resolves against the retailer's assigned group.
func (r *Resolver) ResolveForRetailer(ctx context.Context, retailerID string, voucherType string, amount *decimal.Decimal) (domain.CommissionBreakdown, error) {
	if r.retailers == nil {
		return domain.CommissionBreakdown{}, fmt.Errorf("%w: retailer lookup unavailable", ErrInvalidRequest)
	}
	retailer, err := r.retailers.GetRetailer(ctx, strings.TrimSpace(retailerID))
	if err != nil {
		return domain.CommissionBreakdown{}, err
	}
	if retailer.CommissionGroupID == "" {
		metrics.CommissionResolutions.WithLabelValues(sourceNotFound).Inc()
		return domain.CommissionBreakdown{}, fmt.Errorf("%w: retailer %s has no commission group", ErrRateNotConfigured, retailer.ID)
	}
	return r.Resolve(ctx, retailer.CommissionGroupID, voucherType, amount)
}

// Invalidate moves the group's cached snapshot to a new generation after its
// rates or overrides change. Call it after the store write has committed.
func (r *Resolver) Invalidate(ctx context.Context, groupID string) {
	if err := r.cache.Invalidate(ctx, groupID); err != nil {
		log.Printf("[commission] WARN: cache invalidate group=%s: %v", groupID, err)
	}
}

// snapshot reads the cache generation before loading from the store, so a
// load that races an Invalidate is stored under the old generation only.
func (r *Resolver) snapshot(ctx context.Context, groupID string) (*domain.CommissionSnapshot, error) {
	generation, err := r.cache.Generation(ctx, groupID)
	cacheable := err == nil
	if err != nil {
		metrics.CommissionCacheLookups.WithLabelValues("error").Inc()
		log.Printf("[commission] WARN: cache generation group=%s: %v", groupID, err)
	} else {
		cached, ok, err := r.cache.Get(ctx, groupID, generation)
		switch {
		case err != nil:
			metrics.CommissionCacheLookups.WithLabelValues("error").Inc()
			log.Printf("[commission] WARN: cache get group=%s: %v", groupID, err)
		case ok:
			metrics.CommissionCacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		default:
			metrics.CommissionCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	group, err := r.store.GetCommissionGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	overrides, err := r.store.ListCommissionOverrides(ctx, groupID)
	if err != nil {
		return nil, err
	}

	snapshot := &domain.CommissionSnapshot{Group: *group, Overrides: overrides}
	if cacheable {
		if err := r.cache.Set(ctx, groupID, generation, snapshot, r.cacheTTL); err != nil {
			log.Printf("[commission] WARN: cache set group=%s: %v", groupID, err)
		}
	}
	return snapshot, nil
}

func pickRate(snapshot *domain.CommissionSnapshot, voucherType string, amount *decimal.Decimal) (domain.CommissionRate, string, bool) {
	var typeOverride *domain.CommissionOverride
	for i := range snapshot.Overrides {
		o := &snapshot.Overrides[i]
		if NormalizeVoucherType(o.VoucherType) != voucherType {
			continue
		}
		if o.Denomination == nil {
			if typeOverride == nil {
				typeOverride = o
			}
			continue
		}
		if amount != nil && o.Denomination.Equal(*amount) {
			return overrideRate(*o), domain.CommissionSourceOverride, true
		}
	}
	if typeOverride != nil {
		return overrideRate(*typeOverride), domain.CommissionSourceOverride, true
	}

	for _, rate := range snapshot.Group.Rates {
		if NormalizeVoucherType(rate.VoucherType) == voucherType {
			return rate, domain.CommissionSourceGroup, true
		}
	}
	return domain.CommissionRate{}, "", false
}

func overrideRate(o domain.CommissionOverride) domain.CommissionRate {
	return domain.CommissionRate{
		VoucherType:     o.VoucherType,
		SupplierPercent: o.SupplierPercent,
		RetailerRate:    o.RetailerRate,
		AgentRate:       o.AgentRate,
	}
}

// normalize converts a stored rate into fractions. Supplier commission is
// kept as a whole-number percent and is divided by 100; retailer and agent
// rates are already fractions.
func normalize(rate domain.CommissionRate) (domain.CommissionBreakdown, error) {
	if err := ValidateRate(rate); err != nil {
		return domain.CommissionBreakdown{}, err
	}
	return domain.CommissionBreakdown{
		SupplierRate: rate.SupplierPercent.Div(hundred),
		RetailerRate: rate.RetailerRate,
		AgentRate:    rate.AgentRate,
	}, nil
}

// Decimal places kept by storage for each rate.
const (
	SupplierPercentPlaces = 4
	FractionPlaces        = 6
)

// ValidateRate checks a rate in its stored shape.
func ValidateRate(rate domain.CommissionRate) error {
	if !rate.SupplierPercent.Equal(rate.SupplierPercent.Round(SupplierPercentPlaces)) {
		return fmt.Errorf("%w: supplier_pct %s has more than %d decimal places", ErrInvalidRate, rate.SupplierPercent, SupplierPercentPlaces)
	}
	if !rate.RetailerRate.Equal(rate.RetailerRate.Round(FractionPlaces)) {
		return fmt.Errorf("%w: retailer_pct %s has more than %d decimal places", ErrInvalidRate, rate.RetailerRate, FractionPlaces)
	}
	if !rate.AgentRate.Equal(rate.AgentRate.Round(FractionPlaces)) {
		return fmt.Errorf("%w: agent_pct %s has more than %d decimal places", ErrInvalidRate, rate.AgentRate, FractionPlaces)
	}
	if rate.SupplierPercent.IsNegative() || rate.SupplierPercent.GreaterThan(hundred) {
		return fmt.Errorf("%w: supplier_pct %s outside 0..100", ErrInvalidRate, rate.SupplierPercent)
	}
	if rate.RetailerRate.IsNegative() || rate.RetailerRate.GreaterThan(one) {
		return fmt.Errorf("%w: retailer_pct %s outside 0..1", ErrInvalidRate, rate.RetailerRate)
	}
	if rate.AgentRate.IsNegative() || rate.AgentRate.GreaterThan(one) {
		return fmt.Errorf("%w: agent_pct %s outside 0..1", ErrInvalidRate, rate.AgentRate)
	}
	return nil
}

func NormalizeVoucherType(voucherType string) string {
	return strings.ToLower(strings.TrimSpace(voucherType))
}

package cache

import (
	"context"
	"time"

	"voucherops/backend/internal/domain"
)

// CommissionCache stores commission group snapshots under a per-group
// generation. Invalidate moves a group to a new generation, so a snapshot
// written for an older generation is never served again.
type CommissionCache interface {
	Generation(ctx context.Context, groupID string) (int64, error)
	Get(ctx context.Context, groupID string, generation int64) (*domain.CommissionSnapshot, bool, error)
	Set(ctx context.Context, groupID string, generation int64, value *domain.CommissionSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, groupID string) error
}

type NoopCommissionCache struct{}

func (NoopCommissionCache) Generation(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

func (NoopCommissionCache) Get(_ context.Context, _ string, _ int64) (*domain.CommissionSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopCommissionCache) Set(_ context.Context, _ string, _ int64, _ *domain.CommissionSnapshot, _ time.Duration) error {
	return nil
}

func (NoopCommissionCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

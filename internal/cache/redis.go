package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"voucherops/backend/internal/domain"
)

const keyPrefix = "voucherops:commission:group:"

type RedisCommissionCache struct {
	client *redis.Client
}

func NewRedisCommissionCache(addr string, password string, db int) *RedisCommissionCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCommissionCache{client: client}
}

func (c *RedisCommissionCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCommissionCache) Close() error {
	return c.client.Close()
}

func (c *RedisCommissionCache) Generation(ctx context.Context, groupID string) (int64, error) {
	gen, err := c.client.Get(ctx, GenerationKey(groupID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCommissionCache) Get(ctx context.Context, groupID string, generation int64) (*domain.CommissionSnapshot, bool, error) {
	val, err := c.client.Get(ctx, Key(groupID, generation)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var snapshot domain.CommissionSnapshot
	if err := json.Unmarshal(val, &snapshot); err != nil {
		return nil, false, err
	}
	return &snapshot, true, nil
}

func (c *RedisCommissionCache) Set(ctx context.Context, groupID string, generation int64, value *domain.CommissionSnapshot, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, Key(groupID, generation), payload, ttl).Err()
}

// Invalidate bumps the group generation. Snapshots under older generations
// are left to expire with their TTL.
func (c *RedisCommissionCache) Invalidate(ctx context.Context, groupID string) error {
	return c.client.Incr(ctx, GenerationKey(groupID)).Err()
}

func Key(groupID string, generation int64) string {
	return keyPrefix + groupID + ":" + strconv.FormatInt(generation, 10)
}

func GenerationKey(groupID string) string {
	return keyPrefix + groupID + ":gen"
}

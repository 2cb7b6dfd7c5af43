package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const defaultGuardTTL = 8 * 24 * time.Hour

// Guard admits at most one send per key until the key is released or expires.
type Guard interface {
	Acquire(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// GuardKey identifies one digest send for a pair and period.
func GuardKey(userID, partnerID, digestType, periodStart string) string {
	return fmt.Sprintf("digest:%s:%s:%s:%s", userID, partnerID, digestType, periodStart)
}

// NoopGuard admits every send.
type NoopGuard struct{}

func (NoopGuard) Acquire(context.Context, string) (bool, error) { return true, nil }

func (NoopGuard) Release(context.Context, string) error { return nil }

// RedisCommander is the subset of the redis client the guard uses.
type RedisCommander interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGuard stores send keys in redis with SETNX so concurrent schedulers agree.
type RedisGuard struct {
	client RedisCommander
	ttl    time.Duration
}

func NewRedisGuard(client RedisCommander, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string) (bool, error) {
	acquired, err := g.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("digest guard acquire %s: %w", key, err)
	}
	return acquired, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("digest guard release %s: %w", key, err)
	}
	return nil
}

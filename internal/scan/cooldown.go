package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CooldownGuard serializes same-device scans at an action point. Acquire is
// atomic: of two near-simultaneous scans for the same (device, point) pair,
// exactly one wins.
type CooldownGuard interface {
	Acquire(ctx context.Context, deviceID, actionPointID string, ttl time.Duration) (bool, error)
}

// IdempotencyGuard maps a client-supplied idempotency key to the first scan
// event recorded under it, so transport retries do not mint new audit rows.
type IdempotencyGuard interface {
	Remember(ctx context.Context, key, eventID string, ttl time.Duration) (existingEventID string, stored bool, err error)
}

type RedisGuard struct {
	client *redis.Client
}

func NewRedisGuard(client *redis.Client) *RedisGuard {
	return &RedisGuard{client: client}
}

func (g *RedisGuard) Acquire(ctx context.Context, deviceID, actionPointID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("scan_cooldown:%s:%s", deviceID, actionPointID)
	return g.client.SetNX(ctx, key, "1", ttl).Result()
}

func (g *RedisGuard) Remember(ctx context.Context, key, eventID string, ttl time.Duration) (string, bool, error) {
	redisKey := fmt.Sprintf("scan_idem:%s", key)
	stored, err := g.client.SetNX(ctx, redisKey, eventID, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if stored {
		return "", true, nil
	}
	existing, err := g.client.Get(ctx, redisKey).Result()
	if err == redis.Nil {
		// Key expired between SetNX and Get; treat as a fresh scan.
		return "", true, nil
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

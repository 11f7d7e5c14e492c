package tenantresolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional shared resolution cache consulted before the
// local snapshot. Entries are bounded by a short TTL; negative results
// are never cached so new bindings become routable immediately.
type Cache interface {
	Get(ctx context.Context, key string) (*Resolution, bool, error)
	Set(ctx context.Context, key string, res *Resolution) error
}

const redisKeyPrefix = "domainkit:resolve:"

// RedisCache stores resolutions in Redis with a short TTL. Useful when
// several replicas serve the same registry and snapshot rebuilds are
// worth sharing.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache creates a resolution cache. TTL must be short (a few
// seconds) to bound staleness, matching the snapshot TTL policy.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultConfig().SnapshotTTL
	}
	return &RedisCache{client: client, ttl: ttl}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*Resolution, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolution cache get: %w", err)
	}

	var res Resolution
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, false, fmt.Errorf("resolution cache decode: %w", err)
	}
	return &res, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, res *Resolution) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("resolution cache encode: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("resolution cache set: %w", err)
	}
	return nil
}

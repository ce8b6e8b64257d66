package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces cache entries within a shared Redis instance.
const keyPrefix = "taskforge:result:"

// RedisResultCache implements ResultCache on Redis. TTL enforcement is
// delegated to Redis key expiry.
type RedisResultCache struct {
	client *redis.Client
}

// NewRedisResultCache creates a cache over the given Redis client.
func NewRedisResultCache(client *redis.Client) *RedisResultCache {
	return &RedisResultCache{client: client}
}

// Get returns the cached result for a fingerprint, or ErrCacheMiss.
func (c *RedisResultCache) Get(ctx context.Context, fingerprint string) (*CachedResult, error) {
	data, err := c.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read result cache: %w", err)
	}

	var result CachedResult
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupt entry behaves like a miss so the unit recomputes.
		return nil, ErrCacheMiss
	}

	return &result, nil
}

// Set stores a result under a fingerprint with the given TTL.
func (c *RedisResultCache) Set(
	ctx context.Context,
	fingerprint string,
	result *CachedResult,
	ttl time.Duration,
) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode cached result: %w", err)
	}

	if err := c.client.Set(ctx, keyPrefix+fingerprint, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write result cache: %w", err)
	}

	return nil
}

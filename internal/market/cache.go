package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "market:quotes:"

// QuoteCache stores serialized quote payloads keyed by query shape.
// A miss is reported as ok=false, never as an error.
type QuoteCache interface {
	Get(ctx context.Context, key string, target interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// RedisQuoteCache is the redis-backed QuoteCache used in production.
type RedisQuoteCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisQuoteCache wraps a redis client as a quote cache.
func NewRedisQuoteCache(client redis.UniversalClient) *RedisQuoteCache {
	return &RedisQuoteCache{
		client: client,
		prefix: cacheKeyPrefix,
	}
}

// Get loads and decodes a cached payload.
func (c *RedisQuoteCache) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("market: cache read: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		// A corrupt entry behaves like a miss; the next Set overwrites it.
		return false, nil
	}
	return true, nil
}

// Set encodes and stores a payload with the given TTL.
func (c *RedisQuoteCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("market: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("market: cache write: %w", err)
	}
	return nil
}

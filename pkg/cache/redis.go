package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a small TTL key-value cache. The callback reconciler uses it to
// remember acknowledgments for already-settled notifications so provider
// retry storms can be answered without re-running the settlement path.
type Cache interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Close() error
}

type redisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache creates a cache backed by a Redis instance
func NewRedisCache(addr, keyPrefix string) Cache {
	return &redisCache{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		keyPrefix: keyPrefix,
	}
}

func (r *redisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.fullKey(key), value, ttl).Err()
}

// Get returns the cached value, or "" on a miss.
func (r *redisCache) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, r.fullKey(key)).Result()
	if err == redis.Nil {
		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("cache get failed: %w", err)
	}

	return value, nil
}

func (r *redisCache) Close() error {
	return r.client.Close()
}

func (r *redisCache) fullKey(key string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, key)
}

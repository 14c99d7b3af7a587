package shortener

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redirectCacheTTL = 24 * time.Hour

var ErrCacheMiss = errors.New("cache miss")

// ResolveCache caches shortCode to target-URL mappings in front of the
// database for the redirect hot path.
type ResolveCache interface {
	Get(ctx context.Context, shortCode string) (string, error)
	Set(ctx context.Context, shortCode, targetURL string) error
	Delete(ctx context.Context, shortCode string) error
}

// RedisCache is the Redis-backed resolve cache.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redirectKey(shortCode string) string {
	return fmt.Sprintf("redirect:%s", shortCode)
}

func (c *RedisCache) Get(ctx context.Context, shortCode string) (string, error) {
	target, err := c.client.Get(ctx, redirectKey(shortCode)).Result()
	if err == redis.Nil {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("failed to get cached redirect: %w", err)
	}
	return target, nil
}

func (c *RedisCache) Set(ctx context.Context, shortCode, targetURL string) error {
	err := c.client.Set(ctx, redirectKey(shortCode), targetURL, redirectCacheTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to cache redirect: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, shortCode string) error {
	err := c.client.Del(ctx, redirectKey(shortCode)).Err()
	if err != nil {
		return fmt.Errorf("failed to drop cached redirect: %w", err)
	}
	return nil
}

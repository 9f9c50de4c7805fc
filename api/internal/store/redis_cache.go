package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// OpenRedis connects and pings, retrying while the server comes up.
func OpenRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	backoff := retry.WithMaxRetries(5, retry.NewFibonacci(1*time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis ping failed, retrying", "addr", addr, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	slog.Info("redis connected", "addr", addr, "db", db)
	return rdb, nil
}

// RedisTextCache keeps OCR output in Redis with a TTL.
type RedisTextCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisTextCache(rdb *redis.Client, ttl time.Duration) *RedisTextCache {
	return &RedisTextCache{rdb: rdb, ttl: ttl}
}

func (c *RedisTextCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (c *RedisTextCache) Set(ctx context.Context, key, text string) error {
	return c.rdb.Set(ctx, key, text, c.ttl).Err()
}

func (c *RedisTextCache) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces the duration keys.
const DefaultRedisPrefix = "relay:duration:"

const redisOpTimeout = 2 * time.Second

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // host:port
	Password string
	DB       int
	Prefix   string // defaults to DefaultRedisPrefix
}

// RedisCache shares probed durations between relay instances reading the same
// media library. Values are stored as decimal strings with a Redis TTL.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
	counts counters
}

// NewRedisCache connects and pings; an unreachable server is an error so the
// caller can fall back to MemoryCache.
func NewRedisCache(cfg RedisConfig, logger zerolog.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis")
	return newRedisCache(client, cfg.Prefix, logger), nil
}

func newRedisCache(client *redis.Client, prefix string, logger zerolog.Logger) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix, logger: logger}
}

func (c *RedisCache) Lookup(ctx context.Context, path string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	v, err := c.client.Get(ctx, c.prefix+path).Float64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("path", path).Msg("redis duration lookup failed")
		}
		c.counts.misses.Add(1)
		return 0, false
	}
	c.counts.hits.Add(1)
	return v, true
}

func (c *RedisCache) Remember(ctx context.Context, path string, seconds float64, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	val := strconv.FormatFloat(seconds, 'f', -1, 64)
	if err := c.client.Set(ctx, c.prefix+path, val, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("redis duration store failed")
		return
	}
	c.counts.stores.Add(1)
}

func (c *RedisCache) Forget(ctx context.Context, path string) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := c.client.Del(ctx, c.prefix+path).Err(); err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("redis duration delete failed")
	}
}

// Stats counts keys under the prefix with SCAN; expiry is left to Redis, so
// Evictions stays zero.
func (c *RedisCache) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	n := 0
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis scan failed")
	}
	return c.counts.snapshot(n)
}

// Client exposes the connection for components sharing it.
func (c *RedisCache) Client() *redis.Client { return c.client }

func (c *RedisCache) Close() error { return c.client.Close() }

// HealthCheck pings the server.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

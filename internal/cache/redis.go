package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/forecast-lookup-service/internal/models"
)

// RedisOptions configures NewRedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration // dial, read and write timeout; 0 keeps the client defaults
}

// RedisCache implements Cache using redis. Values are JSON-encoded forecasts stored
// with SET ... EX, so redis expires them without any client-side bookkeeping.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a RedisCache. The connection is lazy; use Ping to verify it.
func NewRedisCache(opts RedisOptions) *RedisCache {
	addr := opts.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	ro := &redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.Timeout > 0 {
		ro.DialTimeout = opts.Timeout
		ro.ReadTimeout = opts.Timeout
		ro.WriteTimeout = opts.Timeout
	}
	return NewRedisCacheWithClient(redis.NewClient(ro))
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func redisKey(k string) string {
	return keyPrefix + k
}

// Get implements Cache.Get. redis.Nil is a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	raw, err := c.client.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.Forecast{}, false, nil
		}
		return models.Forecast{}, false, fmt.Errorf("redis get: %w", err)
	}
	var value models.Forecast
	if err := json.Unmarshal(raw, &value); err != nil {
		return models.Forecast{}, false, fmt.Errorf("redis decode: %w", err)
	}
	return value, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("invalid cache TTL %v", ttl)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("redis encode: %w", err)
	}
	if err := c.client.Set(ctx, redisKey(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying connection pool. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/forecast-lookup-service/internal/models"
)

// maxRelativeExp is the largest expiration memcached treats as relative seconds.
const maxRelativeExp = 30 * 24 * 60 * 60

// MemcachedCache implements Cache using memcached. Values are JSON-encoded forecasts.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// memcachedKey escapes the logical key; memcached rejects spaces and control characters,
// and postal codes such as "SW1A 1AA" contain spaces.
func memcachedKey(k string) string {
	return keyPrefix + url.PathEscape(k)
}

// memcachedExpiration converts ttl to whole seconds, rounding sub-second TTLs up.
func memcachedExpiration(ttl time.Duration) (int32, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("invalid cache TTL %v", ttl)
	}
	sec := int64((ttl + time.Second - 1) / time.Second)
	if sec > maxRelativeExp {
		return 0, fmt.Errorf("cache TTL %v exceeds memcached relative expiration limit", ttl)
	}
	return int32(sec), nil
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	if ctx.Err() != nil {
		return models.Forecast{}, false, ctx.Err()
	}
	item, err := c.client.Get(memcachedKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return models.Forecast{}, false, nil
		}
		return models.Forecast{}, false, fmt.Errorf("memcached get: %w", err)
	}
	var value models.Forecast
	if err := json.Unmarshal(item.Value, &value); err != nil {
		return models.Forecast{}, false, fmt.Errorf("memcached decode: %w", err)
	}
	return value, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	exp, err := memcachedExpiration(ttl)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memcached encode: %w", err)
	}
	if err := c.client.Set(&memcache.Item{Key: memcachedKey(key), Value: raw, Expiration: exp}); err != nil {
		return fmt.Errorf("memcached set: %w", err)
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

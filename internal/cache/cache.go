package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/forecast-lookup-service/internal/models"
)

// DefaultTTL is how long a fetched forecast stays fresh.
const DefaultTTL = 30 * time.Minute

// keyPrefix namespaces forecast entries in shared backends.
const keyPrefix = "weather:"

// Cache defines the interface for forecast caching implementations.
// Get returns an entry only while now < expiresAt; a never-stored key and an expired
// key are indistinguishable. Set overwrites unconditionally.
type Cache interface {
	Get(ctx context.Context, key string) (models.Forecast, bool, error)
	Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error
}

// Pinger is implemented by networked backends for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// InMemoryCache implements Cache using a map guarded by a RWMutex.
// Expired entries are removed on access. Values are deep-copied on the way in and out.
type InMemoryCache struct {
	mu   sync.RWMutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.Forecast
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(time.Now)
}

// NewInMemoryCacheWithClock creates an in-memory cache that reads time from now.
func NewInMemoryCacheWithClock(now func() time.Time) *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  now,
	}
}

// Get returns (forecast, true, nil) on hit and (zero, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Forecast, bool, error) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return models.Forecast{}, false, nil
	}

	now := c.now()
	if !now.Before(entry.expiresAt) {
		c.mu.Lock()
		// A concurrent Set may have replaced the entry since the read.
		if cur, ok := c.data[key]; ok && !now.Before(cur.expiresAt) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		return models.Forecast{}, false, nil
	}

	return entry.value.Clone(), true, nil
}

// Set stores a copy of value until now+ttl.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Forecast, ttl time.Duration) error {
	entry := cacheEntry{
		value:     value.Clone(),
		expiresAt: c.now().Add(ttl),
	}
	c.mu.Lock()
	c.data[key] = entry
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet read.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Flush removes every entry.
func (c *InMemoryCache) Flush() {
	c.mu.Lock()
	c.data = make(map[string]cacheEntry)
	c.mu.Unlock()
}

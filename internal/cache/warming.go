package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-lookup-service/internal/models"
	"github.com/kjstillabower/forecast-lookup-service/internal/observability"
)

// Lookuper is implemented by the service layer to run a full address lookup.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type Lookuper interface {
	Lookup(ctx context.Context, address string) (models.LookupResult, error)
}

// CacheWarmer warms the cache by looking up a fixed list of addresses.
// A lookup that misses fetches and writes through, so the next caller hits.
type CacheWarmer struct {
	lookuper Lookuper
	logger   *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given lookuper and logger.
func NewCacheWarmer(lookuper Lookuper, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{lookuper: lookuper, logger: logger}
}

// Warm looks up each address concurrently. Returns the joined errors of failed addresses.
func (w *CacheWarmer) Warm(ctx context.Context, addresses []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("addresses", len(addresses)))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		fromHits int
	)
	for _, addr := range addresses {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			res, err := w.lookuper.Lookup(ctx, addr)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("warm %q: %w", addr, err))
				return
			}
			if res.FromCache {
				fromHits++
			}
		}(addr)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("addresses", len(addresses)),
		zap.Int("already_cached", fromHits),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic runs an initial Warm, then repeats at the given interval until ctx is done.
// An interval at or above the cache TTL repopulates entries as they expire.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, addresses []string, interval time.Duration) error {
	if err := w.Warm(ctx, addresses); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, addresses); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}

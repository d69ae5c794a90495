// Package service implements the address lookup pipeline: geocode the address, derive a
// cache key from the location, serve the cached forecast or fetch and write it through.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/forecast-lookup-service/internal/cache"
	"github.com/kjstillabower/forecast-lookup-service/internal/client"
	"github.com/kjstillabower/forecast-lookup-service/internal/geocode"
	"github.com/kjstillabower/forecast-lookup-service/internal/models"
	"github.com/kjstillabower/forecast-lookup-service/internal/observability"
)

// Lookup outcomes recorded in lookupsTotal.
const (
	outcomeHit           = "hit"
	outcomeMiss          = "miss"
	outcomeInvalid       = "invalid"
	outcomeGeocodeFailed = "geocode_failed"
	outcomeWeatherFailed = "weather_failed"
)

// LookupService orchestrates a lookup using the cache-aside pattern. Geocoding runs on
// every lookup because the cache key depends on its result.
type LookupService struct {
	geocoder        geocode.Geocoder
	client          client.WeatherClient
	cache           cache.Cache
	ttl             time.Duration
	stampedeTracker *stampedeTracker
	group           *singleflight.Group // nil unless coalescing is enabled
}

// NewLookupService creates a LookupService. ttl <= 0 uses cache.DefaultTTL.
// With coalesce set, concurrent misses for one key share a single weather fetch.
func NewLookupService(geocoder geocode.Geocoder, weather client.WeatherClient, c cache.Cache, ttl time.Duration, coalesce bool) *LookupService {
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	s := &LookupService{
		geocoder:        geocoder,
		client:          weather,
		cache:           c,
		ttl:             ttl,
		stampedeTracker: newStampedeTracker(),
	}
	if coalesce {
		s.group = &singleflight.Group{}
	}
	return s
}

// CacheKey returns the postal code when one is present, used exactly as returned,
// otherwise the coordinates rounded to four decimal places.
func CacheKey(geo models.GeocodeResult) string {
	if strings.TrimSpace(geo.PostalCode) != "" {
		return geo.PostalCode
	}
	return fmt.Sprintf("latlon:%.4f,%.4f", geo.Latitude, geo.Longitude)
}

// Lookup resolves address and returns its forecast, from the cache when fresh.
// Errors are ErrEmptyAddress or a *LookupError naming the failed stage.
func (s *LookupService) Lookup(ctx context.Context, address string) (models.LookupResult, error) {
	start := time.Now()
	logger := loggerFromContext(ctx)

	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		observability.LookupsTotal.WithLabelValues(outcomeInvalid).Inc()
		return models.LookupResult{}, ErrEmptyAddress
	}

	geo, err := s.geocoder.Resolve(ctx, trimmed)
	if err != nil {
		observability.LookupsTotal.WithLabelValues(outcomeGeocodeFailed).Inc()
		logger.Info("geocode failed", zap.String("address", trimmed), zap.Error(err))
		return models.LookupResult{}, &LookupError{Stage: StageGeocode, Err: err}
	}

	key := CacheKey(geo)
	locationName := strings.TrimSpace(geo.DisplayName)
	if locationName == "" {
		locationName = trimmed
	}

	if cached, ok := s.readCache(ctx, key, logger); ok {
		observability.LookupsTotal.WithLabelValues(outcomeHit).Inc()
		logger.Debug("forecast served",
			zap.String("cache_key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return models.LookupResult{Forecast: cached, FromCache: true, LocationName: locationName, CacheKey: key}, nil
	}

	concurrentMisses, done := s.stampedeTracker.begin(key)
	defer done()
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		logger.Debug("concurrent cache miss", zap.String("cache_key", key), zap.Int("in_flight", concurrentMisses))
	}

	forecast, err := s.fetchAndStore(ctx, key, geo, logger)
	if err != nil {
		observability.LookupsTotal.WithLabelValues(outcomeWeatherFailed).Inc()
		logger.Warn("weather fetch failed",
			zap.String("cache_key", key), zap.String("category", string(client.CategorizeError(err))), zap.Error(err))
		return models.LookupResult{}, &LookupError{Stage: StageWeather, Err: err}
	}

	observability.LookupsTotal.WithLabelValues(outcomeMiss).Inc()
	logger.Debug("forecast served",
		zap.String("cache_key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return models.LookupResult{Forecast: forecast, FromCache: false, LocationName: locationName, CacheKey: key}, nil
}

// readCache treats backend errors as misses; they are logged and counted, never returned.
func (s *LookupService) readCache(ctx context.Context, key string, logger *zap.Logger) (models.Forecast, bool) {
	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()

	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		observability.CacheMissesTotal.Inc()
		logger.Warn("cache get failed", zap.String("cache_key", key), zap.Error(err))
		return models.Forecast{}, false
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "hit").Observe(getDuration)
		observability.CacheHitsTotal.Inc()
		return cached, true
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "miss").Observe(getDuration)
		observability.CacheMissesTotal.Inc()
		return models.Forecast{}, false
	}
}

func (s *LookupService) fetchAndStore(ctx context.Context, key string, geo models.GeocodeResult, logger *zap.Logger) (models.Forecast, error) {
	fetch := func(ctx context.Context) (models.Forecast, error) {
		forecast, err := s.client.Fetch(ctx, geo.Latitude, geo.Longitude)
		if err != nil {
			return models.Forecast{}, err
		}
		s.writeCache(ctx, key, forecast, logger)
		return forecast, nil
	}

	if s.group == nil {
		return fetch(ctx)
	}

	// The shared fetch must not fail because the caller that started it went away.
	sharedCtx := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(key, func() (any, error) {
		return fetch(sharedCtx)
	})
	if err != nil {
		return models.Forecast{}, err
	}
	forecast, ok := v.(models.Forecast)
	if !ok {
		return models.Forecast{}, errors.New("coalesced fetch returned unexpected type")
	}
	if shared {
		observability.RequestCoalescingHitsTotal.Inc()
		return forecast.Clone(), nil
	}
	return forecast, nil
}

// writeCache stores forecast; a failure is logged and counted but does not fail the lookup.
func (s *LookupService) writeCache(ctx context.Context, key string, forecast models.Forecast, logger *zap.Logger) {
	setStart := time.Now()
	if err := s.cache.Set(ctx, key, forecast, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("cache_key", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
}

func loggerFromContext(ctx context.Context) *zap.Logger {
	if l := observability.LoggerFromContext(ctx); l != nil {
		return l
	}
	return zap.NewNop()
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, decode, unknown).
func categorizeCacheError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "network"):
		return "connection"
	case strings.Contains(errStr, "decode"):
		return "decode"
	default:
		return "unknown"
	}
}

//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/kjstillabower/forecast-lookup-service/internal/cache"
	"github.com/kjstillabower/forecast-lookup-service/internal/client"
	"github.com/kjstillabower/forecast-lookup-service/internal/geocode"
	"github.com/kjstillabower/forecast-lookup-service/internal/service"
	"github.com/kjstillabower/forecast-lookup-service/internal/upstream"
)

// IntegrationTestConfig holds configuration for tests against the live providers.
type IntegrationTestConfig struct {
	APIKey          string
	WeatherAPIURL   string
	GeocodingAPIURL string
	CacheBackend    string // "in_memory", "memcached" or "redis"
	MemcachedAddr   string
	RedisAddr       string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if OPENWEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("OPENWEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("OPENWEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationTestConfig{
		APIKey:          apiKey,
		WeatherAPIURL:   envOr("WEATHER_API_URL", "https://api.openweathermap.org/data/2.5"),
		GeocodingAPIURL: envOr("GEOCODING_API_URL", "https://nominatim.openstreetmap.org/search"),
		CacheBackend:    os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr:   envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:       envOr("REDIS_ADDR", "localhost:6379"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SetupIntegrationService builds the full lookup pipeline against the live providers.
// Backend connection failures fall back to the in-memory cache. The cleanup is registered
// with t.Cleanup.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) *service.LookupService {
	t.Helper()
	breaker := upstream.BreakerConfig{}
	geocoder, err := geocode.NewNominatimClient(cfg.GeocodingAPIURL,
		upstream.NewDoer("geocoder", 10*time.Second, "forecast-lookup-service/integration-test", breaker))
	if err != nil {
		t.Fatalf("NewNominatimClient() error = %v", err)
	}
	weatherClient, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.WeatherAPIURL, 10*time.Second, nil)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return service.NewLookupService(geocoder, weatherClient, setupCache(t, cfg), 5*time.Minute, true)
}

func setupCache(t *testing.T, cfg IntegrationTestConfig) cache.Cache {
	t.Helper()
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err != nil {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
			return cache.NewInMemoryCache()
		}
		t.Cleanup(func() { _ = mc.Close() })
		t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		return mc
	case "redis":
		rc := cache.NewRedisCache(cache.RedisOptions{Addr: cfg.RedisAddr, Timeout: 500 * time.Millisecond})
		t.Cleanup(func() { _ = rc.Close() })
		t.Logf("Using Redis cache at %s", cfg.RedisAddr)
		return rc
	default:
		return cache.NewInMemoryCache()
	}
}

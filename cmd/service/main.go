package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-lookup-service/internal/cache"
	"github.com/kjstillabower/forecast-lookup-service/internal/client"
	"github.com/kjstillabower/forecast-lookup-service/internal/config"
	"github.com/kjstillabower/forecast-lookup-service/internal/geocode"
	httphandler "github.com/kjstillabower/forecast-lookup-service/internal/http"
	"github.com/kjstillabower/forecast-lookup-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-lookup-service/internal/observability"
	"github.com/kjstillabower/forecast-lookup-service/internal/service"
	"github.com/kjstillabower/forecast-lookup-service/internal/upstream"
)

// initialWarmTimeout bounds the blocking warm-up before the server starts listening.
const initialWarmTimeout = 30 * time.Second

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.WeatherAPIKey == "" {
		logger.Warn("OPENWEATHER_API_KEY not set; forecast lookups will fail until it is configured")
	}

	breaker := upstream.BreakerConfig{
		Enabled:          cfg.CircuitBreakerEnabled,
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
	}
	if breaker.Enabled {
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	geocoder, err := geocode.NewNominatimClient(cfg.GeocodingAPIURL,
		upstream.NewDoer("geocoder", cfg.GeocodingAPITimeout, cfg.GeocodingUserAgent, breaker))
	if err != nil {
		logger.Fatal("geocoding client", zap.Error(err))
	}
	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout,
		upstream.NewDoer("weather_api", cfg.WeatherAPITimeout, cfg.WeatherUserAgent, breaker))
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	cacheSvc, closer, err := newCache(cfg)
	if err != nil {
		logger.Fatal("cache backend", zap.String("backend", cfg.CacheBackend), zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend), zap.Duration("ttl", cfg.CacheTTL),
		zap.Bool("coalesce", cfg.CacheCoalesce))

	lookupService := service.NewLookupService(geocoder, weatherClient, cacheSvc, cfg.CacheTTL, cfg.CacheCoalesce)

	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		AddressMinLength: cfg.AddressMinLength,
		AddressMaxLength: cfg.AddressMaxLength,
	}
	if pinger, ok := cacheSvc.(cache.Pinger); ok {
		healthConfig.CachePinger = pinger
	}
	handler := httphandler.NewHandler(lookupService, weatherClient, healthConfig, logger)

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	if len(cfg.WarmAddresses) > 0 {
		startWarming(warmCtx, cache.NewCacheWarmer(lookupService, logger), cfg, logger)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(handler, logger, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopWarming()

	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.InFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.InFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if closer != nil {
		if err := closer.Close(); err != nil {
			logger.Error("cache close", zap.String("backend", cfg.CacheBackend), zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
	logger.Info("shutdown complete")
}

// newCache builds the configured backend. The closer is nil for the in-memory cache.
func newCache(cfg *config.Config) (cache.Cache, io.Closer, error) {
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, err
		}
		return mc, mc, nil
	case config.BackendRedis:
		rc := cache.NewRedisCache(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.RedisTimeout,
		})
		return rc, rc, nil
	case config.BackendInMemory:
		return cache.NewInMemoryCache(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

// newRouter mounts /forecast (with the request timeout), /health and /metrics.
func newRouter(handler *httphandler.Handler, logger *zap.Logger, requestTimeout time.Duration) *mux.Router {
	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.Use(httphandler.RecoveryMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.Handle("/forecast", httphandler.TimeoutMiddleware(requestTimeout)(http.HandlerFunc(handler.GetForecast))).
		Methods(http.MethodGet)
	return router
}

// startWarming runs one bounded warm-up before serving, or with a warm interval set,
// a background refresh loop until ctx ends.
func startWarming(ctx context.Context, warmer *cache.CacheWarmer, cfg *config.Config, logger *zap.Logger) {
	if cfg.WarmInterval <= 0 {
		initCtx, cancel := context.WithTimeout(ctx, initialWarmTimeout)
		defer cancel()
		if err := warmer.Warm(initCtx, cfg.WarmAddresses); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		return
	}
	go func() {
		if err := warmer.WarmPeriodic(ctx, cfg.WarmAddresses, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("periodic cache warming stopped", zap.Error(err))
		}
	}()
}

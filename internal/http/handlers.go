package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/forecast-lookup-service/internal/cache"
	"github.com/kjstillabower/forecast-lookup-service/internal/client"
	"github.com/kjstillabower/forecast-lookup-service/internal/degraded"
	"github.com/kjstillabower/forecast-lookup-service/internal/geocode"
	"github.com/kjstillabower/forecast-lookup-service/internal/lifecycle"
	"github.com/kjstillabower/forecast-lookup-service/internal/models"
	"github.com/kjstillabower/forecast-lookup-service/internal/observability"
	"github.com/kjstillabower/forecast-lookup-service/internal/service"
	"github.com/kjstillabower/forecast-lookup-service/internal/validation"
)

// cachePingTimeout bounds the backend ping made by each health request.
const cachePingTimeout = 500 * time.Millisecond

// HealthConfig holds thresholds for the health handler and request validation.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	AddressMinLength int
	AddressMaxLength int
	// CachePinger, when set, is pinged to report cache reachability (memcached, redis).
	CachePinger cache.Pinger
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	lookupService    *service.LookupService
	client           client.WeatherClient
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(
	lookupService *service.LookupService,
	client client.WeatherClient,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		lookupService: lookupService,
		client:        client,
		healthConfig:  healthConfig,
		logger:        logger,
	}
}

// forecastResponse is the body of a successful GET /forecast.
type forecastResponse struct {
	Location  string          `json:"location"`
	CacheKey  string          `json:"cacheKey"`
	FromCache bool            `json:"fromCache"`
	Forecast  models.Forecast `json:"forecast"`
}

// GetForecast handles GET /forecast?address=<text>.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	minLen, maxLen := validation.DefaultAddressMinLength, validation.DefaultAddressMaxLength
	if h.healthConfig != nil {
		minLen, maxLen = h.healthConfig.AddressMinLength, h.healthConfig.AddressMaxLength
	}
	address, err := validation.ValidateAddress(r.URL.Query().Get("address"), minLen, maxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return
	}

	result, err := h.lookupService.Lookup(r.Context(), address)
	if err != nil {
		if countsAgainstHealth(err) {
			degraded.RecordError()
		} else if !errors.Is(err, service.ErrEmptyAddress) {
			degraded.RecordSuccess()
		}
		writeLookupError(w, r, err)
		return
	}
	degraded.RecordSuccess()
	writeJSON(w, http.StatusOK, forecastResponse{
		Location:  result.LocationName,
		CacheKey:  result.CacheKey,
		FromCache: result.FromCache,
		Forecast:  result.Forecast,
	})
}

// countsAgainstHealth reports whether a lookup failure reflects an upstream problem.
// An address the geocoder cannot place is a caller problem.
func countsAgainstHealth(err error) bool {
	var lookupErr *service.LookupError
	if !errors.As(err, &lookupErr) {
		return false
	}
	return !errors.Is(err, geocode.ErrNoResults)
}

// lookupErrorStatus maps a pipeline error to an HTTP status and error code.
func lookupErrorStatus(err error) (int, string) {
	var lookupErr *service.LookupError
	var timeoutErr *client.TimeoutError
	switch {
	case errors.Is(err, service.ErrEmptyAddress):
		return http.StatusBadRequest, "INVALID_ADDRESS"
	case !errors.As(err, &lookupErr):
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	case lookupErr.Stage == service.StageGeocode && errors.Is(err, geocode.ErrNoResults):
		return http.StatusNotFound, "LOCATION_NOT_FOUND"
	case lookupErr.Stage == service.StageGeocode:
		return http.StatusBadGateway, "GEOCODE_FAILED"
	case errors.Is(err, client.ErrMissingCredential):
		return http.StatusInternalServerError, "CONFIGURATION_ERROR"
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT"
	default:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		"weatherApi": "configured",
		"errorRate":  "ok",
	}
	if errors.Is(h.client.Ping(r.Context()), client.ErrMissingCredential) {
		checks["weatherApi"] = "unconfigured"
	}
	if result.reason == "error_rate_breach" {
		checks["errorRate"] = "breached"
	}
	if h.healthConfig != nil && h.healthConfig.CachePinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), cachePingTimeout)
		if err := h.healthConfig.CachePinger.Ping(ctx); err != nil {
			checks["cache"] = "unhealthy"
			h.logger.Debug("cache ping failed", zap.Error(err))
		} else {
			checks["cache"] = "healthy"
		}
		cancel()
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > weather credential missing > error-rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.Ping(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "weather_api_unavailable"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if breached, _ := degraded.Breached(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct); breached {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeLookupError writes the mapped error response. Server-side failures are logged at
// WARN, caller errors at DEBUG.
func writeLookupError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := lookupErrorStatus(err)
	writeError(w, r, status, code, err.Error())
	if logger := observability.LoggerFromContext(r.Context()); logger != nil {
		if status >= http.StatusInternalServerError {
			logger.Warn("lookup failed", zap.String("code", code), zap.Error(err))
		} else {
			logger.Debug("lookup rejected", zap.String("code", code), zap.Error(err))
		}
	}
}

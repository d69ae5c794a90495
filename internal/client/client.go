// Package client fetches current conditions and the 5 day forecast from OpenWeatherMap
// and normalizes them into a models.Forecast.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/forecast-lookup-service/internal/models"
	"github.com/kjstillabower/forecast-lookup-service/internal/observability"
	"github.com/kjstillabower/forecast-lookup-service/internal/upstream"
)

// WeatherClient fetches a normalized forecast for a coordinate pair.
type WeatherClient interface {
	Fetch(ctx context.Context, lat, lon float64) (models.Forecast, error)
	Ping(ctx context.Context) error
}

const (
	// DefaultTimeout bounds each of the two provider calls independently.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 1 << 20
	maxErrorBody = 512
	pathCurrent  = "/weather"
	pathForecast = "/forecast"
	unitsMetric  = "metric"
)

type OpenWeatherClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	doer    *upstream.Doer
	now     func() time.Time
}

// NewOpenWeatherClient returns a client for apiURL (e.g. https://api.openweathermap.org/data/2.5).
// An empty apiKey is accepted; every Fetch then fails with ErrMissingCredential.
func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration, doer *upstream.Doer) (*OpenWeatherClient, error) {
	if apiURL == "" {
		return nil, errors.New("weather API URL is required")
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid weather API URL: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if doer == nil {
		doer = upstream.NewDoer("weather_api", timeout, "", upstream.BreakerConfig{})
	}
	return &OpenWeatherClient{
		apiKey:  apiKey,
		apiURL:  strings.TrimRight(apiURL, "/"),
		timeout: timeout,
		doer:    doer,
		now:     time.Now,
	}, nil
}

// Fetch issues the current and forecast calls concurrently. The first failure cancels the
// other call and is returned; a partial Forecast is never produced.
func (c *OpenWeatherClient) Fetch(ctx context.Context, lat, lon float64) (models.Forecast, error) {
	if c.apiKey == "" {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(ErrorCategoryMissingCredential)).Inc()
		return models.Forecast{}, ErrMissingCredential
	}

	var (
		current  currentResponse
		forecast forecastResponse
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.call(gctx, CallCurrent, pathCurrent, lat, lon, &current)
	})
	g.Go(func() error {
		return c.call(gctx, CallForecast, pathForecast, lat, lon, &forecast)
	})
	if err := g.Wait(); err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.Forecast{}, err
	}

	return normalize(current, forecast, c.now().UTC()), nil
}

// Ping reports whether the client can make calls at all. It does not contact the provider.
func (c *OpenWeatherClient) Ping(ctx context.Context) error {
	if c.apiKey == "" {
		return ErrMissingCredential
	}
	return nil
}

func (c *OpenWeatherClient) call(ctx context.Context, call, path string, lat, lon float64, out any) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, lat, lon)
	if err != nil {
		return fmt.Errorf("build %s request: %w", call, err)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(call, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(call, "error").Observe(time.Since(start).Seconds())
		return wrapTransportError(call, err)
	}
	defer resp.Body.Close()

	status := observability.StatusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(call, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(call, status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UpstreamHTTPError{Call: call, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return wrapTransportError(call, err)
	}
	return decodeObject(call, body, out)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, path string, lat, lon float64) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("units", unitsMetric)
	params.Set("appid", c.apiKey)
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

// decodeObject requires a JSON object at the top level; null, arrays and scalars are rejected.
func decodeObject(call string, body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: %s response is not a JSON object", ErrUnexpectedFormat, call)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("%w: %s response: %v", ErrUnexpectedFormat, call, err)
	}
	return nil
}

func wrapTransportError(call string, err error) error {
	if errors.Is(err, upstream.ErrCircuitOpen) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return &TimeoutError{Call: call, Err: err}
	}
	return fmt.Errorf("%s request failed: %w", call, err)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

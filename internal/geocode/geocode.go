// Package geocode resolves free-text addresses to coordinates, a best-effort postal
// code and a display name using a Nominatim-compatible search API.
package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/forecast-lookup-service/internal/models"
	"github.com/kjstillabower/forecast-lookup-service/internal/observability"
	"github.com/kjstillabower/forecast-lookup-service/internal/upstream"
)

// Geocoder resolves an address to a single location.
type Geocoder interface {
	Resolve(ctx context.Context, address string) (models.GeocodeResult, error)
}

var (
	// ErrNoResults means the provider returned an empty candidate list.
	ErrNoResults = errors.New("no geocoding results")
	// ErrProvider wraps transport, status and decoding failures of the provider call.
	ErrProvider = errors.New("geocoding provider error")
)

// postalCodePattern matches US ZIP and ZIP+4 codes inside a formatted address.
var postalCodePattern = regexp.MustCompile(`\b(\d{5}(?:-\d{4})?)\b`)

const (
	// DefaultTimeout bounds the provider call when no Doer is supplied.
	DefaultTimeout = 10 * time.Second

	// maxErrorBody bounds how much of an error response is kept for messages.
	maxErrorBody = 512
)

// NominatimClient implements Geocoder against a Nominatim-style /search endpoint.
type NominatimClient struct {
	apiURL string
	doer   *upstream.Doer
}

// NewNominatimClient returns a client for apiURL (e.g. https://nominatim.openstreetmap.org/search).
// A nil doer gets a default one with DefaultTimeout and no circuit breaker.
func NewNominatimClient(apiURL string, doer *upstream.Doer) (*NominatimClient, error) {
	if _, err := url.Parse(apiURL); err != nil || apiURL == "" {
		return nil, fmt.Errorf("invalid geocoding API URL %q", apiURL)
	}
	if doer == nil {
		doer = upstream.NewDoer("geocoder", DefaultTimeout, "", upstream.BreakerConfig{})
	}
	return &NominatimClient{apiURL: apiURL, doer: doer}, nil
}

// candidate is one search result. Providers disagree on field names and on whether
// coordinates are strings or numbers, so everything is optional.
type candidate struct {
	Lat              *coordinate `json:"lat"`
	Lon              *coordinate `json:"lon"`
	DisplayName      string      `json:"display_name"`
	FormattedAddress string      `json:"formatted_address"`
	PostalCode       string      `json:"postal_code"`
	Address          *struct {
		Postcode string `json:"postcode"`
	} `json:"address"`
}

// coordinate accepts both "40.7128" and 40.7128.
type coordinate float64

func (c *coordinate) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("parse coordinate %q: %w", s, err)
		}
		*c = coordinate(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*c = coordinate(f)
	return nil
}

// Resolve makes a single provider call and returns the first candidate.
func (c *NominatimClient) Resolve(ctx context.Context, address string) (models.GeocodeResult, error) {
	start := time.Now()

	req, err := c.buildRequest(ctx, address)
	if err != nil {
		return models.GeocodeResult{}, fmt.Errorf("%w: build request: %v", ErrProvider, err)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		observability.GeocodeAPICallsTotal.WithLabelValues("error").Inc()
		observability.GeocodeAPIDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return models.GeocodeResult{}, fmt.Errorf("%w: request timeout: %v", ErrProvider, err)
		}
		return models.GeocodeResult{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	status := observability.StatusLabel(resp.StatusCode)
	observability.GeocodeAPICallsTotal.WithLabelValues(status).Inc()
	observability.GeocodeAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.GeocodeResult{}, fmt.Errorf("%w: HTTP %d: %s", ErrProvider, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var candidates []candidate
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return models.GeocodeResult{}, fmt.Errorf("%w: parse response: %v", ErrProvider, err)
	}
	if len(candidates) == 0 {
		return models.GeocodeResult{}, ErrNoResults
	}

	return toResult(candidates[0], address)
}

func (c *NominatimClient) buildRequest(ctx context.Context, address string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	params := baseURL.Query()
	params.Set("q", address)
	params.Set("format", "jsonv2")
	params.Set("addressdetails", "1")
	params.Set("limit", "1")
	baseURL.RawQuery = params.Encode()

	return http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
}

func toResult(cand candidate, address string) (models.GeocodeResult, error) {
	if cand.Lat == nil || cand.Lon == nil {
		return models.GeocodeResult{}, fmt.Errorf("%w: result has no coordinates", ErrProvider)
	}

	formatted := strings.TrimSpace(cand.DisplayName)
	if formatted == "" {
		formatted = strings.TrimSpace(cand.FormattedAddress)
	}
	displayName := formatted
	if displayName == "" {
		displayName = address
	}

	return models.GeocodeResult{
		Latitude:    float64(*cand.Lat),
		Longitude:   float64(*cand.Lon),
		PostalCode:  extractPostalCode(cand, formatted),
		DisplayName: displayName,
	}, nil
}

// extractPostalCode tries the structured field, then the address components,
// then a ZIP pattern in the formatted address. Returns "" when nothing matches.
func extractPostalCode(cand candidate, formatted string) string {
	if pc := strings.TrimSpace(cand.PostalCode); pc != "" {
		return pc
	}
	if cand.Address != nil {
		if pc := strings.TrimSpace(cand.Address.Postcode); pc != "" {
			return pc
		}
	}
	if m := postalCodePattern.FindStringSubmatch(formatted); m != nil {
		return m[1]
	}
	return ""
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

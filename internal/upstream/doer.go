// Package upstream is the outbound HTTP layer shared by the geocoding and weather
// clients. It applies the per-call timeout, forwards the correlation ID, and
// optionally wraps calls in a circuit breaker. It never retries.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kjstillabower/forecast-lookup-service/internal/observability"
)

// ErrCircuitOpen is returned when the breaker rejects a call without sending it.
var ErrCircuitOpen = errors.New("circuit breaker open")

// errServerStatus marks a 5xx response as a breaker failure. The response itself is still
// handed back to the caller so it can report the status and body.
var errServerStatus = errors.New("upstream server error")

// BreakerConfig configures the optional circuit breaker.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int           // consecutive failures before opening
	Timeout          time.Duration // open duration before a half-open probe
}

// Doer sends requests for one upstream component ("geocoder", "weather_api").
type Doer struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	userAgent string
	component string
}

// NewDoer returns a Doer with the given per-call timeout. userAgent may be empty.
func NewDoer(component string, timeout time.Duration, userAgent string, bc BreakerConfig) *Doer {
	d := &Doer{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		component: component,
	}
	if bc.Enabled {
		d.breaker = newBreaker(component, bc)
		observability.CircuitBreakerState.WithLabelValues(component).Set(0)
	}
	return d
}

func newBreaker(component string, bc BreakerConfig) *gobreaker.CircuitBreaker[*http.Response] {
	threshold := bc.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	timeout := bc.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        component,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
		},
	})
}

// Do sends req. Non-2xx responses are returned with a nil error; the caller owns resp.Body.
// Transport errors (including timeouts) are returned unwrapped so callers can inspect them.
func (d *Doer) Do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Accept", "application/json")
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	if corrID := observability.CorrelationIDFromContext(req.Context()); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	if d.breaker == nil {
		return d.client.Do(req)
	}

	resp, err := d.breaker.Execute(func() (*http.Response, error) {
		r, doErr := d.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 {
			return r, errServerStatus
		}
		return r, nil
	})
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, errServerStatus) && resp != nil {
		return resp, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", d.component, ErrCircuitOpen)
	}
	return nil, err
}

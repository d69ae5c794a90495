package client

import (
	"errors"
	"fmt"
)

// Call names identify which of the two provider requests failed.
const (
	CallCurrent  = "current"
	CallForecast = "forecast"
)

var (
	// ErrMissingCredential is returned before any network call when no API key is configured.
	ErrMissingCredential = errors.New("weather API key is not configured")
	// ErrUnexpectedFormat means a 2xx body could not be decoded into the expected shape.
	ErrUnexpectedFormat = errors.New("unexpected weather response format")
)

// UpstreamHTTPError is a non-2xx response from the weather provider.
type UpstreamHTTPError struct {
	Call   string
	Status int
	Body   string
}

func (e *UpstreamHTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// TimeoutError is a provider call that did not complete within its timeout.
type TimeoutError struct {
	Call string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout talking to weather service (%s)", e.Call)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

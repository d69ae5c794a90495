package client

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/kjstillabower/forecast-lookup-service/internal/upstream"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the weatherApiErrorsTotal label.
const (
	ErrorCategoryTimeout           ErrorCategory = "timeout"
	ErrorCategoryNetwork           ErrorCategory = "network"
	ErrorCategoryMissingCredential ErrorCategory = "missing_credential"
	ErrorCategoryInvalidAPIKey     ErrorCategory = "invalid_api_key"
	ErrorCategoryRateLimited       ErrorCategory = "rate_limited"
	ErrorCategoryUpstream4xx       ErrorCategory = "upstream_4xx"
	ErrorCategoryUpstream5xx       ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing           ErrorCategory = "parsing"
	ErrorCategoryCircuitOpen       ErrorCategory = "circuit_open"
	ErrorCategoryUnknown           ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrMissingCredential) {
		return ErrorCategoryMissingCredential
	}
	if errors.Is(err, upstream.ErrCircuitOpen) {
		return ErrorCategoryCircuitOpen
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	var httpErr *UpstreamHTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusUnauthorized:
			return ErrorCategoryInvalidAPIKey
		case httpErr.Status == http.StatusTooManyRequests:
			return ErrorCategoryRateLimited
		case httpErr.Status >= 500:
			return ErrorCategoryUpstream5xx
		default:
			return ErrorCategoryUpstream4xx
		}
	}

	if errors.Is(err, ErrUnexpectedFormat) {
		return ErrorCategoryParsing
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "no such host") {
		return ErrorCategoryNetwork
	}

	return ErrorCategoryUnknown
}

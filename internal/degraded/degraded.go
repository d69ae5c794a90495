// Package degraded decides whether the recent lookup error rate warrants reporting the
// service as degraded.
package degraded

import (
	"time"

	"github.com/kjstillabower/forecast-lookup-service/internal/traffic"
)

// RecordSuccess records a lookup whose upstream calls succeeded.
func RecordSuccess() {
	traffic.RecordSuccess()
}

// RecordError records a lookup that failed upstream (provider error, timeout, etc.).
func RecordError() {
	traffic.RecordError()
}

// ErrorRate returns (errorCount, totalCount) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return traffic.ErrorRate(window)
}

// Breached reports whether errors make up at least thresholdPct percent of the outcomes
// in window. An empty window or a non-positive threshold is never breached.
func Breached(window time.Duration, thresholdPct int) (bool, float64) {
	if window <= 0 || thresholdPct <= 0 {
		return false, 0
	}
	errors, total := ErrorRate(window)
	if total == 0 {
		return false, 0
	}
	pct := float64(errors) * 100 / float64(total)
	return pct >= float64(thresholdPct), pct
}

// Reset clears all recorded data. For tests only.
func Reset() {
	traffic.Reset()
}

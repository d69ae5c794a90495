// Package traffic keeps a sliding window of lookup outcomes for health evaluation.
package traffic

import (
	"sync"
	"time"
)

// DefaultRetention bounds how long outcomes are kept; windows longer than this see only
// the retained outcomes.
const DefaultRetention = 5 * time.Minute

var defaultTracker = NewTracker(time.Now, DefaultRetention)

// RecordSuccess records a successful lookup outcome.
func RecordSuccess() {
	defaultTracker.RecordSuccess()
}

// RecordError records a failed lookup outcome (upstream error, timeout, etc.).
func RecordError() {
	defaultTracker.RecordError()
}

// RequestCount returns the number of outcomes within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

type outcome struct {
	at     time.Time
	failed bool
}

// Tracker maintains a time-ordered window of outcomes.
type Tracker struct {
	mu        sync.Mutex
	outcomes  []outcome
	now       func() time.Time
	retention time.Duration
}

// NewTracker returns a Tracker reading time from now and keeping outcomes for retention.
func NewTracker(now func() time.Time, retention time.Duration) *Tracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Tracker{now: now, retention: retention}
}

// RecordSuccess records a successful outcome.
func (t *Tracker) RecordSuccess() {
	t.record(false)
}

// RecordError records a failed outcome.
func (t *Tracker) RecordError() {
	t.record(true)
}

func (t *Tracker) record(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.outcomes = append(t.outcomes, outcome{at: now, failed: failed})
	t.pruneLocked(now)
}

// RequestCount returns the number of outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	_, total := t.ErrorRate(window)
	return total
}

// ErrorRate returns (errorCount, totalCount) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	for i := len(t.outcomes) - 1; i >= 0; i-- {
		o := t.outcomes[i]
		if o.at.Before(cutoff) {
			break
		}
		total++
		if o.failed {
			errors++
		}
	}
	return errors, total
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = nil
}

// pruneLocked drops outcomes older than the retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-t.retention)
	i := 0
	for i < len(t.outcomes) && t.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.outcomes = append(t.outcomes[:0], t.outcomes[i:]...)
	}
}

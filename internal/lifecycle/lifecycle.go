// Package lifecycle holds the process-wide shutdown flag read by the health handler.
package lifecycle

import (
	"sync/atomic"
	"time"
)

// shutdownStarted is the unix-nano time shutdown began, or 0 while serving.
var shutdownStarted atomic.Int64

// SetShuttingDown sets or clears the shutdown flag. Call with true when SIGTERM/SIGINT is received.
// Health handler returns 503 with status shutting-down while set.
func SetShuttingDown(v bool) {
	if !v {
		shutdownStarted.Store(0)
		return
	}
	shutdownStarted.CompareAndSwap(0, time.Now().UnixNano())
}

// IsShuttingDown returns true if the process is draining and should not receive new traffic.
func IsShuttingDown() bool {
	return shutdownStarted.Load() != 0
}

// ShuttingDownSince returns when shutdown began and whether it has.
func ShuttingDownSince() (time.Time, bool) {
	ns := shutdownStarted.Load()
	if ns == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

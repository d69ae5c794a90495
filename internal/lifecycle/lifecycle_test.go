package lifecycle

import (
	"testing"
	"time"
)

func TestIsShuttingDown_DefaultFalse(t *testing.T) {
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true, want false by default")
	}
	if _, ok := ShuttingDownSince(); ok {
		t.Error("ShuttingDownSince() ok = true while serving")
	}
}

func TestSetShuttingDown_True(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	if !IsShuttingDown() {
		t.Error("IsShuttingDown() = false after SetShuttingDown(true), want true")
	}
	since, ok := ShuttingDownSince()
	if !ok || time.Since(since) > time.Minute {
		t.Errorf("ShuttingDownSince() = %v, %v", since, ok)
	}
}

// TestSetShuttingDown_KeepsFirstTimestamp verifies that repeated signals do not
// move the recorded start of shutdown.
func TestSetShuttingDown_KeepsFirstTimestamp(t *testing.T) {
	SetShuttingDown(true)
	defer SetShuttingDown(false)
	first, _ := ShuttingDownSince()
	time.Sleep(time.Millisecond)
	SetShuttingDown(true)
	second, _ := ShuttingDownSince()
	if !first.Equal(second) {
		t.Errorf("shutdown start moved from %v to %v", first, second)
	}
}

func TestSetShuttingDown_False(t *testing.T) {
	SetShuttingDown(true)
	SetShuttingDown(false)
	if IsShuttingDown() {
		t.Error("IsShuttingDown() = true after SetShuttingDown(false), want false")
	}
}

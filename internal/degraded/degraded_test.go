package degraded

import (
	"testing"
	"time"
)

// TestErrorRate_Empty verifies that ErrorRate returns (0, 0) when no
// events have been recorded within the time window.
func TestErrorRate_Empty(t *testing.T) {
	Reset()
	errors, total := ErrorRate(time.Minute)
	if errors != 0 || total != 0 {
		t.Errorf("ErrorRate() = (%d, %d), want (0, 0)", errors, total)
	}
}

// TestRecordSuccess_AndError_ErrorRate verifies that RecordSuccess and RecordError
// correctly track events and ErrorRate returns accurate counts.
func TestRecordSuccess_AndError_ErrorRate(t *testing.T) {
	Reset()
	RecordSuccess()
	RecordSuccess()
	RecordError()
	errors, total := ErrorRate(time.Minute)
	if errors != 1 || total != 3 {
		t.Errorf("ErrorRate() = (%d, %d), want (1, 3)", errors, total)
	}
}

func TestBreached(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		errors    int
		threshold int
		want      bool
	}{
		{"empty window", 0, 0, 5, false},
		{"below threshold", 99, 1, 5, false},
		{"at threshold", 19, 1, 5, true},
		{"all errors", 0, 3, 50, true},
		{"threshold disabled", 0, 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Reset()
			for i := 0; i < tt.successes; i++ {
				RecordSuccess()
			}
			for i := 0; i < tt.errors; i++ {
				RecordError()
			}
			if got, pct := Breached(time.Minute, tt.threshold); got != tt.want {
				t.Errorf("Breached() = %v (%.1f%%), want %v", got, pct, tt.want)
			}
		})
	}
	Reset()
}

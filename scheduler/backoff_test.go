package scheduler

import (
	"testing"
	"time"
)

func TestBackoffDelay_IncreasesUntilCap(t *testing.T) {
	base := 100 * time.Millisecond
	ceil := 2 * time.Second

	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := backoffDelay(base, ceil, attempt)
		if d <= prev {
			t.Errorf("attempt %d: delay %v not greater than previous %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestBackoffDelay_RespectsCap(t *testing.T) {
	base := 500 * time.Millisecond
	ceil := 2 * time.Second

	for attempt := 1; attempt <= 10; attempt++ {
		if d := backoffDelay(base, ceil, attempt); d > ceil {
			t.Errorf("attempt %d: delay %v exceeds cap %v", attempt, d, ceil)
		}
	}
}

func TestBackoffDelay_JitterBand(t *testing.T) {
	base := 100 * time.Millisecond
	ceil := 10 * time.Second

	// Attempt 2 doubles the base; jitter adds at most 20% on top.
	for i := 0; i < 50; i++ {
		d := backoffDelay(base, ceil, 2)
		if d < 200*time.Millisecond || d > 240*time.Millisecond {
			t.Fatalf("attempt 2 delay %v outside [200ms, 240ms]", d)
		}
	}
}

func TestBackoffDelay_AttemptFloor(t *testing.T) {
	base := 100 * time.Millisecond
	if d := backoffDelay(base, time.Second, 0); d < base {
		t.Errorf("attempt 0 delay %v below base %v", d, base)
	}
}

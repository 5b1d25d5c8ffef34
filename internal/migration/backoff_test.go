package migration

import (
	"testing"
	"time"

	"github.com/danmuck/shiftctl/internal/testutil/testlog"
)

func TestRollbackBackoffSchedule(t *testing.T) {
	testlog.Start(t)

	cfg := DefaultRollbackBackoff()
	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for i, expected := range want {
		got := NextBackoffDelay(cfg, i+1)
		if got != expected {
			t.Fatalf("attempt %d: got %v want %v", i+1, got, expected)
		}
	}
}

func TestBackoffZeroInitialDelay(t *testing.T) {
	testlog.Start(t)

	cfg := BackoffConfig{InitialDelay: 0, Multiplier: 2, MaxDelay: time.Second}
	if got := NextBackoffDelay(cfg, 3); got != 0 {
		t.Fatalf("zero initial delay must stay zero, got %v", got)
	}
}

func TestBackoffSubUnityMultiplierClamped(t *testing.T) {
	testlog.Start(t)

	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 0.5, MaxDelay: 8 * time.Second}
	if got := NextBackoffDelay(cfg, 4); got != time.Second {
		t.Fatalf("multiplier below 1 clamps to flat delay, got %v", got)
	}
}

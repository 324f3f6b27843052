// Package system exercises the real-time clock adapter.
package system

import (
	"context"
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockSleepCancel checks a canceled context interrupts the sleep.
func TestClockSleepCancel(t *testing.T) {
	t.Parallel()

	clk := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := clk.Sleep(ctx, 5*time.Second)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not return promptly after cancellation")
	}
}

// TestClockSleepZero returns immediately for non-positive durations.
func TestClockSleepZero(t *testing.T) {
	t.Parallel()

	clk := New()
	if err := clk.Sleep(context.Background(), 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := clk.Sleep(context.Background(), -time.Second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

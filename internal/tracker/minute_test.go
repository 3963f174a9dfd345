package tracker

import "testing"

func TestMinuteTrackerRotateMinute(t *testing.T) {
	mt := NewMinuteTracker()

	mt.RotateMinute() // no heartbeats this minute
	if mt.IsCurrentlyActive() {
		t.Fatalf("expected inactive after a heartbeat-free rotation")
	}

	mt.RecordHeartbeat()
	mt.RecordHeartbeat() // multiple heartbeats in one minute still count once
	mt.RotateMinute()
	if !mt.IsCurrentlyActive() {
		t.Fatalf("expected active after a rotation with heartbeats")
	}
	if got := mt.TotalActiveMinutes(); got != 1 {
		t.Fatalf("TotalActiveMinutes() = %d, want 1", got)
	}
}

func TestMinuteTrackerHistoryCapsAtFour(t *testing.T) {
	mt := NewMinuteTracker()
	for i := 0; i < 6; i++ {
		if i%2 == 0 {
			mt.RecordHeartbeat()
		}
		mt.RotateMinute()
	}
	if got := len(mt.Last3Minutes()); got != 3 {
		t.Fatalf("Last3Minutes() len = %d, want 3 once history is full", got)
	}
}

func TestMinuteTrackerPercentageAndIsActive(t *testing.T) {
	mt := NewMinuteTracker()
	for i := 0; i < 8; i++ {
		mt.RecordHeartbeat()
		mt.RotateMinute()
	}
	for i := 0; i < 2; i++ {
		mt.RotateMinute() // inactive minutes
	}

	if got := mt.Percentage(10); got != 80 {
		t.Fatalf("Percentage(10) = %v, want 80", got)
	}
	// Exactly 80% must not be "active" - the threshold is strict (>).
	if mt.IsActive(10, 0.8) {
		t.Fatalf("IsActive at exactly the threshold should be false (strict >)")
	}
	if !mt.IsActive(10, 0.79) {
		t.Fatalf("IsActive should be true once the ratio exceeds the threshold")
	}
}

func TestMinuteTrackerZeroTotalMinutes(t *testing.T) {
	mt := NewMinuteTracker()
	mt.RecordHeartbeat()
	mt.RotateMinute()

	if got := mt.Percentage(0); got != 0 {
		t.Fatalf("Percentage(0) = %v, want 0", got)
	}
	if mt.IsActive(0, 0.8) {
		t.Fatalf("IsActive(0, ...) should be false")
	}
}

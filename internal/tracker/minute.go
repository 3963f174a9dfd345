// Package tracker implements the per-minute tracker (C8) and tracker
// registry (C9): atomic binary attendance counters, rotation, rolling
// history, and aggregate persistence for sessions and rule contexts.
package tracker

import (
	"sync"
	"sync/atomic"
)

// historyLen is the fixed size of the rolling binary history (§4.8).
const historyLen = 4

// MinuteTracker tracks one (student, context) pair's per-minute
// attendance. currentCounter is the only field mutated outside the
// tracker's own lock (it's a plain atomic increment from any goroutine
// calling RecordHeartbeat); history and totalActiveMinutes are mutated
// only by RotateMinute, which the registry calls single-threaded per
// tracker instance from the rotation tick (§5).
type MinuteTracker struct {
	currentCounter int64 // atomic

	mu                 sync.RWMutex
	history            [historyLen]bool // index 0 = most recent rotation
	historyLen         int              // number of valid entries, grows to historyLen then stays
	totalActiveMinutes int
}

// NewMinuteTracker creates an empty tracker.
func NewMinuteTracker() *MinuteTracker {
	return &MinuteTracker{}
}

// RecordHeartbeat atomically increments the live counter. Any positive
// count within a minute counts as exactly one active minute; repeated
// calls within the same minute are idempotent with respect to the
// aggregate (only RotateMinute's presence/absence check matters).
func (t *MinuteTracker) RecordHeartbeat() {
	atomic.AddInt64(&t.currentCounter, 1)
}

// RotateMinute atomically reads and resets the live counter, pushes a
// binary value (1 if the counter was > 0, else 0) onto the front of the
// rolling history, trims the history to historyLen entries, and - if the
// pushed value is 1 - increments totalActiveMinutes. Readers of
// IsCurrentlyActive/Last3Minutes/Percentage/IsActive never observe a
// partially-rotated state (I6): the whole push+trim+total update happens
// under the tracker's write lock.
func (t *MinuteTracker) RotateMinute() {
	count := atomic.SwapInt64(&t.currentCounter, 0)
	active := count > 0

	t.mu.Lock()
	defer t.mu.Unlock()

	copy(t.history[1:], t.history[:historyLen-1])
	t.history[0] = active
	if t.historyLen < historyLen {
		t.historyLen++
	}
	if active {
		t.totalActiveMinutes++
	}
}

// IsCurrentlyActive reports whether the last pushed history value is 1
// (true), i.e. whether the minute that just completed had any heartbeat.
// This is distinct from the live (still-incrementing) counter.
func (t *MinuteTracker) IsCurrentlyActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.historyLen > 0 && t.history[0]
}

// Last3Minutes returns history entries at indices 1..3 (i.e. excluding
// the most-recent entry, which represents "now" in the UI), oldest last.
func (t *MinuteTracker) Last3Minutes() []bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]bool, 0, historyLen-1)
	for i := 1; i < t.historyLen; i++ {
		out = append(out, t.history[i])
	}
	return out
}

// TotalActiveMinutes returns the running count of rotated minutes in
// which at least one heartbeat occurred.
func (t *MinuteTracker) TotalActiveMinutes() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalActiveMinutes
}

// Percentage returns round((totalActiveMinutes / totalMinutes) * 100, 2),
// or 0 if totalMinutes <= 0.
func (t *MinuteTracker) Percentage(totalMinutes int) float64 {
	if totalMinutes <= 0 {
		return 0
	}
	t.mu.RLock()
	total := t.totalActiveMinutes
	t.mu.RUnlock()

	raw := (float64(total) / float64(totalMinutes)) * 100
	return roundTo2(raw)
}

// IsActive reports totalActiveMinutes > 0.8*totalMinutes (strict); false
// if totalMinutes <= 0. Exactly 80% is not active.
func (t *MinuteTracker) IsActive(totalMinutes int, threshold float64) bool {
	if totalMinutes <= 0 {
		return false
	}
	t.mu.RLock()
	total := t.totalActiveMinutes
	t.mu.RUnlock()

	return float64(total) > threshold*float64(totalMinutes)
}

func roundTo2(v float64) float64 {
	const scale = 100
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}

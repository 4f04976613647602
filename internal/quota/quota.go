// Package quota tracks cumulative upload bytes against a capped rolling
// window, the accounting unit of a metered network link.
package quota

import (
	"sync"
	"time"
)

// State is the persistable portion of a Tracker.
type State struct {
	WindowStart time.Time `json:"window_start"`
	BytesUsed   int64     `json:"bytes_used"`
}

// Tracker serializes reserve/commit accounting for concurrent transfer
// workers. Reservations hold headroom until the actual transferred
// bytes are committed or the reservation is cancelled.
type Tracker struct {
	mu sync.Mutex

	capBytes    int64
	window      time.Duration
	windowStart time.Time
	used        int64
	reserved    int64
}

func NewTracker(capBytes int64, window time.Duration, s State) *Tracker {
	return &Tracker{
		capBytes:    capBytes,
		window:      window,
		windowStart: s.WindowStart,
		used:        s.BytesUsed,
	}
}

// RolloverIfDue resets consumption when the accounting window has
// elapsed. Consumption never goes negative and resets exactly once per
// rollover.
func (t *Tracker) RolloverIfDue(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.windowStart.IsZero() {
		t.windowStart = now
		return false
	}
	if now.Sub(t.windowStart) < t.window {
		return false
	}
	t.windowStart = now
	t.used = 0
	return true
}

// Reserve asks for n bytes of headroom. A denial returns the bytes
// still unreserved so callers can report how much quota remains.
func (t *Tracker) Reserve(n int64) (granted bool, remaining int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining = t.capBytes - t.used - t.reserved
	if remaining < 0 {
		remaining = 0
	}
	if n > remaining {
		return false, remaining
	}
	t.reserved += n
	return true, remaining - n
}

// Commit releases a reservation and records the bytes actually
// transferred, which may differ from the reserved estimate.
func (t *Tracker) Commit(reserved, actual int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reserved -= reserved
	if t.reserved < 0 {
		t.reserved = 0
	}
	t.used += actual
}

// Cancel releases a reservation without consuming quota, for transfers
// that failed before moving any payload.
func (t *Tracker) Cancel(reserved int64) {
	t.Commit(reserved, 0)
}

// ForceCommit records bytes that were transferred without a
// reservation. Database snapshots use it: they are attempted even past
// the cap, flagged rather than skipped.
func (t *Tracker) ForceCommit(actual int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used += actual
}

// Remaining is the unconsumed, unreserved headroom.
func (t *Tracker) Remaining() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := t.capBytes - t.used - t.reserved
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t *Tracker) Exhausted() bool {
	return t.Remaining() == 0
}

// Snapshot returns the persistable state. Outstanding reservations are
// not part of it; they only exist within a run.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		WindowStart: t.windowStart,
		BytesUsed:   t.used,
	}
}

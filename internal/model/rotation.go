package model

import (
	"sync"
	"time"
)

// RotationTracker counts recent assignments per vehicle inside a rolling
// window. The count feeds the ranker's fairness sub-score.
type RotationTracker struct {
	mu     sync.Mutex
	window time.Duration
	byVeh  map[string][]time.Time
}

func NewRotationTracker(window time.Duration) *RotationTracker {
	if window <= 0 {
		window = 4 * time.Hour
	}
	return &RotationTracker{window: window, byVeh: map[string][]time.Time{}}
}

// Record notes an assignment for the vehicle at time ts.
func (t *RotationTracker) Record(vehicleID string, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byVeh[vehicleID] = append(t.prune(vehicleID, ts), ts)
}

// Count returns the number of assignments inside the window ending at now.
func (t *RotationTracker) Count(vehicleID string, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.prune(vehicleID, now)
	t.byVeh[vehicleID] = kept
	return len(kept)
}

// prune drops entries older than the window. Caller holds the lock.
func (t *RotationTracker) prune(vehicleID string, now time.Time) []time.Time {
	cutoff := now.Add(-t.window)
	in := t.byVeh[vehicleID]
	kept := in[:0]
	for _, ts := range in {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

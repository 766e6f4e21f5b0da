// Package spam tracks per-user action rates and flags users who trigger
// commands too quickly.
package spam

import (
	"sync"
	"time"
)

// Guard is a sliding-window action rate tracker. A user registering more
// than Threshold actions within Window is restricted until enough actions
// age out. Owners are exempted by the caller, not the guard.
type Guard struct {
	mu    sync.Mutex
	users map[string][]time.Time

	// Window is the sliding window width.
	Window time.Duration
	// Threshold is the number of actions within Window at which a user
	// becomes restricted.
	Threshold int
}

// New returns a guard with the given window and threshold.
func New(window time.Duration, threshold int) *Guard {
	return &Guard{
		users:     make(map[string][]time.Time),
		Window:    window,
		Threshold: threshold,
	}
}

// Action registers a triggering action for the user at the given time,
// creating the user's record if absent. Stale actions are pruned on every
// call, bounding each record to O(threshold) memory.
func (g *Guard) Action(userID string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts := prune(g.users[userID], now.Add(-g.Window))
	g.users[userID] = append(ts, now)
}

// Restricted reports whether the user's recent action count exceeds the
// threshold. A user whose whole window has aged out is evicted.
func (g *Guard) Restricted(userID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.users[userID]
	if !ok {
		return false
	}
	ts = prune(ts, now.Add(-g.Window))
	if len(ts) == 0 {
		delete(g.users, userID)
		return false
	}
	g.users[userID] = ts
	return len(ts) >= g.Threshold
}

// prune drops timestamps at or before the cutoff. Timestamps are appended in
// order, so the survivors are a suffix.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

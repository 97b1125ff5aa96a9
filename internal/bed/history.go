// Package bed derives occupant metrics from raw cloud API data: a
// bounded history of device snapshots, per-side heating field access,
// sleep-session views, and a heuristic bed-presence state machine.
// The package performs no I/O; the poller feeds it.
package bed

import (
	"sync"

	"github.com/nugget/sleepside/internal/eightsleep"
)

// historyCap bounds the snapshot history. The cloud API is polled on
// a seconds-to-minutes cadence, so ten snapshots cover the recent past
// without unbounded growth.
const historyCap = 10

// History is a bounded, newest-first sequence of raw device snapshots.
// It is safe for concurrent use: Push replaces the backing slice
// atomically under a write lock, so readers never observe a partially
// updated sequence. Snapshots are immutable once pushed.
type History struct {
	mu    sync.RWMutex
	snaps []eightsleep.Snapshot // newest first, len <= historyCap
}

// NewHistory creates an empty snapshot history.
func NewHistory() *History {
	return &History{}
}

// Push prepends a snapshot, evicting the oldest when the history is
// full.
func (h *History) Push(s eightsleep.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	next := make([]eightsleep.Snapshot, 0, historyCap)
	next = append(next, s)
	next = append(next, h.snaps...)
	if len(next) > historyCap {
		next = next[:historyCap]
	}
	h.snaps = next
}

// Latest returns the most recent snapshot, or ErrNoData when nothing
// has been pushed yet.
func (h *History) Latest() (eightsleep.Snapshot, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.snaps) == 0 {
		return nil, ErrNoData
	}
	return h.snaps[0], nil
}

// All returns the full bounded sequence, newest first. The returned
// slice is a defensive copy; callers cannot perturb the history.
func (h *History) All() []eightsleep.Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]eightsleep.Snapshot, len(h.snaps))
	copy(out, h.snaps)
	return out
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.snaps)
}

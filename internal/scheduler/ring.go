package scheduler

import (
	"sync"

	"codeberg.org/mutker/pulsecore/internal/telemetry"
)

// ring keeps the most recent snapshots, evicting the oldest when full.
type ring struct {
	mu    sync.RWMutex
	items []telemetry.Snapshot
	next  int
	full  bool
}

func newRing(capacity int) *ring {
	return &ring{items: make([]telemetry.Snapshot, capacity)}
}

func (r *ring) push(s telemetry.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[r.next] = s
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns a copy, oldest first.
func (r *ring) snapshot() []telemetry.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.full {
		out := make([]telemetry.Snapshot, r.next)
		copy(out, r.items[:r.next])
		return out
	}

	out := make([]telemetry.Snapshot, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}

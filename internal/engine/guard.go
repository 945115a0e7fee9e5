package engine

import (
	"sync"

	"github.com/roach88/campbellsync/internal/domain"
)

// guard is the single-slot in-flight guard of one runner.
//
// At most one cycle holds the slot. With OverlapQueue one more fire may
// wait in the pending slot; it inherits the running slot on release.
//
// Thread-safety: all methods are safe for concurrent use.
type guard struct {
	mu      sync.Mutex
	policy  domain.OverlapPolicy
	busy    bool
	pending bool
}

func newGuard(policy domain.OverlapPolicy) *guard {
	if policy == "" {
		policy = domain.OverlapSkip
	}
	return &guard{policy: policy}
}

// acquire claims the slot. run is true when the caller must start a
// cycle now. queued is true when the fire was parked in the pending slot.
// Both false means the fire was dropped.
func (g *guard) acquire() (run, queued bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.busy {
		g.busy = true
		return true, false
	}
	if g.policy == domain.OverlapQueue && !g.pending {
		g.pending = true
		return false, true
	}
	return false, false
}

// tryAcquire claims the slot if it is free, never queueing.
func (g *guard) tryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.busy {
		return false
	}
	g.busy = true
	return true
}

// release frees the slot. It returns true when a pending fire took the
// slot over; the caller must then run one more cycle and release again.
func (g *guard) release() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pending {
		g.pending = false
		return true
	}
	g.busy = false
	return false
}

// inFlight reports whether a cycle holds the slot.
func (g *guard) inFlight() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.busy
}

package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/campbellsync/internal/domain"
)

func TestGuard_Skip(t *testing.T) {
	g := newGuard(domain.OverlapSkip)

	run, queued := g.acquire()
	assert.True(t, run)
	assert.False(t, queued)
	assert.True(t, g.inFlight())

	run, queued = g.acquire()
	assert.False(t, run, "second fire must not run while busy")
	assert.False(t, queued, "skip policy never queues")

	assert.False(t, g.release())
	assert.False(t, g.inFlight())

	run, _ = g.acquire()
	assert.True(t, run, "slot is free again after release")
}

func TestGuard_QueueDepthOne(t *testing.T) {
	g := newGuard(domain.OverlapQueue)

	run, _ := g.acquire()
	assert.True(t, run)

	run, queued := g.acquire()
	assert.False(t, run)
	assert.True(t, queued, "first overlapping fire is queued")

	run, queued = g.acquire()
	assert.False(t, run)
	assert.False(t, queued, "second overlapping fire is dropped")

	assert.True(t, g.release(), "pending fire takes over the slot")
	assert.True(t, g.inFlight())
	assert.False(t, g.release())
	assert.False(t, g.inFlight())
}

func TestGuard_DefaultsToSkip(t *testing.T) {
	g := newGuard("")
	g.acquire()
	_, queued := g.acquire()
	assert.False(t, queued)
}

func TestGuard_ConcurrentAcquire(t *testing.T) {
	g := newGuard(domain.OverlapSkip)
	const goroutines = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if run, _ := g.acquire(); run {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners, "exactly one fire wins the slot")
}

func TestGuard_TryAcquireNeverQueues(t *testing.T) {
	g := newGuard(domain.OverlapQueue)

	assert.True(t, g.tryAcquire())
	assert.False(t, g.tryAcquire())
	assert.False(t, g.release(), "tryAcquire must not leave a pending fire")
}

package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/campbellsync/internal/domain"
)

// Fleet supervises one Runner per valid device.
type Fleet struct {
	runners  []*Runner
	disabled []error
	deps     Deps
}

// NewFleet builds a runner per device. A device whose schedule or host
// is invalid is logged, recorded in Disabled and skipped; it never
// prevents the other devices from running.
func NewFleet(devices []domain.DeviceConfig, deps Deps) *Fleet {
	deps = deps.withDefaults()
	f := &Fleet{deps: deps}

	for _, dev := range devices {
		r, err := NewRunner(dev, deps)
		if err != nil {
			deps.Logger.Error("device disabled", "device", dev.Name, "error", err)
			f.disabled = append(f.disabled, err)
			continue
		}
		f.runners = append(f.runners, r)
	}
	return f
}

// Runners returns the runners in configuration order.
func (f *Fleet) Runners() []*Runner {
	return append([]*Runner(nil), f.runners...)
}

// Runner returns the runner of the named device.
func (f *Fleet) Runner(name string) (*Runner, bool) {
	for _, r := range f.runners {
		if r.Name() == name {
			return r, true
		}
	}
	return nil, false
}

// Disabled returns the errors of the devices that were skipped.
func (f *Fleet) Disabled() []error {
	return append([]error(nil), f.disabled...)
}

// Run starts every runner and blocks until ctx is done and every runner
// has returned. It returns nil on a clean shutdown.
func (f *Fleet) Run(ctx context.Context) error {
	if len(f.runners) == 0 {
		return errors.New("no runnable devices")
	}
	f.deps.Logger.Info("fleet starting", "devices", len(f.runners), "disabled", len(f.disabled))

	var wg sync.WaitGroup
	for _, r := range f.runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Start(ctx)
		}()
	}
	wg.Wait()

	f.deps.Logger.Info("fleet stopped")
	return nil
}

// RunOnce runs one cycle per runner concurrently and returns the results
// in runner order. Devices are resolved first where needed.
func (f *Fleet) RunOnce(ctx context.Context) []domain.CycleResult {
	results := make([]domain.CycleResult, len(f.runners))
	var g errgroup.Group
	for i, r := range f.runners {
		g.Go(func() error {
			results[i] = r.RunCycle(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// RunnerStatus is a point-in-time view of one runner.
type RunnerStatus struct {
	Device      string         `json:"device"`
	Phase       string         `json:"phase"`
	Resolved    bool           `json:"resolved"`
	LastOutcome domain.Outcome `json:"last_outcome"`
	LastAt      *time.Time     `json:"last_at,omitempty"`
}

// Status reports every runner's state.
func (f *Fleet) Status() []RunnerStatus {
	out := make([]RunnerStatus, len(f.runners))
	for i, r := range f.runners {
		outcome, at := r.LastOutcome()
		st := RunnerStatus{
			Device:      r.Name(),
			Phase:       r.Phase().String(),
			Resolved:    r.Resolved(),
			LastOutcome: outcome,
		}
		if !at.IsZero() {
			st.LastAt = &at
		}
		out[i] = st
	}
	return out
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/campbellsync/internal/campbell"
	"github.com/roach88/campbellsync/internal/domain"
	"github.com/roach88/campbellsync/internal/reconcile"
	"github.com/roach88/campbellsync/internal/report"
	"github.com/roach88/campbellsync/internal/schedule"
	"github.com/roach88/campbellsync/internal/store"
)

// Deps are the collaborators shared by the runners of a fleet.
// Nil fields get defaults, except Store: without a store every device
// that names a DeviceRef reports device_not_found.
type Deps struct {
	Store      store.Client
	Fetcher    campbell.Fetcher
	Reconciler *reconcile.Reconciler
	Reporter   report.Reporter
	Clock      schedule.Clock
	IDs        IDGenerator
	Logger     *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Fetcher == nil {
		d.Fetcher = campbell.NewHTTPFetcher(campbell.WithLogger(d.Logger))
	}
	if d.Reconciler == nil {
		d.Reconciler = reconcile.New(reconcile.WithLogger(d.Logger))
	}
	if d.Reporter == nil {
		d.Reporter = report.NewLog(d.Logger)
	}
	if d.Clock == nil {
		d.Clock = schedule.RealClock{}
	}
	if d.IDs == nil {
		d.IDs = UUIDv7Generator{}
	}
	return d
}

// Runner drives the cycles of one device.
type Runner struct {
	dev     domain.DeviceConfig
	url     string
	trigger *schedule.Trigger
	deps    Deps
	logger  *slog.Logger
	seq     atomic.Int64 // cycle sequence, starts at 1
	guard   *guard
	wg      sync.WaitGroup

	mu       sync.Mutex
	phase    domain.Phase
	device   store.Resource
	lookErr  error // cause of the last failed resolution, nil when the store had no such device
	last     domain.Outcome
	lastTime time.Time
}

// NewRunner validates dev and builds its runner. An unparseable schedule
// yields a SCHEDULE_INVALID error; a bad host or table yields a plain error.
func NewRunner(dev domain.DeviceConfig, deps Deps) (*Runner, error) {
	deps = deps.withDefaults()
	logger := deps.Logger.With("device", dev.Name)

	trigger, err := schedule.NewTrigger(dev.Schedule, deps.Clock, logger)
	if err != nil {
		return nil, domain.NewScheduleInvalid(dev.Name, dev.Schedule, err)
	}
	url, err := campbell.QueryURL(dev.Host, dev.Table)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", dev.Name, err)
	}

	return &Runner{
		dev:     dev,
		url:     url,
		trigger: trigger,
		deps:    deps,
		logger:  logger,
		guard:   newGuard(dev.Overlap),
		last:    domain.OutcomeNone,
	}, nil
}

// Name returns the device name.
func (r *Runner) Name() string { return r.dev.Name }

// URL returns the query URL the runner fetches.
func (r *Runner) URL() string { return r.url }

// Phase returns the current phase.
func (r *Runner) Phase() domain.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// LastOutcome returns the outcome of the most recent finished cycle and
// when it finished.
func (r *Runner) LastOutcome() (domain.Outcome, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.lastTime
}

// Resolved reports whether the store device has been resolved.
func (r *Runner) Resolved() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device != nil
}

// Start resolves the device, runs one immediate cycle and then one cycle
// per schedule occurrence until ctx is done. It returns after every
// in-flight cycle has finished.
func (r *Runner) Start(ctx context.Context) error {
	r.logger.Info("runner starting", "schedule", r.dev.Schedule, "url", r.url)

	if r.dev.DeviceRef != "" {
		r.resolve(ctx)
	}

	r.logger.Info("performing initial fetch")
	r.fire(ctx, false)

	err := r.trigger.Run(ctx, func() { r.fire(ctx, true) })
	r.wg.Wait()
	r.logger.Info("runner stopped")
	return err
}

// RunCycle runs one cycle synchronously and returns its result. While
// another cycle is in flight the call does not wait: it reports and
// returns a skipped result, whatever the overlap policy.
func (r *Runner) RunCycle(ctx context.Context) domain.CycleResult {
	if !r.guard.tryAcquire() {
		return r.skip(ctx)
	}
	res := r.cycle(ctx, true)
	if r.guard.release() {
		r.wg.Add(1)
		go r.drain(ctx, true)
	}
	return res
}

// fire starts a cycle on its own goroutine, or drops or queues it when a
// cycle is already in flight. It never blocks.
func (r *Runner) fire(ctx context.Context, tryResolve bool) {
	run, queued := r.guard.acquire()
	switch {
	case run:
		r.wg.Add(1)
		go r.drain(ctx, tryResolve)
	case queued:
		r.logger.Debug("cycle in flight, fire queued")
	default:
		r.skip(ctx)
	}
}

// drain runs cycles while the guard hands the slot back.
func (r *Runner) drain(ctx context.Context, tryResolve bool) {
	defer r.wg.Done()
	for {
		r.cycle(ctx, tryResolve)
		if !r.guard.release() {
			return
		}
		tryResolve = true
	}
}

func (r *Runner) skip(ctx context.Context) domain.CycleResult {
	now := r.deps.Clock.Now()
	res := domain.CycleResult{
		Device:  r.dev.Name,
		CycleID: r.deps.IDs.Generate(),
		Seq:     r.seq.Add(1),
		Outcome: domain.OutcomeSkipped,
		Reason:  "previous cycle still in flight",
		Started: now,
	}
	r.deps.Reporter.Report(ctx, report.Finish(res, now))
	return res
}

// cycle runs one fetch-parse-reconcile pass. tryResolve is false for the
// immediate startup cycle, whose resolution attempt Start already made.
func (r *Runner) cycle(ctx context.Context, tryResolve bool) (res domain.CycleResult) {
	ctx = context.WithoutCancel(ctx)
	started := r.deps.Clock.Now()
	res = domain.CycleResult{
		Device:  r.dev.Name,
		CycleID: r.deps.IDs.Generate(),
		Seq:     r.seq.Add(1),
		Started: started,
	}
	logger := r.logger.With("cycle_id", res.CycleID, "seq", res.Seq)
	r.deps.Reporter.Report(ctx, report.Start(res.Device, res.CycleID, res.Seq, started))

	failed := false
	defer func() {
		if p := recover(); p != nil {
			logger.Error("cycle panicked", "panic", p)
			failed = true
			res.Outcome = domain.OutcomeFailure
			res.Reason = fmt.Sprintf("panic: %v", p)
			res.Err = fmt.Errorf("panic: %v", p)
		}
		if failed {
			r.setPhase(domain.PhaseFailed)
		} else {
			r.setPhase(domain.PhaseIdle)
		}
		now := r.deps.Clock.Now()
		res.Duration = now.Sub(started)
		r.finish(res, now)
		r.deps.Reporter.Report(ctx, report.Finish(res, now))
	}()

	var device store.Resource
	if r.dev.DeviceRef != "" {
		device = r.resolved()
		if device == nil && tryResolve {
			device = r.resolve(ctx)
		}
		if device == nil {
			res.Outcome = domain.OutcomeDeviceNotFound
			res.Reason = fmt.Sprintf("device %q not resolved", r.dev.DeviceRef)
			res.Err = domain.NewStoreLookup(r.dev.Name, r.dev.DeviceRef, r.lookupErr())
			return res
		}
	}

	r.setPhase(domain.PhaseFetching)
	raw, err := r.deps.Fetcher.Fetch(ctx, r.url)
	if err != nil {
		failed = true
		res.Outcome = domain.OutcomeFailure
		res.Reason = "fetch failed"
		res.Err = domain.WithDevice(err, r.dev.Name)
		return res
	}

	r.setPhase(domain.PhaseParsing)
	reading, err := campbell.ParseResponse(raw, r.dev.TZOffset)
	if err != nil {
		failed = true
		res.Outcome = domain.OutcomeFailure
		res.Reason = "malformed response"
		res.Err = domain.WithDevice(err, r.dev.Name)
		return res
	}
	res.Timestamp = reading.Timestamp
	if len(reading.Skipped) > 0 {
		logger.Warn("fields reported without a value", "fields", reading.Skipped)
	}

	if device == nil {
		logger.Debug("no store device configured, reading verified only", "fields", len(reading.Fields))
		res.Outcome = domain.OutcomeSuccess
		return res
	}

	r.setPhase(domain.PhaseReconciling)
	rec := r.deps.Reconciler.Reconcile(ctx, device, reading)
	res.Outcome = rec.Outcome
	res.Reason = rec.Reason
	res.Err = rec.Err
	res.Created = rec.Created
	res.Appended = rec.Appended
	res.Failures = rec.Failures
	res.Values = rec.Values
	return res
}

// resolve looks up the store device unless it is already resolved.
// Failures are logged as warnings; the next cycle tries again.
func (r *Runner) resolve(ctx context.Context) store.Resource {
	if dev := r.resolved(); dev != nil {
		return dev
	}
	if r.deps.Store == nil {
		r.logger.Warn("no store configured, device cannot be resolved", "ref", r.dev.DeviceRef)
		return nil
	}

	r.setPhase(domain.PhaseResolving)
	defer r.setPhase(domain.PhaseIdle)

	dev, found, err := r.deps.Store.Resolve(ctx, r.dev.DeviceRef)
	r.mu.Lock()
	r.lookErr = err
	r.mu.Unlock()
	switch {
	case err != nil:
		r.logger.Warn("device resolution failed", "ref", r.dev.DeviceRef,
			"error", domain.NewStoreLookup(r.dev.Name, r.dev.DeviceRef, err))
		return nil
	case !found:
		r.logger.Warn("no such store device", "ref", r.dev.DeviceRef)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.device == nil {
		r.device = dev
	}
	r.logger.Info("device resolved", "ref", r.dev.DeviceRef)
	return r.device
}

func (r *Runner) lookupErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookErr
}

func (r *Runner) resolved() store.Resource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

func (r *Runner) setPhase(p domain.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

func (r *Runner) finish(res domain.CycleResult, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = res.Outcome
	r.lastTime = at
}

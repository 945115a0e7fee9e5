package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/campbellsync/internal/domain"
	"github.com/roach88/campbellsync/internal/report"
	"github.com/roach88/campbellsync/internal/testutil"
)

const oneMinBody = `{
  "head": {
    "fields": [
      {"name": "Temp", "type": "xsd:float", "units": "C"},
      {"name": "RH", "type": "xsd:float", "units": "%"}
    ]
  },
  "data": [
    {"time": "2024-05-01T12:00:00", "no": 42, "vals": [21.5, 60]}
  ]
}`

var readingTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeFetcher serves a canned body. When gate is set every Fetch blocks
// until it can receive from gate.
type fakeFetcher struct {
	mu      sync.Mutex
	body    []byte
	err     error
	panic   any
	calls   int
	urls    []string
	gate    chan struct{}
	entered chan struct{}
}

func newFakeFetcher(body string) *fakeFetcher {
	return &fakeFetcher{body: []byte(body), entered: make(chan struct{}, 16)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.urls = append(f.urls, url)
	body, err, p, gate := f.body, f.err, f.panic, f.gate
	f.mu.Unlock()

	f.entered <- struct{}{}
	if gate != nil {
		<-gate
	}
	if p != nil {
		panic(p)
	}
	return body, err
}

func (f *fakeFetcher) set(body string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body, f.err = []byte(body), err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func waitEntered(t *testing.T, f *fakeFetcher) {
	t.Helper()
	select {
	case <-f.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("fetch was never entered")
	}
}

type runnerEnv struct {
	store    *testutil.MemStore
	fetcher  *fakeFetcher
	recorder *report.Recorder
	clock    *testutil.FakeClock
	deps     Deps
}

func newRunnerEnv() *runnerEnv {
	env := &runnerEnv{
		store:    testutil.NewMemStore(),
		fetcher:  newFakeFetcher(oneMinBody),
		recorder: report.NewRecorder(),
		clock:    testutil.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)),
	}
	env.deps = Deps{
		Store:    env.store,
		Fetcher:  env.fetcher,
		Reporter: env.recorder,
		Clock:    env.clock,
		IDs:      testutil.NewSequentialIDs("cycle"),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return env
}

func testDevice(ref string) domain.DeviceConfig {
	return domain.DeviceConfig{
		Name:      "met-1",
		Host:      "http://logger.local",
		Table:     "OneMin",
		Schedule:  "* * * * *",
		DeviceRef: ref,
	}
}

func newTestRunner(t *testing.T, env *runnerEnv, dev domain.DeviceConfig) *Runner {
	t.Helper()
	r, err := NewRunner(dev, env.deps)
	require.NoError(t, err)
	return r
}

func outcomes(results []domain.CycleResult) []domain.Outcome {
	out := make([]domain.Outcome, len(results))
	for i, res := range results {
		out[i] = res.Outcome
	}
	return out
}

func TestNewRunner_InvalidSchedule(t *testing.T) {
	env := newRunnerEnv()
	dev := testDevice("")
	dev.Schedule = "every minute"

	_, err := NewRunner(dev, env.deps)
	require.Error(t, err)
	assert.True(t, domain.IsScheduleInvalid(err))
	assert.Contains(t, err.Error(), "met-1")
}

func TestNewRunner_InvalidHost(t *testing.T) {
	env := newRunnerEnv()
	dev := testDevice("")
	dev.Host = "logger.local"

	_, err := NewRunner(dev, env.deps)
	require.Error(t, err)
	assert.False(t, domain.IsScheduleInvalid(err))
}

func TestNewRunner_QueryURL(t *testing.T) {
	env := newRunnerEnv()
	r := newTestRunner(t, env, testDevice(""))

	assert.Equal(t, "met-1", r.Name())
	assert.Contains(t, r.URL(), "uri=dl%3AOneMin")
	assert.Contains(t, r.URL(), "mode=most-recent")
	assert.Equal(t, domain.PhaseIdle, r.Phase())

	outcome, at := r.LastOutcome()
	assert.Equal(t, domain.OutcomeNone, outcome)
	assert.True(t, at.IsZero())
}

func TestRunner_ReconcilesReading(t *testing.T) {
	env := newRunnerEnv()
	env.store.AddDevice("dev-1")
	r := newTestRunner(t, env, testDevice("dev-1"))

	res := r.RunCycle(context.Background())

	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.Equal(t, "cycle-0001", res.CycleID)
	assert.Equal(t, int64(1), res.Seq)
	assert.True(t, res.Timestamp.Equal(readingTime))
	assert.Equal(t, []string{"Temp", "RH"}, res.Created)
	assert.Equal(t, []string{"Temp", "RH"}, res.Appended)
	assert.Equal(t, map[string]float64{"Temp": 21.5, "RH": 60}, res.Values)

	assert.Equal(t, []string{"Temp", "RH"}, env.store.Titles("dev-1"))
	samples := env.store.Samples("dev-1", "Temp")
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Timestamp.Equal(readingTime))
	assert.Equal(t, 21.5, samples[0].Value)

	assert.Equal(t, domain.PhaseIdle, r.Phase())
	outcome, _ := r.LastOutcome()
	assert.Equal(t, domain.OutcomeSuccess, outcome)
	assert.True(t, r.Resolved())
}

func TestRunner_ReportsStartAndFinish(t *testing.T) {
	env := newRunnerEnv()
	r := newTestRunner(t, env, testDevice(""))

	r.RunCycle(context.Background())
	r.RunCycle(context.Background())

	events := env.recorder.Events()
	require.Len(t, events, 4)
	assert.Equal(t, report.KindStart, events[0].Kind)
	assert.Equal(t, report.KindFinish, events[1].Kind)
	assert.Equal(t, events[0].CycleID, events[1].CycleID)
	assert.Equal(t, int64(1), events[1].Seq)
	assert.Equal(t, "cycle-0002", events[2].CycleID)
	assert.Equal(t, int64(2), events[3].Seq)
	assert.Equal(t, domain.OutcomeSuccess, events[3].Outcome())
}

func TestRunner_VerifyOnlyWithoutDeviceRef(t *testing.T) {
	env := newRunnerEnv()
	env.deps.Store = nil
	r := newTestRunner(t, env, testDevice(""))

	res := r.RunCycle(context.Background())

	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.True(t, res.Timestamp.Equal(readingTime))
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Appended)
	assert.Equal(t, 1, env.fetcher.Calls())
	assert.False(t, r.Resolved())
}

func TestRunner_DeviceNotFoundDoesNoWork(t *testing.T) {
	env := newRunnerEnv()
	r := newTestRunner(t, env, testDevice("missing"))

	first := r.RunCycle(context.Background())
	second := r.RunCycle(context.Background())

	for _, res := range []domain.CycleResult{first, second} {
		assert.Equal(t, domain.OutcomeDeviceNotFound, res.Outcome)
		assert.True(t, domain.IsStoreLookup(res.Err))
		assert.Contains(t, res.Reason, "missing")
		assert.Nil(t, errors.Unwrap(res.Err), "an absent device has no cause")
	}
	assert.Equal(t, 0, env.fetcher.Calls(), "no fetch without a resolved device")
	assert.Equal(t, 0, env.store.Ops().Total(), "no store writes or searches")
	assert.Equal(t, 2, env.store.Ops().Resolve, "resolution retried each cycle")
	assert.Equal(t, domain.PhaseIdle, r.Phase())
}

func TestRunner_ResolvesOnce(t *testing.T) {
	env := newRunnerEnv()
	env.store.AddDevice("dev-1")
	r := newTestRunner(t, env, testDevice("dev-1"))

	for range 3 {
		res := r.RunCycle(context.Background())
		require.Equal(t, domain.OutcomeSuccess, res.Outcome)
	}
	assert.Equal(t, 1, env.store.Ops().Resolve)
	assert.Equal(t, 3, env.fetcher.Calls())
}

func TestRunner_RetriesResolutionUntilSuccess(t *testing.T) {
	env := newRunnerEnv()
	env.store.AddDevice("dev-1")
	refused := errors.New("connection refused")
	env.store.FailResolve(refused)
	r := newTestRunner(t, env, testDevice("dev-1"))

	res := r.RunCycle(context.Background())
	assert.Equal(t, domain.OutcomeDeviceNotFound, res.Outcome)
	assert.True(t, domain.IsStoreLookup(res.Err))
	assert.ErrorIs(t, res.Err, refused, "the store error is kept on the result")
	assert.False(t, r.Resolved())

	env.store.ClearFaults()
	res = r.RunCycle(context.Background())
	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.True(t, r.Resolved())
	assert.Equal(t, 2, env.store.Ops().Resolve)
}

func TestRunner_FetchFailure(t *testing.T) {
	env := newRunnerEnv()
	r := newTestRunner(t, env, testDevice(""))
	env.fetcher.set("", domain.NewTransport(r.URL(), errors.New("connection refused")))

	res := r.RunCycle(context.Background())

	assert.Equal(t, domain.OutcomeFailure, res.Outcome)
	assert.Equal(t, "fetch failed", res.Reason)
	assert.True(t, domain.IsTransport(res.Err))
	assert.Equal(t, domain.PhaseFailed, r.Phase())

	env.fetcher.set(oneMinBody, nil)
	res = r.RunCycle(context.Background())
	assert.Equal(t, domain.OutcomeSuccess, res.Outcome)
	assert.Equal(t, domain.PhaseIdle, r.Phase(), "a good cycle clears the failed phase")
}

func TestRunner_MalformedResponse(t *testing.T) {
	env := newRunnerEnv()
	env.store.AddDevice("dev-1")
	env.fetcher.set(`{"head": {}}`, nil)
	r := newTestRunner(t, env, testDevice("dev-1"))

	res := r.RunCycle(context.Background())

	assert.Equal(t, domain.OutcomeFailure, res.Outcome)
	assert.Equal(t, "malformed response", res.Reason)
	assert.True(t, domain.IsMalformed(res.Err))
	assert.Equal(t, 0, env.store.Ops().Total())
	assert.Equal(t, domain.PhaseFailed, r.Phase())
}

func TestRunner_PartialFailure(t *testing.T) {
	env := newRunnerEnv()
	env.store.AddDevice("dev-1")
	env.store.FailCreate("RH", errors.New("disk full"))
	r := newTestRunner(t, env, testDevice("dev-1"))

	res := r.RunCycle(context.Background())

	assert.Equal(t, domain.OutcomePartial, res.Outcome)
	assert.Equal(t, []string{"RH"}, res.FailedFields())
	assert.Equal(t, []string{"Temp"}, res.Appended)
	assert.True(t, domain.IsFieldReconcile(res.Err))
	assert.Equal(t, domain.PhaseIdle, r.Phase())
}

func TestRunner_RecoversPanic(t *testing.T) {
	env := newRunnerEnv()
	env.fetcher.panic = "boom"
	r := newTestRunner(t, env, testDevice(""))

	res := r.RunCycle(context.Background())

	assert.Equal(t, domain.OutcomeFailure, res.Outcome)
	assert.Equal(t, "panic: boom", res.Reason)
	assert.Equal(t, domain.PhaseFailed, r.Phase())

	results := env.recorder.Results()
	require.Len(t, results, 1)
	assert.Equal(t, domain.OutcomeFailure, results[0].Outcome)
}

func TestRunner_RunCycleSkipsWhileBusy(t *testing.T) {
	env := newRunnerEnv()
	env.fetcher.gate = make(chan struct{})
	r := newTestRunner(t, env, testDevice(""))

	done := make(chan domain.CycleResult, 1)
	go func() { done <- r.RunCycle(context.Background()) }()
	waitEntered(t, env.fetcher)

	skipped := r.RunCycle(context.Background())
	assert.Equal(t, domain.OutcomeSkipped, skipped.Outcome)
	assert.Equal(t, "previous cycle still in flight", skipped.Reason)

	close(env.fetcher.gate)
	first := <-done
	assert.Equal(t, domain.OutcomeSuccess, first.Outcome)
	assert.Equal(t, 1, env.fetcher.Calls())
	assert.NotEqual(t, first.Seq, skipped.Seq)
}

func TestRunner_OverlapSkipDropsFire(t *testing.T) {
	env := newRunnerEnv()
	env.fetcher.gate = make(chan struct{})
	r := newTestRunner(t, env, testDevice(""))
	ctx := context.Background()

	r.fire(ctx, true)
	waitEntered(t, env.fetcher)
	r.fire(ctx, true)

	close(env.fetcher.gate)
	r.wg.Wait()

	assert.Equal(t, 1, env.fetcher.Calls())
	assert.Equal(t, []domain.Outcome{domain.OutcomeSkipped, domain.OutcomeSuccess},
		outcomes(env.recorder.Results()))
	assert.False(t, r.guard.inFlight())
}

func TestRunner_OverlapQueueRunsOneMore(t *testing.T) {
	env := newRunnerEnv()
	env.fetcher.gate = make(chan struct{})
	dev := testDevice("")
	dev.Overlap = domain.OverlapQueue
	r := newTestRunner(t, env, dev)
	ctx := context.Background()

	r.fire(ctx, true)
	waitEntered(t, env.fetcher)
	r.fire(ctx, true) // queued
	r.fire(ctx, true) // queue full, dropped

	env.fetcher.gate <- struct{}{}
	waitEntered(t, env.fetcher)
	env.fetcher.gate <- struct{}{}
	r.wg.Wait()

	assert.Equal(t, 2, env.fetcher.Calls())
	assert.Equal(t, []domain.Outcome{domain.OutcomeSkipped, domain.OutcomeSuccess, domain.OutcomeSuccess},
		outcomes(env.recorder.Results()))
	assert.False(t, r.guard.inFlight())
}

func TestRunner_StartRunsImmediatelyThenOnSchedule(t *testing.T) {
	env := newRunnerEnv()
	env.store.AddDevice("dev-1")
	r := newTestRunner(t, env, testDevice("dev-1"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(ctx) }()

	results := env.recorder.WaitResults(1, 5*time.Second)
	require.Len(t, results, 1, "immediate cycle")
	assert.Equal(t, domain.OutcomeSuccess, results[0].Outcome)

	require.True(t, env.clock.BlockUntil(1))
	env.clock.Advance(30 * time.Second)

	results = env.recorder.WaitResults(2, 5*time.Second)
	require.Len(t, results, 2, "scheduled cycle")
	assert.Equal(t, domain.OutcomeSuccess, results[1].Outcome)
	assert.Empty(t, results[1].Created, "sensors exist after the first cycle")

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.Equal(t, 1, env.store.Ops().Resolve)
}

func TestRunner_StartResolvesBeforeImmediateCycle(t *testing.T) {
	env := newRunnerEnv()
	r := newTestRunner(t, env, testDevice("missing"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Start(ctx) }()

	results := env.recorder.WaitResults(1, 5*time.Second)
	require.Len(t, results, 1)
	assert.Equal(t, domain.OutcomeDeviceNotFound, results[0].Outcome)

	require.True(t, env.clock.BlockUntil(1))
	assert.Equal(t, 1, env.store.Ops().Resolve, "the immediate cycle reuses the startup attempt")

	env.clock.Advance(30 * time.Second)
	results = env.recorder.WaitResults(2, 5*time.Second)
	require.Len(t, results, 2)
	assert.Equal(t, domain.OutcomeDeviceNotFound, results[1].Outcome)

	cancel()
	<-errCh
	assert.Equal(t, 2, env.store.Ops().Resolve)
	assert.Equal(t, 0, env.fetcher.Calls())
}

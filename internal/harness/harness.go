package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/roach88/campbellsync/internal/campbell"
	"github.com/roach88/campbellsync/internal/domain"
	"github.com/roach88/campbellsync/internal/engine"
	"github.com/roach88/campbellsync/internal/reconcile"
	"github.com/roach88/campbellsync/internal/report"
	"github.com/roach88/campbellsync/internal/store"
	"github.com/roach88/campbellsync/internal/testutil"
)

// epoch is the fixed wall clock every scenario runs at.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness holds the per-scenario fixtures.
type Harness struct {
	store    *store.Store
	tracer   *tracer
	runner   *engine.Runner
	logger   *slog.Logger
	current  atomic.Pointer[CycleStep]
	datalog  *httptest.Server
	scenario *Scenario
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh in-memory SQLite store and its own fake
// datalogger. Cycles run one at a time with a single reconcile worker, a
// fixed clock and sequential cycle IDs, so the trace is identical across
// runs.
//
// Execution flow:
//  1. Open the store, register the device and seed sensors
//  2. Build the runner against the fake datalogger
//  3. Run each cycle and check its expect clause
//  4. Evaluate assertions against the trace and the store
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		tracer:   newTracer(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		scenario: scenario,
	}
	if err := h.seed(ctx); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	h.datalog = httptest.NewServer(http.HandlerFunc(h.serve))
	defer h.datalog.Close()

	if err := h.buildRunner(); err != nil {
		return nil, err
	}

	result := NewResult()
	for i := range scenario.Cycles {
		h.runCycle(ctx, i, result)
	}
	result.Trace = h.tracer.trace()

	actx := &AssertionContext{
		Store:     st,
		Ctx:       ctx,
		DeviceRef: scenario.Device.DeviceRef,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// seed registers the device and creates the setup sensors, untraced.
func (h *Harness) seed(ctx context.Context) error {
	dev := h.scenario.Device
	if dev.DeviceRef == "" || dev.Unregistered {
		return nil
	}
	if _, err := h.store.RegisterDevice(ctx, dev.DeviceRef, dev.Name); err != nil {
		return err
	}
	if len(h.scenario.Setup.Sensors) == 0 {
		return nil
	}

	res, found, err := h.store.Resolve(ctx, dev.DeviceRef)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("device %q missing after register", dev.DeviceRef)
	}
	sensors, err := res.Relation(ctx, store.RelSensors)
	if err != nil {
		return err
	}
	for _, sn := range h.scenario.Setup.Sensors {
		if _, err := sensors.Create(ctx, store.SensorAttributes(sn.Title, sn.Unit)); err != nil {
			return fmt.Errorf("seed sensor %q: %w", sn.Title, err)
		}
	}
	return nil
}

func (h *Harness) buildRunner() error {
	dev := h.scenario.Device
	fetcher := campbell.NewHTTPFetcher(
		campbell.WithHTTPClient(h.datalog.Client()),
		campbell.WithLogger(h.logger),
	)

	runner, err := engine.NewRunner(domain.DeviceConfig{
		Name:      dev.Name,
		Host:      h.datalog.URL,
		Table:     dev.Table,
		Schedule:  "* * * * *",
		TZOffset:  dev.TZOffset,
		DeviceRef: dev.DeviceRef,
	}, engine.Deps{
		Store:      &tracingClient{inner: h.store, t: h.tracer},
		Fetcher:    &tracingFetcher{inner: fetcher, table: dev.Table, t: h.tracer},
		Reconciler: reconcile.New(reconcile.WithWorkers(1), reconcile.WithLogger(h.logger)),
		Reporter:   report.Discard{},
		Clock:      testutil.NewFakeClock(epoch),
		IDs:        testutil.NewSequentialIDs("cycle"),
		Logger:     h.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build runner: %w", err)
	}
	h.runner = runner
	return nil
}

// serve answers the fetcher with the current cycle's response.
func (h *Harness) serve(w http.ResponseWriter, _ *http.Request) {
	step := h.current.Load()
	if step == nil {
		http.Error(w, "no cycle in progress", http.StatusInternalServerError)
		return
	}
	status := step.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, step.Response)
}

// runCycle runs cycle i and checks its expect clause.
func (h *Harness) runCycle(ctx context.Context, i int, result *Result) {
	step := &h.scenario.Cycles[i]
	h.current.Store(step)
	h.tracer.beginCycle(i+1, step.Fail)

	res := h.runner.RunCycle(ctx)
	h.tracer.record(OpFinish, h.scenario.Device.Name, finishArgs(res), string(res.Outcome))
	result.Cycles = append(result.Cycles, res)

	h.logger.Info("cycle completed", "cycle", i+1, "outcome", res.Outcome)

	if step.Expect == nil {
		return
	}
	for _, msg := range checkExpect(step.Expect, res) {
		result.AddError(fmt.Sprintf("cycles[%d]: %s", i, msg))
	}
}

func finishArgs(res domain.CycleResult) map[string]string {
	args := map[string]string{}
	if len(res.Created) > 0 {
		args["created"] = strings.Join(res.Created, ",")
	}
	if len(res.Appended) > 0 {
		args["appended"] = strings.Join(res.Appended, ",")
	}
	if len(res.Failures) > 0 {
		args["failed"] = strings.Join(res.FailedFields(), ",")
	}
	if res.Reason != "" {
		args["reason"] = res.Reason
	}
	if !res.Timestamp.IsZero() {
		args["timestamp"] = res.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// checkExpect compares a cycle result with its expect clause.
func checkExpect(exp *CycleExpect, res domain.CycleResult) []string {
	var errs []string
	if res.Outcome != exp.Outcome {
		errs = append(errs, fmt.Sprintf("outcome = %s, expected %s (%s)", res.Outcome, exp.Outcome, res.Summary()))
	}
	if exp.Reason != "" && !strings.Contains(res.Reason, exp.Reason) {
		errs = append(errs, fmt.Sprintf("reason = %q, expected it to contain %q", res.Reason, exp.Reason))
	}
	check := func(what string, want, got []string) {
		if want == nil {
			return
		}
		if !slices.Equal(want, got) && !(len(want) == 0 && len(got) == 0) {
			errs = append(errs, fmt.Sprintf("%s = %v, expected %v", what, got, want))
		}
	}
	check("created", exp.Created, res.Created)
	check("appended", exp.Appended, res.Appended)
	check("failed", exp.Failed, res.FailedFields())
	return errs
}

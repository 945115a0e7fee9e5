package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/campbellsync/internal/domain"
	"github.com/roach88/campbellsync/internal/store"
)

// Reconciler applies Readings to a store. A single Reconciler is shared
// by every Source Runner of a fleet and is safe for concurrent use.
type Reconciler struct {
	workers int
	logger  *slog.Logger
	flights singleflight.Group
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithWorkers sets how many fields of one Reading are reconciled
// concurrently. Values below 1 mean sequential, in field order.
func WithWorkers(n int) Option {
	return func(r *Reconciler) { r.workers = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New creates a sequential Reconciler logging to slog.Default.
func New(opts ...Option) *Reconciler {
	r := &Reconciler{workers: 1, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

// Reconcile applies reading to device and returns the outcome with the
// per-field detail filled in: Created, Appended, Values, Failures and
// Timestamp. Identity fields (Device, CycleID, Seq) are left to the caller.
//
// Outcome is success when every field succeeded, partial when some
// create or append failed, failure when all failed, a sensor search
// failed or the sensor collection could not be opened. A failed search
// stops fields that have not started yet. A Reading without fields is a
// success.
func (r *Reconciler) Reconcile(ctx context.Context, device store.Resource, reading *domain.Reading) domain.CycleResult {
	result := domain.CycleResult{
		Outcome:   domain.OutcomeSuccess,
		Timestamp: reading.Timestamp,
	}
	logger := r.logger.With("device", device.Ref())

	sensors, err := device.Relation(ctx, store.RelSensors)
	if err != nil {
		logger.Error("open sensor collection", "error", err)
		result.Outcome = domain.OutcomeFailure
		result.Reason = "sensor collection unavailable"
		result.Err = fmt.Errorf("relation %s: %w", store.RelSensors, err)
		return result
	}

	// A failed search ends the cycle: fields not yet started are left alone.
	var searchFailed atomic.Bool
	outcomes := make([]fieldOutcome, len(reading.Fields))
	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, field := range reading.Fields {
		g.Go(func() error {
			if searchFailed.Load() {
				outcomes[i] = fieldOutcome{abandoned: true}
				return nil
			}
			outcomes[i] = r.reconcileField(ctx, device.Ref(), sensors, field, reading)
			if f := outcomes[i].failure; f != nil && f.Stage == domain.StageSearch {
				searchFailed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, field := range reading.Fields {
		out := outcomes[i]
		if out.abandoned {
			logger.Debug("field skipped after failed search", "field", field.Name)
			continue
		}
		if out.created {
			result.Created = append(result.Created, field.Name)
		}
		if out.failure != nil {
			logger.Warn("field not reconciled",
				"field", field.Name, "stage", out.failure.Stage, "error", out.failure.Err)
			result.Failures = append(result.Failures, *out.failure)
			continue
		}
		result.Appended = append(result.Appended, field.Name)
		if result.Values == nil {
			result.Values = make(map[string]float64, len(reading.Fields))
		}
		result.Values[field.Name] = field.Value
	}

	switch {
	case searchFailed.Load():
		result.Outcome = domain.OutcomeFailure
		result.Reason = "sensor search failed"
		result.Err = failuresError(device.Ref(), result.Failures)
	case len(result.Failures) == 0:
		result.Outcome = domain.OutcomeSuccess
	case len(result.Appended) == 0:
		result.Outcome = domain.OutcomeFailure
		result.Reason = "every field failed"
		result.Err = failuresError(device.Ref(), result.Failures)
	default:
		result.Outcome = domain.OutcomePartial
		result.Err = failuresError(device.Ref(), result.Failures)
	}
	return result
}

// fieldOutcome is the result of reconciling one field.
type fieldOutcome struct {
	created   bool
	abandoned bool
	failure   *domain.FieldError
}

// lookup is the shared result of one search-then-create flight. created
// is reported by exactly one of the callers sharing the flight.
type lookup struct {
	sensor  store.Resource
	created bool
	claimed atomic.Bool
}

// stageError tags a flight error with the step that failed.
type stageError struct {
	stage domain.FieldStage
	err   error
}

func (e *stageError) Error() string { return string(e.stage) + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func (r *Reconciler) reconcileField(
	ctx context.Context,
	deviceRef string,
	sensors store.Collection,
	field domain.FieldValue,
	reading *domain.Reading,
) fieldOutcome {
	var out fieldOutcome
	fail := func(stage domain.FieldStage, err error) fieldOutcome {
		out.failure = &domain.FieldError{Field: field.Name, Stage: stage, Err: err}
		return out
	}

	key := deviceRef + "\x00" + domain.NormalizeTitle(field.Name)
	v, err, _ := r.flights.Do(key, func() (any, error) {
		return r.findOrCreate(ctx, deviceRef, sensors, field)
	})
	if err != nil {
		var se *stageError
		if errors.As(err, &se) {
			return fail(se.stage, se.err)
		}
		return fail(domain.StageSearch, err)
	}
	lk := v.(*lookup)
	if lk.created && lk.claimed.CompareAndSwap(false, true) {
		out.created = true
	}

	history, err := lk.sensor.Relation(ctx, store.RelDataHistory)
	if err != nil {
		return fail(domain.StageRelation, err)
	}
	if _, err := history.Create(ctx, store.SampleAttributes(reading.Timestamp, field.Value)); err != nil {
		return fail(domain.StageAppend, err)
	}
	return out
}

// findOrCreate searches for the sensor titled after field and creates it
// when absent.
func (r *Reconciler) findOrCreate(
	ctx context.Context,
	deviceRef string,
	sensors store.Collection,
	field domain.FieldValue,
) (*lookup, error) {
	sensor, found, err := sensors.Search(ctx, store.Attributes{store.AttrTitle: field.Name})
	if err != nil {
		return nil, &stageError{stage: domain.StageSearch, err: err}
	}
	if found {
		return &lookup{sensor: sensor}, nil
	}

	r.logger.Info("creating sensor", "device", deviceRef, "sensor", field.Name, "unit", field.Unit)
	sensor, err = sensors.Create(ctx, store.SensorAttributes(field.Name, field.Unit))
	if err != nil {
		return nil, &stageError{stage: domain.StageCreate, err: err}
	}
	return &lookup{sensor: sensor, created: true}, nil
}

// failuresError joins the per-field failures into one error.
func failuresError(deviceRef string, failures []domain.FieldError) error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = domain.NewFieldReconcile(deviceRef, f)
	}
	return errors.Join(errs...)
}

package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts 5 or 6 fields (leading seconds optional) and descriptors.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse parses a cron expression. Returns an error if the expression is
// malformed or contains out-of-range values.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: %w", err)
	}
	return sched, nil
}

// Validate reports whether expr is an accepted cron expression.
// It never panics and never returns an error.
func Validate(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// Trigger fires a callback once per occurrence of a cron schedule.
type Trigger struct {
	expr   string
	sched  cron.Schedule
	clock  Clock
	logger *slog.Logger
}

// NewTrigger parses expr and returns a Trigger driven by clock.
// A nil clock means RealClock.
func NewTrigger(expr string, clock Clock, logger *slog.Logger) (*Trigger, error) {
	sched, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trigger{expr: expr, sched: sched, clock: clock, logger: logger}, nil
}

// Expr returns the expression the trigger was built from.
func (t *Trigger) Expr() string { return t.expr }

// Next returns the first occurrence strictly after at.
func (t *Trigger) Next(at time.Time) time.Time {
	return t.sched.Next(at)
}

// Run calls fire once per schedule occurrence until ctx is done, then
// returns ctx.Err().
//
// fire runs on the trigger goroutine and must not block: occurrences that
// pass while fire is running are not replayed. The next occurrence is
// always computed from the clock's current time.
func (t *Trigger) Run(ctx context.Context, fire func()) error {
	for {
		now := t.clock.Now()
		next := t.sched.Next(now)
		if next.IsZero() {
			// robfig/cron returns the zero time for schedules that can never match.
			t.logger.Warn("schedule has no future occurrence", "schedule", t.expr)
			<-ctx.Done()
			return ctx.Err()
		}

		t.logger.Debug("next fire scheduled", "schedule", t.expr, "at", next)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.clock.After(next.Sub(now)):
			fire()
		}
	}
}

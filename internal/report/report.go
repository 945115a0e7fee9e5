package report

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/campbellsync/internal/domain"
)

// Kind distinguishes cycle events.
type Kind string

const (
	KindStart  Kind = "start"
	KindFinish Kind = "finish"
)

// Event is one cycle status event.
type Event struct {
	Kind    Kind      `json:"kind"`
	Device  string    `json:"device"`
	CycleID string    `json:"cycle_id"`
	Seq     int64     `json:"seq"`
	Time    time.Time `json:"time"`

	// Result is set on finish events.
	Result *domain.CycleResult `json:"result,omitempty"`
}

// Outcome returns the result outcome of a finish event, OutcomeNone otherwise.
func (e Event) Outcome() domain.Outcome {
	if e.Result == nil {
		return domain.OutcomeNone
	}
	return e.Result.Outcome
}

// Reporter receives cycle events. Implementations must be safe for
// concurrent use and must not block the caller for long; delivery
// failures are handled (logged) inside the reporter.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// Start builds a start event.
func Start(device, cycleID string, seq int64, at time.Time) Event {
	return Event{Kind: KindStart, Device: device, CycleID: cycleID, Seq: seq, Time: at}
}

// Finish builds the finish event for a result.
func Finish(res domain.CycleResult, at time.Time) Event {
	return Event{
		Kind:    KindFinish,
		Device:  res.Device,
		CycleID: res.CycleID,
		Seq:     res.Seq,
		Time:    at,
		Result:  &res,
	}
}

// Multi reports every event to each reporter in order.
type Multi []Reporter

// Report implements Reporter.
func (m Multi) Report(ctx context.Context, ev Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Report implements Reporter.
func (Discard) Report(context.Context, Event) {}

// Recorder keeps every event in memory.
//
// Thread-safety: Recorder is safe for concurrent use via internal mutex.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{})}
}

// Report implements Reporter.
func (r *Recorder) Report(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	close(r.notify)
	r.notify = make(chan struct{})
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Results returns the results of all finish events in order.
func (r *Recorder) Results() []domain.CycleResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CycleResult
	for _, ev := range r.events {
		if ev.Result != nil {
			out = append(out, *ev.Result)
		}
	}
	return out
}

// WaitResults blocks until at least n finish events were recorded or
// timeout passes, and returns the results recorded so far.
func (r *Recorder) WaitResults(n int, timeout time.Duration) []domain.CycleResult {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		notify := r.notify
		r.mu.Unlock()

		if res := r.Results(); len(res) >= n {
			return res
		}
		select {
		case <-notify:
		case <-deadline:
			return r.Results()
		}
	}
}

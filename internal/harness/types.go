package harness

import (
	"github.com/roach88/campbellsync/internal/domain"
)

// Trace operations.
const (
	OpFetch    = "fetch"
	OpResolve  = "resolve"
	OpRelation = "relation"
	OpSearch   = "search"
	OpCreate   = "create"
	OpAppend   = "append"
	OpFinish   = "finish"
)

// TraceEvent is one observed call made during a scenario.
//
// Target names what the call acted on: the device ref for resolve, the
// sensor title for sensor and history calls, the table for fetch. Args
// values are strings so the trace has a single canonical form.
type TraceEvent struct {
	Seq    int64             `json:"seq"`
	Cycle  int               `json:"cycle"`
	Op     string            `json:"op"`
	Target string            `json:"target,omitempty"`
	Args   map[string]string `json:"args,omitempty"`
	Result string            `json:"result,omitempty"`
}

// Label renders the event as "<op> <target>", the form trace assertions use.
func (e TraceEvent) Label() string {
	if e.Target == "" {
		return e.Op
	}
	return e.Op + " " + e.Target
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds every store and fetch call in order.
	Trace []TraceEvent `json:"trace"`

	// Cycles holds one result per scenario cycle.
	Cycles []domain.CycleResult `json:"cycles"`

	// Errors lists failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// Outcome is the terminal status of one cycle.
type Outcome string

const (
	// OutcomeNone means no cycle has completed yet.
	OutcomeNone Outcome = "none"

	// OutcomeSuccess means every field was reconciled (or, for devices
	// without a store reference, the fetch and parse succeeded).
	OutcomeSuccess Outcome = "success"

	// OutcomePartial means at least one field failed and at least one succeeded.
	OutcomePartial Outcome = "partial"

	// OutcomeFailure means the fetch, the parse, the sensor collection
	// lookup, or every single field failed.
	OutcomeFailure Outcome = "failure"

	// OutcomeDeviceNotFound means the configured store device could not
	// be resolved; the cycle did no fetch and no store writes.
	OutcomeDeviceNotFound Outcome = "device_not_found"

	// OutcomeSkipped means the fire was dropped because a cycle was
	// already in flight for the device.
	OutcomeSkipped Outcome = "skipped"
)

// IsWarning reports whether the outcome is reported at warning level.
func (o Outcome) IsWarning() bool {
	return o == OutcomePartial || o == OutcomeDeviceNotFound || o == OutcomeSkipped
}

// Phase is a Source Runner state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseFetching
	PhaseParsing
	PhaseReconciling
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResolving:
		return "resolving"
	case PhaseFetching:
		return "fetching"
	case PhaseParsing:
		return "parsing"
	case PhaseReconciling:
		return "reconciling"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// FieldStage names the reconciliation step a field failed in.
type FieldStage string

const (
	StageSearch   FieldStage = "search"
	StageCreate   FieldStage = "create"
	StageRelation FieldStage = "relation"
	StageAppend   FieldStage = "append"
)

// FieldError records why one field of a Reading could not be reconciled.
type FieldError struct {
	Field string     `json:"field"`
	Stage FieldStage `json:"stage"`
	Err   error      `json:"-"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("field %q: %s: %v", e.Field, e.Stage, e.Err)
}

// CycleResult is the structured report of one fetch-parse-reconcile pass.
type CycleResult struct {
	Device  string  `json:"device"`
	CycleID string  `json:"cycle_id"`
	Seq     int64   `json:"seq"`
	Outcome Outcome `json:"outcome"`

	// Reason explains failure, device_not_found and skipped outcomes.
	Reason string `json:"reason,omitempty"`

	// Err is the underlying error for failure outcomes.
	Err error `json:"-"`

	// Timestamp is the Reading timestamp when one was parsed.
	Timestamp time.Time `json:"timestamp,omitzero"`

	Created  []string     `json:"created,omitempty"`
	Appended []string     `json:"appended,omitempty"`
	Failures []FieldError `json:"failures,omitempty"`

	// Values maps appended field names to the value written.
	Values map[string]float64 `json:"values,omitempty"`

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// FailedFields returns the names of all failed fields in order.
func (r *CycleResult) FailedFields() []string {
	names := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		names[i] = f.Field
	}
	return names
}

// Summary renders the result as a single human-readable line.
func (r *CycleResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Device, r.Outcome)
	if len(r.Created) > 0 {
		fmt.Fprintf(&b, " created=%s", strings.Join(r.Created, ","))
	}
	if len(r.Appended) > 0 {
		fmt.Fprintf(&b, " appended=%d", len(r.Appended))
	}
	if len(r.Failures) > 0 {
		fmt.Fprintf(&b, " failed=%s", strings.Join(r.FailedFields(), ","))
	}
	if r.Reason != "" {
		fmt.Fprintf(&b, " (%s)", r.Reason)
	}
	return b.String()
}

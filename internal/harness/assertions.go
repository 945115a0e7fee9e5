package harness

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/roach88/campbellsync/internal/store"
)

// identifier is the shape accepted for table and column names in
// final_state assertions. Names are interpolated into SQL, values never are.
var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError describes a failed assertion. Trace assertions carry the
// full trace so the failure can be read without rerunning.
type AssertionError struct {
	Type  string
	Want  string
	Got   string
	Trace []TraceEvent
}

func (e *AssertionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: want %s, got %s", e.Type, e.Want, e.Got)
	for _, ev := range e.Trace {
		fmt.Fprintf(&b, "\n  [%d] cycle %d: %s -> %s", ev.Seq, ev.Cycle, ev.Label(), ev.Result)
	}
	return b.String()
}

// AssertionContext gives store assertions access to the final store.
type AssertionContext struct {
	Store     *store.Store
	Ctx       context.Context
	DeviceRef string
}

type (
	traceCheck func([]TraceEvent, Assertion) error
	storeCheck func(*AssertionContext, Assertion) error
)

var traceChecks = map[string]traceCheck{
	AssertTraceContains: assertTraceContains,
	AssertTraceOrder:    assertTraceOrder,
	AssertTraceCount:    assertTraceCount,
}

var storeChecks = map[string]storeCheck{
	AssertSensorCount: assertSensorCount,
	AssertSample:      assertSample,
	AssertFinalState: func(actx *AssertionContext, a Assertion) error {
		return assertFinalState(actx.Ctx, actx.Store, a)
	},
}

// EvaluateAssertions checks every assertion and returns one message per
// failure. actx may be nil when no store assertions are present.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		if check, ok := traceChecks[a.Type]; ok {
			err = check(result.Trace, a)
		} else if check, ok := storeChecks[a.Type]; ok {
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires store context", i, a.Type)
			} else {
				err = check(actx, a)
			}
		} else {
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func firstIndex(trace []TraceEvent, label string) int {
	return slices.IndexFunc(trace, func(ev TraceEvent) bool { return ev.Label() == label })
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	if firstIndex(trace, a.Event) >= 0 {
		return nil
	}
	return &AssertionError{Type: AssertTraceContains, Want: fmt.Sprintf("event %q", a.Event), Got: "no such event", Trace: trace}
}

// assertTraceOrder checks that the first occurrences of the events appear
// in the listed order. Other events may come in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	prev, prevAt := "", -1
	for _, label := range a.Events {
		at := firstIndex(trace, label)
		if at < 0 {
			return &AssertionError{Type: AssertTraceOrder, Want: fmt.Sprintf("events %v", a.Events), Got: "missing event: " + label, Trace: trace}
		}
		if at <= prevAt {
			return &AssertionError{
				Type:  AssertTraceOrder,
				Want:  fmt.Sprintf("events in order %v", a.Events),
				Got:   fmt.Sprintf("%s (#%d) should be before %s (#%d)", prev, prevAt+1, label, at+1),
				Trace: trace,
			}
		}
		prev, prevAt = label, at
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	n := 0
	for _, ev := range trace {
		if ev.Label() == a.Event {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:  AssertTraceCount,
		Want:  fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
		Got:   fmt.Sprintf("%d occurrences", n),
		Trace: trace,
	}
}

func assertSensorCount(actx *AssertionContext, a Assertion) error {
	n, err := actx.Store.SensorTitleCount(actx.Ctx, actx.DeviceRef, a.Title)
	if err != nil {
		return fmt.Errorf("sensor_count: %w", err)
	}
	if n != a.Count {
		return &AssertionError{Type: AssertSensorCount, Want: fmt.Sprintf("%d sensors titled %q", a.Count, a.Title), Got: fmt.Sprintf("%d", n)}
	}
	return nil
}

// assertSample checks the value the titled sensor holds at a timestamp.
func assertSample(actx *AssertionContext, a Assertion) error {
	sensors, err := actx.Store.ListSensors(actx.Ctx, actx.DeviceRef)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	at := slices.IndexFunc(sensors, func(sn store.SensorInfo) bool { return sn.Title == a.Title })
	if at < 0 {
		return &AssertionError{Type: AssertSample, Want: fmt.Sprintf("sensor %q", a.Title), Got: "sensor not found"}
	}
	history, err := actx.Store.History(actx.Ctx, sensors[at].ID, 0)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}

	want := fmt.Sprintf("%s at %s = %v", a.Title, a.Timestamp.Format(time.RFC3339), *a.Value)
	seen := make([]string, 0, len(history))
	for _, smp := range history {
		if !smp.Timestamp.Equal(a.Timestamp) {
			seen = append(seen, smp.Timestamp.Format(time.RFC3339Nano))
			continue
		}
		if smp.Value != *a.Value {
			return &AssertionError{Type: AssertSample, Want: want, Got: fmt.Sprintf("value %v", smp.Value)}
		}
		return nil
	}
	return &AssertionError{Type: AssertSample, Want: want, Got: fmt.Sprintf("samples at %v", seen)}
}

// assertFinalState selects the single row of a table matching Where and
// checks the Expect columns against it. Columns not named in Expect are
// ignored.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	if a.Table == "" {
		return fmt.Errorf("final_state assertion requires table name")
	}
	if !identifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q", a.Table)
	}
	where, args, err := buildWhereClause(a.Where)
	if err != nil {
		return err
	}

	rows, err := selectRows(ctx, st, a.Table, where, args)
	if err != nil {
		return &AssertionError{Type: AssertFinalState, Want: "readable table " + a.Table, Got: err.Error()}
	}
	cond := describeWhere(a.Where)
	switch len(rows) {
	case 0:
		return &AssertionError{Type: AssertFinalState, Want: fmt.Sprintf("row in %s where %s", a.Table, cond), Got: "row not found"}
	case 1:
	default:
		return &AssertionError{Type: AssertFinalState, Want: fmt.Sprintf("one row in %s where %s", a.Table, cond), Got: fmt.Sprintf("%d rows", len(rows))}
	}

	row := rows[0]
	for _, col := range slices.Sorted(maps.Keys(a.Expect)) {
		want := a.Expect[col]
		got, ok := row[col]
		if !ok {
			return &AssertionError{Type: AssertFinalState, Want: fmt.Sprintf("field %q", col), Got: "no such column"}
		}
		if !stateValuesEqual(want, got) {
			return &AssertionError{
				Type: AssertFinalState,
				Want: fmt.Sprintf("field %q = %v (%T)", col, want, want),
				Got:  fmt.Sprintf("%v (%T)", got, got),
			}
		}
	}
	return nil
}

func selectRows(ctx context.Context, st *store.Store, table, where string, args []any) ([]map[string]any, error) {
	query := "SELECT * FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := st.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// buildWhereClause turns a column/value map into "a = ? AND b = ?" with
// columns in sorted order.
func buildWhereClause(where map[string]any) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	for _, col := range slices.Sorted(maps.Keys(where)) {
		if !identifier.MatchString(col) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause", col)
		}
		clauses = append(clauses, col+" = ?")
		switch v := where[col].(type) {
		case string, int, int64, float64, bool:
			args = append(args, v)
		default:
			args = append(args, fmt.Sprint(v))
		}
	}
	return strings.Join(clauses, " AND "), args, nil
}

func describeWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	var parts []string
	for _, col := range slices.Sorted(maps.Keys(where)) {
		parts = append(parts, fmt.Sprintf("%s=%v", col, where[col]))
	}
	return strings.Join(parts, " AND ")
}

// stateValuesEqual compares a YAML scalar with a column value. SQLite
// yields int64 for INTEGER, float64 for REAL and string or []byte for TEXT.
func stateValuesEqual(want, got any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	if b, ok := got.([]byte); ok {
		got = string(b)
	}
	switch w := want.(type) {
	case string:
		g, ok := got.(string)
		return ok && w == g
	case int:
		return numericEqual(float64(w), got)
	case int64:
		return numericEqual(float64(w), got)
	case float64:
		return numericEqual(w, got)
	case bool:
		switch g := got.(type) {
		case bool:
			return w == g
		case int64:
			return w == (g != 0)
		}
		return false
	}
	return reflect.DeepEqual(want, got)
}

func numericEqual(want float64, got any) bool {
	switch g := got.(type) {
	case int64:
		return want == float64(g)
	case int:
		return want == float64(g)
	case float64:
		return want == g
	}
	return false
}

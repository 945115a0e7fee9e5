package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/campbellsync/internal/store"
)

func syntheticTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Cycle: 1, Op: OpResolve, Target: "met-1", Result: "found"},
		{Seq: 2, Cycle: 1, Op: OpFetch, Target: "OneMin", Result: "ok"},
		{Seq: 3, Cycle: 1, Op: OpSearch, Target: "Temp", Result: "not_found"},
		{Seq: 4, Cycle: 1, Op: OpCreate, Target: "Temp", Result: "ok"},
		{Seq: 5, Cycle: 1, Op: OpAppend, Target: "Temp", Result: "ok"},
		{Seq: 6, Cycle: 2, Op: OpFetch, Target: "OneMin", Result: "ok"},
		{Seq: 7, Cycle: 2, Op: OpSearch, Target: "Temp", Result: "found"},
		{Seq: 8, Cycle: 2, Op: OpAppend, Target: "Temp", Result: "ok"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := syntheticTrace()
	assert.NoError(t, assertTraceContains(trace, Assertion{Event: "create Temp"}))

	err := assertTraceContains(trace, Assertion{Event: "create RH"})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "[4] cycle 1: create Temp -> ok")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := syntheticTrace()

	assert.NoError(t, assertTraceOrder(trace, Assertion{
		Events: []string{"resolve met-1", "fetch OneMin", "create Temp", "append Temp"},
	}))

	err := assertTraceOrder(trace, Assertion{Events: []string{"append Temp", "create Temp"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "should be before")

	err = assertTraceOrder(trace, Assertion{Events: []string{"fetch OneMin", "create RH"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing event: create RH")
}

func TestAssertTraceCount(t *testing.T) {
	trace := syntheticTrace()
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "fetch OneMin", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: "create RH", Count: 0}))

	err := assertTraceCount(trace, Assertion{Event: "create Temp", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences")
}

func TestStateValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"strings", "C", "C", true},
		{"bytes as string", "C", []byte("C"), true},
		{"string mismatch", "C", "F", false},
		{"int vs int64", 3, int64(3), true},
		{"int vs float", 60, 60.0, true},
		{"float vs float", 21.5, 21.5, true},
		{"float mismatch", 21.5, 21.4, false},
		{"bool vs int64", true, int64(1), true},
		{"bool mismatch", false, int64(1), false},
		{"both nil", nil, nil, true},
		{"nil vs value", nil, "x", false},
		{"string vs number", "60", 60.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stateValuesEqual(tt.expected, tt.actual))
		})
	}
}

func TestBuildWhereClause(t *testing.T) {
	sql, args, err := buildWhereClause(map[string]any{"title": "Temp", "unit": "C"})
	require.NoError(t, err)
	assert.Equal(t, "title = ? AND unit = ?", sql)
	assert.Equal(t, []any{"Temp", "C"}, args)

	_, _, err = buildWhereClause(map[string]any{"title; DROP TABLE sensors": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid column name")
}

func seededStore(t *testing.T) (*store.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = st.RegisterDevice(ctx, "met-1", "Met tower")
	require.NoError(t, err)
	dev, found, err := st.Resolve(ctx, "met-1")
	require.NoError(t, err)
	require.True(t, found)
	sensors, err := dev.Relation(ctx, store.RelSensors)
	require.NoError(t, err)
	temp, err := sensors.Create(ctx, store.SensorAttributes("Temp", "C"))
	require.NoError(t, err)
	history, err := temp.Relation(ctx, store.RelDataHistory)
	require.NoError(t, err)
	_, err = history.Create(ctx, store.SampleAttributes(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), 21.5))
	require.NoError(t, err)
	return st, ctx
}

func TestStoreAssertions(t *testing.T) {
	st, ctx := seededStore(t)
	actx := &AssertionContext{Store: st, Ctx: ctx, DeviceRef: "met-1"}
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	value := func(v float64) *float64 { return &v }

	t.Run("sensor_count", func(t *testing.T) {
		assert.NoError(t, assertSensorCount(actx, Assertion{Title: "Temp", Count: 1}))
		assert.NoError(t, assertSensorCount(actx, Assertion{Title: "RH", Count: 0}))
		assert.Error(t, assertSensorCount(actx, Assertion{Title: "Temp", Count: 2}))
	})

	t.Run("sample", func(t *testing.T) {
		assert.NoError(t, assertSample(actx, Assertion{Title: "Temp", Timestamp: ts, Value: value(21.5)}))

		err := assertSample(actx, Assertion{Title: "Temp", Timestamp: ts, Value: value(20)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "value 21.5")

		err = assertSample(actx, Assertion{Title: "Temp", Timestamp: ts.Add(time.Minute), Value: value(21.5)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "samples at")

		err = assertSample(actx, Assertion{Title: "RH", Timestamp: ts, Value: value(60)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sensor not found")
	})

	t.Run("final_state", func(t *testing.T) {
		assert.NoError(t, assertFinalState(ctx, st, Assertion{
			Table:  "sensors",
			Where:  map[string]any{"title": "Temp"},
			Expect: map[string]any{"unit": "C", "sensor_type": "scalar"},
		}))

		err := assertFinalState(ctx, st, Assertion{
			Table:  "sensors",
			Where:  map[string]any{"title": "RH"},
			Expect: map[string]any{"unit": "%"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "row not found")

		err = assertFinalState(ctx, st, Assertion{
			Table:  "sensors",
			Where:  map[string]any{"title": "Temp"},
			Expect: map[string]any{"unit": "F"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `field "unit"`)

		err = assertFinalState(ctx, st, Assertion{Table: "sensors x", Expect: map[string]any{"unit": "C"}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid table name")
	})
}

func TestEvaluateAssertions_CollectsFailures(t *testing.T) {
	result := NewResult()
	result.Trace = syntheticTrace()

	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Event: "fetch OneMin"},
		{Type: AssertTraceCount, Event: "create Temp", Count: 3},
		{Type: AssertTraceContains, Event: "create RH"},
	}, nil)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "3 occurrences of create Temp")
	assert.Contains(t, errs[1], `event "create RH"`)

	errs = EvaluateAssertions(result, []Assertion{{Type: AssertSensorCount, Title: "Temp"}}, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "assertion[0]: sensor_count requires store context")
}

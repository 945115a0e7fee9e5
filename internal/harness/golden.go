package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/campbellsync/internal/domain"
)

const goldenDir = "testdata/golden"

// canonical converts the event into the plain map form that
// domain.MarshalCanonical accepts. Empty fields are left out.
func (e TraceEvent) canonical() map[string]any {
	m := map[string]any{"seq": e.Seq, "cycle": e.Cycle, "op": e.Op}
	if e.Target != "" {
		m["target"] = e.Target
	}
	if len(e.Args) > 0 {
		args := make(map[string]any, len(e.Args))
		for k, v := range e.Args {
			args[k] = v
		}
		m["args"] = args
	}
	if e.Result != "" {
		m["result"] = e.Result
	}
	return m
}

// Snapshot renders the trace of result as canonical JSON. Golden files
// hold exactly these bytes.
func Snapshot(name string, result *Result) ([]byte, error) {
	events := make([]any, 0, len(result.Trace))
	for _, e := range result.Trace {
		events = append(events, e.canonical())
	}
	return domain.MarshalCanonical(map[string]any{
		"scenario_name": name,
		"trace":         events,
	})
}

// RunWithGolden runs scenario and fails t when its trace differs from
// testdata/golden/<name>.golden. Run the tests with -update to rewrite
// the golden files.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	snapshot, err := Snapshot(scenario.Name, result)
	if err != nil {
		return nil, err
	}
	goldie.New(t, goldie.WithFixtureDir(goldenDir), goldie.WithNameSuffix(".golden")).
		Assert(t, scenario.Name, snapshot)
	return result, nil
}

package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/campbellsync/internal/domain"
)

// Scenario drives one datalogger through a sequence of poll cycles
// against a fresh store and checks the outcome of each.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Device configures the runner under test.
	Device DeviceSpec `yaml:"device"`

	// Setup seeds the store before the first cycle.
	Setup Setup `yaml:"setup,omitempty"`

	// Cycles are run in order, one RunCycle each.
	Cycles []CycleStep `yaml:"cycles"`

	// Assertions validate the final trace and store contents.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// DeviceSpec is the scenario's device configuration. Host is supplied by
// the harness's fake datalogger.
type DeviceSpec struct {
	Name      string        `yaml:"name"`
	Table     string        `yaml:"table"`
	TZOffset  time.Duration `yaml:"tz_offset,omitempty"`
	DeviceRef string        `yaml:"device_ref,omitempty"`

	// Unregistered leaves DeviceRef out of the store, so resolution fails.
	Unregistered bool `yaml:"unregistered,omitempty"`
}

// Setup seeds the store.
type Setup struct {
	Sensors []SensorSeed `yaml:"sensors,omitempty"`
}

// SensorSeed is a sensor that exists before the first cycle.
type SensorSeed struct {
	Title string `yaml:"title"`
	Unit  string `yaml:"unit,omitempty"`
}

// CycleStep is one poll: the body the datalogger serves and the result
// the cycle must produce.
type CycleStep struct {
	// Response is the raw body served to the fetcher.
	Response string `yaml:"response,omitempty"`

	// ResponseFile is read, relative to the scenario file, when Response
	// is empty.
	ResponseFile string `yaml:"response_file,omitempty"`

	// Status is the HTTP status served. Defaults to 200.
	Status int `yaml:"status,omitempty"`

	// Fail makes the named store operations fail during this cycle,
	// keyed "<op> <title>", e.g. "create RH".
	Fail []string `yaml:"fail,omitempty"`

	Expect *CycleExpect `yaml:"expect,omitempty"`
}

// CycleExpect is checked against the cycle's result. Nil slices are not
// checked; an empty slice requires the result's list to be empty.
type CycleExpect struct {
	Outcome  domain.Outcome `yaml:"outcome"`
	Reason   string         `yaml:"reason,omitempty"`
	Created  []string       `yaml:"created,omitempty"`
	Appended []string       `yaml:"appended,omitempty"`
	Failed   []string       `yaml:"failed,omitempty"`
}

// Assertion validates the trace or the final store.
type Assertion struct {
	// Type specifies the assertion type:
	//   - "trace_contains": an event labelled Event occurred
	//   - "trace_order": the labelled Events occurred in order
	//   - "trace_count": an event labelled Event occurred exactly Count times
	//   - "sensor_count": the device has Count sensors titled Title
	//   - "sample": sensor Title has a sample at Timestamp with Value
	//   - "final_state": a row of Table matching Where has the Expect values
	Type string `yaml:"type"`

	Event  string   `yaml:"event,omitempty"`
	Events []string `yaml:"events,omitempty"`
	Count  int      `yaml:"count,omitempty"`

	Title     string    `yaml:"title,omitempty"`
	Timestamp time.Time `yaml:"timestamp,omitempty"`
	Value     *float64  `yaml:"value,omitempty"`

	Table  string         `yaml:"table,omitempty"`
	Where  map[string]any `yaml:"where,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertSensorCount   = "sensor_count"
	AssertSample        = "sample"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected and response files are read relative to the scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	for i := range scenario.Cycles {
		c := &scenario.Cycles[i]
		if c.Response != "" || c.ResponseFile == "" {
			continue
		}
		file := c.ResponseFile
		if !filepath.IsAbs(file) {
			file = filepath.Join(base, file)
		}
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("cycles[%d]: read response file: %w", i, err)
		}
		c.Response = string(body)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Device.Name == "" {
		return fmt.Errorf("device.name is required")
	}
	if s.Device.Table == "" {
		return fmt.Errorf("device.table is required")
	}
	if s.Device.Unregistered && s.Device.DeviceRef == "" {
		return fmt.Errorf("device.unregistered requires device.device_ref")
	}
	if len(s.Setup.Sensors) > 0 && s.Device.DeviceRef == "" {
		return fmt.Errorf("setup.sensors requires device.device_ref")
	}
	for i, sn := range s.Setup.Sensors {
		if sn.Title == "" {
			return fmt.Errorf("setup.sensors[%d]: title is required", i)
		}
	}

	if len(s.Cycles) == 0 {
		return fmt.Errorf("cycles list is required and must be non-empty")
	}
	for i, c := range s.Cycles {
		if c.Response == "" && c.Status < 300 {
			return fmt.Errorf("cycles[%d]: response or response_file is required", i)
		}
		if c.Status != 0 && (c.Status < 100 || c.Status > 599) {
			return fmt.Errorf("cycles[%d]: invalid status %d", i, c.Status)
		}
		for _, f := range c.Fail {
			if _, _, err := parseFault(f); err != nil {
				return fmt.Errorf("cycles[%d].fail: %w", i, err)
			}
		}
		if c.Expect != nil && c.Expect.Outcome == "" {
			return fmt.Errorf("cycles[%d].expect: outcome is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertSensorCount:
		if a.Title == "" {
			return fmt.Errorf("assertions[%d]: title is required for sensor_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for sensor_count", index)
		}
	case AssertSample:
		if a.Title == "" || a.Timestamp.IsZero() || a.Value == nil {
			return fmt.Errorf("assertions[%d]: title, timestamp and value are required for sample", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

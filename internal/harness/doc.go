// Package harness runs scenario tests of the poll-parse-reconcile cycle.
//
// A scenario configures one datalogger, seeds the store, and lists the
// responses the datalogger serves on successive cycles. The harness runs
// each cycle through a real engine.Runner against a fresh SQLite store and
// records every fetch and store call in a trace.
//
// # Scenario Format
//
//	name: first_sight
//	description: "Sensors are created the first time a field is seen"
//	device:
//	  name: met-1
//	  table: OneMin
//	  device_ref: met-1
//	setup:
//	  sensors:
//	    - {title: Temp, unit: C}
//	cycles:
//	  - response_file: responses/onemin.json
//	    fail: ["create RH"]
//	    expect:
//	      outcome: partial
//	      created: []
//	      failed: [RH]
//	assertions:
//	  - type: trace_order
//	    events: ["search RH", "create RH"]
//	  - type: sample
//	    title: Temp
//	    timestamp: 2024-05-01T12:00:00Z
//	    value: 21.5
//
// # Assertion Types
//
//   - trace_contains: an event labelled "<op> <target>" occurred
//   - trace_order: labelled events occurred in the given order
//   - trace_count: a labelled event occurred exactly N times
//   - sensor_count: the device holds N sensors with a title
//   - sample: a sensor holds a sample at a timestamp with a value
//   - final_state: a store table row matches expected columns
//
// # Deterministic Testing
//
// Scenarios run with a fixed clock, sequential cycle IDs and a single
// reconcile worker, and the trace leaves out store-generated IDs and the
// fake datalogger's address. The same scenario therefore always yields
// byte-identical canonical JSON, which is compared against golden files.
package harness

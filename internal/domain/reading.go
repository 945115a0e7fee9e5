package domain

import "time"

// FieldValue is one named, unit-tagged numeric value from a datalogger record.
type FieldValue struct {
	Name  string  `json:"name"`
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

// Reading is the parsed result of one poll: the most recent record of a
// datalogger table.
//
// Fields keep the positional order of the response's metadata section.
// A Reading is only ever produced whole; the parser never returns a
// partially populated Reading.
type Reading struct {
	// Timestamp is the record time after any configured offset was applied.
	Timestamp time.Time `json:"timestamp"`

	// Record is the datalogger's record number, 0 when the response omits it.
	Record int64 `json:"record,omitempty"`

	// Fields holds one entry per reported value, in metadata order.
	Fields []FieldValue `json:"fields"`

	// Skipped names the fields the logger reported as NAN/INF.
	// They carry no value and are not reconciled.
	Skipped []string `json:"skipped,omitempty"`
}

// FieldNames returns the names of all fields in declaration order.
func (r *Reading) FieldNames() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

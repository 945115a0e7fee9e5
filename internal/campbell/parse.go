package campbell

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"github.com/roach88/campbellsync/internal/domain"
)

// response mirrors the parts of a DataQuery JSON body that are used.
// Pointers distinguish missing members from empty ones.
type response struct {
	Head *struct {
		Fields *[]fieldMeta `json:"fields"`
	} `json:"head"`
	Data *[]record `json:"data"`
}

type fieldMeta struct {
	Name  string `json:"name"`
	Units string `json:"units"`
}

type record struct {
	Time *string            `json:"time"`
	No   *json.Number       `json:"no"`
	Vals *[]json.RawMessage `json:"vals"`
}

// timeLayouts are tried in order. Layouts without a zone parse as UTC.
// Fractional seconds are accepted by every layout.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseResponse validates raw and converts it into a Reading.
//
// Every shape problem yields a single MALFORMED_RESPONSE error and no
// Reading: invalid JSON or data after it, missing head.fields, empty data, a first record
// without time or vals, a vals/fields length mismatch, an unnamed field,
// a non-numeric value other than a NAN/INF sentinel, or an unparseable
// timestamp.
//
// tzOffset is added to the parsed instant. It never reinterprets the
// timestamp's zone.
func ParseResponse(raw []byte, tzOffset time.Duration) (*domain.Reading, error) {
	var resp response
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&resp); err != nil {
		return nil, domain.NewMalformed("invalid JSON: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, domain.NewMalformed("trailing data after JSON body")
	}

	if resp.Head == nil || resp.Head.Fields == nil {
		return nil, domain.NewMalformed("missing head.fields")
	}
	if resp.Data == nil || len(*resp.Data) < 1 {
		return nil, domain.NewMalformed("no data records")
	}
	rec := (*resp.Data)[0]
	if rec.Time == nil {
		return nil, domain.NewMalformed("first record has no time")
	}
	if rec.Vals == nil {
		return nil, domain.NewMalformed("first record has no vals")
	}

	fields := *resp.Head.Fields
	vals := *rec.Vals
	if len(vals) != len(fields) {
		return nil, domain.NewMalformed("record has %d values for %d fields", len(vals), len(fields))
	}

	ts, err := parseTime(*rec.Time)
	if err != nil {
		return nil, domain.NewMalformed("bad timestamp %q", *rec.Time)
	}

	reading := &domain.Reading{
		Timestamp: ts.Add(tzOffset),
		Fields:    make([]domain.FieldValue, 0, len(fields)),
	}
	if rec.No != nil {
		if n, err := rec.No.Int64(); err == nil {
			reading.Record = n
		}
	}

	for i, meta := range fields {
		if strings.TrimSpace(meta.Name) == "" {
			return nil, domain.NewMalformed("field %d has no name", i)
		}
		v, ok, err := parseValue(vals[i])
		if err != nil {
			return nil, domain.NewMalformed("field %q: %v", meta.Name, err)
		}
		if !ok {
			reading.Skipped = append(reading.Skipped, meta.Name)
			continue
		}
		reading.Fields = append(reading.Fields, domain.FieldValue{
			Name:  meta.Name,
			Unit:  meta.Units,
			Value: v,
		})
	}
	return reading, nil
}

func parseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// parseValue decodes one element of vals. ok is false for the logger's
// NAN/INF sentinels, which carry no usable value.
func parseValue(raw json.RawMessage) (v float64, ok bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return 0, false, err
	}

	switch t := x.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false, err
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return 0, false, nil
		}
		return f, true, nil
	case string:
		switch strings.ToUpper(strings.TrimSpace(t)) {
		case "NAN", "INF", "+INF", "-INF":
			return 0, false, nil
		}
		return 0, false, &valueError{got: "string " + `"` + t + `"`}
	case nil:
		return 0, false, &valueError{got: "null"}
	default:
		return 0, false, &valueError{got: typeName(t)}
	}
}

type valueError struct {
	got string
}

func (e *valueError) Error() string {
	return "expected a number, got " + e.got
}

func typeName(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Relation names understood by every store implementation.
const (
	RelSensors     = "ch:sensors"
	RelDataHistory = "ch:dataHistory"
)

// Attribute keys for sensors and samples.
const (
	AttrTitle      = "title"
	AttrSensorType = "sensor-type"
	AttrMetric     = "metric"
	AttrUnit       = "unit"
	AttrTimestamp  = "timestamp"
	AttrValue      = "value"
)

// SensorTypeScalar is the only sensor type the sync core creates.
const SensorTypeScalar = "scalar"

// ErrUnknownRelation is returned by Relation for names a resource lacks.
var ErrUnknownRelation = errors.New("unknown relation")

// Attributes is the attribute set of a resource, used both as a search
// filter and as the body of a create.
type Attributes map[string]any

// Client resolves device references. Implementations must be safe for
// concurrent use by many Source Runners.
type Client interface {
	// Resolve looks up a device by its reference. found is false when
	// the store has no such device; err is reserved for store failures.
	Resolve(ctx context.Context, ref string) (device Resource, found bool, err error)
}

// Resource is one addressable entity: a device, a sensor or a sample.
type Resource interface {
	// Ref is the resource's stable reference.
	Ref() string

	// Attributes returns a copy of the resource's attributes.
	Attributes() Attributes

	// Relation follows a named link to a collection.
	Relation(ctx context.Context, name string) (Collection, error)
}

// Collection is a searchable, appendable set of resources.
type Collection interface {
	// Search returns the first resource whose attributes equal every
	// entry of filter. found is false when nothing matches.
	Search(ctx context.Context, filter Attributes) (res Resource, found bool, err error)

	// Create adds a resource and returns it.
	Create(ctx context.Context, attrs Attributes) (Resource, error)
}

// SensorAttributes builds the create body for a scalar sensor.
func SensorAttributes(name, unit string) Attributes {
	return Attributes{
		AttrSensorType: SensorTypeScalar,
		AttrMetric:     name,
		AttrUnit:       unit,
		AttrTitle:      name,
	}
}

// SampleAttributes builds the create body for a history sample.
func SampleAttributes(ts time.Time, value float64) Attributes {
	return Attributes{
		AttrTimestamp: ts,
		AttrValue:     value,
	}
}

// String returns attrs[key] as a string. Missing keys yield "".
func (a Attributes) String(key string) (string, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("attribute %q: expected string, got %T", key, v)
	}
	return s, nil
}

// Time returns attrs[key] as a time. Strings are parsed as RFC 3339.
func (a Attributes) Time(key string) (time.Time, error) {
	switch v := a[key].(type) {
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("attribute %q: %w", key, err)
		}
		return t, nil
	case nil:
		return time.Time{}, fmt.Errorf("attribute %q is required", key)
	default:
		return time.Time{}, fmt.Errorf("attribute %q: expected time, got %T", key, v)
	}
}

// Float returns attrs[key] as a float64.
func (a Attributes) Float(key string) (float64, error) {
	switch v := a[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	case nil:
		return 0, fmt.Errorf("attribute %q is required", key)
	default:
		return 0, fmt.Errorf("attribute %q: expected number, got %T", key, v)
	}
}

// Clone returns a shallow copy of a.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// UnknownRelation wraps ErrUnknownRelation with the resource kind and name.
func UnknownRelation(kind, name string) error {
	return fmt.Errorf("%s has no relation %q: %w", kind, name, ErrUnknownRelation)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/campbellsync/internal/domain"
)

// Resolve looks up a device by reference.
func (s *Store) Resolve(ctx context.Context, ref string) (Resource, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ref, title FROM devices WHERE ref = ?
	`, ref)

	var d device
	if err := row.Scan(&d.id, &d.ref, &d.title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resolve device %q: %w", ref, err)
	}
	d.s = s
	return &d, true, nil
}

// device is a row of the devices table.
type device struct {
	s     *Store
	id    string
	ref   string
	title string
}

func (d *device) Ref() string { return d.ref }

func (d *device) Attributes() Attributes {
	return Attributes{AttrTitle: d.title}
}

func (d *device) Relation(_ context.Context, name string) (Collection, error) {
	if name != RelSensors {
		return nil, UnknownRelation("device", name)
	}
	return &sensorCollection{s: d.s, deviceID: d.id}, nil
}

// sensorCollection is the ch:sensors collection of one device.
type sensorCollection struct {
	s        *Store
	deviceID string
}

// Search supports the title, metric, unit and sensor-type filters.
// Titles are compared after NFC normalization.
func (c *sensorCollection) Search(ctx context.Context, filter Attributes) (Resource, bool, error) {
	query := `SELECT id, title, sensor_type, metric, unit FROM sensors WHERE device_id = ?`
	args := []any{c.deviceID}

	for key := range filter {
		v, err := filter.String(key)
		if err != nil {
			return nil, false, err
		}
		switch key {
		case AttrTitle:
			query += ` AND title = ?`
			args = append(args, domain.NormalizeTitle(v))
		case AttrMetric:
			query += ` AND metric = ?`
			args = append(args, v)
		case AttrUnit:
			query += ` AND unit = ?`
			args = append(args, v)
		case AttrSensorType:
			query += ` AND sensor_type = ?`
			args = append(args, v)
		default:
			return nil, false, fmt.Errorf("search sensors: unsupported filter %q", key)
		}
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT 1`

	var sn sensor
	err := c.s.db.QueryRowContext(ctx, query, args...).Scan(&sn.id, &sn.title, &sn.sensorType, &sn.metric, &sn.unit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("search sensors: %w", err)
	}
	sn.s = c.s
	return &sn, true, nil
}

// Create inserts a sensor. When the title already exists for the device
// the existing sensor is returned unchanged.
func (c *sensorCollection) Create(ctx context.Context, attrs Attributes) (Resource, error) {
	metric, err := attrs.String(AttrMetric)
	if err != nil {
		return nil, fmt.Errorf("create sensor: %w", err)
	}
	title, err := attrs.String(AttrTitle)
	if err != nil {
		return nil, fmt.Errorf("create sensor: %w", err)
	}
	if title == "" {
		title = metric
	}
	title = domain.NormalizeTitle(title)
	if title == "" {
		return nil, fmt.Errorf("create sensor: title or metric is required")
	}
	unit, err := attrs.String(AttrUnit)
	if err != nil {
		return nil, fmt.Errorf("create sensor: %w", err)
	}
	sensorType, err := attrs.String(AttrSensorType)
	if err != nil {
		return nil, fmt.Errorf("create sensor: %w", err)
	}
	if sensorType == "" {
		sensorType = SensorTypeScalar
	}

	_, err = c.s.db.ExecContext(ctx, `
		INSERT INTO sensors (id, device_id, title, sensor_type, metric, unit, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, title) DO NOTHING
	`, uuid.Must(uuid.NewV7()).String(), c.deviceID, title, sensorType, metric, unit, timestamp(c.s.now()))
	if err != nil {
		return nil, fmt.Errorf("create sensor %q: %w", title, err)
	}

	res, found, err := c.Search(ctx, Attributes{AttrTitle: title})
	if err != nil {
		return nil, fmt.Errorf("create sensor %q: %w", title, err)
	}
	if !found {
		return nil, fmt.Errorf("create sensor %q: row missing after insert", title)
	}
	return res, nil
}

// sensor is a row of the sensors table.
type sensor struct {
	s          *Store
	id         string
	title      string
	sensorType string
	metric     string
	unit       string
}

func (sn *sensor) Ref() string { return "sqlite:sensors/" + sn.id }

func (sn *sensor) Attributes() Attributes {
	return Attributes{
		AttrTitle:      sn.title,
		AttrSensorType: sn.sensorType,
		AttrMetric:     sn.metric,
		AttrUnit:       sn.unit,
	}
}

func (sn *sensor) Relation(_ context.Context, name string) (Collection, error) {
	if name != RelDataHistory {
		return nil, UnknownRelation("sensor", name)
	}
	return &historyCollection{s: sn.s, sensorID: sn.id, sensorRef: sn.Ref()}, nil
}

// historyCollection is the ch:dataHistory collection of one sensor.
type historyCollection struct {
	s         *Store
	sensorID  string
	sensorRef string
}

// Search supports only the timestamp filter.
func (h *historyCollection) Search(ctx context.Context, filter Attributes) (Resource, bool, error) {
	if len(filter) != 1 {
		return nil, false, fmt.Errorf("search history: exactly one filter (timestamp) is supported")
	}
	ts, err := filter.Time(AttrTimestamp)
	if err != nil {
		return nil, false, fmt.Errorf("search history: %w", err)
	}

	id, err := domain.SampleID(h.sensorRef, ts)
	if err != nil {
		return nil, false, fmt.Errorf("search history: %w", err)
	}
	return h.lookup(ctx, id)
}

// Create appends a sample. Appending a sample with the same timestamp
// again is absorbed: the stored sample is returned and no row is added.
func (h *historyCollection) Create(ctx context.Context, attrs Attributes) (Resource, error) {
	ts, err := attrs.Time(AttrTimestamp)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}
	value, err := attrs.Float(AttrValue)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}

	id, err := domain.SampleID(h.sensorRef, ts)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}

	_, err = h.s.db.ExecContext(ctx, `
		INSERT INTO samples (id, sensor_id, ts, value, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, h.sensorID, timestamp(ts), value, timestamp(h.s.now()))
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}

	res, found, err := h.lookup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("append sample: row missing after insert")
	}
	if stored := res.(*sample); stored.value != value {
		h.s.logger.Debug("sample already stored with another value, new value dropped",
			"sensor", h.sensorRef, "timestamp", ts, "stored", stored.value, "dropped", value)
	}
	return res, nil
}

func (h *historyCollection) lookup(ctx context.Context, id string) (Resource, bool, error) {
	var ts string
	smp := sample{id: id}
	err := h.s.db.QueryRowContext(ctx, `
		SELECT ts, value FROM samples WHERE id = ? AND sensor_id = ?
	`, id, h.sensorID).Scan(&ts, &smp.value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read sample: %w", err)
	}
	if smp.ts, err = parseTimestamp(ts); err != nil {
		return nil, false, fmt.Errorf("read sample: %w", err)
	}
	return &smp, true, nil
}

// sample is a row of the samples table.
type sample struct {
	id    string
	ts    time.Time
	value float64
}

func (smp *sample) Ref() string { return "sqlite:samples/" + smp.id }

func (smp *sample) Attributes() Attributes {
	return SampleAttributes(smp.ts, smp.value)
}

func (smp *sample) Relation(_ context.Context, name string) (Collection, error) {
	return nil, UnknownRelation("sample", name)
}

package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/roach88/campbellsync/internal/domain"
	"github.com/roach88/campbellsync/internal/store"
)

// Resolve looks up a device by reference.
func (s *Store) Resolve(ctx context.Context, ref string) (store.Resource, bool, error) {
	d := device{s: s}
	err := s.db.QueryRow(ctx, `SELECT id, ref, title FROM devices WHERE ref = $1`, ref).
		Scan(&d.id, &d.ref, &d.title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("resolve device %q: %w", ref, err)
	}
	return &d, true, nil
}

// RegisterDevice creates a device unless ref already exists.
func (s *Store) RegisterDevice(ctx context.Context, ref, title string) error {
	if ref == "" {
		return errors.New("register device: ref is required")
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO devices (id, ref, title, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ref) DO NOTHING
	`, uuid.Must(uuid.NewV7()).String(), ref, title, s.now().UTC())
	if err != nil {
		return fmt.Errorf("register device %q: %w", ref, err)
	}
	return nil
}

type device struct {
	s     *Store
	id    string
	ref   string
	title string
}

func (d *device) Ref() string { return d.ref }

func (d *device) Attributes() store.Attributes {
	return store.Attributes{store.AttrTitle: d.title}
}

func (d *device) Relation(_ context.Context, name string) (store.Collection, error) {
	if name != store.RelSensors {
		return nil, store.UnknownRelation("device", name)
	}
	return &sensorCollection{s: d.s, deviceID: d.id}, nil
}

type sensorCollection struct {
	s        *Store
	deviceID string
}

var sensorColumns = map[string]string{
	store.AttrTitle:      "title",
	store.AttrMetric:     "metric",
	store.AttrUnit:       "unit",
	store.AttrSensorType: "sensor_type",
}

// Search supports the title, metric, unit and sensor-type filters.
func (c *sensorCollection) Search(ctx context.Context, filter store.Attributes) (store.Resource, bool, error) {
	var where strings.Builder
	where.WriteString("device_id = $1")
	args := []any{c.deviceID}

	for key := range filter {
		col, ok := sensorColumns[key]
		if !ok {
			return nil, false, fmt.Errorf("search sensors: unsupported filter %q", key)
		}
		v, err := filter.String(key)
		if err != nil {
			return nil, false, err
		}
		if key == store.AttrTitle {
			v = domain.NormalizeTitle(v)
		}
		args = append(args, v)
		fmt.Fprintf(&where, " AND %s = $%d", col, len(args))
	}

	sn := sensor{s: c.s}
	err := c.s.db.QueryRow(ctx, `
		SELECT id, title, sensor_type, metric, unit FROM sensors
		WHERE `+where.String()+`
		ORDER BY created_at ASC, id ASC LIMIT 1
	`, args...).Scan(&sn.id, &sn.title, &sn.sensorType, &sn.metric, &sn.unit)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("search sensors: %w", err)
	}
	return &sn, true, nil
}

// Create inserts a sensor; an existing title is returned unchanged.
func (c *sensorCollection) Create(ctx context.Context, attrs store.Attributes) (store.Resource, error) {
	var vals [4]string
	for i, key := range []string{store.AttrTitle, store.AttrMetric, store.AttrUnit, store.AttrSensorType} {
		v, err := attrs.String(key)
		if err != nil {
			return nil, fmt.Errorf("create sensor: %w", err)
		}
		vals[i] = v
	}
	title, metric, unit, sensorType := vals[0], vals[1], vals[2], vals[3]
	if title == "" {
		title = metric
	}
	title = domain.NormalizeTitle(title)
	if title == "" {
		return nil, errors.New("create sensor: title or metric is required")
	}
	if sensorType == "" {
		sensorType = store.SensorTypeScalar
	}

	_, err := c.s.db.Exec(ctx, `
		INSERT INTO sensors (id, device_id, title, sensor_type, metric, unit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, title) DO NOTHING
	`, uuid.Must(uuid.NewV7()).String(), c.deviceID, title, sensorType, metric, unit, c.s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("create sensor %q: %w", title, err)
	}

	res, found, err := c.Search(ctx, store.Attributes{store.AttrTitle: title})
	if err != nil {
		return nil, fmt.Errorf("create sensor %q: %w", title, err)
	}
	if !found {
		return nil, fmt.Errorf("create sensor %q: row missing after insert", title)
	}
	return res, nil
}

type sensor struct {
	s          *Store
	id         string
	title      string
	sensorType string
	metric     string
	unit       string
}

func (sn *sensor) Ref() string { return "pg:sensors/" + sn.id }

func (sn *sensor) Attributes() store.Attributes {
	return store.Attributes{
		store.AttrTitle:      sn.title,
		store.AttrSensorType: sn.sensorType,
		store.AttrMetric:     sn.metric,
		store.AttrUnit:       sn.unit,
	}
}

func (sn *sensor) Relation(_ context.Context, name string) (store.Collection, error) {
	if name != store.RelDataHistory {
		return nil, store.UnknownRelation("sensor", name)
	}
	return &history{s: sn.s, sensorID: sn.id, sensorRef: sn.Ref()}, nil
}

type history struct {
	s         *Store
	sensorID  string
	sensorRef string
}

// Search supports only the timestamp filter.
func (h *history) Search(ctx context.Context, filter store.Attributes) (store.Resource, bool, error) {
	if len(filter) != 1 {
		return nil, false, errors.New("search history: exactly one filter (timestamp) is supported")
	}
	ts, err := filter.Time(store.AttrTimestamp)
	if err != nil {
		return nil, false, fmt.Errorf("search history: %w", err)
	}
	id, err := domain.SampleID(h.sensorRef, ts)
	if err != nil {
		return nil, false, fmt.Errorf("search history: %w", err)
	}
	return h.lookup(ctx, id)
}

// Create appends a sample; a repeated timestamp is absorbed.
func (h *history) Create(ctx context.Context, attrs store.Attributes) (store.Resource, error) {
	ts, err := attrs.Time(store.AttrTimestamp)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}
	value, err := attrs.Float(store.AttrValue)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}
	id, err := domain.SampleID(h.sensorRef, ts)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}

	_, err = h.s.db.Exec(ctx, `
		INSERT INTO samples (id, sensor_id, ts, value, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, id, h.sensorID, ts.UTC(), value, h.s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}

	res, found, err := h.lookup(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("append sample: %w", err)
	}
	if !found {
		return nil, errors.New("append sample: row missing after insert")
	}
	if stored := res.(*sample); stored.value != value {
		h.s.logger.Debug("sample already stored with another value, new value dropped",
			"sensor", h.sensorRef, "timestamp", ts, "stored", stored.value, "dropped", value)
	}
	return res, nil
}

func (h *history) lookup(ctx context.Context, id string) (store.Resource, bool, error) {
	smp := sample{id: id}
	err := h.s.db.QueryRow(ctx, `
		SELECT ts, value FROM samples WHERE id = $1 AND sensor_id = $2
	`, id, h.sensorID).Scan(&smp.ts, &smp.value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read sample: %w", err)
	}
	smp.ts = smp.ts.UTC()
	return &smp, true, nil
}

type sample struct {
	id    string
	ts    time.Time
	value float64
}

func (smp *sample) Ref() string { return "pg:samples/" + smp.id }

func (smp *sample) Attributes() store.Attributes {
	return store.SampleAttributes(smp.ts, smp.value)
}

func (smp *sample) Relation(_ context.Context, name string) (store.Collection, error) {
	return nil, store.UnknownRelation("sample", name)
}

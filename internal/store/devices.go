package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/campbellsync/internal/domain"
)

// DeviceInfo describes a registered device.
type DeviceInfo struct {
	ID      string    `json:"id"`
	Ref     string    `json:"ref"`
	Title   string    `json:"title"`
	Created time.Time `json:"created"`
}

// SensorInfo describes a sensor with its newest sample, if any.
type SensorInfo struct {
	ID         string      `json:"id"`
	Ref        string      `json:"ref"`
	Title      string      `json:"title"`
	SensorType string      `json:"sensor_type"`
	Metric     string      `json:"metric"`
	Unit       string      `json:"unit"`
	Samples    int         `json:"samples"`
	Latest     *SampleInfo `json:"latest,omitempty"`
}

// SampleInfo is one history sample.
type SampleInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// RegisterDevice adds a device under ref. Registering an existing ref is a
// no-op that returns the stored device.
func (s *Store) RegisterDevice(ctx context.Context, ref, title string) (DeviceInfo, error) {
	if ref == "" {
		return DeviceInfo{}, fmt.Errorf("register device: ref is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, ref, title, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ref) DO NOTHING
	`, uuid.Must(uuid.NewV7()).String(), ref, title, timestamp(s.now()))
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("register device %q: %w", ref, err)
	}

	var info DeviceInfo
	var created string
	err = s.db.QueryRowContext(ctx, `
		SELECT id, ref, title, created_at FROM devices WHERE ref = ?
	`, ref).Scan(&info.ID, &info.Ref, &info.Title, &created)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("register device %q: %w", ref, err)
	}
	if info.Created, err = parseTimestamp(created); err != nil {
		return DeviceInfo{}, fmt.Errorf("register device %q: %w", ref, err)
	}
	return info, nil
}

// ListDevices returns all devices ordered by ref.
func (s *Store) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ref, title, created_at FROM devices ORDER BY ref ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	devices := []DeviceInfo{}
	for rows.Next() {
		var info DeviceInfo
		var created string
		if err := rows.Scan(&info.ID, &info.Ref, &info.Title, &created); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if info.Created, err = parseTimestamp(created); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

// ListSensors returns the sensors of the device with the given ref,
// ordered by title, each with its sample count and newest sample.
// Returns an empty slice (not nil) for a device without sensors.
func (s *Store) ListSensors(ctx context.Context, deviceRef string) ([]SensorInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.sensor_type, s.metric, s.unit,
		       (SELECT COUNT(*) FROM samples WHERE sensor_id = s.id)
		FROM sensors s
		JOIN devices d ON s.device_id = d.id
		WHERE d.ref = ?
		ORDER BY s.title COLLATE BINARY ASC
	`, deviceRef)
	if err != nil {
		return nil, fmt.Errorf("query sensors: %w", err)
	}
	defer rows.Close()

	sensors := []SensorInfo{}
	for rows.Next() {
		var info SensorInfo
		if err := rows.Scan(&info.ID, &info.Title, &info.SensorType, &info.Metric, &info.Unit, &info.Samples); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		info.Ref = "sqlite:sensors/" + info.ID
		sensors = append(sensors, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sensors: %w", err)
	}
	rows.Close()

	for i := range sensors {
		history, err := s.History(ctx, sensors[i].ID, 1)
		if err != nil {
			return nil, err
		}
		if len(history) > 0 {
			sensors[i].Latest = &history[0]
		}
	}
	return sensors, nil
}

// History returns up to limit samples of a sensor, newest first.
// A limit <= 0 returns every sample.
func (s *Store) History(ctx context.Context, sensorID string, limit int) ([]SampleInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, value FROM samples
		WHERE sensor_id = ?
		ORDER BY ts DESC, id ASC
		LIMIT ?
	`, sensorID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	samples := []SampleInfo{}
	for rows.Next() {
		var ts string
		var smp SampleInfo
		if err := rows.Scan(&ts, &smp.Value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if smp.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return samples, nil
}

// SensorTitleCount returns how many sensors of a device carry title.
func (s *Store) SensorTitleCount(ctx context.Context, deviceRef, title string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sensors s
		JOIN devices d ON s.device_id = d.id
		WHERE d.ref = ? AND s.title = ?
	`, deviceRef, domain.NormalizeTitle(title)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sensors: %w", err)
	}
	return n, nil
}

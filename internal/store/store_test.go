package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return s
}

func pragma(t *testing.T, s *Store, name string) string {
	t.Helper()
	var v string
	require.NoError(t, s.db.QueryRow("PRAGMA "+name).Scan(&v))
	return v
}

func queryStrings(t *testing.T, s *Store, query string, args ...any) []string {
	t.Helper()
	rows, err := s.Query(context.Background(), query, args...)
	require.NoError(t, err)
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		out = append(out, v)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.Equal(t, []string{"devices", "samples", "sensors"},
		queryStrings(t, s, "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name"))
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.RegisterDevice(context.Background(), "met-1", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	for range 3 {
		s, err = Open(path)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	}

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.Resolve(context.Background(), "met-1")
	require.NoError(t, err)
	assert.True(t, found, "rows survive reopening")
	assert.Equal(t, "2", pragma(t, s, "user_version"))
}

func TestOpen_MigratesFromVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("DROP INDEX idx_sensors_device_title")
	require.NoError(t, err)
	_, err = s.db.Exec("PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "2", pragma(t, s, "user_version"))
	assert.Contains(t, queryStrings(t, s,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'sensors'"),
		"idx_sensors_device_title")
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	assert.NoError(t, (&Store{}).Close())

	s := openTestStore(t)
	assert.NoError(t, s.Close())
	_ = s.Close()
}

func TestConnectionSettings(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	want := map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	}
	for name, v := range want {
		assert.Equal(t, v, pragma(t, s, name), name)
	}
}

func TestSchema(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	columns := map[string][]string{
		"devices": {"id", "ref", "title", "created_at"},
		"sensors": {"id", "device_id", "title", "sensor_type", "metric", "unit", "created_at"},
		"samples": {"id", "sensor_id", "ts", "value", "created_at"},
	}
	for table, want := range columns {
		got := queryStrings(t, s, "SELECT name FROM pragma_table_info(?)", table)
		assert.ElementsMatch(t, want, got, table)
	}

	indexes := queryStrings(t, s, "SELECT name FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%' ORDER BY name")
	assert.Equal(t, []string{"idx_samples_sensor_ts", "idx_sensors_device_title"}, indexes)
}

func TestConstraints(t *testing.T) {
	const ts = "'2024-01-01T00:00:00.000000000Z'"
	s := openTestStore(t)
	defer s.Close()

	_, err := s.db.Exec(`INSERT INTO devices (id, ref, title, created_at) VALUES
		('d1', 'dev-1', '', ` + ts + `), ('d2', 'dev-2', '', ` + ts + `)`)
	require.NoError(t, err)

	insertSensor := `INSERT INTO sensors (id, device_id, title, sensor_type, metric, unit, created_at)
		VALUES (?, ?, 'Temp', 'scalar', 'Temp', 'C', ` + ts + `)`

	tests := []struct {
		name    string
		stmt    string
		args    []any
		wantErr bool
	}{
		{"device ref is unique", `INSERT INTO devices (id, ref, title, created_at) VALUES ('d3', 'dev-1', '', ` + ts + `)`, nil, true},
		{"first sensor", insertSensor, []any{"s1", "d1"}, false},
		{"same title on other device", insertSensor, []any{"s2", "d2"}, false},
		{"duplicate title on device", insertSensor, []any{"s3", "d1"}, true},
		{"sensor needs device", insertSensor, []any{"s4", "missing"}, true},
		{"sample needs sensor", `INSERT INTO samples (id, sensor_id, ts, value, created_at)
			VALUES ('x', 'missing', ` + ts + `, 1.5, ` + ts + `)`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.db.Exec(tt.stmt, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

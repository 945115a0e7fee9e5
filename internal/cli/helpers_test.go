package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/campbellsync/internal/store"
)

const oneMinBody = `{
  "head": {"fields": [{"name": "Temp", "units": "C"}, {"name": "RH", "units": "%"}]},
  "data": [{"time": "2024-05-01T12:00:00", "no": 42, "vals": [21.5, 60]}]
}`

// fakeDatalogger serves body with status for every request.
func fakeDatalogger(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// writeConfig writes a configuration with one source per extra YAML
// source block, storing into dbPath.
func writeConfig(t *testing.T, dir, dbPath string, sources ...string) string {
	t.Helper()
	var b bytes.Buffer
	fmt.Fprintf(&b, "store:\n  driver: sqlite\n  dsn: %q\nsources:\n", dbPath)
	for _, s := range sources {
		b.WriteString(s)
	}
	return writeFile(t, dir, "campbellsync.yaml", b.String())
}

func source(name, host, schedule, device string) string {
	s := fmt.Sprintf("  - name: %s\n    host: %q\n    table: OneMin\n    schedule: %q\n", name, host, schedule)
	if device != "" {
		s += fmt.Sprintf("    device: %s\n", device)
	}
	return s
}

func registerDevice(t *testing.T, dbPath, ref string) {
	t.Helper()
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	_, err = st.RegisterDevice(context.Background(), ref, ref)
	require.NoError(t, err)
}

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

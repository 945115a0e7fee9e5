package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinter_Emit(t *testing.T) {
	data := map[string]string{"ref": "met-tower-1"}
	text := func(w io.Writer) { fmt.Fprintln(w, "✓ Device met-tower-1 registered") }

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		p := &Printer{Format: "json", Out: buf}
		require.NoError(t, p.Emit(data, text))

		var resp Response
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, map[string]any{"ref": "met-tower-1"}, resp.Data)
		assert.Nil(t, resp.Error)
	})

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		p := &Printer{Format: "text", Out: buf}
		require.NoError(t, p.Emit(data, text))
		assert.Equal(t, "✓ Device met-tower-1 registered\n", buf.String())
	})
}

func TestPrinter_FailJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	p := &Printer{Format: "json", Out: buf}

	require.NoError(t, p.Fail("E001", "configuration unreadable", map[string]int{"sources": 0}, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E001", resp.Error.Code)
	assert.Equal(t, "configuration unreadable", resp.Error.Message)
	assert.Equal(t, map[string]any{"sources": 0.0}, resp.Data)
}

func TestPrinter_FailText(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		text    func(io.Writer)
		want    string
	}{
		{"summary", false, nil, "Error [E001]: configuration unreadable\n"},
		{"verbose summary", true, nil, "Error [E001]: configuration unreadable\nDetails: no such file\n"},
		{"custom text", false, func(w io.Writer) { fmt.Fprintln(w, "✗ Validation failed") }, "✗ Validation failed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			p := &Printer{Format: "text", Out: buf, Verbose: tt.verbose}
			require.NoError(t, p.Fail("E001", "configuration unreadable", "no such file", tt.text))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPrinter_Debugf(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}

	(&Printer{Out: out, Diag: diag}).Debugf("polling %d source(s)", 2)
	assert.Empty(t, out.String())
	assert.Empty(t, diag.String())

	(&Printer{Format: "json", Out: out, Diag: diag, Verbose: true}).Debugf("polling %d source(s)", 2)
	assert.Empty(t, out.String(), "diagnostics stay off the JSON stream")
	assert.Equal(t, "polling 2 source(s)\n", diag.String())

	(&Printer{Out: out, Verbose: true}).Debugf("validating %s", "campbellsync.yaml")
	assert.Equal(t, "validating campbellsync.yaml\n", out.String())
}

func TestExitError(t *testing.T) {
	cause := errors.New("connection refused")
	err := exitWrap(ExitCommandError, cause, "failed to open store")

	assert.Equal(t, "failed to open store: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ExitCommandError, ExitCode(err))
	assert.Equal(t, ExitCommandError, ExitCode(fmt.Errorf("poll: %w", err)))

	plain := exitf(ExitFailure, "%d scenario(s) failed", 1)
	assert.Equal(t, "1 scenario(s) failed", plain.Error())
	assert.Equal(t, ExitFailure, ExitCode(plain))

	assert.Equal(t, ExitFailure, ExitCode(errors.New("unclassified")))
	assert.Equal(t, ExitSuccess, ExitCode(nil))
}

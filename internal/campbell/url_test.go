package campbell

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryURL(t *testing.T) {
	got, err := QueryURL("http://logger.local/", "OneMin")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "logger.local", u.Host)
	assert.Equal(t, url.Values{
		"command": {"DataQuery"},
		"uri":     {"dl:OneMin"},
		"format":  {"json"},
		"mode":    {"most-recent"},
		"p1":      {"1"},
	}, u.Query())
}

func TestQueryURL_PreservesHostQuery(t *testing.T) {
	got, err := QueryURL("https://proxy.example.org/logger?station=7&key=abc", "Hourly")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "7", q.Get("station"))
	assert.Equal(t, "abc", q.Get("key"))
	assert.Equal(t, "dl:Hourly", q.Get("uri"))
	assert.Equal(t, "/logger", u.Path)
	assert.Len(t, q, 7)
}

func TestQueryURL_Errors(t *testing.T) {
	_, err := QueryURL("http://logger.local", "")
	assert.Error(t, err)

	_, err = QueryURL("logger.local", "OneMin")
	assert.Error(t, err)

	_, err = QueryURL("http://[::1", "OneMin")
	assert.Error(t, err)
}

package campbell

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/campbellsync/internal/domain"
)

func TestHTTPFetcher_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DataQuery", r.URL.Query().Get("command"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	u, err := QueryURL(srv.URL, "OneMin")
	require.NoError(t, err)

	body, err := NewHTTPFetcher().Fetch(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
}

func TestHTTPFetcher_StatusIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPFetcher_UnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(WithTimeout(time.Second)).Fetch(context.Background(), addr)
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
}

func TestHTTPFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithRetry(RetryConfig{Attempts: 2, Delay: time.Millisecond}))
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetry_DelayFloor(t *testing.T) {
	tests := []struct {
		name string
		cfg  RetryConfig
		want time.Duration
	}{
		{"zero delay", RetryConfig{Attempts: 2}, DefaultRetryDelay},
		{"negative delay", RetryConfig{Attempts: 1, Delay: -time.Second}, DefaultRetryDelay},
		{"explicit delay", RetryConfig{Attempts: 2, Delay: time.Millisecond}, time.Millisecond},
		{"no retries", RetryConfig{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewHTTPFetcher(WithRetry(tt.cfg))
			assert.Equal(t, tt.want, f.retry.Delay)
			assert.Equal(t, tt.cfg.Attempts, f.retry.Attempts)
		})
	}
}

func TestHTTPFetcher_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(WithRetry(RetryConfig{Attempts: 3, Delay: time.Millisecond}))
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	_, err := NewHTTPFetcher(WithTimeout(50*time.Millisecond)).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))
}

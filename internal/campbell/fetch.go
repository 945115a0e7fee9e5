package campbell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/campbellsync/internal/domain"
)

// maxBody caps the response size read from a datalogger.
const maxBody = 4 << 20

// Fetcher retrieves the raw response body for a query URL.
// Implementations return a domain TRANSPORT error on any failure.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// RetryConfig controls retries of failed fetches.
type RetryConfig struct {
	// Attempts is the number of extra attempts after the first (0 = no retry).
	Attempts int

	// Delay is the wait before the first retry; it doubles per retry up to
	// MaxDelay. Zero means DefaultRetryDelay.
	Delay    time.Duration
	MaxDelay time.Duration
}

// HTTPFetcher fetches with net/http.
type HTTPFetcher struct {
	client *http.Client
	retry  RetryConfig
	logger *slog.Logger
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) { f.client.Timeout = d }
}

// DefaultRetryDelay replaces a non-positive RetryConfig.Delay when
// retries are enabled.
const DefaultRetryDelay = time.Second

// WithRetry enables retries.
func WithRetry(cfg RetryConfig) FetcherOption {
	if cfg.Attempts > 0 && cfg.Delay <= 0 {
		cfg.Delay = DefaultRetryDelay
	}
	return func(f *HTTPFetcher) { f.retry = cfg }
}

// WithHTTPClient replaces the HTTP client. Any timeout option applied
// later modifies this client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = c }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) FetcherOption {
	return func(f *HTTPFetcher) { f.logger = l }
}

// NewHTTPFetcher creates a fetcher with a 30s timeout and no retries.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// statusError is a non-2xx response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.code, http.StatusText(e.code))
}

// retryable reports whether another attempt may succeed. Client errors
// (4xx other than 408 and 429) are final.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusRequestTimeout || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

// Fetch GETs url and returns the body. Non-2xx statuses, network errors
// and exhausted retries all yield a domain TRANSPORT error.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	delay := f.retry.Delay
	var lastErr error

	for attempt := 0; attempt <= f.retry.Attempts; attempt++ {
		if attempt > 0 {
			f.logger.Debug("retrying fetch", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, domain.NewTransport(url, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if f.retry.MaxDelay > 0 && delay > f.retry.MaxDelay {
				delay = f.retry.MaxDelay
			}
		}

		body, err := f.once(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, domain.NewTransport(url, lastErr)
}

func (f *HTTPFetcher) once(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return nil, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > maxBody {
		return nil, fmt.Errorf("response exceeds %d bytes", maxBody)
	}
	return body, nil
}

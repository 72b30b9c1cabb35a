// Package fetcher provides a rate-limited HTTP client for the registry APIs,
// with bounded concurrency, 429 back-off, and retry on connection failures.
package fetcher

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrRetriesExhausted marks a request that failed all attempts due to
// connectivity problems or sustained rate limiting. Callers must propagate
// it; masking it would let a run complete with silently missing data.
var ErrRetriesExhausted = eris.New("fetcher: retries exhausted")

// Options configures the HTTP client.
type Options struct {
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	// MaxInFlight caps concurrent outstanding requests across all callers.
	MaxInFlight int64
	// RequestsPerSecond paces request starts; burst equals the cap.
	RequestsPerSecond rate.Limit
}

// Client issues JSON GET requests with a concurrency permit, request pacing,
// and the retry protocol the registry endpoints require.
type Client struct {
	http    *http.Client
	opts    Options
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

// New creates a Client with the given options, applying defaults for
// anything unset.
func New(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 5
	}
	if opts.MaxInFlight == 0 {
		opts.MaxInFlight = 10
	}
	if opts.RequestsPerSecond == 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "heritage-cli/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		sem:     semaphore.NewWeighted(opts.MaxInFlight),
		limiter: rate.NewLimiter(opts.RequestsPerSecond, int(opts.MaxInFlight)),
	}
}

// GetJSON issues a GET against rawURL with the given headers and query
// parameters and returns the raw response body.
//
// A 429 suspends the caller for the RateLimit-Reset hint (1s when absent)
// and retries. Connection failures retry with exponential backoff. Any other
// status >= 400 is logged and returned as (nil, nil): the endpoint has no
// data for this request, and the caller decides whether that is recoverable.
// Exhausting all attempts returns ErrRetriesExhausted wrapping the last
// cause.
func (c *Client) GetJSON(ctx context.Context, rawURL string, headers map[string]string, params url.Values) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: cancelled")
		}

		body, retryAfter, err := c.once(ctx, rawURL, headers, params)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "fetcher: cancelled")
		}

		// errNoData is terminal but non-fatal: the caller gets a nil result.
		if eris.Is(err, errNoData) {
			return nil, nil
		}

		// No point sleeping when there is no attempt left.
		if attempt == c.opts.MaxAttempts-1 {
			break
		}

		var delay time.Duration
		if retryAfter > 0 {
			delay = retryAfter
			zap.L().Warn("fetcher: rate limited, backing off",
				zap.String("url", rawURL),
				zap.Duration("reset", delay),
				zap.Int("attempt", attempt+1),
			)
		} else {
			delay = time.Duration(math.Pow(2, float64(attempt+1))) * time.Second
			zap.L().Warn("fetcher: connection failure, retrying",
				zap.String("url", rawURL),
				zap.Duration("backoff", delay),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
		}

		if !sleep(ctx, delay) {
			return nil, eris.Wrap(ctx.Err(), "fetcher: cancelled during backoff")
		}
	}

	return nil, eris.Wrapf(ErrRetriesExhausted, "fetcher: %d attempts against %s: %v", c.opts.MaxAttempts, rawURL, lastErr)
}

// errNoData marks a non-429 HTTP error status: terminal for this request,
// non-fatal for the run.
var errNoData = eris.New("fetcher: no data")

// errRateLimited marks a 429 response.
var errRateLimited = eris.New("fetcher: rate limited")

// once performs a single attempt. The concurrency permit is held only for
// the duration of the request itself, never across backoff sleeps.
func (c *Client) once(ctx context.Context, rawURL string, headers map[string]string, params url.Values) (json.RawMessage, time.Duration, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, eris.Wrap(err, "fetcher: acquire permit")
	}
	defer c.sem.Release(1)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, eris.Wrap(err, "fetcher: limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, eris.Wrap(err, "fetcher: do request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resetDelay(resp.Header), errRateLimited
	}

	if resp.StatusCode >= 400 {
		zap.L().Error("fetcher: error status from endpoint",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
		)
		return nil, 0, errNoData
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, eris.Wrap(err, "fetcher: read body")
	}
	return body, 0, nil
}

// resetDelay reads the RateLimit-Reset header as whole seconds, defaulting
// to one second when absent or malformed.
func resetDelay(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("RateLimit-Reset"))
	if err != nil || secs <= 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}

// sleep waits for d, returning false if the context was cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

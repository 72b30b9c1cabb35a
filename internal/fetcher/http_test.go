package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(maxAttempts int) *Client {
	return New(Options{
		UserAgent:         "test-agent",
		Timeout:           5 * time.Second,
		MaxAttempts:       maxAttempts,
		RequestsPerSecond: 1000,
	})
}

func TestGetJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "0123456789", r.URL.Query().Get("pandIdentificatie"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(5)
	params := url.Values{"pandIdentificatie": {"0123456789"}}
	body, err := c.GetJSON(context.Background(), srv.URL, map[string]string{"X-Api-Key": "secret"}, params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestGetJSON_RateLimitedThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := attempts.Add(1)
		if n <= 2 {
			w.Header().Set("RateLimit-Reset", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(5)
	start := time.Now()
	body, err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), attempts.Load())
	// Two reset hints of 1s each must have been honored.
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
}

func TestGetJSON_RateLimitExhausted(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Header().Set("RateLimit-Reset", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(2)
	_, err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRetriesExhausted))
	assert.Equal(t, int32(2), attempts.Load())
}

func TestGetJSON_ErrorStatusReturnsNoData(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(5)
	body, err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, body)
	// 4xx is terminal: no retries.
	assert.Equal(t, int32(1), attempts.Load())
}

func TestGetJSON_ConnectionFailureExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening: every attempt is a connection failure

	c := newTestClient(2)
	_, err := c.GetJSON(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRetriesExhausted))
}

func TestGetJSON_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newTestClient(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetJSON(ctx, srv.URL, nil, nil)
	require.Error(t, err)
}

func TestGetJSON_CancelDuringRateLimitBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("RateLimit-Reset", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(5)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.GetJSON(ctx, srv.URL, nil, nil)
	require.Error(t, err)
	// Must not have slept out the full 30s reset hint.
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGetJSON_ConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Options{
		UserAgent:         "test-agent",
		MaxAttempts:       1,
		MaxInFlight:       3,
		RequestsPerSecond: 1000,
	})

	done := make(chan struct{})
	for i := 0; i < 12; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := c.GetJSON(context.Background(), srv.URL, nil, nil)
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 12; i++ {
		<-done
	}

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestResetDelay(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Second, resetDelay(h))

	h.Set("RateLimit-Reset", "7")
	assert.Equal(t, 7*time.Second, resetDelay(h))

	h.Set("RateLimit-Reset", "garbage")
	assert.Equal(t, time.Second, resetDelay(h))

	h.Set("RateLimit-Reset", "-2")
	assert.Equal(t, time.Second, resetDelay(h))
}

func TestNew_Defaults(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, "heritage-cli/1.0", c.opts.UserAgent)
	assert.Equal(t, 30*time.Second, c.opts.Timeout)
	assert.Equal(t, 5, c.opts.MaxAttempts)
	assert.Equal(t, int64(10), c.opts.MaxInFlight)
}

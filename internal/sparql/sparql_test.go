package sparql

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bouwdata/heritage-cli/internal/resilience"
)

type row struct {
	ID   string `json:"identificatie"`
	Name string `json:"naam"`
}

func fastRetry() Option {
	return WithRetry(resilience.Config{MaxAttempts: 3, Delay: time.Millisecond})
}

func TestSelect_DecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "SELECT ?x WHERE {}", r.PostForm.Get("query"))
		assert.Equal(t, "json", r.PostForm.Get("format"))
		w.Write([]byte(`[{"identificatie":"a","naam":"x"},{"identificatie":"b","naam":"y"}]`))
	}))
	defer srv.Close()

	e := NewEndpoint("test", srv.URL, 2, fastRetry())
	rows, err := Select[row](context.Background(), e, "SELECT ?x WHERE {}")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "y", rows[1].Name)
}

func TestSelect_RetriesOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	e := NewEndpoint("test", srv.URL, 2, fastRetry())
	rows, err := Select[row](context.Background(), e, "q")
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSelect_ThirdFailureIsFatal(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewEndpoint("test", srv.URL, 2, fastRetry())
	_, err := Select[row](context.Background(), e, "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestSelect_NonListBodyIsEmptyResult(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.Write([]byte(`{"error":"malformed query"}`))
	}))
	defer srv.Close()

	e := NewEndpoint("test", srv.URL, 2, fastRetry())
	rows, err := Select[row](context.Background(), e, "q")
	require.NoError(t, err)
	assert.Nil(t, rows)
	// Shape problems are not retried.
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSelect_ConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	e := NewEndpoint("test", srv.URL, 2, fastRetry())
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := Select[row](context.Background(), e, "q")
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSelect_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewEndpoint("test", srv.URL, 2, fastRetry())
	_, err := Select[row](context.Background(), e, "q")
	require.NoError(t, err)

	_, err = Select[row](ctx, e, "q")
	require.Error(t, err)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `"0363010000000001"`, Quote("0363010000000001"))
	assert.Equal(t, `"a\"b"`, Quote(`a"b`))
	assert.Equal(t, `"a\\b"`, Quote(`a\b`))
}

func TestQuoteAll(t *testing.T) {
	assert.Equal(t, []string{`"a"`, `"b"`}, QuoteAll([]string{"a", "b"}))
	assert.Empty(t, QuoteAll(nil))
}

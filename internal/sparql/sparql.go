// Package sparql posts SPARQL queries to a JSON endpoint, with a per-endpoint
// concurrency cap and fixed-delay retries.
package sparql

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/bouwdata/heritage-cli/internal/resilience"
)

// Endpoint is a single SPARQL service. The concurrency permit is held for
// the full duration of a query, retries included, so at most maxInFlight
// queries are outstanding against the upstream at any time.
type Endpoint struct {
	service string
	url     string
	http    *http.Client
	sem     *semaphore.Weighted
	retry   resilience.Config
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Endpoint) {
		e.http = hc
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.Config) Option {
	return func(e *Endpoint) {
		e.retry = cfg
	}
}

// NewEndpoint creates an Endpoint for the given service name and URL.
func NewEndpoint(service, endpointURL string, maxInFlight int64, opts ...Option) *Endpoint {
	e := &Endpoint{
		service: service,
		url:     endpointURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		sem: semaphore.NewWeighted(maxInFlight),
		retry: resilience.Config{
			MaxAttempts: 3,
			Delay:       time.Second,
			OnRetry:     resilience.Logger(service, "query"),
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// post runs the query while holding a concurrency permit and returns the raw
// response body. Request-level failures (transport errors and non-2xx
// statuses) are retried; the last failure propagates as fatal.
func (e *Endpoint) post(ctx context.Context, query string) ([]byte, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, eris.Wrapf(err, "sparql: %s: acquire permit", e.service)
	}
	defer e.sem.Release(1)

	return resilience.Do(ctx, e.retry, func(ctx context.Context) ([]byte, error) {
		form := url.Values{
			"query":  {query},
			"format": {"json"},
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, eris.Wrapf(err, "sparql: %s: create request", e.service)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := e.http.Do(req)
		if err != nil {
			return nil, eris.Wrapf(err, "sparql: %s: post query", e.service)
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, eris.Errorf("sparql: %s: status %d", e.service, resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrapf(err, "sparql: %s: read body", e.service)
		}
		return body, nil
	})
}

// Select runs query and decodes the list-shaped JSON result into []T.
// A body that is not a well-formed list is logged and treated as an empty
// result, not an error.
func Select[T any](ctx context.Context, e *Endpoint, query string) ([]T, error) {
	body, err := e.post(ctx, query)
	if err != nil {
		return nil, err
	}

	var rows []T
	if err := json.Unmarshal(body, &rows); err != nil {
		zap.L().Warn("sparql: unexpected response shape, treating as empty",
			zap.String("service", e.service),
			zap.Error(err),
		)
		return nil, nil
	}
	return rows, nil
}

// Quote returns id as a quoted SPARQL string literal.
func Quote(id string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(id) + `"`
}

// QuoteAll quotes every id in order.
func QuoteAll(ids []string) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = Quote(id)
	}
	return out
}

// Package triplestore is a thin SPARQL 1.1 client over the query and update
// endpoints of the triple store. Transient failures (network errors, 5xx)
// are retried with bounded exponential backoff inside a single task attempt;
// 4xx responses fail immediately.
package triplestore

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/knakk/rdf"
	"github.com/knakk/sparql"
	"go.uber.org/zap"

	"vocab-ingest/internal/config"
	"vocab-ingest/internal/faults"
)

// Client issues SPARQL queries and updates with a shared retry policy.
type Client struct {
	queryURL    string
	updateURL   string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	log         *zap.SugaredLogger
}

// New builds a client from config.
func New(cfg config.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		queryURL:    cfg.TriplestoreQueryURL,
		updateURL:   cfg.TriplestoreUpdateURL,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		maxAttempts: cfg.RetryMaxAttempts,
		backoffBase: cfg.BackoffInitial,
		backoffMax:  cfg.BackoffMax,
		log:         log,
	}
}

// NewWithEndpoints builds a client against explicit endpoints. Used in tests.
func NewWithEndpoints(queryURL, updateURL string, log *zap.SugaredLogger) *Client {
	return &Client{
		queryURL:    queryURL,
		updateURL:   updateURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxAttempts: 3,
		backoffBase: 10 * time.Millisecond,
		backoffMax:  100 * time.Millisecond,
		log:         log,
	}
}

// Select runs a SPARQL SELECT and parses the JSON results.
func (c *Client) Select(ctx context.Context, query string) (*sparql.Results, error) {
	var results *sparql.Results
	err := c.withRetry(ctx, "sparql select", func() error {
		form := url.Values{"query": {query}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.queryURL, strings.NewReader(form.Encode()))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/sparql-results+json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retryable(faults.External(err, "query triple store"))
		}
		defer resp.Body.Close()
		if err := checkStatus(resp); err != nil {
			return err
		}
		results, err = sparql.ParseJSON(resp.Body)
		if err != nil {
			return faults.External(err, "parse sparql results")
		}
		return nil
	})
	return results, err
}

// Update runs a SPARQL UPDATE statement.
func (c *Client) Update(ctx context.Context, update string) error {
	return c.withRetry(ctx, "sparql update", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.updateURL, strings.NewReader(update))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/sparql-update")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retryable(faults.External(err, "update triple store"))
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		return checkStatus(resp)
	})
}

// InsertTriples loads triples into a named graph as one INSERT DATA batch.
// Handlers size batches so an abandoned run leaves whole batches, never a
// half-written one.
func (c *Client) InsertTriples(ctx context.Context, graph string, triples []rdf.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("INSERT DATA { GRAPH <")
	b.WriteString(graph)
	b.WriteString("> {\n")
	for _, t := range triples {
		b.WriteString(t.Serialize(rdf.NTriples))
	}
	b.WriteString("} }")
	return c.Update(ctx, b.String())
}

// DropGraph clears a source's named graph.
func (c *Client) DropGraph(ctx context.Context, graph string) error {
	return c.Update(ctx, "DROP SILENT GRAPH <"+graph+">")
}

type retryableError struct{ err error }

func (r retryableError) Error() string { return r.err.Error() }
func (r retryableError) Unwrap() error { return r.err }

func retryable(err error) error { return retryableError{err: err} }

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return retryable(faults.Externalf("triple store returned status %d", resp.StatusCode))
	default:
		return faults.Externalf("triple store returned status %d", resp.StatusCode)
	}
}

// withRetry runs fn up to maxAttempts times, sleeping an exponentially
// growing jittered delay between attempts. Only errors wrapped retryable
// are attempted again.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var r retryableError
		if !errors.As(err, &r) {
			return err
		}
		lastErr = r.err
		if attempt == c.maxAttempts {
			break
		}
		delay := backoffWithJitter(c.backoffBase, c.backoffMax, attempt)
		c.log.Warnw("transient triple store failure, retrying",
			"op", op, "attempt", attempt, "delay", delay, "error", r.err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return lastErr
}

func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return base
	}
	exp := float64(base) * math.Pow(2, float64(attempt-1))
	wait := time.Duration(exp)
	if wait > max {
		wait = max
	}
	jitter := time.Duration(rand.Int63n(int64(wait/2) + 1))
	return wait/2 + jitter
}

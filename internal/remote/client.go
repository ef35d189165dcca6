// opscache - Read-Through Caching for Retail Operations Dashboards
// Copyright 2026 M. Beaufort (mbeaufort)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mbeaufort/opscache

package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/mbeaufort/opscache/internal/config"
	"github.com/mbeaufort/opscache/internal/logging"
	"github.com/mbeaufort/opscache/internal/record"
)

// maxErrorBodySize caps how much of an error response is read back for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// ErrNotFound is returned when the remote store has no document with the
// requested id.
var ErrNotFound = errors.New("document not found")

// Client talks to the hosted document store's REST API. It is the only
// component allowed to reach the authoritative store; everything else goes
// through a cache manager.
//
// Outbound calls are governed by a client-side rate limiter and a circuit
// breaker, so a struggling remote store degrades this daemon's fetches
// instead of piling up goroutines against it.
//
// Thread safety: safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// NewClient builds a document store client from configuration.
func NewClient(cfg config.RemoteConfig) *Client {
	log := logging.With("remote").Logger()

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = int(cfg.RateLimit)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "document-store",
		MaxRequests: cfg.BreakerHalfOpenMax,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		// A missing document is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		cb:      cb,
	}
}

// insertResponse is the body returned by a successful document insert.
type insertResponse struct {
	ID string `json:"id"`
}

// queryResponse wraps a collection query result.
type queryResponse struct {
	Documents []record.Record `json:"documents"`
}

// QueryCollection returns every document in collection matching filter.
// Filter values become query parameters; a nil filter returns the whole
// collection.
func (c *Client) QueryCollection(ctx context.Context, collection string, filter map[string]string) ([]record.Record, error) {
	q := url.Values{}
	for k, v := range filter {
		q.Set(k, v)
	}

	body, err := c.do(ctx, http.MethodGet, c.collectionURL(collection, q), nil)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode query response for %q: %w", collection, err)
	}
	return resp.Documents, nil
}

// GetDocument fetches a single document by id. Returns ErrNotFound when the
// id does not exist.
func (c *Client) GetDocument(ctx context.Context, collection, id string) (record.Record, error) {
	body, err := c.do(ctx, http.MethodGet, c.documentURL(collection, id), nil)
	if err != nil {
		return nil, err
	}

	var rec record.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decode document %s/%s: %w", collection, id, err)
	}
	return rec, nil
}

// InsertDocument creates a document and returns the store-assigned id.
func (c *Client) InsertDocument(ctx context.Context, collection string, rec record.Record) (string, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode document for %q: %w", collection, err)
	}

	body, err := c.do(ctx, http.MethodPost, c.collectionURL(collection, nil), payload)
	if err != nil {
		return "", err
	}

	var resp insertResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode insert response for %q: %w", collection, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("insert into %q returned no document id", collection)
	}
	return resp.ID, nil
}

// UpdateDocument applies a partial update to an existing document.
func (c *Client) UpdateDocument(ctx context.Context, collection, id string, rec record.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode update for %s/%s: %w", collection, id, err)
	}

	_, err = c.do(ctx, http.MethodPatch, c.documentURL(collection, id), payload)
	return err
}

// DeleteDocument removes a document by id.
func (c *Client) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := c.do(ctx, http.MethodDelete, c.documentURL(collection, id), nil)
	return err
}

// Ping verifies the store is reachable and the API key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.baseURL+"/v1/ping", nil)
	return err
}

func (c *Client) collectionURL(collection string, q url.Values) string {
	u := fmt.Sprintf("%s/v1/collections/%s/documents", c.baseURL, url.PathEscape(collection))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) documentURL(collection, id string) string {
	return fmt.Sprintf("%s/v1/collections/%s/documents/%s",
		c.baseURL, url.PathEscape(collection), url.PathEscape(id))
}

// do runs one request through the rate limiter and circuit breaker and
// returns the response body.
func (c *Client) do(ctx context.Context, method, reqURL string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	return c.cb.Execute(func() ([]byte, error) {
		var body io.Reader = http.NoBody
		if payload != nil {
			body = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", method, err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, reqURL, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			msg := readBodyForError(resp.Body)
			return nil, fmt.Errorf("%s %s: status %d: %s", method, reqURL, resp.StatusCode, msg)
		}

		return io.ReadAll(resp.Body)
	})
}

// readBodyForError reads at most maxErrorBodySize bytes of an error
// response for inclusion in the returned error.
func readBodyForError(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return "(failed to read response body)"
	}
	if len(body) == maxErrorBodySize {
		body = append(body, []byte("... (truncated)")...)
	}
	return string(body)
}

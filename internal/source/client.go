// Package source provides the Socrata paged source adapter and the optional
// dataset catalog.
//
// The adapter implements trips.PageSource: it owns the HTTP session, app
// token, timeouts, and request rate limiting, and surfaces any transport
// failure as an error wrapping ErrTransport, which the ingestion coordinator
// treats as fatal for the current run.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/tripfeed-io/tripfeed/internal/trips"
)

// Sentinel errors for source adapter operations.
var (
	// ErrTransport is returned on network failure or a non-2xx response.
	ErrTransport = errors.New("source transport failure")

	// ErrDecodeFailed is returned when a response body is not valid JSON.
	ErrDecodeFailed = errors.New("source response decode failed")
)

// appTokenHeader carries the optional Socrata application token.
const appTokenHeader = "X-App-Token"

// Client fetches ordered pages of records from a Socrata dataset endpoint.
//
// Requests pass through a token-bucket rate limiter so pagination loops stay
// inside the API's throttling budget even without an app token.
type Client struct {
	baseURL    string
	appToken   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Compile-time assertion: Client implements the domain's source contract.
var _ trips.PageSource = (*Client)(nil)

// NewClient creates a Socrata client for the configured dataset endpoint.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		baseURL:  fmt.Sprintf("https://%s/resource/%s.json", cfg.Domain, cfg.Dataset),
		appToken: cfg.AppToken,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestBurst),
	}, nil
}

// FetchPage implements trips.PageSource.
//
// Builds a SoQL query from the page parameters ($where, $order, $limit,
// $offset) and returns the decoded records. An empty slice means the dataset
// is exhausted for this filter.
func (c *Client) FetchPage(ctx context.Context, query trips.PageQuery) ([]trips.RawRecord, error) {
	params := url.Values{}

	if query.Where != "" {
		params.Set("$where", query.Where)
	}

	if query.Order != "" {
		params.Set("$order", query.Order)
	}

	if query.Limit > 0 {
		params.Set("$limit", strconv.Itoa(query.Limit))
	}

	params.Set("$offset", strconv.Itoa(query.Offset))

	var records []trips.RawRecord
	if err := c.getJSON(ctx, params, &records); err != nil {
		return nil, err
	}

	return records, nil
}

// MaxTimestamp implements trips.PageSource.
//
// Issues a free-form max-aggregate query ($select=max(field)) used only to
// bootstrap a first run. Returns nil when the dataset has no usable value.
func (c *Client) MaxTimestamp(ctx context.Context, field string) (*time.Time, error) {
	params := url.Values{}
	params.Set("$select", fmt.Sprintf("max(%s) as mx", field))

	var rows []map[string]any
	if err := c.getJSON(ctx, params, &rows); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return trips.ParseTimestamp(rows[0]["mx"]), nil
}

// getJSON performs one rate-limited GET against the dataset endpoint and
// decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %w", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", ErrTransport, err)
	}

	if c.appToken != "" {
		req.Header.Set(appTokenHeader, c.appToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		// Drain so the connection can be reused, then fail the run.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		return fmt.Errorf("%w: unexpected status %d from %s", ErrTransport, resp.StatusCode, c.baseURL)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	return nil
}

// Package httpclient is the outbound HTTP client used by source adapters and the HTTP scorer.
// Responses are size-limited and transient failures (network errors, 429, 5xx) are retried
// with exponential backoff.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// DefaultMaxTries bounds attempts per request, including the first
	DefaultMaxTries = 3

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "integration-sync/1.0"
)

// Client performs JSON HTTP calls against a source API
type Client interface {
	// Get performs a GET and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)
	// PostJSON marshals body, POSTs it and returns the response body
	PostJSON(ctx context.Context, url string, body any) ([]byte, error)
	// Delete performs a DELETE
	Delete(ctx context.Context, url string) error
}

// HeaderFunc supplies per-request headers, e.g. credentials read at call time
type HeaderFunc func(h http.Header)

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithHTTPClient replaces the underlying http.Client, e.g. with an OAuth2 client
func WithHTTPClient(c *http.Client) Option {
	return func(d *DefaultClient) {
		d.client = c
	}
}

// WithTimeout sets the overall timeout of the underlying http.Client
func WithTimeout(timeout time.Duration) Option {
	return func(d *DefaultClient) {
		if timeout > 0 {
			d.client.Timeout = timeout
		}
	}
}

// WithHeaders adds headers to every request
func WithHeaders(fn HeaderFunc) Option {
	return func(d *DefaultClient) {
		d.headers = append(d.headers, fn)
	}
}

// WithRetry sets the attempt limit and the first backoff interval
func WithRetry(maxTries uint, initialInterval time.Duration) Option {
	return func(d *DefaultClient) {
		d.maxTries = maxTries
		d.initialInterval = initialInterval
	}
}

// DefaultClient is the default Client implementation
type DefaultClient struct {
	client          *http.Client
	headers         []HeaderFunc
	maxTries        uint
	initialInterval time.Duration
}

var _ Client = (*DefaultClient)(nil)

// NewDefaultClient creates a client with DefaultTimeout and DefaultMaxTries unless overridden
func NewDefaultClient(opts ...Option) *DefaultClient {
	d := &DefaultClient{
		client:          &http.Client{Timeout: DefaultTimeout},
		maxTries:        DefaultMaxTries,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// PostJSON performs an HTTP POST request with a JSON body
func (c *DefaultClient) PostJSON(ctx context.Context, url string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, data)
}

// Delete performs an HTTP DELETE request
func (c *DefaultClient) Delete(ctx context.Context, url string) error {
	_, err := c.do(ctx, http.MethodDelete, url, nil)
	return err
}

func (c *DefaultClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval

	return backoff.Retry(ctx, func() ([]byte, error) {
		return c.attempt(ctx, method, url, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
}

// attempt performs one request. Errors that must not be retried are wrapped as permanent.
func (c *DefaultClient) attempt(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, fn := range c.headers {
		fn(req.Header)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := NewHTTPError(resp.StatusCode, url, resp.Status)
		if !retryable(resp.StatusCode) {
			return nil, backoff.Permanent(httpErr)
		}
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			return nil, errors.Join(httpErr, backoff.RetryAfter(secs))
		}
		return nil, httpErr
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes",
			resp.ContentLength, MaxResponseSize))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > MaxResponseSize {
		return nil, backoff.Permanent(fmt.Errorf("response size exceeds maximum allowed size of %d bytes", MaxResponseSize))
	}
	return data, nil
}

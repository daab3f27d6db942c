// Package net provides the HTTP transport used to talk to anchor servers.
//
// The Client offers configurable timeout, optional in-client retries with
// exponential backoff, a per-host circuit breaker, a per-host rate limiter and
// Prometheus metrics. Transport failures are classified into the client error
// taxonomy: UNREACHABLE (DNS, TLS, connection, 5xx), TIMEOUT and CANCELLED.
// Retries default to zero because retry policy belongs to the caller.
//
// Example usage:
//
//	client := net.NewClient(
//	    net.WithTimeout(20*time.Second),
//	    net.WithRateLimit(5, 10),
//	)
//	resp, err := client.Get(ctx, "https://testanchor.stellar.org/.well-known/stellar.toml")
package net

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/marwen-abid/anchor-remit-go/core/logging"
	"github.com/marwen-abid/anchor-remit-go/errors"
)

// Default configuration values
const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 0
	defaultBackoff      = 500 * time.Millisecond
	defaultFailureLimit = 5
	defaultResetTimeout = 60 * time.Second
	maxErrorBodySize    = 64 * 1024
)

// RequestIDHeader carries the caller's correlation id to the anchor.
const RequestIDHeader = "X-Request-ID"

// Client is an HTTP client with retry, timeout, rate limiting and circuit breaker capabilities.
type Client struct {
	httpClient   *http.Client
	maxRetries   int
	retryBackoff time.Duration
	failureLimit int
	resetTimeout time.Duration
	limiter      *hostLimiter
	metrics      *Metrics
	logger       *slog.Logger

	breakersMu sync.Mutex
	breakers   map[string]*circuitBreaker
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP client timeout (default: 30s).
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying http.Client, e.g. an authenticated
// transport supplied by the surrounding system or an httptest client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxRetries sets the maximum number of in-client retry attempts (default: 0).
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryBackoff sets the base duration for exponential backoff (default: 500ms).
func WithRetryBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryBackoff = d
	}
}

// WithCircuitBreaker sets how many consecutive failures open a host's circuit
// and how long it stays open.
func WithCircuitBreaker(failureLimit int, resetTimeout time.Duration) ClientOption {
	return func(c *Client) {
		c.failureLimit = failureLimit
		c.resetTimeout = resetTimeout
	}
}

// WithRateLimit caps outbound requests per host. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = newHostLimiter(rps, burst)
	}
}

// WithMetrics records request metrics on m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger used for transport diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts ...ClientOption) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxRetries:   defaultMaxRetries,
		retryBackoff: defaultBackoff,
		failureLimit: defaultFailureLimit,
		resetTimeout: defaultResetTimeout,
		logger:       logging.Discard(),
		breakers:     make(map[string]*circuitBreaker),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Response wraps an HTTP response with convenience methods.
type Response struct {
	*http.Response
}

// DecodeJSON decodes the response body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// ErrorBody reads a bounded prefix of the body for error reporting.
func (r *Response) ErrorBody() string {
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBodySize))
	return strings.TrimSpace(string(body))
}

// AnchorError extracts the SEP "error" (or "type") message from a JSON error
// body, falling back to the raw body.
func (r *Response) AnchorError() (message string, errType string) {
	raw := r.ErrorBody()
	var body struct {
		Error string `json:"error"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &body); err == nil {
		if body.Error != "" {
			return body.Error, body.Type
		}
		if body.Type != "" {
			return body.Type, body.Type
		}
	}
	if raw == "" {
		raw = r.Status
	}
	return raw, ""
}

// RequestOption customises a single request.
type RequestOption func(*http.Request)

// WithBearer attaches a bearer token.
func WithBearer(token string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// WithHeader sets an arbitrary request header.
func WithHeader(key, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

type requestIDKey struct{}

// ContextWithRequestID attaches a correlation id that is sent with every request made under ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the correlation id carried by ctx, if any.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Get performs an HTTP GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewTransportError(errors.CONFIG_INVALID, "failed to create GET request", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, opts)
}

// Post performs an HTTP POST request with a JSON body.
func (c *Client) Post(ctx context.Context, url string, body io.Reader, opts ...RequestOption) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, errors.NewTransportError(errors.CONFIG_INVALID, "failed to create POST request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, opts)
}

// PostJSON marshals payload and POSTs it.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, opts ...RequestOption) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.NewTransportError(errors.CONFIG_INVALID, "failed to marshal request payload", err)
	}
	return c.Post(ctx, url, bytes.NewReader(body), opts...)
}

// do executes the HTTP request with retry logic and circuit breaker.
func (c *Client) do(req *http.Request, opts []RequestOption) (*Response, error) {
	for _, opt := range opts {
		opt(req)
	}
	ctx := req.Context()
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	host := req.URL.Host
	breaker := c.breaker(host)
	if !breaker.allowRequest() {
		c.metrics.observe(host, req.Method, "circuit_open", 0)
		return nil, errors.NewTransportError(
			errors.CIRCUIT_OPEN,
			fmt.Sprintf("circuit breaker is open for %s", host),
			nil,
		)
	}

	// Buffer the request body so it can be replayed on retries
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, errors.NewTransportError(errors.CONFIG_INVALID, "failed to read request body", err)
		}
		req.Body.Close()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, classify(ctx, req, err)
		}
		if err := c.limiter.wait(ctx, host); err != nil {
			if ctx.Err() != nil {
				return nil, classify(ctx, req, err)
			}
			return nil, errors.NewTransportError(errors.TIMEOUT, fmt.Sprintf("rate limit wait for %s exceeds deadline", host), err)
		}

		// Reset body for each attempt
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			lastErr = err
			c.metrics.observe(host, req.Method, "error", elapsed)
			if ctx.Err() != nil {
				return nil, classify(ctx, req, err)
			}
			if attempt < c.maxRetries {
				c.logger.Debug("request failed, retrying", "host", host, "attempt", attempt+1, "error", err)
				if werr := c.backoff(ctx, attempt); werr != nil {
					return nil, classify(ctx, req, werr)
				}
				continue
			}
			breaker.recordFailure()
			return nil, classify(ctx, req, err)
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			c.metrics.observe(host, req.Method, "server_error", elapsed)
			lastErr = fmt.Errorf("server error: %s", resp.Status)
			if attempt < c.maxRetries {
				c.logger.Debug("server error, retrying", "host", host, "attempt", attempt+1, "status", resp.StatusCode)
				if werr := c.backoff(ctx, attempt); werr != nil {
					return nil, classify(ctx, req, werr)
				}
				continue
			}
			breaker.recordFailure()
			return nil, errors.NewTransportError(
				errors.UNREACHABLE,
				fmt.Sprintf("%s %s returned %s after %d attempts", req.Method, redactURL(req.URL), resp.Status, attempt+1),
				lastErr,
			).With("status_code", resp.StatusCode)
		}

		// Success or client error - don't retry
		outcome := "ok"
		if resp.StatusCode >= 400 {
			outcome = "client_error"
		}
		c.metrics.observe(host, req.Method, outcome, elapsed)
		breaker.recordSuccess()
		return &Response{resp}, nil
	}

	// Should not reach here
	return nil, errors.NewTransportError(
		errors.UNREACHABLE,
		"unexpected retry exhaustion",
		lastErr,
	)
}

// backoff waits backoff * 2^attempt or until ctx is done.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	duration := c.retryBackoff * (1 << uint(attempt))
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) breaker(host string) *circuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	cb, ok := c.breakers[host]
	if !ok {
		cb = &circuitBreaker{
			failureLimit: c.failureLimit,
			resetTimeout: c.resetTimeout,
		}
		c.breakers[host] = cb
	}
	return cb
}

// classify maps a transport failure to TIMEOUT, CANCELLED or UNREACHABLE.
func classify(ctx context.Context, req *http.Request, err error) error {
	target := fmt.Sprintf("%s %s", req.Method, redactURL(req.URL))
	switch {
	case stderrors.Is(ctx.Err(), context.Canceled) || stderrors.Is(err, context.Canceled):
		return errors.NewTransportError(errors.CANCELLED, target+" cancelled", err)
	case stderrors.Is(ctx.Err(), context.DeadlineExceeded) || stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTransportError(errors.TIMEOUT, target+" timed out", err)
	}
	var uerr *url.Error
	if stderrors.As(err, &uerr) && uerr.Timeout() {
		return errors.NewTransportError(errors.TIMEOUT, target+" timed out", err)
	}
	return errors.NewTransportError(errors.UNREACHABLE, target+" failed", err)
}

// redactURL drops the query string, which may carry account identifiers.
func redactURL(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	return clean.String()
}

// hostLimiter applies a token bucket per host.
type hostLimiter struct {
	limit  rate.Limit
	burst  int
	mu     sync.Mutex
	byHost map[string]*rate.Limiter
}

func newHostLimiter(rps float64, burst int) *hostLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &hostLimiter{
		limit:  rate.Limit(rps),
		burst:  burst,
		byHost: make(map[string]*rate.Limiter),
	}
}

func (l *hostLimiter) wait(ctx context.Context, host string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.byHost[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byHost[host] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}

// circuitBreaker implements a simple circuit breaker pattern.
type circuitBreaker struct {
	mu           sync.RWMutex
	failures     int
	lastFailTime time.Time
	failureLimit int
	resetTimeout time.Duration
	state        circuitState
}

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
)

// allowRequest checks if the circuit breaker allows the request to proceed.
func (cb *circuitBreaker) allowRequest() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	if cb.state == stateClosed {
		return true
	}

	// Half-open once the reset timeout has elapsed
	return time.Since(cb.lastFailTime) > cb.resetTimeout
}

// recordSuccess records a successful request and closes the circuit.
func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = stateClosed
}

// recordFailure records a failed request and may open the circuit.
func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailTime = time.Now()

	if cb.failureLimit > 0 && cb.failures >= cb.failureLimit {
		cb.state = stateOpen
	}
}

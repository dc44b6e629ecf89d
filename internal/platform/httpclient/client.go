// Package httpclient wraps net/http with logging and retries driven by
// pkg/retry. It serves the http.request task handler and the notifier.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdhttp "net/http"
	"strconv"
	"time"

	"cronagent/pkg/retry"
)

// Client wraps http.Client with logging and retries.
type Client struct {
	hc            *stdhttp.Client
	log           *slog.Logger
	policy        retry.Policy
	headers       map[string]string
	retryMethods  map[string]struct{}
	maxReplayBody int64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetries allows n extra attempts with exponential backoff from base.
func WithRetries(n int, base time.Duration) Option {
	return func(c *Client) {
		c.policy.MaxAttempts = n + 1
		if base > 0 {
			c.policy.InitialDelay = base
		}
	}
}

// WithPolicy replaces the retry policy. Retryable is always overridden.
func WithPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			c.headers[k] = v
		}
	}
}

// WithTransport sets a custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// WithRetryMethods adds methods allowed for retries.
func WithRetryMethods(methods ...string) Option {
	return func(c *Client) {
		for _, m := range methods {
			c.retryMethods[m] = struct{}{}
		}
	}
}

// WithMaxReplayBodySize limits the buffered body kept for retries (0 disables the limit).
func WithMaxReplayBodySize(n int64) Option {
	return func(c *Client) { c.maxReplayBody = n }
}

// ErrReplayBodyTooLarge indicates the request body exceeds the replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// StatusError is a retryable response status.
type StatusError struct {
	Method string
	URL    string
	Status int
	After  time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
}

// RetryAfter implements retry.Delayer.
func (e *StatusError) RetryAfter() time.Duration { return e.After }

// New creates a configured Client. Without WithRetries every request is tried once.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConnsPerHost = 16
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 30 * time.Second

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = 1
	policy.InitialDelay = 200 * time.Millisecond
	policy.MaxDelay = 10 * time.Second

	c := &Client{
		hc:            &stdhttp.Client{Timeout: 30 * time.Second, Transport: tr},
		log:           slog.Default(),
		policy:        policy,
		headers:       map[string]string{},
		maxReplayBody: 1 << 20,
		retryMethods: map[string]struct{}{
			stdhttp.MethodGet:     {},
			stdhttp.MethodHead:    {},
			stdhttp.MethodOptions: {},
			stdhttp.MethodPut:     {},
			stdhttp.MethodDelete:  {},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// retryAfter parses a Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		return max(time.Duration(secs)*time.Second, 0)
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

func retryableStatus(code int) bool {
	switch code {
	case stdhttp.StatusRequestTimeout, stdhttp.StatusTooEarly, stdhttp.StatusTooManyRequests:
		return true
	}
	return code >= 500
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return true
	}
	return retry.DefaultRetryable(err)
}

// bufferBody makes the request body replayable.
func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.GetBody != nil {
		return nil
	}
	defer req.Body.Close()
	r := io.Reader(req.Body)
	if c.maxReplayBody > 0 {
		r = io.LimitReader(req.Body, c.maxReplayBody+1)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if c.maxReplayBody > 0 && int64(len(body)) > c.maxReplayBody {
		return ErrReplayBodyTooLarge
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Body, _ = req.GetBody()
	return nil
}

// Do sends the request. A retryable status on the final attempt is returned
// to the caller as a plain response.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}

	policy := c.policy
	_, idempotent := c.retryMethods[req.Method]
	if !idempotent && req.Header.Get("Idempotency-Key") == "" {
		policy.MaxAttempts = 1
	}
	policy.Retryable = isRetryable

	u := req.URL.Redacted()
	attempt := 0
	var resp *stdhttp.Response
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempt++
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if r.GetBody != nil {
			body, err := r.GetBody()
			if err != nil {
				return err
			}
			r.Body = body
		}

		start := time.Now()
		res, err := c.hc.Do(r)
		if err != nil {
			c.log.Warn("http request error", "method", r.Method, "url", u, "attempt", attempt, "error", err)
			return err
		}
		if retryableStatus(res.StatusCode) && attempt < policy.MaxAttempts {
			drainAndClose(res.Body)
			c.log.Warn("http request status", "method", r.Method, "url", u, "attempt", attempt, "status", res.StatusCode)
			return &StatusError{Method: r.Method, URL: u, Status: res.StatusCode, After: retryAfter(res.Header.Get("Retry-After"))}
		}
		c.log.Debug("http request", "method", r.Method, "url", u, "status", res.StatusCode, "dur", time.Since(start), "attempt", attempt)
		resp = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Package httpcall implements the http.request task handler.
package httpcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cronagent/internal/executor"
	"cronagent/internal/platform/httpclient"
)

// Name is the registry key.
const Name = "http.request"

// maxBody bounds the response body kept for diagnostics.
const maxBody = 4 << 10

// Params are the task constructor parameters.
type Params struct {
	// Timeout in seconds for one request; 0 keeps the client default.
	Timeout int               `json:"timeout"`
	Headers map[string]string `json:"headers"`
}

// Request is the per-instance argument.
type Request struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body"`
	// ExpectStatus is the required status; 0 accepts any 2xx or 3xx.
	ExpectStatus int `json:"expect_status"`
}

// Handler performs one HTTP request per invocation.
type Handler struct {
	client  *httpclient.Client
	timeout time.Duration
	headers map[string]string
}

// Factory builds handlers sharing client.
func Factory(client *httpclient.Client) executor.Factory {
	return func(raw json.RawMessage) (executor.TaskHandler, error) {
		var p Params
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, fmt.Errorf("http.request parameters: %w", err)
			}
		}
		if p.Timeout < 0 {
			return nil, fmt.Errorf("http.request parameters: negative timeout")
		}
		return &Handler{client: client, timeout: time.Duration(p.Timeout) * time.Second, headers: p.Headers}, nil
	}
}

// Invoke implements executor.TaskHandler.
func (h *Handler) Invoke(ctx context.Context, args json.RawMessage) (any, error) {
	var req Request
	if len(args) == 0 {
		return nil, fmt.Errorf("url is required")
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return nil, fmt.Errorf("invalid request arguments: %w", err)
	}
	if req.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(bodyBytes(req.Body))
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range h.headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(ctx, httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))

	if !accepted(resp.StatusCode, req.ExpectStatus) {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, req.URL, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return true, nil
}

// bodyBytes sends JSON strings as their raw text and anything else as JSON.
func bodyBytes(raw json.RawMessage) []byte {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}

func accepted(status, expect int) bool {
	if expect != 0 {
		return status == expect
	}
	return status >= 200 && status < 400
}

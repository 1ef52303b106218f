// Package schedclient is the Scheduler Client: a thin typed HTTP RPC
// client to the external scheduler, with an error taxonomy the Event
// Processor branches on.
package schedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskflowd/taskflowd/internal/observability"
)

// UnavailableError is a transport-level failure: DNS, connect, read
// timeout. It carries enough context for the Event Processor's log
// messages.
type UnavailableError struct {
	URL   string
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("scheduler unavailable at %s: %v", e.URL, e.Cause)
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// ResponseError is an HTTP response with status >= 400.
type ResponseError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("scheduler returned %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether this status code is a permanent rejection
// (403/404) as opposed to a transient one.
func (e *ResponseError) Permanent() bool {
	return e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusNotFound
}

// SubmitRequest is the payload for POST {scheduler_base}/task.
type SubmitRequest struct {
	TaskID     string                 `json:"task_id"`
	Service    string                 `json:"service"`
	UserID     string                 `json:"user_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// CancelRequest is the payload for POST {scheduler_base}/cancel.
type CancelRequest struct {
	TaskID  string `json:"task_id"`
	Service string `json:"service"`
	UserID  string `json:"user_id"`
}

// Client holds pooled connections for its lifetime and is
// disposed at shutdown via the composition root's http.Client idle-conn
// teardown.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	taskEndpoint   string
	cancelEndpoint string
}

// Config configures endpoint composition.
type Config struct {
	BaseURL        string
	TaskEndpoint   string
	CancelEndpoint string
	RequestTimeout time.Duration
}

// New constructs a Client. Endpoints default to "/task" and "/cancel" when
// unset.
func New(cfg Config) *Client {
	if cfg.TaskEndpoint == "" {
		cfg.TaskEndpoint = "/task"
	}
	if cfg.CancelEndpoint == "" {
		cfg.CancelEndpoint = "/cancel"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		httpClient:     &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:        cfg.BaseURL,
		taskEndpoint:   cfg.TaskEndpoint,
		cancelEndpoint: cfg.CancelEndpoint,
	}
}

// Close releases pooled idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// SubmitTask posts to {scheduler_base}/task.
func (c *Client) SubmitTask(ctx context.Context, req SubmitRequest) error {
	return c.post(ctx, "submit_task", c.baseURL+c.taskEndpoint, req)
}

// CancelTask posts to {scheduler_base}/cancel.
func (c *Client) CancelTask(ctx context.Context, req CancelRequest) error {
	return c.post(ctx, "cancel_task", c.baseURL+c.cancelEndpoint, req)
}

func (c *Client) post(ctx context.Context, operation, url string, payload interface{}) error {
	start := time.Now()
	defer func() {
		observability.SchedulerCallLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("schedclient: marshal %s payload: %w", operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("schedclient: build %s request: %w", operation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.SchedulerCallErrors.WithLabelValues(operation, "unavailable").Inc()
		return &UnavailableError{URL: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	observability.SchedulerCallErrors.WithLabelValues(operation, "response").Inc()
	return &ResponseError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
}

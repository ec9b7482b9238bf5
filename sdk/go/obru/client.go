// Package obru is a Go client for the obru REST API.
package obru

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultHTTPTimeout bounds each request made by clients created without
// WithTimeout. Model calls can be slow, so it is generous.
const DefaultHTTPTimeout = 2 * time.Minute

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("obru api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("obru api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client wraps the HTTP interactions with the obru REST API.
type Client struct {
	http *resty.Client
}

// Option configures a Client.
type Option func(*resty.Client)

// WithAPIKey sends the key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *resty.Client) {
		if key != "" {
			c.SetAuthToken(key)
		}
	}
}

// WithTimeout overrides DefaultHTTPTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *resty.Client) { c.SetTimeout(timeout) }
}

// WithHTTPClient routes requests through the given http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *resty.Client) {
		if hc != nil && hc.Transport != nil {
			c.SetTransport(hc.Transport)
		}
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(DefaultHTTPTimeout).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		if opt != nil {
			opt(rc)
		}
	}
	return &Client{http: rc}
}

// Chat sends input to a session. An empty sessionID starts a new session;
// the returned reply carries its id.
func (c *Client) Chat(ctx context.Context, sessionID, input string) (ChatReply, error) {
	var out ChatReply
	body := map[string]string{"input": input}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	err := c.do(c.request(ctx).SetBody(body).SetResult(&out), http.MethodPost, "/api/v1/chat")
	return out, err
}

// Messages returns the transcript of a session.
func (c *Client) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	var out []Message
	err := c.do(c.request(ctx).SetPathParam("id", sessionID).SetResult(&out),
		http.MethodGet, "/api/v1/sessions/{id}/messages")
	return out, err
}

// Reset truncates a session to its system message.
func (c *Client) Reset(ctx context.Context, sessionID string) error {
	return c.do(c.request(ctx).SetPathParam("id", sessionID), http.MethodPost, "/api/v1/sessions/{id}/reset")
}

// UpdatePrompt replaces the base prompt of a session.
func (c *Client) UpdatePrompt(ctx context.Context, sessionID, prompt string) error {
	return c.do(c.request(ctx).SetPathParam("id", sessionID).SetBody(map[string]string{"prompt": prompt}),
		http.MethodPut, "/api/v1/sessions/{id}/prompt")
}

// DeleteSession discards a session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.do(c.request(ctx).SetPathParam("id", sessionID), http.MethodDelete, "/api/v1/sessions/{id}")
}

// RunWorkflow executes a workflow synchronously. An empty sessionID runs it
// in a throwaway session.
func (c *Client) RunWorkflow(ctx context.Context, name, sessionID, input string) (WorkflowResult, error) {
	var out WorkflowResult
	body := map[string]any{"input": input}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	err := c.do(c.request(ctx).SetPathParam("name", name).SetBody(body).SetResult(&out),
		http.MethodPost, "/api/v1/workflows/{name}")
	return out, err
}

// SubmitTask queues a background task.
func (c *Client) SubmitTask(ctx context.Context, req TaskRequest) (*Task, error) {
	var out Task
	if err := c.do(c.request(ctx).SetBody(req).SetResult(&out), http.MethodPost, "/api/v1/tasks"); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := c.do(c.request(ctx).SetPathParam("id", id).SetResult(&out), http.MethodGet, "/api/v1/tasks/{id}"); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks returns tasks matching the filter, most recently updated first
// unless Ascending is set.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	req := c.request(ctx)
	if filter.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(filter.Offset))
	}
	if len(filter.Statuses) > 0 {
		req.SetQueryParam("status", strings.Join(filter.Statuses, ","))
	}
	if len(filter.Kinds) > 0 {
		req.SetQueryParam("kind", strings.Join(filter.Kinds, ","))
	}
	if filter.SessionID != "" {
		req.SetQueryParam("session_id", filter.SessionID)
	}
	if filter.Query != "" {
		req.SetQueryParam("q", filter.Query)
	}
	if filter.Ascending {
		req.SetQueryParam("order", "asc")
	}
	var out []Task
	err := c.do(req.SetResult(&out), http.MethodGet, "/api/v1/tasks")
	return out, err
}

// ListTools returns the registered tools.
func (c *Client) ListTools(ctx context.Context) ([]CatalogEntry, error) {
	var out []CatalogEntry
	err := c.do(c.request(ctx).SetResult(&out), http.MethodGet, "/api/v1/tools")
	return out, err
}

// ListWorkflows returns the registered workflows.
func (c *Client) ListWorkflows(ctx context.Context) ([]CatalogEntry, error) {
	var out []CatalogEntry
	err := c.do(c.request(ctx).SetResult(&out), http.MethodGet, "/api/v1/workflows")
	return out, err
}

// WaitForTask polls a task until it reaches a final state or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&APIError{})
}

func (c *Client) do(req *resty.Request, method, path string) error {
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	apiErr, _ := resp.Error().(*APIError)
	if apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = resp.StatusCode()
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return apiErr
}

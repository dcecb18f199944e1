// Package chainpilot provides a thin Go client for the ChainPilot REST API.
// It mirrors the wire types of the server without importing its internals,
// so it can be vendored into other projects as-is.
package chainpilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultTimeout is used by clients created without a custom timeout.
const DefaultTimeout = 30 * time.Second

// APIKeyHeader carries the shared access key.
const APIKeyHeader = "X-API-Key"

// AskRequest is the payload for a synchronous question.
type AskRequest struct {
	Question string `json:"question"`
	Chain    string `json:"chain,omitempty"`
}

// StepRecord is one executed tool call inside an answer.
type StepRecord struct {
	ToolName string `json:"tool_name"`
	Data     string `json:"data"`
}

// Answer is the final outcome of an agent session.
type Answer struct {
	Output       string       `json:"output"`
	Steps        []StepRecord `json:"steps,omitempty"`
	FinalComment string       `json:"final_comment,omitempty"`
	Failed       bool         `json:"failed"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	Turns        int          `json:"turns"`
}

// TaskSubmission is the payload for creating an asynchronous task.
type TaskSubmission struct {
	ID       string         `json:"id,omitempty"`
	Question string         `json:"question"`
	Chain    string         `json:"chain,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ExecutionResult holds the recorded outcome of a finished task.
type ExecutionResult struct {
	Output       string `json:"output"`
	FinalComment string `json:"final_comment,omitempty"`
	Steps        []struct {
		Tool string `json:"tool"`
		Data string `json:"data"`
	} `json:"steps,omitempty"`
	Turns int `json:"turns,omitempty"`
}

// Task mirrors the server side task record.
type Task struct {
	ID         string           `json:"id"`
	Question   string           `json:"question"`
	Chain      string           `json:"chain"`
	Account    string           `json:"account"`
	Status     string           `json:"status"`
	Attempts   int              `json:"attempts"`
	MaxRetries int              `json:"max_retries"`
	LastError  string           `json:"last_error,omitempty"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Result     *ExecutionResult `json:"result,omitempty"`
	CreatedAt  int64            `json:"created_at"`
	UpdatedAt  int64            `json:"updated_at"`
}

// Terminal task statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Stats aggregates task counts by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("chainpilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("chainpilot api error (%d): %s", e.StatusCode, e.Message)
}

// Client wraps the HTTP interactions with the ChainPilot REST API.
type Client struct {
	http *resty.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithAPIKey sets the shared access key sent on every request.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.http.SetHeader(APIKeyHeader, key)
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.http.SetTimeout(timeout)
		}
	}
}

// NewClient instantiates a client for the ChainPilot API.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil || strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	c := &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(DefaultTimeout).
			SetHeader("Content-Type", "application/json"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Ask runs a question synchronously and returns the agent's answer.
func (c *Client) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	var answer Answer
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&answer).
		Post("/api/v1/ask")
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return &answer, nil
}

// SubmitTask creates a new asynchronous task.
func (c *Client) SubmitTask(ctx context.Context, submission TaskSubmission) (*Task, error) {
	var created Task
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(submission).
		SetResult(&created).
		Post("/api/v1/tasks")
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return &created, nil
}

// GetTask fetches task details by identifier.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, errors.New("task id is required")
	}
	var found Task
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&found).
		Get("/api/v1/tasks/" + url.PathEscape(taskID))
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return &found, nil
}

// ListTasks returns recent tasks. Zero values leave the server defaults.
func (c *Client) ListTasks(ctx context.Context, limit, offset int, statuses ...string) ([]*Task, error) {
	req := c.http.R().SetContext(ctx)
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(offset))
	}
	if len(statuses) > 0 {
		req.SetQueryParam("status", strings.Join(statuses, ","))
	}
	var results []*Task
	resp, err := req.SetResult(&results).Get("/api/v1/tasks")
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return results, nil
}

// Stats returns aggregate task counts.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&stats).
		Get("/api/v1/stats")
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	return &stats, nil
}

// WaitForTask polls the task until it reaches a terminal status or ctx ends.
func (c *Client) WaitForTask(ctx context.Context, taskID string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		found, err := c.GetTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if found.Status == StatusSucceeded || found.Status == StatusFailed {
			return found, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func checkStatus(resp *resty.Response) error {
	if resp.StatusCode() < 400 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode()}
	if body := resp.Body(); len(body) > 0 {
		_ = json.Unmarshal(body, apiErr)
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(resp.Body()))
	}
	return apiErr
}

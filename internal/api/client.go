package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// Client talks to a running daemon's control API.
type Client struct {
	resty *resty.Client
}

type errorBody struct {
	Error string `json:"error"`
}

// Error is a non-2xx answer from the daemon.
type Error struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.Status)
}

// NewClient creates a client for the daemon listening on addr (host:port).
func NewClient(addr string) *Client {
	r := resty.New().
		SetBaseURL("http://"+addr).
		SetTimeout(3*time.Second).
		SetHeader("User-Agent", "appfreeze-cli")
	return &Client{resty: r}
}

// Status fetches the scheduler snapshot.
func (c *Client) Status(ctx context.Context) (domain.Status, error) {
	var out domain.Status
	err := c.do(ctx, "GET", "/status", nil, &out)
	return out, err
}

// Rules fetches the active rules.
func (c *Client) Rules(ctx context.Context) ([]RuleDTO, error) {
	var out struct {
		Rules []RuleDTO `json:"rules"`
	}
	err := c.do(ctx, "GET", "/rules", nil, &out)
	return out.Rules, err
}

// Toggle flips the flag, or sets it when enabled is non-nil. It returns the new value.
func (c *Client) Toggle(ctx context.Context, enabled *bool) (bool, error) {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	var body interface{}
	if enabled != nil {
		body = EnabledRequest{Enabled: enabled}
	}
	err := c.do(ctx, "POST", "/toggle", body, &out)
	return out.Enabled, err
}

// Reload asks the daemon to re-read its rules file and returns the new rule count.
func (c *Client) Reload(ctx context.Context) (int, error) {
	var out struct {
		RuleCount int `json:"rule_count"`
	}
	err := c.do(ctx, "POST", "/reload", nil, &out)
	return out.RuleCount, err
}

// ResumeAll resumes every suspended or pending pid.
func (c *Client) ResumeAll(ctx context.Context) ([]int, error) {
	var out struct {
		Resumed []int `json:"resumed"`
	}
	err := c.do(ctx, "POST", "/resume-all", nil, &out)
	return out.Resumed, err
}

func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var apiErr errorBody
	req := c.resty.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &Error{Method: method, Path: path, Status: resp.StatusCode(), Message: apiErr.Error}
	}
	return nil
}

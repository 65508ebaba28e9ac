// Package client is the HTTP client for a running toolhost daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to the toolhost control API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8870/toolhost",
		Timeout: 10 * time.Second,
	}
}

// New creates a toolhost API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable reports whether the daemon answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Start launches a supervised tool. Started is false when the id is
// already supervised.
func (c *Client) Start(ctx context.Context, spec ProcessSpec) (started bool, err error) {
	body, err := json.Marshal(spec)
	if err != nil {
		return false, fmt.Errorf("marshal spec: %w", err)
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/start", body)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusConflict:
		return false, nil
	default:
		return false, c.apiError(resp)
	}
}

// Stop terminates a supervised tool. Zero grace uses the daemon's
// configured grace for the process.
func (c *Client) Stop(ctx context.Context, id string, grace time.Duration) error {
	q := url.Values{"id": {id}}
	if grace > 0 {
		q.Set("grace", grace.String())
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/stop?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	return nil
}

// Status fetches the status of one tool.
func (c *Client) Status(ctx context.Context, id string) (ProcessStatus, error) {
	var st ProcessStatus
	q := url.Values{"id": {id}}
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/status?"+q.Encode(), nil)
	if err != nil {
		return st, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return st, c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}

// StatusAll fetches the status of every supervised tool.
func (c *Client) StatusAll(ctx context.Context) ([]ProcessStatus, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}
	var sts []ProcessStatus
	if err := json.NewDecoder(resp.Body).Decode(&sts); err != nil {
		return nil, fmt.Errorf("decode statuses: %w", err)
	}
	return sts, nil
}

// Logs tails up to n lines of a tool's log file.
func (c *Client) Logs(ctx context.Context, id string, n int) (LogLines, error) {
	var ll LogLines
	q := url.Values{"id": {id}}
	if n > 0 {
		q.Set("lines", strconv.Itoa(n))
	}
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/logs?"+q.Encode(), nil)
	if err != nil {
		return ll, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return ll, c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&ll); err != nil {
		return ll, fmt.Errorf("decode logs: %w", err)
	}
	return ll, nil
}

// Run executes a one-shot tool synchronously and returns its output.
// The HTTP timeout is widened to cover the run's own timeout.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	var res RunResult
	body, err := json.Marshal(req)
	if err != nil {
		return res, fmt.Errorf("marshal run request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run", bytes.NewReader(body))
	if err != nil {
		return res, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	// one-shot runs can far outlive the default client timeout
	runClient := &http.Client{}
	resp, err := runClient.Do(httpReq)
	if err != nil {
		return res, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusGatewayTimeout:
		if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
			return res, fmt.Errorf("decode run result: %w", err)
		}
		if res.Error != "" {
			return res, fmt.Errorf("run failed: %s", res.Error)
		}
		return res, nil
	default:
		return res, c.apiError(resp)
	}
}

// Shutdown asks the daemon to tear itself down.
func (c *Client) Shutdown(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/shutdown", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var rd *bytes.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "url", url, "error", err)
		return nil, fmt.Errorf("do request: %w", err)
	}
	return resp, nil
}

func (c *Client) apiError(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("api error: %s", er.Error)
}

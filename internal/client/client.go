// Package client talks to the crawler backend over its /api/crawler HTTP endpoints.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nadmax/crawlctl/internal/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

// APIError is returned for a non-2xx response or a body with success=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("crawler API returned status %d", e.StatusCode)
	}

	return fmt.Sprintf("crawler API returned status %d: %s", e.StatusCode, e.Message)
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zerolog.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type StartRequest struct {
	City          string   `json:"city"`
	CityName      string   `json:"city_name,omitempty"`
	Categories    []string `json:"categories"`
	CategoryNames []string `json:"category_names,omitempty"`
	StartPage     int      `json:"start_page"`
	EndPage       int      `json:"end_page"`
	Priority      *int     `json:"priority,omitempty"`
}

type QueueStatus struct {
	Pending int `json:"pending"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Total   int `json:"total"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	TaskID  string          `json:"task_id"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid crawler base URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With().Str("component", "crawler_client").Logger(),
	}, nil
}

// GetStatus fetches the current snapshot of a task. Unknown statuses are rejected.
func (c *Client) GetStatus(ctx context.Context, taskID string) (*task.Snapshot, error) {
	env, err := c.do(ctx, http.MethodGet, "/status/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("status response for task %s has no data", taskID)
	}

	var snap task.Snapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode status of task %s: %w", taskID, err)
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if snap.TaskID == "" {
		snap.TaskID = taskID
	}

	normalized := snap.Normalize()
	return &normalized, nil
}

// CancelTask asks the backend to cancel a task and returns its confirmation message.
func (c *Client) CancelTask(ctx context.Context, taskID string) (string, error) {
	env, err := c.do(ctx, http.MethodPost, "/cancel/"+url.PathEscape(taskID), nil)
	if err != nil {
		return "", err
	}

	return env.Message, nil
}

func (c *Client) StartCrawl(ctx context.Context, req StartRequest) (string, error) {
	env, err := c.do(ctx, http.MethodPost, "/start", req)
	if err != nil {
		return "", err
	}
	if env.TaskID == "" {
		return "", fmt.Errorf("start response has no task_id")
	}

	return env.TaskID, nil
}

func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	env, err := c.do(ctx, http.MethodGet, "/queue-status", nil)
	if err != nil {
		return QueueStatus{}, err
	}

	var status QueueStatus
	if err := json.Unmarshal(env.Data, &status); err != nil {
		return QueueStatus{}, fmt.Errorf("failed to decode queue status: %w", err)
	}

	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send %s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("failed to close response body")
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response of %s %s (status %s): %w", method, path, resp.Status, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response of %s %s: %w", method, path, decodeErr)
	}
	if !env.Success {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}

	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("crawler API call")

	return &env, nil
}

// Package remote talks to the local screening service: it fetches the rule
// configuration and bundle list, delivers metadata batches and requests
// cleanup of removed directories.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adalundhe/scout/core/model"
	"github.com/google/uuid"
)

const (
	pathConfigAll        = "/config/all"
	pathBundleExtensions = "/bundle-extensions/for-rust"
	pathBatch            = "/file-screening/batch"
	pathCleanByPath      = "/screening/clean-by-path"
	pathInsights         = "/insights/generate"
	pathHealth           = "/health"

	defaultTimeout  = 30 * time.Second
	maxErrorSnippet = 512

	// RequestIDHeader carries a per-call id for correlating service logs.
	RequestIDHeader = "X-Request-ID"
)

var (
	// ErrServiceReportedFailure means the service answered but flagged the
	// request as failed in its body.
	ErrServiceReportedFailure = errors.New("remote: service reported failure")

	// ErrEmptyBaseURL is returned when the client has no endpoint.
	ErrEmptyBaseURL = errors.New("remote: base URL required")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrEmptyBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
	}, nil
}

// BaseURL returns the service root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Wire types
// =============================================================================

type bundleExtensionsResponse struct {
	Status  string   `json:"status"`
	Data    []string `json:"data"`
	Count   int      `json:"count"`
	Message string   `json:"message"`
}

type batchRequest struct {
	DataList        []*model.FileMetadata `json:"data_list"`
	AutoCreateTasks bool                  `json:"auto_create_tasks"`
}

// BatchResponse is the service's reply to a batch delivery.
type BatchResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type cleanRequest struct {
	Path string `json:"path"`
}

type cleanResponse struct {
	Deleted int `json:"deleted"`
}

type insightsRequest struct {
	Data insightsTask `json:"data"`
}

type insightsTask struct {
	TaskName string `json:"task_name"`
	Priority string `json:"priority"`
}

// =============================================================================
// Endpoints
// =============================================================================

// FetchConfig downloads the full configuration snapshot. A body carrying
// error_message is reported as ErrServiceReportedFailure.
func (c *Client) FetchConfig(ctx context.Context) (*model.Configuration, error) {
	var cfg model.Configuration
	if err := c.do(ctx, http.MethodGet, pathConfigAll, nil, &cfg); err != nil {
		return nil, err
	}
	if cfg.Failed() {
		return nil, fmt.Errorf("%w: %s", ErrServiceReportedFailure, cfg.ErrorMessage)
	}
	return model.NewConfiguration(&cfg), nil
}

// FetchBundleExtensions downloads the OS-bundle suffix list.
func (c *Client) FetchBundleExtensions(ctx context.Context) ([]string, error) {
	var resp bundleExtensionsResponse
	if err := c.do(ctx, http.MethodGet, pathBundleExtensions, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "success" {
		return nil, fmt.Errorf("%w: %s", ErrServiceReportedFailure, resp.Message)
	}
	return resp.Data, nil
}

// SendBatch delivers one batch of records.
func (c *Client) SendBatch(ctx context.Context, batch []*model.FileMetadata, autoCreateTasks bool) (*BatchResponse, error) {
	req := batchRequest{DataList: batch, AutoCreateTasks: autoCreateTasks}

	var resp BatchResponse
	if err := c.do(ctx, http.MethodPost, pathBatch, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return &resp, fmt.Errorf("%w: %s", ErrServiceReportedFailure, resp.Message)
	}
	return &resp, nil
}

// CleanByPath asks the service to drop every record under path and returns
// how many were deleted.
func (c *Client) CleanByPath(ctx context.Context, path string) (int, error) {
	var resp cleanResponse
	if err := c.do(ctx, http.MethodPost, pathCleanByPath, cleanRequest{Path: path}, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

// NotifyAnalysis queues a file analysis task after a scan.
func (c *Client) NotifyAnalysis(ctx context.Context) error {
	req := insightsRequest{Data: insightsTask{TaskName: "file_analysis", Priority: "medium"}}
	return c.do(ctx, http.MethodPost, pathInsights, req, nil)
}

// Health checks that the service is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, pathHealth, nil, nil)
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: read %s: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       snippet(body),
		}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("remote: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("remote: marshal %s: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remote: create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorSnippet {
		return s[:maxErrorSnippet] + "..."
	}
	return s
}

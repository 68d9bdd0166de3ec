package warecell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the warecell server (e.g. "http://localhost:8080").
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	// Submit blocks until the device answers, so keep it above the
	// server's device timeout.
	Timeout time.Duration
}

// Client is an HTTP client for the warecell API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("warecell: BaseURL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("warecell: invalid BaseURL: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  httpClient,
	}, nil
}

// RegisterDevice points the server at the cell controller.
func (c *Client) RegisterDevice(ctx context.Context, address string) (*Device, error) {
	var resp Device
	if err := c.post(ctx, "/api/device/register", map[string]string{"address": address}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Device returns the current device registration.
func (c *Client) Device(ctx context.Context) (*Device, error) {
	var resp Device
	if err := c.get(ctx, "/api/device/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Submit sends one command to the device and blocks until it answers. When
// the device fails, the returned *Error carries the ERROR record in Details.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Operation, error) {
	var resp Operation
	if err := c.post(ctx, "/api/operations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Operation fetches one operation record.
func (c *Client) Operation(ctx context.Context, id int64) (*Operation, error) {
	var resp Operation
	if err := c.get(ctx, "/api/operations/"+strconv.FormatInt(id, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Operations lists recent operations, newest first. A limit of zero uses
// the server default.
func (c *Client) Operations(ctx context.Context, limit int) ([]Operation, error) {
	path := "/api/operations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp []Operation
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

// CreateTask enqueues a task for the scheduler.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	var resp Task
	if err := c.post(ctx, "/api/tasks", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TasksOptions are optional filters for the Tasks method.
type TasksOptions struct {
	Status string
	Limit  int
}

// Tasks lists tasks, optionally filtered by status.
func (c *Client) Tasks(ctx context.Context, opts *TasksOptions) ([]Task, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Status != "" {
			params.Set("status", opts.Status)
		}
		if opts.Limit > 0 {
			params.Set("limit", strconv.Itoa(opts.Limit))
		}
	}
	path := "/api/tasks"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp []Task
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Task fetches one task.
func (c *Client) Task(ctx context.Context, id int64) (*Task, error) {
	var resp Task
	if err := c.get(ctx, "/api/tasks/"+strconv.FormatInt(id, 10), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTask cancels a pending task. Cancelling a task that already started
// or finished returns a conflict error.
func (c *Client) CancelTask(ctx context.Context, id int64) (*Task, error) {
	var resp Task
	if err := c.post(ctx, "/api/tasks/"+strconv.FormatInt(id, 10)+"/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Settings and equipment
// ---------------------------------------------------------------------------

// SetMode switches between "manual" and "auto".
func (c *Client) SetMode(ctx context.Context, mode string) (*ModeResult, error) {
	var resp ModeResult
	if err := c.post(ctx, "/api/mode", map[string]string{"mode": mode}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetStrategy changes the storage strategy used to pick stock cells.
func (c *Client) SetStrategy(ctx context.Context, strategy string) (*StrategyResult, error) {
	var resp StrategyResult
	if err := c.post(ctx, "/api/storage-strategy", map[string]string{"strategy": strategy}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConveyorManual drives the conveyor by hand. The raw result is returned
// because the equipment state shape follows the firmware.
func (c *Client) ConveyorManual(ctx context.Context, action string) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.post(ctx, "/api/conveyor/manual", map[string]string{"action": action}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// LoadingZoneControl opens or closes the loading zone.
func (c *Client) LoadingZoneControl(ctx context.Context, action string) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.post(ctx, "/api/loading-zone/control", map[string]string{"action": action}, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ---------------------------------------------------------------------------
// Inventory and aggregates
// ---------------------------------------------------------------------------

// Cells returns every cell of the grid in id order.
func (c *Client) Cells(ctx context.Context) ([]Cell, error) {
	var resp []Cell
	if err := c.get(ctx, "/api/cells", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Products returns the catalog.
func (c *Client) Products(ctx context.Context) ([]Product, error) {
	var resp []Product
	if err := c.get(ctx, "/api/products", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateProduct adds a product to the catalog.
func (c *Client) CreateProduct(ctx context.Context, req CreateProductRequest) (*Product, error) {
	var resp Product
	if err := c.post(ctx, "/api/products", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the aggregate summary.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var resp Status
	if err := c.get(ctx, "/api/status", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Snapshot returns the full observer snapshot as raw JSON.
func (c *Client) Snapshot(ctx context.Context) (json.RawMessage, error) {
	var resp json.RawMessage
	if err := c.get(ctx, "/api/snapshot", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Health checks the server. A degraded server (no device) still returns a
// result; an unhealthy one returns an error with status 503.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var resp Health
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Transport helpers
// ---------------------------------------------------------------------------

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("warecell: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("warecell: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.doRequest(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("warecell: create request: %w", err)
	}

	return c.doRequest(req, dest)
}

func (c *Client) doRequest(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("warecell: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("warecell: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("warecell: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		if len(envelope.Error.Details) > 0 {
			var op Operation
			if json.Unmarshal(envelope.Error.Details, &op) == nil && op.ID != 0 {
				apiErr.Details = &op
			}
		}
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}

// Package syncclient is the HTTP client for fieldsync-server, used by the
// operator CLI and the monitor.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("sync in progress")
	ErrRateLimited  = errors.New("rate limited")
	ErrBadRequest   = errors.New("bad request")
)

// Client is an HTTP client for fieldsync-server.
type Client struct {
	BaseURL  string
	Token    string // admin token for bulk endpoints
	DeviceID string // sent as X-Device-ID when set
	HTTP     *http.Client
}

// New creates a new client. Bulk runs can take minutes, so the default
// timeout is generous.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Minute},
	}
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// PendingRequest is the body for POST /v1/sync/pending.
type PendingRequest struct {
	DeviceID   string           `json:"deviceId"`
	EntityType string           `json:"entityType,omitempty"`
	Direction  ledger.Direction `json:"syncDirection,omitempty"`
	Limit      int              `json:"limit,omitempty"`
}

// BatchResponse is the response from POST /v1/sync/ack-batch.
type BatchResponse struct {
	Applied int                  `json:"applied"`
	Results []engine.BatchResult `json:"results"`
}

// SweepResponse is the response from POST /v1/sync/sweep.
type SweepResponse struct {
	Deleted    int64 `json:"deleted"`
	MaxAgeDays int   `json:"maxAgeDays"`
}

// HealthCheck hits the /healthz endpoint to verify server reachability.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.do(ctx, "GET", "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// InitialSync starts an initial sync and waits for its summary.
func (c *Client) InitialSync(ctx context.Context, req engine.RunRequest) (*engine.RunSummary, error) {
	var resp engine.RunSummary
	if err := c.do(ctx, "POST", "/v1/sync/initial-sync", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FullSync starts a full sync and waits for its summary.
func (c *Client) FullSync(ctx context.Context, req engine.RunRequest) (*engine.RunSummary, error) {
	var resp engine.RunSummary
	if err := c.do(ctx, "POST", "/v1/sync/full-sync", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches the sync status.
func (c *Client) Status(ctx context.Context) (*engine.Status, error) {
	var resp engine.Status
	if err := c.do(ctx, "GET", "/v1/sync/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats fetches per-table ledger counts.
func (c *Client) Stats(ctx context.Context) ([]ledger.TableStats, error) {
	var resp []ledger.TableStats
	if err := c.do(ctx, "GET", "/v1/sync/stats", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Runs lists recent bulk runs, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]ledger.RunRecord, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp []ledger.RunRecord
	if err := c.do(ctx, "GET", withQuery("/v1/sync/runs", params), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Run fetches one recorded run.
func (c *Client) Run(ctx context.Context, id string) (*ledger.RunRecord, error) {
	var resp ledger.RunRecord
	if err := c.do(ctx, "GET", "/v1/sync/runs/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Pending lists what a device still has to receive or push.
func (c *Client) Pending(ctx context.Context, req PendingRequest) ([]ledger.Entry, error) {
	var resp []ledger.Entry
	if err := c.do(ctx, "POST", "/v1/sync/pending", req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DeadLetter lists rows that exhausted the retry cap.
func (c *Client) DeadLetter(ctx context.Context, deviceID string, limit int) ([]ledger.Entry, error) {
	params := url.Values{}
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var resp []ledger.Entry
	if err := c.do(ctx, "GET", withQuery("/v1/sync/dead-letter", params), nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MarkSynced acknowledges a successful delivery.
func (c *Client) MarkSynced(ctx context.Context, ack engine.Ack) error {
	return c.do(ctx, "POST", "/v1/sync/mark-synced", ack, nil)
}

// MarkFailed reports a failed delivery.
func (c *Client) MarkFailed(ctx context.Context, ack engine.Ack) error {
	return c.do(ctx, "POST", "/v1/sync/mark-failed", ack, nil)
}

// AckBatch applies several acknowledgements in one request.
func (c *Client) AckBatch(ctx context.Context, items []engine.BatchItem) (*BatchResponse, error) {
	var resp BatchResponse
	body := map[string]any{"items": items}
	if err := c.do(ctx, "POST", "/v1/sync/ack-batch", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sweep deletes synced rows older than maxAgeDays (0 = server retention).
func (c *Client) Sweep(ctx context.Context, maxAgeDays int) (*SweepResponse, error) {
	var resp SweepResponse
	body := map[string]int{"maxAgeDays": maxAgeDays}
	if err := c.do(ctx, "POST", "/v1/sync/sweep", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// EventsURL returns the websocket URL of the run event feed.
func (c *Client) EventsURL() string {
	base := c.BaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/v1/sync/events"
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}

// --- HTTP helpers ---

// APIError is the standard error body from the server, with the HTTP status.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	RunID   string `json:"runId,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Unwrap maps the status onto a sentinel so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusBadRequest:
		return ErrBadRequest
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if c.DeviceID != "" {
		req.Header.Set("X-Device-ID", c.DeviceID)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Code != "" {
			envelope.Error.Status = resp.StatusCode
			return &envelope.Error
		}
		return &APIError{Status: resp.StatusCode, Code: "http_" + strconv.Itoa(resp.StatusCode), Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

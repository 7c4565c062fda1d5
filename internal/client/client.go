// Package client talks to a labelflow server over its REST and websocket API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/service"
)

// DefaultURL is used when neither an argument nor LABELFLOW_SERVER_URL is set.
const DefaultURL = "http://localhost:8080"

// Client is a labelflow API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client. An empty baseURL uses LABELFLOW_SERVER_URL or
// DefaultURL. LABELFLOW_CLIENT_TIMEOUT overrides the 5 minute timeout that
// covers synchronous batches.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("LABELFLOW_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("LABELFLOW_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is an error response from the server.
type APIError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d: %s: %s", e.Status, e.Code, e.Message)
}

// do sends a JSON request and decodes the JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, data, result)
	}
	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// decodeError parses either a bare error body or a print response carrying
// a partial report; the report is decoded into result when present.
func decodeError(status int, data []byte, result any) error {
	var wrapped struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Error != nil {
		wrapped.Error.Status = status
		if result != nil {
			_ = json.Unmarshal(data, result)
		}
		return wrapped.Error
	}
	apiErr := &APIError{Status: status}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Code == "" {
		apiErr.Code = http.StatusText(status)
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

type printResponse struct {
	Report *service.Report `json:"report"`
}

// PrintQC prints synchronously. A partial report may accompany an error.
func (c *Client) PrintQC(ctx context.Context, req service.QCRequest) (*service.Report, error) {
	var resp printResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/labels/qc", req, &resp)
	return resp.Report, err
}

// PrintGRN prints synchronously. A partial report may accompany an error.
func (c *Client) PrintGRN(ctx context.Context, req service.GRNRequest) (*service.Report, error) {
	var resp printResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/labels/grn", req, &resp)
	return resp.Report, err
}

// Reprint replaces a damaged pallet with a freshly numbered one.
func (c *Client) Reprint(ctx context.Context, req service.ReprintRequest) (*service.Report, error) {
	var resp printResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/labels/reprint", req, &resp)
	return resp.Report, err
}

// PrintQCAsync starts a background QC job.
func (c *Client) PrintQCAsync(ctx context.Context, req service.QCRequest) (*service.Job, error) {
	var job service.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/labels/qc?async=true", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// PrintGRNAsync starts a background GRN job.
func (c *Client) PrintGRNAsync(ctx context.Context, req service.GRNRequest) (*service.Job, error) {
	var job service.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/labels/grn?async=true", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns all jobs, most recent first.
func (c *Client) ListJobs(ctx context.Context) ([]*service.Job, error) {
	var resp struct {
		Jobs []*service.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, id string) (*service.Job, error) {
	var job service.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CancelJob stops a running job.
func (c *Client) CancelJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil, nil)
}

// Sequence describes the current state of a scope.
type Sequence struct {
	Scope       string `json:"scope"`
	MaxSequence int    `json:"max_sequence"`
	NextPallet  string `json:"next_pallet"`
}

// GetSequence returns the highest issued sequence for a ddMMyy or
// YYYY-MM-DD date.
func (c *Client) GetSequence(ctx context.Context, date string) (*Sequence, error) {
	var seq Sequence
	if err := c.do(ctx, http.MethodGet, "/api/v1/sequences/"+url.PathEscape(date), nil, &seq); err != nil {
		return nil, err
	}
	return &seq, nil
}

// jobMessage mirrors the server's websocket frames.
type jobMessage struct {
	Type  string       `json:"type"`
	Event *batch.Event `json:"event,omitempty"`
	Job   *service.Job `json:"job,omitempty"`
}

// StreamJob follows a job's progress events until it finishes and returns
// its final state. onEvent runs on the calling goroutine.
func (c *Client) StreamJob(ctx context.Context, id string, onEvent func(batch.Event)) (*service.Job, error) {
	u, err := url.Parse(c.baseURL + "/api/v1/jobs/" + url.PathEscape(id) + "/events")
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg jobMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, errors.New("job stream closed before completion")
			}
			return nil, fmt.Errorf("read job event: %w", err)
		}
		switch msg.Type {
		case "progress":
			if msg.Event != nil && onEvent != nil {
				onEvent(*msg.Event)
			}
		case "done":
			if msg.Job == nil {
				return nil, errors.New("job stream ended without job state")
			}
			return msg.Job, nil
		}
	}
}

package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// HTTP submits jobs to a print server: POST <endpoint>/jobs with a JSON job,
// answered by {"job_id": "..."}. 4xx answers carry {"code","message"} and are
// treated as rejections.
type HTTP struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewHTTP creates an HTTP printer. A zero timeout uses 30s; the caller's
// context deadline still applies.
func NewHTTP(endpoint, token string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{
		endpoint:   strings.TrimRight(endpoint, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// Submit implements the print collaborator.
func (h *HTTP) Submit(ctx context.Context, job models.PrintJob) (string, error) {
	reqBody, err := json.Marshal(toMessage(job))
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/jobs", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout:
		rej := &RejectedError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: strings.TrimSpace(string(body))}
		var structured RejectedError
		if json.Unmarshal(body, &structured) == nil && structured.Code != "" {
			rej = &structured
		}
		return "", rej
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("print server error: %s - %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out submitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if out.JobID == "" {
		return "", fmt.Errorf("print server returned no job id")
	}
	return out.JobID, nil
}

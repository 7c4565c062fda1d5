package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/labelflow/internal/allocator"
	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/blob"
	"github.com/raphaelgruber/labelflow/internal/dispatch"
	"github.com/raphaelgruber/labelflow/internal/labels"
	"github.com/raphaelgruber/labelflow/internal/merge"
	"github.com/raphaelgruber/labelflow/internal/metrics"
	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/printer"
	"github.com/raphaelgruber/labelflow/internal/render"
	"github.com/raphaelgruber/labelflow/internal/resilience"
	"github.com/raphaelgruber/labelflow/internal/service"
	"github.com/raphaelgruber/labelflow/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	srv     *Server
	store   *store.Memory
	blobs   *blob.Memory
	printer *printer.Memory
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	return newTestServerWithDefaults(t, service.PrintOptions{})
}

func newTestServerWithDefaults(t *testing.T, defaults service.PrintOptions) *testEnv {
	t.Helper()
	st := store.NewMemory()
	blobs := blob.NewMemory("")
	prn := printer.NewMemory()
	svc := service.NewLabelService(service.Deps{
		Allocator:  allocator.New(st, allocator.WithLocation(time.UTC), allocator.WithRetry(resilience.NoRetry())),
		Pallets:    st,
		Preparer:   labels.NewPreparer(time.UTC, nil),
		Batch:      batch.New(render.New()),
		Merger:     merge.New(nil),
		Dispatcher: dispatch.New(blobs, prn, dispatch.WithRetry(resilience.NoRetry())),
	})
	m := metrics.New()
	srv := New(Deps{
		Labels:   svc,
		Jobs:     service.NewJobManager(m, nil),
		Metrics:  m,
		Health:   func(context.Context) error { return nil },
		Version:  "test",
		Defaults: defaults,
	})
	return &testEnv{srv: srv, store: st, blobs: blobs, printer: prn}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func qcBody(count int) map[string]any {
	return map[string]any{
		"input": map[string]any{
			"product_code": "MEP9090150",
			"description":  "Slate panel 900x900",
			"quantity":     40,
			"qc_clock_num": "5997",
		},
		"count":      count,
		"scope_date": "2025-05-09T00:00:00Z",
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "labelflow_http_requests_total")
}

func TestHealthDegraded(t *testing.T) {
	env := newTestServer(t)
	env.srv.health = func(context.Context) error { return errors.New("surrealdb unreachable") }

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "surrealdb unreachable")
}

func TestPrintQCSync(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/labels/qc", qcBody(2))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Report service.Report `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"090525/1", "090525/2"}, resp.Report.Pallets)
	assert.Equal(t, 2, resp.Report.PageCount)
	assert.NotEmpty(t, resp.Report.JobID)
	assert.Len(t, env.printer.Jobs(), 1)

	rec = env.do(t, http.MethodGet, "/api/v1/sequences/090525", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"max_sequence":2`)
	assert.Contains(t, rec.Body.String(), `"next_pallet":"090525/3"`)
}

func TestPrintAppliesConfiguredDefaults(t *testing.T) {
	env := newTestServerWithDefaults(t, service.PrintOptions{
		Copies:            3,
		Priority:          models.PriorityHigh,
		PrinterPreference: "dock-2",
		SkipUpload:        true,
		Timeout:           5 * time.Second,
	})

	rec := env.do(t, http.MethodPost, "/api/v1/labels/qc", qcBody(1))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	jobs := env.printer.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 3, jobs[0].Copies)
	assert.Equal(t, models.PriorityHigh, jobs[0].Priority)
	assert.Equal(t, "dock-2", jobs[0].PrinterPreference)
	assert.Zero(t, env.blobs.Len(), "uploads are disabled by config")

	body := qcBody(1)
	body["copies"] = 1
	rec = env.do(t, http.MethodPost, "/api/v1/labels/qc", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	jobs = env.printer.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, 1, jobs[1].Copies, "request values win")
}

func TestReprintRoute(t *testing.T) {
	env := newTestServer(t)

	rec := env.do(t, http.MethodPost, "/api/v1/labels/reprint", map[string]any{
		"input": map[string]any{
			"original_pallet":    "080525/7",
			"original_location":  "Fold Mill",
			"product_code":       "MEP9090150",
			"description":        "Slate panel 900x900",
			"quantity":           12,
			"operator_clock_num": "5997",
		},
		"scope_date": "2025-05-09T00:00:00Z",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp printResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Report)
	assert.Equal(t, []string{"090525/1"}, resp.Report.Pallets)

	p, ok := env.store.Pallet("090525/1")
	require.True(t, ok)
	assert.Equal(t, "Auto-reprinted from 080525/7", p.Remark)
	assert.Equal(t, "Fold Mill", p.Location)

	rec = env.do(t, http.MethodPost, "/api/v1/labels/reprint", map[string]any{
		"input": map[string]any{"original_pallet": "080525/7"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), CodeValidationError)
}

func TestPrintErrors(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{"malformed body", "/api/v1/labels/qc", "not an object", http.StatusBadRequest, CodeBadRequest},
		{"missing checker", "/api/v1/labels/qc", map[string]any{"input": map[string]any{"product_code": "X", "description": "Y", "quantity": 1}}, http.StatusBadRequest, CodeValidationError},
		{"empty grn", "/api/v1/labels/grn", map[string]any{"items": []any{}}, http.StatusBadRequest, CodeValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.code)
		})
	}
}

func TestPrintRejectedByPrinter(t *testing.T) {
	env := newTestServer(t)
	env.printer.Errs = []error{&printer.RejectedError{Code: "PRINTER_OFFLINE", Message: "printer 3 offline"}}

	rec := env.do(t, http.MethodPost, "/api/v1/labels/qc", qcBody(1))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp printResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodePrintRejected, resp.Error.Code)
	require.NotNil(t, resp.Report)
	assert.Equal(t, 1, resp.Report.Successful)
}

func TestSequenceBadDate(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/api/v1/sequences/yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobNotFound(t *testing.T) {
	env := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/jobs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/v1/jobs/nope", nil).Code)
}

func TestPrintAsyncWithEventStream(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	body, err := json.Marshal(qcBody(3))
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/api/v1/labels/qc?async=true", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var job service.Job
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	require.NotEmpty(t, job.ID)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/jobs/" + job.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var (
		progress int
		done     jobMessage
	)
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		var msg jobMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == "done" {
			done = msg
			break
		}
		progress++
	}
	assert.Equal(t, 6, progress, "processing and terminal event per item")
	require.NotNil(t, done.Job)
	assert.Equal(t, service.JobStatusCompleted, done.Job.Status)
	require.NotNil(t, done.Job.Report)
	assert.Equal(t, 3, done.Job.Report.Successful)

	rec := env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/jobs", nil)
	assert.Contains(t, rec.Body.String(), job.ID)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &labels.ValidationError{Field: "quantity", Reason: "must be greater than 0"}, http.StatusBadRequest, CodeValidationError},
		{"allocation", &allocator.AllocationError{Scope: "090525", Count: 2, Err: errors.New("refused")}, http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"invalid count", &allocator.AllocationError{Scope: "090525", Err: allocator.ErrInvalidCount}, http.StatusBadRequest, CodeValidationError},
		{"dispatch timeout", &dispatch.DispatchError{Timeout: true, Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, CodeTimeout},
		{"dispatch failure", &dispatch.DispatchError{Err: errors.New("reset")}, http.StatusBadGateway, CodePrintFailed},
		{"no content", &merge.NoContentError{Inputs: 2}, http.StatusUnprocessableEntity, CodeNoContent},
		{"not found", store.ErrNotFound, http.StatusNotFound, CodeNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := MapError(tt.err)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

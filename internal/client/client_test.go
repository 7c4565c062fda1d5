package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
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
	"github.com/raphaelgruber/labelflow/internal/server"
	"github.com/raphaelgruber/labelflow/internal/service"
	"github.com/raphaelgruber/labelflow/internal/store"
)

var scopeDay = time.Date(2025, 5, 9, 0, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T) (*Client, *printer.Memory) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	prn := printer.NewMemory()
	svc := service.NewLabelService(service.Deps{
		Allocator:  allocator.New(st, allocator.WithLocation(time.UTC), allocator.WithRetry(resilience.NoRetry())),
		Pallets:    st,
		Preparer:   labels.NewPreparer(time.UTC, nil),
		Batch:      batch.New(render.New()),
		Merger:     merge.New(nil),
		Dispatcher: dispatch.New(blob.NewMemory(""), prn, dispatch.WithRetry(resilience.NoRetry())),
	})
	m := metrics.New()
	srv := server.New(server.Deps{
		Labels:  svc,
		Jobs:    service.NewJobManager(m, nil),
		Metrics: m,
		Health:  func(context.Context) error { return nil },
		Version: "test",
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL), prn
}

func qcRequest(count int) service.QCRequest {
	return service.QCRequest{
		Input: labels.QCInput{
			ProductCode: "MEP9090150",
			Description: "Slate panel 900x900",
			Quantity:    40,
			CheckerID:   "5997",
		},
		Count:        count,
		PrintOptions: service.PrintOptions{ScopeDate: scopeDay},
	}
}

func TestNewDefaults(t *testing.T) {
	t.Setenv("LABELFLOW_SERVER_URL", "")
	t.Setenv("LABELFLOW_CLIENT_TIMEOUT", "")
	c := New("")
	assert.Equal(t, DefaultURL, c.baseURL)
	assert.Equal(t, 5*time.Minute, c.httpClient.Timeout)

	t.Setenv("LABELFLOW_SERVER_URL", "http://labels:9000/")
	t.Setenv("LABELFLOW_CLIENT_TIMEOUT", "30s")
	c = New("")
	assert.Equal(t, "http://labels:9000", c.baseURL)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)
}

func TestPrintQCSync(t *testing.T) {
	c, prn := newTestClient(t)
	ctx := context.Background()

	report, err := c.PrintQC(ctx, qcRequest(2))
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, []string{"090525/1", "090525/2"}, report.Pallets)
	assert.Equal(t, 2, report.PageCount)
	assert.Len(t, prn.Jobs(), 1)

	seq, err := c.GetSequence(ctx, "2025-05-09")
	require.NoError(t, err)
	assert.Equal(t, 2, seq.MaxSequence)
	assert.Equal(t, "090525/3", seq.NextPallet)
}

func TestPrintValidationError(t *testing.T) {
	c, _ := newTestClient(t)

	req := qcRequest(1)
	req.Input.CheckerID = ""
	_, err := c.PrintQC(context.Background(), req)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
}

func TestPrintRejectedReturnsPartialReport(t *testing.T) {
	c, prn := newTestClient(t)
	prn.Errs = []error{&printer.RejectedError{Code: "PAPER_OUT", Message: "tray empty"}}

	report, err := c.PrintQC(context.Background(), qcRequest(1))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, "PRINT_REJECTED", apiErr.Code)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Successful)
	assert.NotEmpty(t, report.DispatchError)
}

func TestAsyncJobStream(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := c.PrintQCAsync(ctx, qcRequest(3))
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, models.KindQC, job.Kind)
	assert.Equal(t, 3, job.Total)

	var events []batch.Event
	final, err := c.StreamJob(ctx, job.ID, func(ev batch.Event) { events = append(events, ev) })
	require.NoError(t, err)
	assert.Equal(t, service.JobStatusCompleted, final.Status)
	require.NotNil(t, final.Report)
	assert.Equal(t, []string{"090525/1", "090525/2", "090525/3"}, final.Report.Pallets)

	// Replayed plus live events arrive in index order.
	var successes []int
	for _, ev := range events {
		if ev.Status == models.StatusSuccess {
			successes = append(successes, ev.Index)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, successes)

	got, err := c.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, service.JobStatusCompleted, got.Status)

	jobs, err := c.ListJobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)
}

func TestJobNotFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.GetJob(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	err = c.CancelJob(context.Background(), "missing")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestReprint(t *testing.T) {
	c, prn := newTestClient(t)

	req := service.ReprintRequest{Input: labels.ReprintInput{
		OriginalPallet:   "080525/7",
		OriginalLocation: "Fold Mill",
		ProductCode:      "MEP9090150",
		Description:      "Slate panel 900x900",
		Quantity:         12,
		OperatorID:       "5997",
	}}
	req.ScopeDate = scopeDay

	report, err := c.Reprint(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"090525/1"}, report.Pallets)
	assert.Equal(t, 1, report.Successful)
	assert.Len(t, prn.Jobs(), 1)
}

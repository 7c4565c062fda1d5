package printer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/labelflow/internal/models"
)

func testJob() models.PrintJob {
	return models.PrintJob{
		Name:     "qc-labels/090525_14-x2.pdf",
		Merged:   &models.NamedDocument{Name: "qc-labels/090525_14-x2.pdf", Bytes: []byte("%PDF"), URL: "mem://labels/qc-labels/090525_14-x2.pdf"},
		Copies:   2,
		Priority: models.PriorityHigh,
	}
}

func TestHTTPSubmit(t *testing.T) {
	var got jobMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-42"}`))
	}))
	defer srv.Close()

	id, err := NewHTTP(srv.URL+"/", "secret", time.Second).Submit(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, "job-42", id)
	assert.Equal(t, 2, got.Copies)
	assert.Equal(t, models.PriorityHigh, got.Priority)
	assert.True(t, got.Merged)
	require.Len(t, got.Documents, 1)
	assert.Empty(t, got.Documents[0].Data, "uploaded documents are sent by URL")
}

func TestHTTPSubmitErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		rejected bool
		code     string
	}{
		{"structured rejection", http.StatusUnprocessableEntity, `{"code":"PRINTER_OFFLINE","message":"printer 3 offline"}`, true, "PRINTER_OFFLINE"},
		{"plain rejection", http.StatusBadRequest, "bad job", true, "HTTP_400"},
		{"rate limited is transient", http.StatusTooManyRequests, "slow down", false, ""},
		{"server error is transient", http.StatusBadGateway, "upstream", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHTTP(srv.URL, "", time.Second).Submit(context.Background(), testJob())
			require.Error(t, err)
			assert.Equal(t, tt.rejected, IsRejected(err))
			if tt.rejected {
				var rej *RejectedError
				require.ErrorAs(t, err, &rej)
				assert.Equal(t, tt.code, rej.Code)
			}
		})
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaSubmit(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaWithWriter(w, "")

	job := testJob()
	job.Merged = nil
	job.Documents = []models.NamedDocument{{Name: "qc-labels/090525_14.pdf", Bytes: []byte("%PDF")}}

	id, err := p.Submit(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, id, string(w.msgs[0].Key))

	var msg jobMessage
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &msg))
	assert.Equal(t, id, msg.JobID)
	assert.False(t, msg.Merged)
	assert.Equal(t, []byte("%PDF"), msg.Documents[0].Data, "documents without URL are sent inline")

	w.err = errors.New("broker down")
	_, err = p.Submit(context.Background(), job)
	assert.ErrorContains(t, err, "broker down")
}

func TestMemorySubmit(t *testing.T) {
	m := NewMemory()
	m.Errs = []error{errors.New("jam")}

	_, err := m.Submit(context.Background(), testJob())
	assert.Error(t, err)
	id, err := m.Submit(context.Background(), testJob())
	require.NoError(t, err)
	assert.Equal(t, "mem-1", id)
	assert.Len(t, m.Jobs(), 1)
}

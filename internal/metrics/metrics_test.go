package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpRender, 10*time.Millisecond, false)
	c.RecordTiming(OpRender, 30*time.Millisecond, true)

	snap := c.Snapshot()
	require.NotNil(t, snap.Render)
	assert.EqualValues(t, 2, snap.Render.Count)
	assert.EqualValues(t, 1, snap.Render.Failures)
	assert.EqualValues(t, 10, snap.Render.MinTimeMs)
	assert.EqualValues(t, 30, snap.Render.MaxTimeMs)
	assert.InDelta(t, 20, snap.Render.AvgTimeMs, 0.001)
	assert.Nil(t, snap.Merge)
}

func TestPrometheus(t *testing.T) {
	m := New()
	m.RecordLabels("QC", 8, 2, 0)
	m.RecordPrint("QC", true)
	m.RecordStage("QC", OpRender, 50*time.Millisecond)

	assert.InDelta(t, 8, testutil.ToFloat64(m.LabelsRendered.WithLabelValues("QC", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PrintJobs.WithLabelValues("QC", "success")), 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "labelflow_labels_total")
	assert.Contains(t, rec.Body.String(), "labelflow_stage_duration_seconds")
}

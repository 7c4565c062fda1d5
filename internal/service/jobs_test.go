package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/models"
)

func waitDone(t *testing.T, job *Job) {
	t.Helper()
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
}

func TestJobManagerCompletes(t *testing.T) {
	m := NewJobManager(nil, nil)
	release := make(chan struct{})

	job := m.Submit(context.Background(), models.KindQC, 2, func(ctx context.Context, progress func(batch.Event)) (*Report, error) {
		<-release
		for i := range 2 {
			progress(batch.Event{Index: i, Total: 2, Status: models.StatusSuccess, Completed: i + 1})
		}
		return &Report{Kind: models.KindQC, Total: 2, Successful: 2}, nil
	})

	past, ch, unsubscribe := job.Subscribe()
	defer unsubscribe()
	assert.Empty(t, past)
	close(release)

	var got []batch.Event
	for ev := range ch {
		got = append(got, ev)
	}
	waitDone(t, job)

	require.Len(t, got, 2)
	assert.Equal(t, 1, got[1].Index)

	snap := job.Snapshot()
	assert.Equal(t, JobStatusCompleted, snap.Status)
	assert.Equal(t, 2, snap.Progress)
	require.NotNil(t, snap.Report)
	assert.Equal(t, 2, snap.Report.Successful)
	assert.NotNil(t, snap.CompletedAt)

	assert.Same(t, job, m.GetJob(job.ID))
	assert.Len(t, m.ListJobs(), 1)

	past, ch, _ = job.Subscribe()
	assert.Len(t, past, 2, "finished jobs replay their events")
	_, open := <-ch
	assert.False(t, open)
}

func TestJobManagerFails(t *testing.T) {
	m := NewJobManager(nil, nil)
	job := m.Submit(context.Background(), models.KindGRN, 1, func(context.Context, func(batch.Event)) (*Report, error) {
		return &Report{Kind: models.KindGRN}, errors.New("store unavailable")
	})
	waitDone(t, job)

	snap := job.Snapshot()
	assert.Equal(t, JobStatusFailed, snap.Status)
	assert.Equal(t, "store unavailable", snap.Error)
}

func TestJobManagerCancel(t *testing.T) {
	m := NewJobManager(nil, nil)
	started := make(chan struct{})
	job := m.Submit(context.Background(), models.KindQC, 3, func(ctx context.Context, _ func(batch.Event)) (*Report, error) {
		close(started)
		<-ctx.Done()
		return &Report{Kind: models.KindQC, Cancelled: 3}, ctx.Err()
	})
	<-started

	assert.True(t, m.Cancel(job.ID))
	assert.False(t, m.Cancel("missing"))
	waitDone(t, job)
	assert.Equal(t, JobStatusCancelled, job.Snapshot().Status)
}

func TestJobOutlivesRequestContext(t *testing.T) {
	m := NewJobManager(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	job := m.Submit(ctx, models.KindQC, 1, func(ctx context.Context, _ func(batch.Event)) (*Report, error) {
		time.Sleep(10 * time.Millisecond)
		return &Report{}, ctx.Err()
	})
	cancel()
	waitDone(t, job)
	assert.Equal(t, JobStatusCompleted, job.Snapshot().Status)
}

func TestJobManagerRecoversPanic(t *testing.T) {
	m := NewJobManager(nil, nil)
	job := m.Submit(context.Background(), models.KindQC, 1, func(context.Context, func(batch.Event)) (*Report, error) {
		panic("boom")
	})
	waitDone(t, job)
	snap := job.Snapshot()
	assert.Equal(t, JobStatusFailed, snap.Status)
	assert.Contains(t, snap.Error, "boom")
}

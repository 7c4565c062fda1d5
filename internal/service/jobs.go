package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/metrics"
	"github.com/raphaelgruber/labelflow/internal/models"
)

// JobStatus represents the state of a background job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Done reports whether s is final.
func (s JobStatus) Done() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is an asynchronous label request.
type Job struct {
	ID          string           `json:"id"`
	Kind        models.LabelKind `json:"kind"`
	Status      JobStatus        `json:"status"`
	Progress    int              `json:"progress"`
	Total       int              `json:"total"`
	Report      *Report          `json:"report,omitempty"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`

	mu      sync.RWMutex
	events  []batch.Event
	subs    map[chan batch.Event]struct{}
	done    chan struct{}
	cancel  context.CancelFunc
	stopped bool
}

// JobFunc runs a request, reporting progress through the callback.
type JobFunc func(ctx context.Context, progress func(batch.Event)) (*Report, error)

// JobManager tracks background label jobs.
type JobManager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewJobManager creates a job manager. m may be nil.
func NewJobManager(m *metrics.Metrics, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		jobs:    make(map[string]*Job),
		metrics: m,
		logger:  logger,
	}
}

// Submit starts fn in the background. The job outlives ctx's cancellation
// but keeps its values; use Cancel to stop it.
func (m *JobManager) Submit(ctx context.Context, kind models.LabelKind, total int, fn JobFunc) *Job {
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	job := &Job{
		ID:        uuid.New().String()[:8],
		Kind:      kind,
		Status:    JobStatusPending,
		Total:     total,
		StartedAt: time.Now(),
		subs:      make(map[chan batch.Event]struct{}),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("job created", "job_id", job.ID, "kind", kind, "total", total)
	if m.metrics != nil {
		m.metrics.JobsInFlight.Inc()
	}

	go func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
				m.finish(job, nil, fmt.Errorf("internal panic: %v", r))
			}
		}()

		job.mu.Lock()
		job.Status = JobStatusRunning
		job.mu.Unlock()

		report, err := fn(jobCtx, func(ev batch.Event) { m.publish(job, ev) })
		m.finish(job, report, err)
	}()
	return job
}

// publish records an event and fans it out to subscribers.
func (m *JobManager) publish(job *Job, ev batch.Event) {
	job.mu.Lock()
	defer job.mu.Unlock()
	job.events = append(job.events, ev)
	if ev.Status.Terminal() {
		job.Progress = ev.Completed
	}
	for ch := range job.subs {
		select {
		case ch <- ev:
		default:
			m.logger.Warn("dropping job event for slow subscriber", "job_id", job.ID, "index", ev.Index)
		}
	}
}

func (m *JobManager) finish(job *Job, report *Report, err error) {
	job.mu.Lock()
	if job.Status.Done() {
		job.mu.Unlock()
		return
	}
	now := time.Now()
	job.CompletedAt = &now
	job.Report = report
	switch {
	case err == nil:
		job.Status = JobStatusCompleted
	case job.stopped:
		job.Status = JobStatusCancelled
		job.Error = err.Error()
	default:
		job.Status = JobStatusFailed
		job.Error = err.Error()
	}
	for ch := range job.subs {
		close(ch)
	}
	job.subs = nil
	close(job.done)
	status := job.Status
	job.mu.Unlock()

	if m.metrics != nil {
		m.metrics.JobsInFlight.Dec()
	}
	if err != nil {
		m.logger.Error("job failed", "job_id", job.ID, "status", status, "error", err)
		return
	}
	m.logger.Info("job completed", "job_id", job.ID, "successful", report.Successful, "failed", report.Failed)
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, most recent first.
func (m *JobManager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	slices.SortFunc(jobs, func(a, b *Job) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	return jobs
}

// Cancel stops a running job. Renders in flight finish; the rest end as
// cancelled.
func (m *JobManager) Cancel(id string) bool {
	job := m.GetJob(id)
	if job == nil {
		return false
	}
	job.mu.Lock()
	if !job.Status.Done() {
		job.stopped = true
	}
	job.mu.Unlock()
	job.cancel()
	return true
}

// Subscribe returns the events published so far and a channel of the
// following ones. The channel is closed when the job finishes; for a
// finished job it is returned closed. Call unsubscribe to stop early.
func (j *Job) Subscribe() (past []batch.Event, ch <-chan batch.Event, unsubscribe func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	past = slices.Clone(j.events)
	c := make(chan batch.Event, 2*j.Total+1)
	if j.subs == nil {
		close(c)
		return past, c, func() {}
	}
	j.subs[c] = struct{}{}
	return past, c, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[c]; ok {
			delete(j.subs, c)
			close(c)
		}
	}
}

// Done is closed when the job finishes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      j.Status,
		Progress:    j.Progress,
		Total:       j.Total,
		Report:      j.Report,
		Error:       j.Error,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

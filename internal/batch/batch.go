// Package batch renders many label models on a bounded worker pool and
// reports per-item progress in submission order.
package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// DefaultConcurrency is the worker count when none is configured.
const DefaultConcurrency = 4

// ErrEmptyDocument is recorded when a renderer returns no bytes.
var ErrEmptyDocument = errors.New("renderer returned an empty document")

// Renderer renders one label model.
type Renderer interface {
	Render(ctx context.Context, m models.LabelModel) ([]byte, error)
}

// Item is one unit of work. An item with Err set failed before rendering
// (for example during preparation) and is reported as failed.
type Item struct {
	Model models.LabelModel
	Err   error
}

// Event is a progress notification for one item.
type Event struct {
	Index     int                 `json:"index"`
	Total     int                 `json:"total"`
	Status    models.RenderStatus `json:"status"`
	Pallet    string              `json:"pallet,omitempty"`
	Error     string              `json:"error,omitempty"`
	Completed int                 `json:"completed"` // terminal items so far, in emission order
}

// Orchestrator runs batches.
type Orchestrator struct {
	renderer    Renderer
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets the worker count; values < 1 use DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now for StartedAt and FinishedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator.
func New(r Renderer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		renderer:    r,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = DefaultConcurrency
	}
	return o
}

// Run is a batch in progress.
type Run struct {
	events chan Event
	done   chan struct{}
	result *models.BatchRun
}

// Events streams progress in submission order: for each index a processing
// event (if the item started) followed by its terminal event. The channel is
// buffered for the whole run and closed once every item is terminal, so
// callers may ignore it.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Wait blocks until every item is terminal and returns the run.
func (r *Run) Wait() *models.BatchRun {
	<-r.done
	return r.result
}

// update is sent from workers to the collector.
type update struct {
	index  int
	status models.RenderStatus
	doc    []byte
	err    error
}

// Start begins rendering items. Cancelling ctx stops new items from starting;
// renders already in flight complete and unstarted items end as cancelled.
func (o *Orchestrator) Start(ctx context.Context, items []Item) *Run {
	n := len(items)
	run := &Run{
		events: make(chan Event, 2*n+1),
		done:   make(chan struct{}),
		result: &models.BatchRun{
			Total:     n,
			Results:   make([]models.RenderResult, n),
			StartedAt: o.now(),
		},
	}
	for i, it := range items {
		run.result.Results[i] = models.RenderResult{Index: i, Model: it.Model, Status: models.StatusPending}
	}

	workers := min(o.concurrency, n)
	updates := make(chan update, 2*n+1)
	work := make(chan int, n)
	for i := range items {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range work {
				o.process(ctx, workerID, i, items[i], updates)
			}
		}(w)
	}
	go func() {
		wg.Wait()
		close(updates)
	}()

	go o.collect(run, updates)
	return run
}

func (o *Orchestrator) process(ctx context.Context, workerID, i int, it Item, updates chan<- update) {
	if it.Err != nil {
		updates <- update{index: i, status: models.StatusFailed, err: it.Err}
		return
	}
	if ctx.Err() != nil {
		updates <- update{index: i, status: models.StatusCancelled, err: ctx.Err()}
		return
	}
	if err := it.Model.Validate(); err != nil {
		updates <- update{index: i, status: models.StatusFailed, err: err}
		return
	}

	updates <- update{index: i, status: models.StatusProcessing}
	o.logger.Debug("rendering label", "worker", workerID, "index", i, "pallet", it.Model.PalletNumber())

	// In-flight renders finish even if the batch is cancelled.
	doc, err := o.renderer.Render(context.WithoutCancel(ctx), it.Model)
	switch {
	case err != nil:
		updates <- update{index: i, status: models.StatusFailed, err: err}
	case len(doc) == 0:
		updates <- update{index: i, status: models.StatusFailed, err: ErrEmptyDocument}
	default:
		updates <- update{index: i, status: models.StatusSuccess, doc: doc}
	}
}

// collect applies updates to the result slots and emits events in index
// order.
func (o *Orchestrator) collect(run *Run, updates <-chan update) {
	res := run.result
	n := res.Total
	started := make([]bool, n)
	announced := make([]bool, n)
	cursor, completed := 0, 0

	emit := func(i int, status models.RenderStatus) {
		r := res.Results[i]
		ev := Event{Index: i, Total: n, Status: status, Completed: completed}
		if !r.Model.Identifier.IsZero() {
			ev.Pallet = r.Model.PalletNumber()
		}
		if status.Terminal() && r.Err != nil {
			ev.Error = r.Err.Error()
		}
		run.events <- ev
	}

	advance := func() {
		for cursor < n {
			r := res.Results[cursor]
			if started[cursor] && !announced[cursor] {
				announced[cursor] = true
				emit(cursor, models.StatusProcessing)
			}
			if !r.Status.Terminal() {
				return
			}
			completed++
			emit(cursor, r.Status)
			cursor++
		}
	}

	for u := range updates {
		r := &res.Results[u.index]
		switch u.status {
		case models.StatusProcessing:
			started[u.index] = true
			r.Status = models.StatusProcessing
		default:
			r.Status = u.status
			r.Document = u.doc
			r.Err = u.err
			if u.status == models.StatusFailed {
				o.logger.Warn("label render failed", "index", u.index, "pallet", r.Model.PalletNumber(), "error", u.err)
			}
		}
		advance()
	}

	res.FinishedAt = o.now()
	ok, failed, cancelled := res.Counts()
	o.logger.Info("batch complete", "total", n, "successful", ok, "failed", failed, "cancelled", cancelled,
		"duration", res.FinishedAt.Sub(res.StartedAt))

	close(run.events)
	close(run.done)
}

// RunBatch runs items to completion, calling onProgress (if non-nil) for
// every event in order.
func (o *Orchestrator) RunBatch(ctx context.Context, items []Item, onProgress func(Event)) *models.BatchRun {
	run := o.Start(ctx, items)
	for ev := range run.Events() {
		if onProgress != nil {
			onProgress(ev)
		}
	}
	return run.Wait()
}

// Package service runs the label pipeline: allocation, preparation,
// rendering, merging and dispatch, synchronously or as background jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/raphaelgruber/labelflow/internal/allocator"
	"github.com/raphaelgruber/labelflow/internal/batch"
	"github.com/raphaelgruber/labelflow/internal/dispatch"
	"github.com/raphaelgruber/labelflow/internal/labels"
	"github.com/raphaelgruber/labelflow/internal/merge"
	"github.com/raphaelgruber/labelflow/internal/metrics"
	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/store"
)

// MaxBatch caps the number of labels in one request.
const MaxBatch = 100

// LabelService prints batches of labels.
type LabelService struct {
	alloc      *allocator.Allocator
	pallets    store.Pallets
	preparer   *labels.Preparer
	orch       *batch.Orchestrator
	merger     *merge.Merger
	dispatcher *dispatch.Dispatcher
	collector  *metrics.Collector
	prom       *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
}

// Deps are the collaborators of a LabelService. Collector and Metrics may
// be nil.
type Deps struct {
	Allocator  *allocator.Allocator
	Pallets    store.Pallets
	Preparer   *labels.Preparer
	Batch      *batch.Orchestrator
	Merger     *merge.Merger
	Dispatcher *dispatch.Dispatcher
	Collector  *metrics.Collector
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewLabelService creates a LabelService.
func NewLabelService(d Deps) *LabelService {
	s := &LabelService{
		alloc:      d.Allocator,
		pallets:    d.Pallets,
		preparer:   d.Preparer,
		orch:       d.Batch,
		merger:     d.Merger,
		dispatcher: d.Dispatcher,
		collector:  d.Collector,
		prom:       d.Metrics,
		tracer:     otel.Tracer("labelflow/service"),
		logger:     d.Logger,
		now:        d.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.collector == nil {
		s.collector = metrics.NewCollector()
	}
	return s
}

// Collector returns the stage timing collector.
func (s *LabelService) Collector() *metrics.Collector {
	return s.collector
}

// Allocator returns the identifier allocator.
func (s *LabelService) Allocator() *allocator.Allocator {
	return s.alloc
}

// PrintOptions apply to one request.
type PrintOptions struct {
	// ScopeDate selects the day scope; zero means today.
	ScopeDate         time.Time       `json:"scope_date,omitempty"`
	Copies            int             `json:"copies,omitempty"`
	Priority          models.Priority `json:"priority,omitempty"`
	PrinterPreference string          `json:"printer_preference,omitempty"`
	SkipMerge         bool            `json:"skip_merge,omitempty"`
	SkipUpload        bool            `json:"skip_upload,omitempty"`
	SkipPrint         bool            `json:"skip_print,omitempty"`
	Timeout           time.Duration   `json:"-"`

	// Progress receives batch events in submission order.
	Progress func(batch.Event) `json:"-"`
}

// WithDefaults fills the zero-valued fields of o from d. Skips set in
// either are kept.
func (o PrintOptions) WithDefaults(d PrintOptions) PrintOptions {
	if o.Copies <= 0 {
		o.Copies = d.Copies
	}
	if o.Priority == "" {
		o.Priority = d.Priority
	}
	if o.PrinterPreference == "" {
		o.PrinterPreference = d.PrinterPreference
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	o.SkipMerge = o.SkipMerge || d.SkipMerge
	o.SkipUpload = o.SkipUpload || d.SkipUpload
	o.SkipPrint = o.SkipPrint || d.SkipPrint
	return o
}

// QCRequest prints Count identical production pallets.
type QCRequest struct {
	Input labels.QCInput `json:"input"`
	Count int            `json:"count"`
	PrintOptions
}

// GRNRequest prints one label per received pallet.
type GRNRequest struct {
	Items []labels.GRNInput `json:"items"`
	PrintOptions
}

// ReprintRequest replaces one damaged pallet.
type ReprintRequest struct {
	Input labels.ReprintInput `json:"input"`
	PrintOptions
}

// Report summarizes one request.
type Report struct {
	Kind          models.LabelKind      `json:"kind"`
	Total         int                   `json:"total"`
	Successful    int                   `json:"successful"`
	Failed        int                   `json:"failed"`
	Cancelled     int                   `json:"cancelled"`
	Pallets       []string              `json:"pallets"`
	Errors        []string              `json:"errors,omitempty"`
	PageCount     int                   `json:"page_count"`
	MergeWarnings []models.MergeWarning `json:"merge_warnings,omitempty"`
	JobID         string                `json:"job_id,omitempty"`
	UploadedURLs  map[string]string     `json:"uploaded_urls,omitempty"`
	MergedURL     string                `json:"merged_url,omitempty"`
	Warnings      []string              `json:"warnings,omitempty"`
	DispatchError string                `json:"dispatch_error,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at"`

	// Documents are the successful renders in submission order; Merged is
	// their concatenation when merging ran.
	Documents []dispatch.Document `json:"-"`
	Merged    []byte              `json:"-"`
}

// PrintQC prints a batch of QC labels. The report is always returned;
// the error reports batch-level failures.
func (s *LabelService) PrintQC(ctx context.Context, req QCRequest) (*Report, error) {
	count := req.Count
	if count == 0 {
		count = 1
	}
	report := &Report{Kind: models.KindQC, Total: count, StartedAt: s.now()}
	if count < 0 || count > MaxBatch {
		return s.finish(report), &labels.ValidationError{Field: "count", Reason: fmt.Sprintf("must be between 1 and %d", MaxBatch)}
	}

	in := req.Input
	parentRef := ""
	if in.IsACO() {
		parentRef = in.ACORef
		if in.ACOOrdinal == 0 && in.ACORef != "" {
			existing, err := s.pallets.CountPalletsForParent(ctx, in.ACORef)
			if err != nil {
				return s.finish(report), fmt.Errorf("count pallets for %s: %w", in.ACORef, err)
			}
			in.ACOOrdinal = existing + 1
		}
	}
	if err := labels.Validate(in); err != nil {
		return s.finish(report), err
	}

	inputs := make([]labels.Input, count)
	for i := range inputs {
		item := in
		if item.IsACO() {
			item.ACOOrdinal = in.ACOOrdinal + i
		}
		inputs[i] = item
	}
	return s.run(ctx, report, inputs, parentRef, req.PrintOptions)
}

// PrintGRN prints one GRN label per item.
func (s *LabelService) PrintGRN(ctx context.Context, req GRNRequest) (*Report, error) {
	report := &Report{Kind: models.KindGRN, Total: len(req.Items), StartedAt: s.now()}
	if len(req.Items) == 0 || len(req.Items) > MaxBatch {
		return s.finish(report), &labels.ValidationError{Field: "items", Reason: fmt.Sprintf("must contain between 1 and %d items", MaxBatch)}
	}
	// Invalid items fail on their own during preparation.
	inputs := make([]labels.Input, len(req.Items))
	for i, item := range req.Items {
		inputs[i] = item
	}
	return s.run(ctx, report, inputs, "", req.PrintOptions)
}

// Reprint replaces a damaged pallet: it allocates a fresh pallet number and
// series, books the replacement into the original pallet's location with an
// "Auto-reprinted from" remark, then renders and dispatches its label.
func (s *LabelService) Reprint(ctx context.Context, req ReprintRequest) (*Report, error) {
	report := &Report{Kind: models.KindQC, Total: 1, StartedAt: s.now()}
	if err := labels.Validate(req.Input); err != nil {
		return s.finish(report), err
	}
	s.logger.Info("reprinting pallet", "original", req.Input.OriginalPallet, "location", req.Input.Location())
	return s.run(ctx, report, []labels.Input{req.Input}, "", req.PrintOptions)
}

func (s *LabelService) run(ctx context.Context, report *Report, inputs []labels.Input, parentRef string, opts PrintOptions) (*Report, error) {
	kind := string(report.Kind)
	ctx, span := s.tracer.Start(ctx, "labels.print", trace.WithAttributes(
		attribute.String("label.kind", kind),
		attribute.Int("label.count", len(inputs)),
	))
	defer span.End()

	n := len(inputs)

	// Allocate identifiers and series.
	var (
		ids    []models.Identifier
		series []string
	)
	err := s.stage(ctx, kind, metrics.OpAllocate, func(ctx context.Context) error {
		// Series first: a failed series reservation reserves nothing, while
		// identifiers once issued are never handed out again.
		var err error
		if series, err = s.alloc.AllocateSeries(ctx, opts.ScopeDate, n); err != nil {
			return err
		}
		ids, err = s.alloc.AllocateIdentifiers(ctx, opts.ScopeDate, n, parentRef)
		return err
	})
	if err != nil {
		return s.fail(span, report, err)
	}
	for _, id := range ids {
		report.Pallets = append(report.Pallets, id.String())
	}

	// Prepare models; failures enter the batch as failed items.
	items := make([]batch.Item, n)
	records := make([]models.PalletRecord, 0, n)
	createdAt := s.now()
	for i, in := range inputs {
		m, err := s.preparer.Prepare(in, ids[i], series[i])
		if err != nil {
			items[i] = batch.Item{Model: models.LabelModel{Identifier: ids[i]}, Err: err}
			continue
		}
		items[i] = batch.Item{Model: m}
		rec := labels.Record(m, createdAt)
		if rp, ok := in.(labels.ReprintInput); ok {
			rec.Location = rp.Location()
		}
		records = append(records, rec)
	}

	// Persist provenance before anything is printed.
	if len(records) > 0 {
		err = s.stage(ctx, kind, metrics.OpPersist, func(ctx context.Context) error {
			return s.pallets.SavePallets(ctx, records)
		})
		if err != nil {
			return s.fail(span, report, fmt.Errorf("save pallets: %w", err))
		}
	}

	// Render.
	var result *models.BatchRun
	_ = s.stage(ctx, kind, metrics.OpRender, func(ctx context.Context) error {
		result = s.orch.RunBatch(ctx, items, opts.Progress)
		return nil
	})
	report.Successful, report.Failed, report.Cancelled = result.Counts()
	report.Errors = result.Errors()
	if s.prom != nil {
		s.prom.RecordLabels(kind, report.Successful, report.Failed, report.Cancelled)
	}
	for _, r := range result.Successful() {
		report.Documents = append(report.Documents, dispatch.Document{Identifier: r.Model.Identifier, Bytes: r.Document})
	}
	if err := ctx.Err(); err != nil {
		return s.fail(span, report, err)
	}
	if report.Successful == 0 {
		return s.fail(span, report, fmt.Errorf("no labels rendered: %d failed", report.Failed))
	}

	// Merge.
	if !opts.SkipMerge {
		err = s.stage(ctx, kind, metrics.OpMerge, func(context.Context) error {
			merged, err := s.merger.Merge(result.Documents())
			if merged != nil {
				report.MergeWarnings = merged.Warnings
			}
			if err != nil {
				var nc *merge.NoContentError
				if errors.As(err, &nc) {
					report.MergeWarnings = nc.Warnings
				}
				return err
			}
			report.Merged = merged.Bytes
			report.PageCount = merged.PageCount
			return nil
		})
		if err != nil {
			return s.fail(span, report, err)
		}
	} else {
		report.PageCount = len(report.Documents)
	}

	// Dispatch.
	var res dispatch.Result
	_ = s.stage(ctx, kind, metrics.OpDispatch, func(ctx context.Context) error {
		res = s.dispatcher.Dispatch(ctx, dispatch.Payload{
			Kind:      report.Kind,
			Documents: report.Documents,
			Merged:    report.Merged,
		}, dispatch.Options{
			Copies:            opts.Copies,
			Priority:          opts.Priority,
			PrinterPreference: opts.PrinterPreference,
			Upload:            !opts.SkipUpload,
			SkipPrint:         opts.SkipPrint,
			Timeout:           opts.Timeout,
		})
		return res.Err
	})
	report.JobID = res.JobID
	report.UploadedURLs = res.UploadedURLs
	report.MergedURL = res.MergedURL
	report.Warnings = append(report.Warnings, res.Warnings...)
	if s.prom != nil {
		s.prom.RecordUploads(kind, len(res.UploadedURLs), len(res.Warnings))
		if !opts.SkipPrint {
			s.prom.RecordPrint(kind, res.Err == nil)
		}
	}

	// Record archived URLs on the pallet rows.
	for pallet, url := range res.UploadedURLs {
		if err := s.pallets.SetDocumentURL(ctx, pallet, url); err != nil {
			s.logger.Warn("failed to record document url", "pallet", pallet, "error", err)
			report.Warnings = append(report.Warnings, fmt.Sprintf("record url for %s: %v", pallet, err))
		}
	}

	if res.Err != nil {
		report.DispatchError = res.Err.Error()
		return s.fail(span, report, res.Err)
	}

	span.SetStatus(codes.Ok, "")
	s.finish(report)
	s.logger.Info("labels printed",
		"kind", kind,
		"pallets", len(report.Pallets),
		"successful", report.Successful,
		"failed", report.Failed,
		"pages", report.PageCount,
		"job_id", report.JobID)
	return report, nil
}

// stage runs fn in a child span and records its duration.
func (s *LabelService) stage(ctx context.Context, kind, op string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "labels."+op)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	s.collector.RecordTiming(op, elapsed, err != nil)
	if s.prom != nil {
		s.prom.RecordStage(kind, op, elapsed)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *LabelService) fail(span trace.Span, report *Report, err error) (*Report, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("label batch failed", "kind", report.Kind, "pallets", len(report.Pallets), "error", err)
	return s.finish(report), err
}

func (s *LabelService) finish(report *Report) *Report {
	report.FinishedAt = s.now()
	return report
}

// Package dispatch hands rendered label documents to the blob store and the
// print collaborator.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/printer"
	"github.com/raphaelgruber/labelflow/internal/resilience"
)

// Defaults.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultUploadWorkers = 4
)

// BlobStore stores a document and returns its URL. Put overwrites.
type BlobStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Printer submits a print job and returns the collaborator's job id.
type Printer interface {
	Submit(ctx context.Context, job models.PrintJob) (string, error)
}

// Document is one rendered label.
type Document struct {
	Identifier models.Identifier
	Bytes      []byte
}

// Payload is what one dispatch sends. Merged, when set, is printed in place
// of the individual documents.
type Payload struct {
	Kind      models.LabelKind
	Documents []Document
	Merged    []byte
}

// Options control a single dispatch.
type Options struct {
	Copies            int
	Priority          models.Priority
	PrinterPreference string
	Upload            bool
	SkipPrint         bool
	// Timeout bounds the upload phase and the print phase separately; zero
	// uses DefaultTimeout.
	Timeout time.Duration
}

// Result of a dispatch. Err is set when printing failed; upload failures
// only produce warnings.
type Result struct {
	JobID string `json:"job_id,omitempty"`
	// UploadedURLs maps pallet numbers to archived document URLs.
	UploadedURLs map[string]string `json:"uploaded_urls,omitempty"`
	MergedURL    string            `json:"merged_url,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Err          error             `json:"-"`
}

// DispatchError reports a failed print submission.
type DispatchError struct {
	Timeout bool
	Err     error
}

func (e *DispatchError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("dispatch timed out: %v", e.Err)
	}
	return fmt.Sprintf("dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Dispatcher uploads and prints label documents.
type Dispatcher struct {
	blobs   BlobStore
	printer Printer
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	workers int
	logger  *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRetry sets the retry policy for uploads and print submissions.
func WithRetry(p resilience.RetryPolicy) Option {
	return func(d *Dispatcher) { d.retry = p }
}

// WithBreaker replaces the print circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(d *Dispatcher) { d.breaker = cb }
}

// WithUploadWorkers bounds concurrent uploads.
func WithUploadWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher. A nil blob store disables uploads and a nil
// printer disables printing.
func New(blobs BlobStore, p Printer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		blobs:   blobs,
		printer: p,
		retry:   resilience.DefaultRetryPolicy(),
		workers: DefaultUploadWorkers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.breaker == nil {
		d.breaker = resilience.NewCircuitBreaker(resilience.DefaultBreakerConfig("printer"), d.logger, transient)
	}
	return d
}

// transient reports whether a print error may succeed on retry.
func transient(err error) bool {
	return !printer.IsRejected(err) && !errors.Is(err, resilience.ErrCircuitOpen) &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Folder returns the storage folder for a label kind, e.g. "qc-labels".
func Folder(kind models.LabelKind) string {
	return strings.ToLower(string(kind)) + "-labels"
}

// ObjectName returns the storage name of one label document.
func ObjectName(kind models.LabelKind, id models.Identifier) string {
	return Folder(kind) + "/" + id.FileName()
}

// MergedName returns the storage name of a merged document: the first
// identifier followed by the document count.
func MergedName(kind models.LabelKind, first models.Identifier, n int) string {
	base := strings.TrimSuffix(first.FileName(), ".pdf")
	return fmt.Sprintf("%s/%s-x%d.pdf", Folder(kind), base, n)
}

// Dispatch uploads (when enabled) and prints the payload.
func (d *Dispatcher) Dispatch(ctx context.Context, p Payload, opts Options) Result {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	res := Result{UploadedURLs: make(map[string]string)}
	if len(p.Documents) == 0 && len(p.Merged) == 0 {
		res.Err = &DispatchError{Err: errors.New("nothing to dispatch")}
		return res
	}

	if opts.Upload && d.blobs != nil {
		uploadCtx, cancel := context.WithTimeout(ctx, timeout)
		d.upload(uploadCtx, p, &res)
		cancel()
	} else if opts.Upload {
		res.Warnings = append(res.Warnings, "upload skipped: no blob store configured")
	}

	if opts.SkipPrint || d.printer == nil {
		return res
	}

	// A slow blob store must not eat into the print deadline.
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	job := d.job(p, opts, &res)
	start := time.Now()
	jobID, err := resilience.DoValue(ctx, d.retry, func(ctx context.Context) (string, error) {
		var id string
		err := d.breaker.Execute(func() error {
			var err error
			id, err = d.printer.Submit(ctx, job)
			return err
		})
		if err != nil {
			d.logger.Warn("print submit failed", "job", job.Name, "error", err)
		}
		return id, err
	}, transient)
	if err != nil {
		res.Err = &DispatchError{
			Timeout: errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:     err,
		}
		d.logger.Error("dispatch failed", "job", job.Name, "error", err)
		return res
	}

	res.JobID = jobID
	d.logger.Info("print job submitted", "job", job.Name, "job_id", jobID, "duration_ms", time.Since(start).Milliseconds())
	return res
}

// upload stores every document plus the merged one. Failures are recorded
// as warnings.
func (d *Dispatcher) upload(ctx context.Context, p Payload, res *Result) {
	type object struct {
		pallet string
		name   string
		data   []byte
	}
	objects := make([]object, 0, len(p.Documents)+1)
	for _, doc := range p.Documents {
		objects = append(objects, object{pallet: doc.Identifier.String(), name: ObjectName(p.Kind, doc.Identifier), data: doc.Bytes})
	}
	if len(p.Merged) > 0 && len(p.Documents) > 0 {
		objects = append(objects, object{name: MergedName(p.Kind, p.Documents[0].Identifier, len(p.Documents)), data: p.Merged})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, obj := range objects {
		g.Go(func() error {
			url, err := resilience.DoValue(gctx, d.retry, func(ctx context.Context) (string, error) {
				return d.blobs.Put(ctx, obj.name, obj.data)
			}, nil)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.logger.Warn("upload failed", "object", obj.name, "error", err)
				res.Warnings = append(res.Warnings, fmt.Sprintf("upload %s: %v", obj.name, err))
				return nil
			}
			if obj.pallet == "" {
				res.MergedURL = url
			} else {
				res.UploadedURLs[obj.pallet] = url
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) job(p Payload, opts Options, res *Result) models.PrintJob {
	job := models.PrintJob{
		Copies:            opts.Copies,
		Priority:          opts.Priority,
		PrinterPreference: opts.PrinterPreference,
	}
	if len(p.Merged) > 0 {
		name := Folder(p.Kind) + ".pdf"
		if len(p.Documents) > 0 {
			name = MergedName(p.Kind, p.Documents[0].Identifier, len(p.Documents))
		}
		job.Name = name
		job.Merged = &models.NamedDocument{Name: name, Bytes: p.Merged, URL: res.MergedURL}
		return job
	}
	job.Documents = make([]models.NamedDocument, len(p.Documents))
	for i, doc := range p.Documents {
		job.Documents[i] = models.NamedDocument{
			Name:  ObjectName(p.Kind, doc.Identifier),
			Bytes: doc.Bytes,
			URL:   res.UploadedURLs[doc.Identifier.String()],
		}
	}
	job.Name = job.Documents[0].Name
	return job
}

// Package render draws label models onto single-page A4 PDF documents.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-pdf/fpdf"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// RenderError reports a failed render. Document holds the pallet number when
// one was allocated.
type RenderError struct {
	Document string
	Err      error
}

func (e *RenderError) Error() string {
	if e.Document == "" {
		return fmt.Sprintf("render: %v", e.Err)
	}
	return fmt.Sprintf("render %s: %v", e.Document, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Template holds the per-kind fixed texts.
type Template struct {
	Title   string `yaml:"title"`
	Company string `yaml:"company"`
	Footer  string `yaml:"footer"`
}

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() map[models.LabelKind]Template {
	return map[models.LabelKind]Template{
		models.KindQC:  {Title: "QC Label", Footer: "Quality checked"},
		models.KindGRN: {Title: "GRN Label", Footer: "Goods received"},
	}
}

// Renderer renders label models. It is safe for concurrent use; each call
// builds its own document.
type Renderer struct {
	encoder   Encoder
	barcode   Encoder
	templates map[models.LabelKind]Template
	logger    *slog.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithEncoder replaces the QR encoder for the payload code.
func WithEncoder(e Encoder) Option {
	return func(r *Renderer) { r.encoder = e }
}

// WithPalletBarcode prints the pallet number as a linear barcode as well.
func WithPalletBarcode(e Encoder) Option {
	return func(r *Renderer) { r.barcode = e }
}

// WithTemplates overrides templates per kind.
func WithTemplates(t map[models.LabelKind]Template) Option {
	return func(r *Renderer) {
		for k, v := range t {
			r.templates[k] = v
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Renderer) { r.logger = l }
}

// New creates a Renderer with a QR encoder and the default templates.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		encoder:   NewQREncoder(),
		templates: DefaultTemplates(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces one PDF document for m. The output only depends on m:
// creation and modification dates are pinned to m.RenderDate.
func (r *Renderer) Render(ctx context.Context, m models.LabelModel) ([]byte, error) {
	doc := m.PalletNumber()
	if m.Identifier.IsZero() {
		doc = ""
	}
	if err := ctx.Err(); err != nil {
		return nil, &RenderError{Document: doc, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &RenderError{Document: doc, Err: err}
	}

	qrPNG, err := r.encoder.Encode(m.QRPayload)
	if err != nil {
		return nil, &RenderError{Document: doc, Err: err}
	}
	var barPNG []byte
	if r.barcode != nil {
		if barPNG, err = r.barcode.Encode(m.PalletNumber()); err != nil {
			return nil, &RenderError{Document: doc, Err: err}
		}
	}

	out, err := r.draw(m, qrPNG, barPNG)
	if err != nil {
		return nil, &RenderError{Document: doc, Err: err}
	}
	if len(out) == 0 {
		return nil, &RenderError{Document: doc, Err: fmt.Errorf("empty document")}
	}
	r.logger.Debug("label rendered", "pallet", doc, "bytes", len(out))
	return out, nil
}

const (
	pageMargin = 15.0
	rowHeight  = 12.0
	labelWidth = 60.0
)

func (r *Renderer) draw(m models.LabelModel, qrPNG, barPNG []byte) ([]byte, error) {
	tpl := r.templates[m.Kind]

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(m.RenderDate)
	pdf.SetModificationDate(m.RenderDate)
	pdf.SetCatalogSort(true)
	pdf.SetTitle(tpl.Title+" "+m.PalletNumber(), true)
	pdf.SetProducer("labelflow", true)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	qrW, qrH := r.encoder.Size()

	// Header: company and title left, QR code right.
	pdf.SetFont("Helvetica", "B", 10)
	if tpl.Company != "" {
		pdf.CellFormat(0, 6, tr(tpl.Company), "", 1, "L", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 26)
	pdf.CellFormat(pageW-2*pageMargin-qrW, 14, tr(tpl.Title), "", 1, "L", false, 0, "")

	pdf.RegisterImageOptionsReader("qr", fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(qrPNG))
	pdf.ImageOptions("qr", pageW-pageMargin-qrW, pageMargin, qrW, qrH, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")

	// Field table.
	pdf.SetY(pageMargin + qrH + 8)
	for _, f := range fields(m) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(labelWidth, rowHeight, tr(f.label), "1", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 14)
		pdf.CellFormat(0, rowHeight, tr(models.OrPlaceholder(f.value)), "1", 1, "L", false, 0, "")
	}

	if len(barPNG) > 0 && r.barcode != nil {
		bw, bh := r.barcode.Size()
		y := pdf.GetY() + 10
		pdf.RegisterImageOptionsReader("pallet", fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(barPNG))
		pdf.ImageOptions("pallet", (pageW-bw)/2, y, bw, bh, false, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		pdf.SetY(y + bh + 2)
	}

	if tpl.Footer != "" {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 8, tr(tpl.Footer), "", 1, "C", false, 0, "")
	}

	if err := pdf.Error(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type field struct {
	label string
	value string
}

func fields(m models.LabelModel) []field {
	qty := strconv.FormatFloat(m.Quantity, 'f', -1, 64)
	out := []field{
		{"Product Code", m.ProductCode},
		{"Description", m.Description},
	}

	switch m.Kind {
	case models.KindGRN:
		caption := "Net Weight (kg)"
		if m.GRN.Mode == models.ModeQty {
			caption = "Quantity"
		}
		out = append(out,
			field{caption, qty},
			field{"Date", m.Date},
			field{"Operator Clock No.", m.OperatorID},
			field{"Received By", m.CheckerID},
			field{"GRN Number", m.GRN.GRNNumber},
			field{"Supplier", m.GRN.Supplier},
		)
	case models.KindQC:
		out = append(out,
			field{"Quantity", qty},
			field{"Date", m.Date},
			field{"Operator Clock No.", m.OperatorID},
			field{"Q.C. Clock No.", m.CheckerID},
			field{"Work Order", m.WorkOrder},
		)
		if m.QC.WorkOrderName != "" && m.QC.WorkOrderName != models.Placeholder {
			out = append(out, field{"Work Order Name", m.QC.WorkOrderName})
		}
	}

	return append(out,
		field{"Pallet Number", m.PalletNumber()},
		field{"Series", m.Series},
	)
}

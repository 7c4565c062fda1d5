// Package labels turns validated QC and GRN inputs plus allocated identifiers
// into render-ready label models.
package labels

import (
	"fmt"
	"strings"
	"time"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// DateLayout is the printed label date, e.g. "09-May-2025".
const DateLayout = "02-Jan-2006"

// Product types with their own work-order and remark rules.
const (
	ProductTypeACO   = "ACO"
	ProductTypeSlate = "Slate"
)

const (
	acoWorkOrderName = "ACO Order"
	qcDefaultRemark  = "QC Finished"
)

// Input is a QCInput or a GRNInput.
type Input interface {
	Kind() models.LabelKind
}

// QCInput describes one production pallet.
type QCInput struct {
	ProductCode     string  `json:"product_code" validate:"required,max=50"`
	Description     string  `json:"description" validate:"required"`
	Quantity        float64 `json:"quantity" validate:"gt=0"`
	OperatorID      string  `json:"operator_id" validate:"omitempty,clock"`
	CheckerID       string  `json:"qc_clock_num" validate:"required,clock"`
	ProductType     string  `json:"product_type"`
	WorkOrderNumber string  `json:"work_order_number"`
	WorkOrderName   string  `json:"work_order_name"`

	// ACORef is the customer order an ACO pallet belongs to.
	ACORef string `json:"aco_ref" validate:"required_if=ProductType ACO"`
	// ACOOrdinal is the 1-based position of this pallet within the ACO order.
	ACOOrdinal int `json:"aco_ordinal" validate:"required_if=ProductType ACO,gte=0"`

	// Batch is printed in the remark of Slate pallets.
	Batch string `json:"batch"`
}

// Kind implements Input.
func (QCInput) Kind() models.LabelKind { return models.KindQC }

// normalized returns in with ProductType trimmed and the known product
// types in their canonical case, so "aco" is held to the ACO rules.
func (in QCInput) normalized() QCInput {
	in.ProductType = strings.TrimSpace(in.ProductType)
	switch {
	case strings.EqualFold(in.ProductType, ProductTypeACO):
		in.ProductType = ProductTypeACO
	case strings.EqualFold(in.ProductType, ProductTypeSlate):
		in.ProductType = ProductTypeSlate
	}
	return in
}

// IsACO reports whether the pallet belongs to an ACO order.
func (in QCInput) IsACO() bool {
	return strings.EqualFold(strings.TrimSpace(in.ProductType), ProductTypeACO)
}

// GRNInput describes one received material pallet.
type GRNInput struct {
	GRNNumber   string           `json:"grn_number" validate:"required"`
	Supplier    string           `json:"material_supplier" validate:"required"`
	ProductCode string           `json:"product_code" validate:"required,max=50"`
	Description string           `json:"description" validate:"required"`
	NetWeight   float64          `json:"net_weight" validate:"gt=0"`
	ReceivedBy  string           `json:"received_by" validate:"required,clock"`
	ProductType string           `json:"product_type"`
	Mode        models.LabelMode `json:"label_mode" validate:"omitempty,oneof=qty weight"`
}

// Kind implements Input.
func (GRNInput) Kind() models.LabelKind { return models.KindGRN }

// ReprintInput replaces a damaged pallet with a freshly numbered one. The
// replacement is booked into the original pallet's location.
type ReprintInput struct {
	OriginalPallet   string  `json:"original_pallet" validate:"required,pallet"`
	OriginalLocation string  `json:"original_location"`
	ProductCode      string  `json:"product_code" validate:"required,max=50"`
	Description      string  `json:"description" validate:"required"`
	Quantity         float64 `json:"quantity" validate:"gt=0"`
	OperatorID       string  `json:"operator_clock_num" validate:"required,clock"`
}

// Kind implements Input. Replacements are QC labels.
func (ReprintInput) Kind() models.LabelKind { return models.KindQC }

// Location is where the replacement pallet is booked.
func (in ReprintInput) Location() string {
	if loc := strings.TrimSpace(in.OriginalLocation); loc != "" {
		return loc
	}
	return models.LocationAwaitingQC
}

// ReprintRemark is the remark of a replacement pallet.
func ReprintRemark(original string) string {
	return "Auto-reprinted from " + strings.TrimSpace(original)
}

// Preparer builds label models. It is pure apart from the injected clock.
type Preparer struct {
	loc *time.Location
	now func() time.Time
}

// NewPreparer creates a Preparer. A nil loc means time.Local; a nil now
// means time.Now.
func NewPreparer(loc *time.Location, now func() time.Time) *Preparer {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Preparer{loc: loc, now: now}
}

// Prepare dispatches on the input kind.
func (p *Preparer) Prepare(in Input, id models.Identifier, series string) (models.LabelModel, error) {
	switch v := in.(type) {
	case QCInput:
		return p.PrepareQC(v, id, series)
	case *QCInput:
		return p.PrepareQC(*v, id, series)
	case GRNInput:
		return p.PrepareGRN(v, id, series)
	case *GRNInput:
		return p.PrepareGRN(*v, id, series)
	case ReprintInput:
		return p.PrepareReprint(v, id, series)
	case *ReprintInput:
		return p.PrepareReprint(*v, id, series)
	default:
		return models.LabelModel{}, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unsupported input %T", in)}
	}
}

func (p *Preparer) base(kind models.LabelKind, code, desc string, qty float64, id models.Identifier, series string) models.LabelModel {
	renderDate := p.now().In(p.loc)
	qr := series
	if strings.TrimSpace(qr) == "" {
		qr = code
	}
	return models.LabelModel{
		Kind:        kind,
		ProductCode: strings.TrimSpace(code),
		Description: strings.TrimSpace(desc),
		Quantity:    qty,
		Identifier:  id,
		Series:      series,
		RenderDate:  renderDate,
		Date:        renderDate.Format(DateLayout),
		QRPayload:   qr,
	}
}

// PrepareQC builds a QC label model.
func (p *Preparer) PrepareQC(in QCInput, id models.Identifier, series string) (models.LabelModel, error) {
	in = in.normalized()
	if err := check(in); err != nil {
		return models.LabelModel{}, err
	}
	if id.IsZero() {
		return models.LabelModel{}, &ValidationError{Field: "identifier", Reason: "not allocated"}
	}

	m := p.base(models.KindQC, in.ProductCode, in.Description, in.Quantity, id, series)
	m.OperatorID = models.OrPlaceholder(in.OperatorID)
	m.CheckerID = in.CheckerID

	qc := &models.QCFields{ProductType: strings.TrimSpace(in.ProductType)}
	switch {
	case in.IsACO():
		if in.ACOOrdinal < 1 {
			return models.LabelModel{}, &ValidationError{Field: "aco_ordinal", Reason: "must be at least 1"}
		}
		qc.WorkOrderNumber = fmt.Sprintf("%s - %s Pallet", strings.TrimSpace(in.ACORef), Ordinal(in.ACOOrdinal))
		qc.WorkOrderName = acoWorkOrderName
	default:
		qc.WorkOrderNumber = models.OrPlaceholder(in.WorkOrderNumber)
		qc.WorkOrderName = models.OrPlaceholder(in.WorkOrderName)
	}
	m.QC = qc
	m.WorkOrder = qc.WorkOrderNumber
	m.Remark = QCRemark(in)
	return m, nil
}

// QCRemark returns the pallet remark for a QC input.
func QCRemark(in QCInput) string {
	switch {
	case in.IsACO() && strings.TrimSpace(in.ACORef) != "":
		return "ACO Ref: " + strings.TrimSpace(in.ACORef)
	case strings.EqualFold(strings.TrimSpace(in.ProductType), ProductTypeSlate) && strings.TrimSpace(in.Batch) != "":
		return "Batch: " + strings.TrimSpace(in.Batch)
	default:
		return qcDefaultRemark
	}
}

// PrepareGRN builds a GRN label model.
func (p *Preparer) PrepareGRN(in GRNInput, id models.Identifier, series string) (models.LabelModel, error) {
	if err := check(in); err != nil {
		return models.LabelModel{}, err
	}
	if id.IsZero() {
		return models.LabelModel{}, &ValidationError{Field: "identifier", Reason: "not allocated"}
	}

	mode := in.Mode
	if mode == "" {
		mode = models.ModeWeight
	}

	m := p.base(models.KindGRN, in.ProductCode, in.Description, in.NetWeight, id, series)
	m.OperatorID = models.Placeholder
	m.CheckerID = in.ReceivedBy
	m.WorkOrder = strings.TrimSpace(in.GRNNumber)
	m.Remark = "Material GRN-" + strings.TrimSpace(in.GRNNumber)
	m.GRN = &models.GRNFields{
		GRNNumber: strings.TrimSpace(in.GRNNumber),
		Supplier:  strings.TrimSpace(in.Supplier),
		Mode:      mode,
	}
	return m, nil
}

// PrepareReprint builds the QC label of a replacement pallet. The operator
// signs the label as both operator and checker.
func (p *Preparer) PrepareReprint(in ReprintInput, id models.Identifier, series string) (models.LabelModel, error) {
	if err := check(in); err != nil {
		return models.LabelModel{}, err
	}
	m, err := p.PrepareQC(QCInput{
		ProductCode: in.ProductCode,
		Description: in.Description,
		Quantity:    in.Quantity,
		OperatorID:  in.OperatorID,
		CheckerID:   in.OperatorID,
	}, id, series)
	if err != nil {
		return models.LabelModel{}, err
	}
	m.Remark = ReprintRemark(in.OriginalPallet)
	return m, nil
}

// Record builds the provenance row for a prepared label.
func Record(m models.LabelModel, createdAt time.Time) models.PalletRecord {
	location := models.LocationAwaitingQC
	if m.Kind == models.KindGRN {
		location = models.LocationAwaitingGRN
	}
	operator := m.OperatorID
	if operator == models.Placeholder {
		operator = ""
	}
	return models.PalletRecord{
		PalletNumber: m.PalletNumber(),
		Scope:        m.Identifier.Scope(),
		Sequence:     m.Identifier.Sequence,
		Series:       m.Series,
		ProductCode:  m.ProductCode,
		Quantity:     m.Quantity,
		Remark:       m.Remark,
		Location:     location,
		ParentRef:    m.Identifier.ParentRef,
		OperatorID:   operator,
		CreatedAt:    createdAt,
	}
}

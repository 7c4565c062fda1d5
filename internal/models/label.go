package models

import (
	"fmt"
	"strings"
	"time"
)

// LabelKind selects the label template.
type LabelKind string

const (
	KindQC  LabelKind = "QC"
	KindGRN LabelKind = "GRN"
)

// LabelMode controls how a GRN label captions its quantity.
type LabelMode string

const (
	ModeQty    LabelMode = "qty"
	ModeWeight LabelMode = "weight"
)

// Placeholder is rendered for absent optional fields.
const Placeholder = "-"

// QCFields carries the production-label specific fields.
type QCFields struct {
	ProductType     string `json:"product_type,omitempty"`
	WorkOrderNumber string `json:"work_order_number,omitempty"`
	WorkOrderName   string `json:"work_order_name,omitempty"`
}

// GRNFields carries the goods-receipt-label specific fields.
type GRNFields struct {
	GRNNumber string    `json:"grn_number"`
	Supplier  string    `json:"supplier"`
	Mode      LabelMode `json:"mode"`
}

// LabelModel is the fully-resolved input to rendering. Exactly one of QC or
// GRN is set, matching Kind.
type LabelModel struct {
	Kind        LabelKind  `json:"kind"`
	ProductCode string     `json:"product_code"`
	Description string     `json:"description"`
	Quantity    float64    `json:"quantity"`
	Identifier  Identifier `json:"identifier"`
	Series      string     `json:"series,omitempty"`
	RenderDate  time.Time  `json:"render_date"`
	Date        string     `json:"date"`
	QRPayload   string     `json:"qr_payload"`
	OperatorID  string     `json:"operator_id"`
	CheckerID   string     `json:"checker_id"`
	WorkOrder   string     `json:"work_order"`
	Remark      string     `json:"remark,omitempty"`

	QC  *QCFields  `json:"qc,omitempty"`
	GRN *GRNFields `json:"grn,omitempty"`
}

// PalletNumber renders the allocated identifier.
func (m LabelModel) PalletNumber() string {
	return m.Identifier.String()
}

// Validate checks the fields the template for m.Kind requires.
func (m LabelModel) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"product_code", m.ProductCode},
		{"description", m.Description},
		{"date", m.Date},
		{"qr_payload", m.QRPayload},
		{"checker_id", m.CheckerID},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: f.name, Reason: "required"}
		}
	}
	if m.Quantity <= 0 {
		return &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if m.Identifier.IsZero() {
		return &ValidationError{Field: "identifier", Reason: "not allocated"}
	}

	switch m.Kind {
	case KindQC:
		if m.QC == nil || m.GRN != nil {
			return &ValidationError{Field: "qc", Reason: "QC label needs QC fields only"}
		}
	case KindGRN:
		if m.GRN == nil || m.QC != nil {
			return &ValidationError{Field: "grn", Reason: "GRN label needs GRN fields only"}
		}
		if strings.TrimSpace(m.GRN.GRNNumber) == "" {
			return &ValidationError{Field: "grn_number", Reason: "required"}
		}
		if strings.TrimSpace(m.GRN.Supplier) == "" {
			return &ValidationError{Field: "supplier", Reason: "required"}
		}
		switch m.GRN.Mode {
		case ModeQty, ModeWeight:
		default:
			return &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown label mode %q", m.GRN.Mode)}
		}
	default:
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown label kind %q", m.Kind)}
	}
	return nil
}

// ValidationError reports a missing or malformed label field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// OrPlaceholder returns s, or Placeholder when s is blank.
func OrPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

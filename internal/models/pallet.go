package models

import "time"

// Locations a freshly labelled pallet is booked into.
const (
	LocationAwaitingQC  = "AWAITING AREA"
	LocationAwaitingGRN = "AWAITING"
)

// PalletRecord is the provenance row persisted right after allocation.
type PalletRecord struct {
	PalletNumber string    `json:"plt_num"`
	Scope        string    `json:"scope"`
	Sequence     int       `json:"sequence"`
	Series       string    `json:"series"`
	ProductCode  string    `json:"product_code"`
	Quantity     float64   `json:"product_qty"`
	Remark       string    `json:"plt_remark"`
	Location     string    `json:"location"`
	ParentRef    string    `json:"parent_ref,omitempty"`
	OperatorID   string    `json:"operator_id,omitempty"`
	DocumentURL  string    `json:"pdf_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// Table names.
const (
	tablePallet  = "pallet"
	tableCounter = "sequence_counter"
	tableSeries  = "series"
)

// palletRow is a models.PalletRecord as stored in SurrealDB.
type palletRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	PalletNumber string                 `json:"plt_num"`
	Scope        string                 `json:"scope"`
	Sequence     int                    `json:"sequence"`
	Series       string                 `json:"series"`
	ProductCode  string                 `json:"product_code"`
	Quantity     float64                `json:"product_qty"`
	Remark       string                 `json:"plt_remark"`
	Location     string                 `json:"location"`
	ParentRef    *string                `json:"parent_ref,omitempty"`
	OperatorID   *string                `json:"operator_id,omitempty"`
	DocumentURL  *string                `json:"pdf_url,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// seriesRow is a reserved series code.
type seriesRow struct {
	ID   surrealmodels.RecordID `json:"id"`
	Code string                 `json:"code"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toPalletRow(r models.PalletRecord) palletRow {
	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return palletRow{
		ID:           newRecordID(tablePallet, PalletRecordKey(r.PalletNumber)),
		PalletNumber: r.PalletNumber,
		Scope:        r.Scope,
		Sequence:     r.Sequence,
		Series:       r.Series,
		ProductCode:  r.ProductCode,
		Quantity:     r.Quantity,
		Remark:       r.Remark,
		Location:     r.Location,
		ParentRef:    optional(r.ParentRef),
		OperatorID:   optional(r.OperatorID),
		DocumentURL:  optional(r.DocumentURL),
		CreatedAt:    created.UTC(),
	}
}

func (p palletRow) record() models.PalletRecord {
	return models.PalletRecord{
		PalletNumber: p.PalletNumber,
		Scope:        p.Scope,
		Sequence:     p.Sequence,
		Series:       p.Series,
		ProductCode:  p.ProductCode,
		Quantity:     p.Quantity,
		Remark:       p.Remark,
		Location:     p.Location,
		ParentRef:    deref(p.ParentRef),
		OperatorID:   deref(p.OperatorID),
		DocumentURL:  deref(p.DocumentURL),
		CreatedAt:    p.CreatedAt,
	}
}

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// PalletRecordKey returns the record key used for a pallet number.
// Record keys cannot contain '/', so "090525/14" becomes "090525_14".
func PalletRecordKey(palletNumber string) string {
	return strings.ReplaceAll(palletNumber, "/", "_")
}

func newRecordID(table, key string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(table, key)
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

package render

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/labelflow/internal/models"
)

func qcModel() models.LabelModel {
	day := time.Date(2025, 5, 9, 0, 0, 0, 0, time.UTC)
	return models.LabelModel{
		Kind:        models.KindQC,
		ProductCode: "MEP9090150",
		Description: "Envirocrate Heavy 150",
		Quantity:    40,
		Identifier:  models.Identifier{ScopeDate: day, Sequence: 14},
		Series:      "090525-A1B2C3",
		RenderDate:  day.Add(9 * time.Hour),
		Date:        "09-May-2025",
		QRPayload:   "090525-A1B2C3",
		OperatorID:  "5997",
		CheckerID:   "6001",
		WorkOrder:   "123456 - 1st Pallet",
		Remark:      "ACO Ref: 123456",
		QC:          &models.QCFields{ProductType: "ACO", WorkOrderNumber: "123456 - 1st Pallet", WorkOrderName: "ACO Order"},
	}
}

func grnModel(mode models.LabelMode) models.LabelModel {
	m := qcModel()
	m.Kind = models.KindGRN
	m.QC = nil
	m.OperatorID = models.Placeholder
	m.GRN = &models.GRNFields{GRNNumber: "778899", Supplier: "AC01", Mode: mode}
	return m
}

type failingEncoder struct{}

func (failingEncoder) Encode(string) ([]byte, error) { return nil, errors.New("encoder down") }
func (failingEncoder) Size() (float64, float64)      { return 10, 10 }

func TestRender(t *testing.T) {
	r := New(WithPalletBarcode(NewCode128Encoder()))

	for _, m := range []models.LabelModel{qcModel(), grnModel(models.ModeQty), grnModel(models.ModeWeight)} {
		t.Run(string(m.Kind), func(t *testing.T) {
			doc, err := r.Render(context.Background(), m)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
		})
	}
}

func TestRenderDeterministic(t *testing.T) {
	r := New()
	a, err := r.Render(context.Background(), qcModel())
	require.NoError(t, err)
	b, err := r.Render(context.Background(), qcModel())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRenderErrors(t *testing.T) {
	t.Run("invalid model", func(t *testing.T) {
		m := qcModel()
		m.ProductCode = ""
		_, err := New().Render(context.Background(), m)
		var rerr *RenderError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, "090525/14", rerr.Document)
		var verr *models.ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("encoder failure", func(t *testing.T) {
		_, err := New(WithEncoder(failingEncoder{})).Render(context.Background(), qcModel())
		var rerr *RenderError
		require.ErrorAs(t, err, &rerr)
		assert.Contains(t, err.Error(), "encoder down")
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New().Render(ctx, qcModel())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestEncoders(t *testing.T) {
	tests := []struct {
		name string
		enc  Encoder
	}{
		{"qr", NewQREncoder()},
		{"code128", NewCode128Encoder()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.enc.Encode("090525/14")
			require.NoError(t, err)
			_, err = png.Decode(bytes.NewReader(b))
			require.NoError(t, err)

			_, err = tt.enc.Encode("")
			assert.Error(t, err)
		})
	}
}

func TestTemplatesOverride(t *testing.T) {
	r := New(WithTemplates(map[models.LabelKind]Template{models.KindQC: {Title: "Pallet Label", Company: "Acme"}}))
	assert.Equal(t, "Pallet Label", r.templates[models.KindQC].Title)
	assert.Equal(t, "GRN Label", r.templates[models.KindGRN].Title)
}

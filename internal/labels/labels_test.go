package labels

import (
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/labelflow/internal/models"
)

var (
	london, _ = time.LoadLocation("Europe/London")
	fixedNow  = time.Date(2025, 5, 9, 23, 30, 0, 0, time.UTC) // 10 May 00:30 in London
	allocated = models.Identifier{ScopeDate: time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), Sequence: 14}
)

func newPreparer() *Preparer {
	return NewPreparer(london, func() time.Time { return fixedNow })
}

func qcInput() QCInput {
	return QCInput{
		ProductCode: "MEP9090150",
		Description: "Envirocrate Heavy 150",
		Quantity:    40,
		OperatorID:  "5997",
		CheckerID:   "6001",
	}
}

func TestOrdinal(t *testing.T) {
	tests := map[int]string{
		1: "1st", 2: "2nd", 3: "3rd", 4: "4th", 11: "11th", 12: "12th", 13: "13th",
		21: "21st", 22: "22nd", 101: "101st", 111: "111th",
	}
	for n, want := range tests {
		assert.Equal(t, want, Ordinal(n))
	}
}

func TestPrepareQC(t *testing.T) {
	m, err := newPreparer().PrepareQC(qcInput(), allocated, "100525-A1B2C3")
	require.NoError(t, err)

	assert.Equal(t, models.KindQC, m.Kind)
	assert.Equal(t, "10-May-2025", m.Date)
	assert.Equal(t, "100525-A1B2C3", m.QRPayload)
	assert.Equal(t, "100525/14", m.PalletNumber())
	assert.Equal(t, "5997", m.OperatorID)
	assert.Equal(t, models.Placeholder, m.WorkOrder)
	assert.Equal(t, "QC Finished", m.Remark)
	require.NotNil(t, m.QC)
	assert.Nil(t, m.GRN)
	assert.NoError(t, m.Validate())
}

func TestPrepareIsPure(t *testing.T) {
	p := newPreparer()
	a, err := p.PrepareQC(qcInput(), allocated, "")
	require.NoError(t, err)
	b, err := p.Prepare(qcInput(), allocated, "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPrepareQRFallsBackToProductCode(t *testing.T) {
	m, err := newPreparer().PrepareQC(qcInput(), allocated, "")
	require.NoError(t, err)
	assert.Equal(t, "MEP9090150", m.QRPayload)
}

func TestPrepareQCWorkOrderAndRemark(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(in *QCInput)
		workOrder string
		woName    string
		remark    string
	}{
		{
			name: "aco",
			mutate: func(in *QCInput) {
				in.ProductType = "ACO"
				in.ACORef = "123456"
				in.ACOOrdinal = 3
			},
			workOrder: "123456 - 3rd Pallet",
			woName:    "ACO Order",
			remark:    "ACO Ref: 123456",
		},
		{
			name: "slate with batch",
			mutate: func(in *QCInput) {
				in.ProductType = "Slate"
				in.Batch = "B-77"
			},
			workOrder: "-",
			woName:    "-",
			remark:    "Batch: B-77",
		},
		{
			name: "user work order",
			mutate: func(in *QCInput) {
				in.WorkOrderNumber = "WO-9"
				in.WorkOrderName = "Spring run"
			},
			workOrder: "WO-9",
			woName:    "Spring run",
			remark:    "QC Finished",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := qcInput()
			tt.mutate(&in)
			m, err := newPreparer().PrepareQC(in, allocated, "s")
			require.NoError(t, err)
			assert.Equal(t, tt.workOrder, m.WorkOrder)
			assert.Equal(t, tt.woName, m.QC.WorkOrderName)
			assert.Equal(t, tt.remark, m.Remark)
		})
	}
}

func TestPrepareQCValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *QCInput)
		field  string
	}{
		{"missing product code", func(in *QCInput) { in.ProductCode = "" }, "product_code"},
		{"zero quantity", func(in *QCInput) { in.Quantity = 0 }, "quantity"},
		{"missing checker", func(in *QCInput) { in.CheckerID = "" }, "qc_clock_num"},
		{"bad operator clock", func(in *QCInput) { in.OperatorID = "abc" }, "operator_id"},
		{"aco without ref", func(in *QCInput) { in.ProductType = "ACO"; in.ACOOrdinal = 1 }, "aco_ref"},
		{"aco without ordinal", func(in *QCInput) { in.ProductType = "ACO"; in.ACORef = "1" }, "aco_ordinal"},
		{"lowercase aco without ref", func(in *QCInput) { in.ProductType = " aco "; in.ACOOrdinal = 1 }, "aco_ref"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := qcInput()
			tt.mutate(&in)
			_, err := newPreparer().PrepareQC(in, allocated, "")
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	_, err := newPreparer().PrepareQC(qcInput(), models.Identifier{}, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "identifier", verr.Field)
}

func TestProductTypeCaseInsensitive(t *testing.T) {
	in := qcInput()
	in.ProductType = "aco"
	in.ACOOrdinal = 2

	var verr *ValidationError
	require.ErrorAs(t, Validate(in), &verr)
	assert.Equal(t, "aco_ref", verr.Field)

	in.ACORef = "123456"
	require.NoError(t, Validate(in))
	m, err := newPreparer().PrepareQC(in, allocated, "s")
	require.NoError(t, err)
	assert.Equal(t, "123456 - 2nd Pallet", m.WorkOrder)
	assert.Equal(t, ProductTypeACO, m.QC.ProductType)
	assert.Equal(t, "ACO Ref: 123456", m.Remark)
}

func TestPrepareGRN(t *testing.T) {
	in := GRNInput{
		GRNNumber:   "778899",
		Supplier:    "AC01",
		ProductCode: "RM-STEEL",
		Description: "Steel coil",
		NetWeight:   812.5,
		ReceivedBy:  "4321",
	}
	m, err := newPreparer().Prepare(in, allocated, "100525-ZZZZZZ")
	require.NoError(t, err)

	assert.Equal(t, models.KindGRN, m.Kind)
	assert.Equal(t, models.Placeholder, m.OperatorID)
	assert.Equal(t, "4321", m.CheckerID)
	assert.Equal(t, "778899", m.WorkOrder)
	assert.Equal(t, "Material GRN-778899", m.Remark)
	require.NotNil(t, m.GRN)
	assert.Equal(t, models.ModeWeight, m.GRN.Mode)
	assert.NoError(t, m.Validate())

	in.Mode = "volume"
	_, err = newPreparer().PrepareGRN(in, allocated, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "label_mode", verr.Field)
}

func TestRecord(t *testing.T) {
	in := qcInput()
	in.ProductType = "ACO"
	in.ACORef = "123456"
	in.ACOOrdinal = 1
	id := allocated
	id.ParentRef = "123456"

	m, err := newPreparer().PrepareQC(in, id, "100525-A1B2C3")
	require.NoError(t, err)
	rec := Record(m, fixedNow)

	assert.Equal(t, "100525/14", rec.PalletNumber)
	assert.Equal(t, "100525", rec.Scope)
	assert.Equal(t, 14, rec.Sequence)
	assert.Equal(t, "ACO Ref: 123456", rec.Remark)
	assert.Equal(t, models.LocationAwaitingQC, rec.Location)
	assert.Equal(t, "123456", rec.ParentRef)

	grn, err := newPreparer().PrepareGRN(GRNInput{
		GRNNumber: "1", Supplier: "S", ProductCode: "P", Description: "D", NetWeight: 1, ReceivedBy: "9",
	}, allocated, "")
	require.NoError(t, err)
	rec = Record(grn, fixedNow)
	assert.Equal(t, models.LocationAwaitingGRN, rec.Location)
	assert.Empty(t, rec.OperatorID)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(qcInput()))

	in := qcInput()
	in.CheckerID = "0000"
	var verr *ValidationError
	require.ErrorAs(t, Validate(&in), &verr)
	assert.Equal(t, "qc_clock_num", verr.Field)

	assert.Error(t, Validate(GRNInput{}))
}

func TestPrepareReprint(t *testing.T) {
	in := ReprintInput{
		OriginalPallet:   "080525/7",
		OriginalLocation: "Fold Mill",
		ProductCode:      "MEP9090150",
		Description:      "Envirocrate Heavy 150",
		Quantity:         12,
		OperatorID:       "5997",
	}
	m, err := newPreparer().Prepare(in, allocated, "100525-A1B2C3")
	require.NoError(t, err)

	assert.Equal(t, models.KindQC, m.Kind)
	assert.Equal(t, "Auto-reprinted from 080525/7", m.Remark)
	assert.Equal(t, "5997", m.OperatorID)
	assert.Equal(t, "5997", m.CheckerID)
	assert.Equal(t, models.Placeholder, m.WorkOrder)
	assert.NoError(t, m.Validate())

	rec := Record(m, fixedNow)
	assert.Equal(t, "Auto-reprinted from 080525/7", rec.Remark)
	assert.Equal(t, "Fold Mill", in.Location())

	in.OriginalLocation = " "
	assert.Equal(t, models.LocationAwaitingQC, in.Location())
}

func TestPrepareReprintValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *ReprintInput)
		field  string
	}{
		{"missing original", func(in *ReprintInput) { in.OriginalPallet = "" }, "original_pallet"},
		{"malformed original", func(in *ReprintInput) { in.OriginalPallet = "pallet-7" }, "original_pallet"},
		{"zero quantity", func(in *ReprintInput) { in.Quantity = 0 }, "quantity"},
		{"bad clock", func(in *ReprintInput) { in.OperatorID = "000" }, "operator_clock_num"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ReprintInput{
				OriginalPallet: "080525/7",
				ProductCode:    "MEP9090150",
				Description:    "Envirocrate Heavy 150",
				Quantity:       12,
				OperatorID:     "5997",
			}
			tt.mutate(&in)
			var verr *ValidationError
			require.ErrorAs(t, Validate(in), &verr)
			assert.Equal(t, tt.field, verr.Field)

			_, err := newPreparer().PrepareReprint(in, allocated, "")
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

package merge

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/render"
)

func renderDocs(t *testing.T, n int) [][]byte {
	t.Helper()
	day := time.Date(2025, 5, 9, 0, 0, 0, 0, time.UTC)
	r := render.New()
	docs := make([][]byte, n)
	for i := range docs {
		doc, err := r.Render(context.Background(), models.LabelModel{
			Kind:        models.KindQC,
			ProductCode: "MEP9090150",
			Description: "Envirocrate Heavy 150",
			Quantity:    40,
			Identifier:  models.Identifier{ScopeDate: day, Sequence: 14 + i},
			RenderDate:  day,
			Date:        "09-May-2025",
			QRPayload:   "MEP9090150",
			OperatorID:  "5997",
			CheckerID:   "6001",
			WorkOrder:   models.Placeholder,
			QC:          &models.QCFields{},
		})
		require.NoError(t, err)
		docs[i] = doc
	}
	return docs
}

func TestMergeRoundTrip(t *testing.T) {
	m := New(nil)
	merged, err := m.Merge(renderDocs(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, merged.PageCount)
	assert.Empty(t, merged.Warnings)

	n, err := m.PageCount(merged.Bytes)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMergeSkipsCorruptedInput(t *testing.T) {
	docs := renderDocs(t, 3)
	docs[1] = []byte("%PDF-1.4 this is not a pdf")

	merged, err := New(nil).Merge(docs)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.PageCount)
	require.Len(t, merged.Warnings, 1)
	assert.Equal(t, 1, merged.Warnings[0].Index)
}

func TestMergeSkipsCorruptContentStream(t *testing.T) {
	docs := renderDocs(t, 3)

	// Overwrite the start of the first content stream in place so the
	// document structure and xref offsets stay intact.
	bad := bytes.Clone(docs[1])
	at := bytes.Index(bad, []byte("stream\n"))
	require.Positive(t, at)
	start := at + len("stream\n")
	copy(bad[start:start+16], bytes.Repeat([]byte("x"), 16))
	docs[1] = bad

	m := New(nil)
	_, err := m.PageCount(bad)
	require.NoError(t, err, "the structure still parses")

	merged, err := m.Merge(docs)
	require.NoError(t, err)
	assert.Equal(t, 2, merged.PageCount)
	require.Len(t, merged.Warnings, 1)
	assert.Equal(t, 1, merged.Warnings[0].Index)

	n, err := m.PageCount(merged.Bytes)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMergeSingleInputUnchanged(t *testing.T) {
	docs := renderDocs(t, 1)
	merged, err := New(nil).Merge([][]byte{nil, docs[0]})
	require.NoError(t, err)
	assert.Equal(t, 1, merged.PageCount)
	assert.Equal(t, docs[0], merged.Bytes)
	require.Len(t, merged.Warnings, 1)
	assert.Equal(t, "empty document", merged.Warnings[0].Reason)
}

func TestMergeNoContent(t *testing.T) {
	_, err := New(nil).Merge([][]byte{nil, []byte("garbage")})
	var nc *NoContentError
	require.ErrorAs(t, err, &nc)
	assert.Equal(t, 2, nc.Inputs)
	assert.Len(t, nc.Warnings, 2)
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = New(nil).Merge(nil)
	assert.ErrorIs(t, err, ErrNoContent)
}

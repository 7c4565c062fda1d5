package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/labelflow/internal/models"
)

func TestMemoryReserveSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.ReserveSequence(ctx, "090525", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	first, err = m.ReserveSequence(ctx, "090525", 2)
	require.NoError(t, err)
	assert.Equal(t, 4, first)

	first, err = m.ReserveSequence(ctx, "100525", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first, "scopes are independent")

	_, err = m.ReserveSequence(ctx, "090525", 0)
	assert.Error(t, err)
}

func TestMemoryReserveSeriesAllOrNone(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	taken, err := m.ReserveSeries(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, taken)

	taken, err = m.ReserveSeries(ctx, []string{"c", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, taken)

	taken, err = m.ReserveSeries(ctx, []string{"c"})
	require.NoError(t, err)
	assert.Empty(t, taken, "c was not reserved by the failed call")
}

func TestMemoryPallets(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	recs := []models.PalletRecord{
		{PalletNumber: "090525/1", Scope: "090525", Sequence: 1, ParentRef: "ACO-7"},
		{PalletNumber: "090525/2", Scope: "090525", Sequence: 2, ParentRef: "ACO-7"},
	}
	require.NoError(t, m.SavePallets(ctx, recs))
	assert.ErrorIs(t, m.SavePallets(ctx, recs[:1]), ErrConflict)

	n, err := m.CountPalletsForParent(ctx, "ACO-7")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	highest, err := m.MaxSequenceForScope(ctx, "090525")
	require.NoError(t, err)
	assert.Equal(t, 2, highest)

	_, err = m.ReserveSequence(ctx, "090525", 3)
	require.NoError(t, err)
	highest, err = m.MaxSequenceForScope(ctx, "090525")
	require.NoError(t, err)
	assert.Equal(t, 5, highest, "reserved numbers count as issued")

	require.NoError(t, m.SetDocumentURL(ctx, "090525/2", "mem://qc-labels/090525_2.pdf"))
	p, ok := m.Pallet("090525/2")
	require.True(t, ok)
	assert.Equal(t, "mem://qc-labels/090525_2.pdf", p.DocumentURL)

	assert.ErrorIs(t, m.SetDocumentURL(ctx, "090525/9", "x"), ErrNotFound)
}

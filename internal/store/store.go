// Package store defines the persisted record store the label pipeline talks to.
//
// Implementations: the SurrealDB client in internal/db, the Postgres store in
// internal/pgstore and the in-process Memory store in this package.
package store

import (
	"context"
	"errors"

	"github.com/raphaelgruber/labelflow/internal/models"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrConflict indicates a concurrent reservation won the race.
	// The operation reserved nothing and may be retried.
	ErrConflict = errors.New("reservation conflict")

	// ErrNotFound indicates the requested pallet does not exist.
	ErrNotFound = errors.New("pallet not found")
)

// Sequences issues identifiers. Each reservation is a critical section per
// scope key, held by the store itself.
type Sequences interface {
	// MaxSequenceForScope returns the highest sequence issued for scope,
	// or 0 when none was issued yet.
	MaxSequenceForScope(ctx context.Context, scope string) (int, error)

	// ReserveSequence atomically reserves count consecutive sequence numbers
	// for scope and returns the first one.
	ReserveSequence(ctx context.Context, scope string, count int) (int, error)

	// ReserveSeries reserves every code, or none of them. The codes already
	// taken are returned; a non-empty result means nothing was reserved.
	ReserveSeries(ctx context.Context, codes []string) ([]string, error)
}

// Pallets persists pallet provenance rows.
type Pallets interface {
	// SavePallets inserts the rows in one write; all or nothing.
	SavePallets(ctx context.Context, records []models.PalletRecord) error

	// SetDocumentURL records where the rendered label was archived.
	SetDocumentURL(ctx context.Context, palletNumber, url string) error

	// CountPalletsForParent returns how many pallets reference parentRef.
	CountPalletsForParent(ctx context.Context, parentRef string) (int, error)
}

// Store is the full record store.
type Store interface {
	Sequences
	Pallets
}

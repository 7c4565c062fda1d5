package db

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/labelflow/internal/models"
	"github.com/raphaelgruber/labelflow/internal/store"
)

// Compile-time check that Client implements store.Store.
var _ store.Store = (*Client)(nil)

// first returns the first row of the first statement result.
func first[T any](results *[]surrealdb.QueryResult[[]T]) (T, bool) {
	var zero T
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return zero, false
	}
	return (*results)[0].Result[0], true
}

// MaxSequenceForScope returns the highest sequence issued for scope: the
// larger of the highest persisted pallet and the reservation counter.
func (c *Client) MaxSequenceForScope(ctx context.Context, scope string) (int, error) {
	results, err := surrealdb.Query[[]int](ctx, c.db, `
		SELECT VALUE sequence FROM pallet WHERE scope = $scope ORDER BY sequence DESC LIMIT 1;
		SELECT VALUE last FROM sequence_counter WHERE scope = $scope;
	`, map[string]any{"scope": scope})
	if err != nil {
		return 0, fmt.Errorf("max sequence: %w", wrapQueryError(err))
	}
	highest := 0
	if results != nil {
		for _, r := range *results {
			if len(r.Result) > 0 {
				highest = max(highest, r.Result[0])
			}
		}
	}
	return highest, nil
}

// ReserveSequence advances the scope counter by count in one statement and
// returns the first reserved number. The counter starts from whichever is
// higher: its own value or the highest persisted pallet sequence. Concurrent
// reservations on the same counter record fail with ErrTransactionConflict.
func (c *Client) ReserveSequence(ctx context.Context, scope string, count int) (int, error) {
	if count < 1 {
		return 0, fmt.Errorf("reserve sequence: count must be >= 1, got %d", count)
	}

	type counterRow struct {
		Last int `json:"last"`
	}
	results, err := surrealdb.Query[[]counterRow](ctx, c.db, `
		UPSERT type::record("sequence_counter", $scope) SET
			scope = $scope,
			last = math::max([
				last ?? 0,
				math::max((SELECT VALUE sequence FROM pallet WHERE scope = $scope)) ?? 0
			]) + $count,
			updated = time::now()
		RETURN last
	`, map[string]any{"scope": scope, "count": count})
	if err != nil {
		return 0, fmt.Errorf("reserve sequence: %w", wrapQueryError(err))
	}

	row, ok := first(results)
	if !ok {
		return 0, fmt.Errorf("reserve sequence: empty result for scope %s", scope)
	}
	return row.Last - count + 1, nil
}

// ReserveSeries inserts every code in one statement. A duplicate aborts the
// whole insert; the taken codes are then looked up and returned.
func (c *Client) ReserveSeries(ctx context.Context, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	rows := make([]seriesRow, len(codes))
	for i, code := range codes {
		rows[i] = seriesRow{ID: newRecordID(tableSeries, code), Code: code}
	}

	_, err := surrealdb.Query[any](ctx, c.db, `INSERT INTO series $rows`, map[string]any{"rows": rows})
	if err == nil {
		return nil, nil
	}
	err = wrapQueryError(err)
	if !isAlreadyExists(err) {
		return nil, fmt.Errorf("reserve series: %w", err)
	}

	results, qerr := surrealdb.Query[[]string](ctx, c.db, `
		SELECT VALUE code FROM series WHERE code IN $codes
	`, map[string]any{"codes": codes})
	if qerr != nil {
		return nil, fmt.Errorf("reserve series: lookup taken: %w", wrapQueryError(qerr))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		// The duplicate came from a concurrent insert that is not visible yet.
		return nil, fmt.Errorf("reserve series: %w", err)
	}
	return (*results)[0].Result, nil
}

// SavePallets inserts provenance rows in one statement.
func (c *Client) SavePallets(ctx context.Context, records []models.PalletRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]palletRow, len(records))
	for i, r := range records {
		rows[i] = toPalletRow(r)
	}
	if _, err := surrealdb.Query[any](ctx, c.db, `INSERT INTO pallet $rows`, map[string]any{"rows": rows}); err != nil {
		return fmt.Errorf("save pallets: %w", wrapQueryError(err))
	}
	return nil
}

// SetDocumentURL records the archived document URL on a pallet.
func (c *Client) SetDocumentURL(ctx context.Context, palletNumber, url string) error {
	results, err := surrealdb.Query[[]palletRow](ctx, c.db, `
		UPDATE type::record("pallet", $key) SET pdf_url = $url RETURN AFTER
	`, map[string]any{"key": PalletRecordKey(palletNumber), "url": url})
	if err != nil {
		return fmt.Errorf("set document url: %w", wrapQueryError(err))
	}
	if _, ok := first(results); !ok {
		return fmt.Errorf("set document url: %s: %w", palletNumber, ErrNotFound)
	}
	return nil
}

// CountPalletsForParent counts pallets attached to a parent order.
func (c *Client) CountPalletsForParent(ctx context.Context, parentRef string) (int, error) {
	type countRow struct {
		Count int `json:"count"`
	}
	results, err := surrealdb.Query[[]countRow](ctx, c.db, `
		SELECT count() AS count FROM pallet WHERE parent_ref = $ref GROUP ALL
	`, map[string]any{"ref": parentRef})
	if err != nil {
		return 0, fmt.Errorf("count pallets: %w", wrapQueryError(err))
	}
	row, _ := first(results)
	return row.Count, nil
}

// QueryGetPallet retrieves a pallet by number. Returns nil if not found.
func (c *Client) QueryGetPallet(ctx context.Context, palletNumber string) (*models.PalletRecord, error) {
	results, err := surrealdb.Query[[]palletRow](ctx, c.db, `
		SELECT * FROM type::record("pallet", $key)
	`, map[string]any{"key": PalletRecordKey(palletNumber)})
	if err != nil {
		return nil, fmt.Errorf("get pallet: %w", wrapQueryError(err))
	}
	row, ok := first(results)
	if !ok {
		return nil, nil
	}
	rec := row.record()
	return &rec, nil
}

// QueryListPallets returns the pallets of a scope ordered by sequence.
func (c *Client) QueryListPallets(ctx context.Context, scope string) ([]models.PalletRecord, error) {
	results, err := surrealdb.Query[[]palletRow](ctx, c.db, `
		SELECT * FROM pallet WHERE scope = $scope ORDER BY sequence
	`, map[string]any{"scope": scope})
	if err != nil {
		return nil, fmt.Errorf("list pallets: %w", wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return []models.PalletRecord{}, nil
	}
	out := make([]models.PalletRecord, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		out = append(out, r.record())
	}
	return out, nil
}

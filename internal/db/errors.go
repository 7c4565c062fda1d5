package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/labelflow/internal/store"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAlreadyExists indicates a record with the same ID already exists.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// Concurrent reservations on the same scope counter end up here; the
	// write was rolled back and may be retried.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = store.ErrNotFound
)

// wrapQueryError inspects a SurrealDB error and wraps it with the matching
// sentinel. Conflicts and duplicates also match store.ErrConflict so the
// allocator can retry them without knowing about this package.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "already exists") {
			return fmt.Errorf("%w: %w: %s", ErrAlreadyExists, store.ErrConflict, msg)
		}
		if strings.Contains(msg, "Transaction conflict") || strings.Contains(msg, "Resource busy") {
			return fmt.Errorf("%w: %w: %s", ErrTransactionConflict, store.ErrConflict, msg)
		}
	}

	return err
}

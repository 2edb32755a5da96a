package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// nextCounter increments and returns the next value for namespace, creating
// the row on first use. Must be called inside a transaction that already
// holds a write lock on the database (SQLite serializes writers, so this
// is race-free without extra locking of its own), per spec.md §4.1's
// per-parent numeric counter scheme.
func nextCounter(ctx context.Context, tx *sql.Tx, namespace string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO counters (namespace, value) VALUES (?, 0)`, namespace); err != nil {
		return 0, fmt.Errorf("seed counter %s: %w", namespace, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE counters SET value = value + 1 WHERE namespace = ?`, namespace); err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", namespace, err)
	}
	var v int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE namespace = ?`, namespace).Scan(&v); err != nil {
		return 0, fmt.Errorf("read counter %s: %w", namespace, err)
	}
	return v, nil
}

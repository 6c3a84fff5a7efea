package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/value"
)

// Put stores v under key, stamped with version and origin.
// If the stored value has the same content hash the row is left untouched and
// Put reports false.
func (s *Store) Put(ctx context.Context, key string, v value.Value, version int64, origin string) (bool, error) {
	if v == nil {
		return false, fmt.Errorf("put %q: nil value", key)
	}
	hash, err := value.Hash(v)
	if err != nil {
		return false, fmt.Errorf("put %q: %w", key, err)
	}
	data, err := value.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("put %q: %w", key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("put %q: begin: %w", key, err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM entries WHERE key = ?`, key).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("put %q: read: %w", key, err)
	case existing == hash:
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (key, value, hash, version, origin)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			hash = excluded.hash,
			version = excluded.version,
			origin = excluded.origin
	`, key, string(data), hash, version, origin)
	if err != nil {
		return false, fmt.Errorf("put %q: %w", key, err)
	}

	if err := advanceClock(ctx, tx, version); err != nil {
		return false, fmt.Errorf("put %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("put %q: commit: %w", key, err)
	}
	return true, nil
}

// Delete removes key. It reports false when the key was not stored, in which
// case version is not recorded.
func (s *Store) Delete(ctx context.Context, key string, version int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("delete %q: begin: %w", key, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	if n == 0 {
		return false, nil
	}

	if err := advanceClock(ctx, tx, version); err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("delete %q: commit: %w", key, err)
	}
	return true, nil
}

func advanceClock(ctx context.Context, tx *sql.Tx, version int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO meta (name, value) VALUES ('clock', ?)
		ON CONFLICT(name) DO UPDATE SET value = MAX(value, excluded.value)
	`, version)
	if err != nil {
		return fmt.Errorf("advance clock: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/value"
)

// Entry is one stored key.
type Entry struct {
	Key     string
	Value   value.Value
	Version int64
	Origin  string
}

// Get returns the entry stored under key.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, version, origin
		FROM entries
		WHERE key = ?
	`, key)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get %q: %w", key, err)
	}
	return e, true, nil
}

// Snapshot returns every stored entry ordered by key.
// Returns an empty slice (not nil) for an empty table.
func (s *Store) Snapshot(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, version, origin
		FROM entries
		ORDER BY key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// MaxVersion returns the highest version ever recorded, including versions of
// keys since deleted. The server resumes its clock from here after a restart.
func (s *Store) MaxVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(
			COALESCE((SELECT value FROM meta WHERE name = 'clock'), 0),
			COALESCE((SELECT MAX(version) FROM entries), 0)
		)
	`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("max version: %w", err)
	}
	return v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e   Entry
		raw string
	)
	if err := row.Scan(&e.Key, &raw, &e.Version, &e.Origin); err != nil {
		return Entry{}, err
	}
	v, err := value.Unmarshal([]byte(raw))
	if err != nil {
		return Entry{}, fmt.Errorf("decode %q: %w", e.Key, err)
	}
	e.Value = v
	return e, nil
}

// Package badgerkv implements kv.Store on an embedded badger database.
//
// Values are stored as tagged JSON (see value.Marshal) so the int/float
// distinction and byte payloads survive a round trip. Change notification is
// per key and in-process: writes made through this Store fire watches
// synchronously after the transaction commits.
package badgerkv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/value"
)

// Store is a kv.Store backed by badger.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	db       *badger.DB
	gc       *gcRunner
	watchers *kv.Watchers

	closeOnce sync.Once
	closeErr  error
}

var (
	_ kv.Store      = (*Store)(nil)
	_ kv.KeyWatcher = (*Store)(nil)
	_ kv.Lister     = (*Store)(nil)
)

// Open opens (or creates) a badger store.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, watchers: kv.NewWatchers()}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Get implements kv.Store.
func (s *Store) Get(_ context.Context, key string) (value.Value, bool, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap("get", key, err)
	}

	v, err := value.Unmarshal(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode %q: %w", key, err)
	}
	return v, true, nil
}

// Set implements kv.Store. Writing the value already stored does not notify.
func (s *Store) Set(ctx context.Context, key string, v value.Value) error {
	data, err := value.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	changed := false
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if prev, perr := value.Unmarshal(old); perr == nil && value.Equal(prev, v) {
				return nil
			}
		}
		changed = true
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return s.wrap("set", key, err)
	}

	if changed {
		s.watchers.Notify([]string{key}, kv.OriginFrom(ctx))
	}
	return nil
}

// Remove implements kv.Store. Removing an absent key does not notify.
func (s *Store) Remove(ctx context.Context, key string) error {
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return s.wrap("remove", key, err)
	}

	if existed {
		s.watchers.Notify([]string{key}, kv.OriginFrom(ctx))
	}
	return nil
}

// WatchKey implements kv.KeyWatcher.
func (s *Store) WatchKey(key string, fn func(kv.Change)) kv.Cancel {
	return s.watchers.WatchKey(key, fn)
}

// Keys implements kv.Lister.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, s.wrap("list", "", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.gc != nil {
			s.gc.stop()
		}
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) wrap(op, key string, err error) error {
	if errors.Is(err, badger.ErrDBClosed) {
		return fmt.Errorf("%s %q: %w", op, key, kv.ErrClosed)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}

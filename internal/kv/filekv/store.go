// Package filekv implements kv.Store on a single YAML file.
//
// The whole map is kept in memory and rewritten atomically (temp file plus
// rename) on every change. With Options.Watch set, the containing directory
// is watched and external edits are diffed against the in-memory copy; each
// key whose value differs fires its watches with an empty origin.
package filekv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/value"
)

// Options configures a file store.
type Options struct {
	// Watch enables reloading on external edits.
	Watch bool

	// Debounce is how long to wait after the last filesystem event before
	// reloading. Default: 50ms.
	Debounce time.Duration

	// Logger receives reload failures. Default: slog.Default().
	Logger *slog.Logger
}

// Store is a kv.Store persisted to a YAML file.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	path     string
	logger   *slog.Logger
	watchers *kv.Watchers

	mu     sync.Mutex
	data   map[string]value.Value
	closed bool

	fsw      *fsnotify.Watcher
	debounce time.Duration
	events   chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

var (
	_ kv.Store      = (*Store)(nil)
	_ kv.KeyWatcher = (*Store)(nil)
	_ kv.Lister     = (*Store)(nil)
)

// Open loads path (a missing file is an empty store) and optionally starts
// watching it.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:     path,
		logger:   opts.Logger,
		watchers: kv.NewWatchers(),
		data:     data,
		debounce: opts.Debounce,
		events:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if opts.Watch {
		if err := s.startWatch(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func readFile(path string) (map[string]value.Value, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]value.Value{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	data, err := parseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return data, nil
}

// Get implements kv.Store.
func (s *Store) Get(_ context.Context, key string) (value.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, kv.ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return value.Clone(v), true, nil
}

// Set implements kv.Store.
func (s *Store) Set(ctx context.Context, key string, v value.Value) error {
	if v == nil {
		return fmt.Errorf("set %q: nil value", key)
	}
	changed, err := s.mutate(func(data map[string]value.Value) bool {
		if old, ok := data[key]; ok && value.Equal(old, v) {
			return false
		}
		data[key] = value.Clone(v)
		return true
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	if changed {
		s.watchers.Notify([]string{key}, kv.OriginFrom(ctx))
	}
	return nil
}

// Remove implements kv.Store.
func (s *Store) Remove(ctx context.Context, key string) error {
	changed, err := s.mutate(func(data map[string]value.Value) bool {
		if _, ok := data[key]; !ok {
			return false
		}
		delete(data, key)
		return true
	})
	if err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	if changed {
		s.watchers.Notify([]string{key}, kv.OriginFrom(ctx))
	}
	return nil
}

// mutate applies fn to a copy of the map and persists it when fn reports a
// change. The in-memory map is replaced only after the file is written.
func (s *Store) mutate(fn func(map[string]value.Value) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, kv.ErrClosed
	}

	next := make(map[string]value.Value, len(s.data)+1)
	for k, v := range s.data {
		next[k] = v
	}
	if !fn(next) {
		return false, nil
	}
	if err := writeFile(s.path, next); err != nil {
		return false, err
	}
	s.data = next
	return true, nil
}

func writeFile(path string, data map[string]value.Value) error {
	out, err := renderDocument(data)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// WatchKey implements kv.KeyWatcher.
func (s *Store) WatchKey(key string, fn func(kv.Change)) kv.Cancel {
	return s.watchers.WatchKey(key, fn)
}

// Keys implements kv.Lister.
func (s *Store) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, kv.ErrClosed
	}
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Close stops watching. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		if s.fsw != nil {
			s.closeErr = s.fsw.Close()
		}
		s.wg.Wait()
	})
	return s.closeErr
}

package kv

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/fieldsync/internal/value"
)

// Memory is an in-process Store with per-key change notification.
// Values are cloned on the way in and out so callers never share backing
// arrays with the store.
//
// Writes that leave the stored value unchanged do not notify.
type Memory struct {
	mu       sync.RWMutex
	data     map[string]value.Value
	watchers *Watchers
}

// NewMemory creates an empty memory store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string]value.Value),
		watchers: NewWatchers(),
	}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (value.Value, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return value.Clone(v), true, nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, key string, v value.Value) error {
	m.mu.Lock()
	old, existed := m.data[key]
	if existed && value.Equal(old, v) {
		m.mu.Unlock()
		return nil
	}
	m.data[key] = value.Clone(v)
	m.mu.Unlock()

	m.watchers.Notify([]string{key}, OriginFrom(ctx))
	return nil
}

// Remove implements Store.
func (m *Memory) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	if _, ok := m.data[key]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.data, key)
	m.mu.Unlock()

	m.watchers.Notify([]string{key}, OriginFrom(ctx))
	return nil
}

// WatchKey implements KeyWatcher.
func (m *Memory) WatchKey(key string, fn func(Change)) Cancel {
	return m.watchers.WatchKey(key, fn)
}

// Keys implements Lister. Keys are returned sorted.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// WatchCount returns the number of active watches. Used by tests to verify
// teardown.
func (m *Memory) WatchCount() int {
	return m.watchers.Len()
}

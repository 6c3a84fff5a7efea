package kv

import (
	"sort"
	"sync"
)

// Watchers is a callback registry shared by the store implementations.
// It supports both per-key watches and store-wide watches.
//
// Callbacks run on the notifying goroutine, outside the registry lock, so a
// callback may register or cancel watches. Watches fire in registration order.
//
// Thread-safety: all methods are safe for concurrent use.
type Watchers struct {
	mu    sync.Mutex
	next  uint64
	byKey map[string]map[uint64]func(Change)
	all   map[uint64]func(Change)
}

// NewWatchers creates an empty registry.
func NewWatchers() *Watchers {
	return &Watchers{
		byKey: make(map[string]map[uint64]func(Change)),
		all:   make(map[uint64]func(Change)),
	}
}

// WatchKey registers fn for changes to key.
func (w *Watchers) WatchKey(key string, fn func(Change)) Cancel {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next++
	id := w.next
	set, ok := w.byKey[key]
	if !ok {
		set = make(map[uint64]func(Change))
		w.byKey[key] = set
	}
	set[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.byKey[key], id)
			if len(w.byKey[key]) == 0 {
				delete(w.byKey, key)
			}
		})
	}
}

// WatchAll registers fn for every change.
func (w *Watchers) WatchAll(fn func(Change)) Cancel {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.next++
	id := w.next
	w.all[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.all, id)
		})
	}
}

// Notify fires per-key watches once per key and store-wide watches once with
// the whole key list.
func (w *Watchers) Notify(keys []string, origin string) {
	if len(keys) == 0 {
		return
	}

	type call struct {
		fn     func(Change)
		change Change
	}

	w.mu.Lock()
	var calls []call
	for _, key := range keys {
		set := w.byKey[key]
		for _, id := range sortedIDs(set) {
			calls = append(calls, call{fn: set[id], change: Change{Keys: []string{key}, Origin: origin}})
		}
	}
	if len(w.all) > 0 {
		batch := Change{Keys: append([]string(nil), keys...), Origin: origin}
		for _, id := range sortedIDs(w.all) {
			calls = append(calls, call{fn: w.all[id], change: batch})
		}
	}
	w.mu.Unlock()

	for _, c := range calls {
		c.fn(c.change)
	}
}

func sortedIDs(set map[uint64]func(Change)) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered watches (per-key plus store-wide).
func (w *Watchers) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.all)
	for _, set := range w.byKey {
		n += len(set)
	}
	return n
}

package kv

import (
	"fmt"
	"sync"
)

// Flavor identifies how a store delivers change notifications.
type Flavor int

const (
	// FlavorGranular stores fire one watch per key with the single key that changed.
	FlavorGranular Flavor = iota + 1
	// FlavorBatched stores fire one store-wide watch with a list of keys.
	FlavorBatched
)

func (f Flavor) String() string {
	switch f {
	case FlavorGranular:
		return "granular"
	case FlavorBatched:
		return "batched"
	default:
		return "unknown"
	}
}

// ChangeSource unifies the two broadcast shapes behind one subscription call.
// The returned Cancel removes every underlying watch exactly once.
type ChangeSource interface {
	Flavor() Flavor
	Subscribe(keys []string, fn func(Change)) (Cancel, error)
}

// SourceFor returns the ChangeSource matching the store's broadcast shape.
// Per-key watching wins when a store offers both.
func SourceFor(s Store) (ChangeSource, error) {
	if kw, ok := s.(KeyWatcher); ok {
		return granularSource{watcher: kw}, nil
	}
	if b, ok := s.(Broadcaster); ok {
		return batchedSource{broadcaster: b}, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrNoChangeBroadcast, s)
}

type granularSource struct {
	watcher KeyWatcher
}

func (granularSource) Flavor() Flavor { return FlavorGranular }

// Subscribe registers one watch per distinct key.
func (g granularSource) Subscribe(keys []string, fn func(Change)) (Cancel, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe: nil handler")
	}

	seen := make(map[string]struct{}, len(keys))
	cancels := make([]Cancel, 0, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		cancels = append(cancels, g.watcher.WatchKey(key, fn))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, cancel := range cancels {
				cancel()
			}
		})
	}, nil
}

type batchedSource struct {
	broadcaster Broadcaster
}

func (batchedSource) Flavor() Flavor { return FlavorBatched }

// Subscribe registers a single store-wide watch; keys are ignored and
// filtering is left to the subscriber.
func (b batchedSource) Subscribe(_ []string, fn func(Change)) (Cancel, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe: nil handler")
	}
	cancel := b.broadcaster.WatchAll(fn)

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

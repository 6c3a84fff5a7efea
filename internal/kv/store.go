package kv

import (
	"context"
	"errors"

	"github.com/roach88/fieldsync/internal/value"
)

// ErrClosed is returned by stores that have been closed.
var ErrClosed = errors.New("kv: store closed")

// ErrNoChangeBroadcast is returned by SourceFor when a store offers neither
// per-key watches nor a store-wide broadcast.
var ErrNoChangeBroadcast = errors.New("kv: store does not broadcast changes")

// Store is the narrow contract every backing store satisfies.
//
// Get reports presence separately from the value so that a stored zero is
// never confused with an absent key. Set and Remove take the writer's origin
// from the context (see WithOrigin) and stamp it on the resulting Change.
type Store interface {
	Get(ctx context.Context, key string) (value.Value, bool, error)
	Set(ctx context.Context, key string, v value.Value) error
	Remove(ctx context.Context, key string) error
}

// Change describes keys whose stored value changed.
//
// Granular stores deliver one key per Change; batched stores deliver every key
// touched by one remote update. Origin identifies the writer, empty when the
// change came from outside any known writer (another process, a file edit).
type Change struct {
	Keys   []string
	Origin string
}

// Cancel removes a watch. Calling it more than once is safe.
type Cancel func()

// KeyWatcher is implemented by stores that notify per key (local stores).
type KeyWatcher interface {
	WatchKey(key string, fn func(Change)) Cancel
}

// Broadcaster is implemented by stores that deliver store-wide change lists
// (the cloud store).
type Broadcaster interface {
	WatchAll(fn func(Change)) Cancel
}

// Synchronizer is implemented by stores with a best-effort flush.
// The result reports whether the flush reached the backing service.
type Synchronizer interface {
	Synchronize(ctx context.Context) bool
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}

type originKey struct{}

// WithOrigin returns a context whose writes are attributed to origin.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the origin attached by WithOrigin, or "".
func OriginFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

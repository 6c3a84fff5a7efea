package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/value"
)

func newOwner(t *testing.T, cfg Config, regs ...Registration) *Owner {
	t.Helper()
	o, err := New(cfg, regs...)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

// level is a raw-representable type through a text marshaling pair.
type level int

const (
	levelLow level = iota
	levelHigh
)

func (l level) MarshalText() ([]byte, error) {
	switch l {
	case levelLow:
		return []byte("low"), nil
	case levelHigh:
		return []byte("high"), nil
	default:
		return nil, fmt.Errorf("invalid level %d", int(l))
	}
}

func (l *level) UnmarshalText(b []byte) error {
	switch string(b) {
	case "low":
		*l = levelLow
	case "high":
		*l = levelHigh
	default:
		return fmt.Errorf("invalid level %q", b)
	}
	return nil
}

type color string

const (
	red  color = "red"
	blue color = "blue"
)

func validColor(c color) bool { return c == red || c == blue }

// window is structured and not comparable.
type window struct {
	W, H int
	Tags []string
}

// point is structured and comparable.
type point struct {
	X, Y int
}

// version has both identity (pointer) and an equality method.
type version struct {
	Major, Minor int
}

func (v *version) Equal(o *version) bool {
	if v == nil || o == nil {
		return v == o
	}
	return *v == *o
}

// batchStore delivers store-wide key lists, like the cloud store.
type batchStore struct {
	mu       sync.Mutex
	data     map[string]value.Value
	watchers *kv.Watchers
}

func newBatchStore() *batchStore {
	return &batchStore{data: make(map[string]value.Value), watchers: kv.NewWatchers()}
}

func (b *batchStore) Get(_ context.Context, key string) (value.Value, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *batchStore) Set(ctx context.Context, key string, v value.Value) error {
	b.mu.Lock()
	b.data[key] = v
	b.mu.Unlock()
	b.watchers.Notify([]string{key}, kv.OriginFrom(ctx))
	return nil
}

func (b *batchStore) Remove(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.data, key)
	b.mu.Unlock()
	b.watchers.Notify([]string{key}, kv.OriginFrom(ctx))
	return nil
}

func (b *batchStore) WatchAll(fn func(kv.Change)) kv.Cancel { return b.watchers.WatchAll(fn) }

// remote applies several keys as one remote update.
func (b *batchStore) remote(values map[string]value.Value) {
	keys := make([]string, 0, len(values))
	b.mu.Lock()
	for k, v := range values {
		b.data[k] = v
		keys = append(keys, k)
	}
	b.mu.Unlock()
	b.watchers.Notify(keys, "remote-device")
}

// syncStore counts Synchronize calls.
type syncStore struct {
	*kv.Memory
	mu    sync.Mutex
	syncs int
}

func (s *syncStore) Synchronize(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs++
	return true
}

// failingStore fails every call.
type failingStore struct{}

var errUnreachable = errors.New("store unreachable")

func (failingStore) Get(context.Context, string) (value.Value, bool, error) {
	return nil, false, errUnreachable
}
func (failingStore) Set(context.Context, string, value.Value) error { return errUnreachable }
func (failingStore) Remove(context.Context, string) error           { return errUnreachable }
func (failingStore) WatchKey(string, func(kv.Change)) kv.Cancel     { return func() {} }

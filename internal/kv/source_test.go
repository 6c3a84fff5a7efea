package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/value"
)

type broadcastOnly struct {
	*Memory
	watchers *Watchers
}

func newBroadcastOnly() *broadcastOnly {
	return &broadcastOnly{Memory: NewMemory(), watchers: NewWatchers()}
}

func (b *broadcastOnly) WatchAll(fn func(Change)) Cancel { return b.watchers.WatchAll(fn) }

// hide Memory.WatchKey so SourceFor sees a batched store
type batchedStore struct {
	Store
	Broadcaster
}

type silentStore struct{ Store }

func TestSourceForGranular(t *testing.T) {
	m := NewMemory()
	src, err := SourceFor(m)
	require.NoError(t, err)
	assert.Equal(t, FlavorGranular, src.Flavor())

	rec := &recorder{}
	cancel, err := src.Subscribe([]string{"a", "b", "a"}, rec.record)
	require.NoError(t, err)
	assert.Equal(t, 2, m.WatchCount())

	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "a", value.Int(1)))
	require.NoError(t, m.Set(ctx, "c", value.Int(1)))
	assert.Len(t, rec.all(), 1)

	cancel()
	cancel()
	assert.Equal(t, 0, m.WatchCount())
}

func TestSourceForBatched(t *testing.T) {
	inner := newBroadcastOnly()
	store := batchedStore{Store: inner.Memory, Broadcaster: inner}

	src, err := SourceFor(store)
	require.NoError(t, err)
	assert.Equal(t, FlavorBatched, src.Flavor())

	rec := &recorder{}
	cancel, err := src.Subscribe([]string{"ignored"}, rec.record)
	require.NoError(t, err)

	inner.watchers.Notify([]string{"x", "y"}, "remote")
	changes := rec.all()
	require.Len(t, changes, 1)
	assert.Equal(t, []string{"x", "y"}, changes[0].Keys)
	assert.Equal(t, "remote", changes[0].Origin)

	cancel()
	cancel()
	assert.Equal(t, 0, inner.watchers.Len())
}

func TestSourceForRejectsSilentStore(t *testing.T) {
	_, err := SourceFor(silentStore{Store: NewMemory()})
	require.ErrorIs(t, err, ErrNoChangeBroadcast)
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	src, err := SourceFor(NewMemory())
	require.NoError(t, err)
	_, err = src.Subscribe([]string{"a"}, nil)
	assert.Error(t, err)
}

func TestWatchersCallbackMayCancel(t *testing.T) {
	w := NewWatchers()
	var cancel Cancel
	calls := 0
	cancel = w.WatchKey("k", func(Change) {
		calls++
		cancel()
	})

	w.Notify([]string{"k"}, "")
	w.Notify([]string{"k"}, "")
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, w.Len())
}

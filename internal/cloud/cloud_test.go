package cloud

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/testutil"
	"github.com/roach88/fieldsync/internal/value"
)

func TestClientImplementsStoreContracts(t *testing.T) {
	var c any = &Client{}
	_, ok := c.(kv.Store)
	assert.True(t, ok)
	_, ok = c.(kv.Broadcaster)
	assert.True(t, ok)
	_, ok = c.(kv.Synchronizer)
	assert.True(t, ok)
	_, ok = c.(kv.Lister)
	assert.True(t, ok)
	_, ok = c.(kv.KeyWatcher)
	assert.False(t, ok, "cloud clients deliver batched changes only")
}

func TestDialReceivesSnapshot(t *testing.T) {
	ts := startServer(t, "")
	ctx := context.Background()

	_, err := ts.store.Put(ctx, "app.count", value.Int(4), 1, "")
	require.NoError(t, err)
	_, err = ts.store.Put(ctx, "app.name", value.String("demo"), 2, "")
	require.NoError(t, err)

	c := dial(t, ts.url)

	v, ok, err := c.Get(ctx, "app.count")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Int(4), v)

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app.count", "app.name"}, keys)

	_, ok, err = c.Get(ctx, "app.missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalWriteNotifiesInline(t *testing.T) {
	ts := startServer(t, "")
	c := dial(t, ts.url)

	var got testutil.Recorder[kv.Change]
	cancel := c.WatchAll(got.Record)
	defer cancel()

	ctx := kv.WithOrigin(context.Background(), "owner-a")
	require.NoError(t, c.Set(ctx, "k", value.Int(1)))

	// Delivered before Set returned.
	require.Len(t, got.All(), 1)
	assert.Equal(t, kv.Change{Keys: []string{"k"}, Origin: "owner-a"}, got.All()[0])

	// Same value again is a no-op.
	require.NoError(t, c.Set(ctx, "k", value.Int(1)))
	assert.Len(t, got.All(), 1)

	// Removing an absent key is a no-op.
	require.NoError(t, c.Remove(ctx, "absent"))
	assert.Len(t, got.All(), 1)
}

func TestWritesWithoutOriginUseClientID(t *testing.T) {
	ts := startServer(t, "")
	c := dial(t, ts.url)

	var got testutil.Recorder[kv.Change]
	defer c.WatchAll(got.Record)()

	require.NoError(t, c.Set(context.Background(), "k", value.Bool(true)))
	require.Len(t, got.All(), 1)
	assert.Equal(t, c.ID(), got.All()[0].Origin)
}

func TestSynchronizePersists(t *testing.T) {
	ts := startServer(t, "")
	c := dial(t, ts.url)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", value.String("x")))
	require.NoError(t, c.Set(ctx, "b", value.Float(2.5)))
	require.NoError(t, c.Remove(ctx, "a"))

	sctx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.True(t, c.Synchronize(sctx))

	_, ok, err := ts.store.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	e, ok, err := ts.store.Get(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Float(2.5), e.Value)
	assert.Equal(t, c.ID(), e.Origin)
	assert.Positive(t, e.Version)
}

func TestRejectedWriteRestoresServerValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.db")
	ts := startServer(t, path)
	ctx := context.Background()

	_, err := ts.store.Put(ctx, "locked", value.Int(1), 1, "")
	require.NoError(t, err)

	// A second connection installs triggers that make writes to the key fail.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()
	for _, event := range []string{"INSERT", "UPDATE"} {
		_, err = db.ExecContext(ctx, `CREATE TRIGGER reject_locked_`+strings.ToLower(event)+`
			BEFORE `+event+` ON entries WHEN NEW.key = 'locked'
			BEGIN SELECT RAISE(ABORT, 'key is locked'); END`)
		require.NoError(t, err)
	}

	c := dial(t, ts.url)
	var got testutil.Recorder[kv.Change]
	defer c.WatchAll(got.Record)()

	require.NoError(t, c.Set(ctx, "locked", value.Int(2)))
	require.NoError(t, c.Set(ctx, "free", value.Int(3)))

	sctx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.True(t, c.Synchronize(sctx))

	v, ok, err := c.Get(ctx, "locked")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Int(1), v)

	v, ok, err = c.Get(ctx, "free")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Int(3), v)

	assert.Equal(t, []string{"locked", "free", "locked"}, changeKeys(&got))
	assert.Equal(t, "", got.All()[2].Origin)
}

func TestChangesReachOtherClients(t *testing.T) {
	ts := startServer(t, "")
	writer := dial(t, ts.url)
	reader := dial(t, ts.url)

	var got testutil.Recorder[kv.Change]
	defer reader.WatchAll(got.Record)()

	ctx := kv.WithOrigin(context.Background(), "owner-a")
	require.NoError(t, writer.Set(ctx, "app.a", value.Int(1)))
	require.NoError(t, writer.Set(ctx, "app.b", value.Int(2)))

	require.Eventually(t, func() bool {
		return len(changeKeys(&got)) == 2
	}, waitFor, 10*time.Millisecond)

	assert.ElementsMatch(t, []string{"app.a", "app.b"}, changeKeys(&got))
	for _, ch := range got.All() {
		assert.Equal(t, "owner-a", ch.Origin)
	}

	v, ok, err := reader.Get(context.Background(), "app.b")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Int(2), v)

	// Removal travels too.
	require.NoError(t, writer.Remove(ctx, "app.a"))
	require.Eventually(t, func() bool {
		_, ok, _ := reader.Get(context.Background(), "app.a")
		return !ok
	}, waitFor, 10*time.Millisecond)
}

func TestSenderDoesNotReceiveItsOwnChanges(t *testing.T) {
	ts := startServer(t, "")
	writer := dial(t, ts.url)

	var got testutil.Recorder[kv.Change]
	defer writer.WatchAll(got.Record)()

	require.NoError(t, writer.Set(context.Background(), "k", value.Int(1)))
	sctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.True(t, writer.Synchronize(sctx))

	// Only the inline local notification.
	assert.Len(t, got.All(), 1)
}

func TestUnchangedWriteIsNotBroadcast(t *testing.T) {
	ts := startServer(t, "")
	a := dial(t, ts.url)
	b := dial(t, ts.url)
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, "k", value.Int(1)))
	require.Eventually(t, func() bool {
		_, ok, _ := b.Get(ctx, "k")
		return ok
	}, waitFor, 10*time.Millisecond)

	var got testutil.Recorder[kv.Change]
	defer a.WatchAll(got.Record)()

	// b writes what the server already holds; a must hear nothing.
	require.NoError(t, b.Set(ctx, "k", value.Int(1)))
	require.NoError(t, b.Set(ctx, "other", value.Int(1)))
	require.Eventually(t, func() bool {
		return len(got.All()) > 0
	}, waitFor, 10*time.Millisecond)

	assert.Equal(t, []string{"other"}, changeKeys(&got))
}

func TestServerResumesClockAfterRestart(t *testing.T) {
	path := t.TempDir() + "/cloud.db"
	ctx := context.Background()

	first := startServer(t, path)
	c := dial(t, first.url)
	require.NoError(t, c.Set(ctx, "k", value.Int(1)))
	require.NoError(t, c.Set(ctx, "k", value.Int(2)))
	sctx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.True(t, c.Synchronize(sctx))
	before := first.server.Version()
	c.Close()
	first.stop()

	second := startServer(t, path)
	assert.Equal(t, before, second.server.Version())

	c2 := dial(t, second.url)
	v, ok, err := c2.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Int(2), v)
}

func TestClosedClient(t *testing.T) {
	ts := startServer(t, "")
	c := dial(t, ts.url)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", value.Int(1)))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Set(ctx, "k", value.Int(2)), kv.ErrClosed)
	_, _, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, kv.ErrClosed)
	assert.False(t, c.Synchronize(ctx))

	// Close flushed the pending write.
	e, ok, err := ts.store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Int(1), e.Value)
}

func TestServerShutdownDisconnectsClients(t *testing.T) {
	ts := startServer(t, "")
	c := dial(t, ts.url)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", value.Int(1)))
	require.NoError(t, ts.server.Close())

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("client did not notice the server closing")
	}

	assert.ErrorIs(t, c.Err(), ErrDisconnected)
	assert.ErrorIs(t, c.Set(ctx, "k", value.Int(2)), ErrDisconnected)
	assert.False(t, c.Synchronize(ctx))

	// Reads still serve the last known state.
	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, value.Int(1), v)
}

func TestConnectionsGauge(t *testing.T) {
	ts := startServer(t, "")
	a := dial(t, ts.url)
	dial(t, ts.url)

	require.Eventually(t, func() bool { return ts.server.Connections() == 2 }, waitFor, 10*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return ts.server.Connections() == 1 }, waitFor, 10*time.Millisecond)
}

func TestSourceForClientIsBatched(t *testing.T) {
	ts := startServer(t, "")
	c := dial(t, ts.url)

	src, err := kv.SourceFor(c)
	require.NoError(t, err)
	assert.Equal(t, kv.FlavorBatched, src.Flavor())
}

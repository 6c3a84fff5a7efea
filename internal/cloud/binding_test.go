package cloud

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/binding"
	"github.com/roach88/fieldsync/internal/kv"
)

func TestOwnersSyncAcrossClients(t *testing.T) {
	ts := startServer(t, "")

	var countA, countB *binding.Field[int]
	a, err := binding.New(binding.Config{Store: dial(t, ts.url), Prefix: "app_"},
		binding.Bind(&countA, "count", 0))
	require.NoError(t, err)
	defer a.Close()

	b, err := binding.New(binding.Config{Store: dial(t, ts.url), Prefix: "app_"},
		binding.Bind(&countB, "count", 0))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, kv.FlavorBatched, a.RelayFlavor())

	var localHits, remoteHits atomic.Int32
	defer countA.Subscribe(func() { localHits.Add(1) })()
	defer countB.Subscribe(func() { remoteHits.Add(1) })()

	countA.Set(5)
	assert.Equal(t, int32(1), localHits.Load())
	assert.Equal(t, 5, countA.Get())

	require.Eventually(t, func() bool {
		return countB.Get() == 5 && remoteHits.Load() == 1
	}, waitFor, 10*time.Millisecond)

	// The writer's own relay ignored the change it caused.
	assert.Equal(t, int32(1), localHits.Load())
}

func TestOwnerSynchronizeReachesServer(t *testing.T) {
	ts := startServer(t, "")

	var name *binding.Field[string]
	o, err := binding.New(binding.Config{Store: dial(t, ts.url), Prefix: "app_"},
		binding.Bind(&name, "name", "anon"))
	require.NoError(t, err)
	defer o.Close()

	name.Set("ada")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.True(t, o.Synchronize(ctx))

	e, ok, err := ts.store.Get(context.Background(), "app_name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, o.ID(), e.Origin)
}

package binding

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/observe"
	"github.com/roach88/fieldsync/internal/testutil"
	"github.com/roach88/fieldsync/internal/value"
)

type appSettings struct {
	Count *Field[int]
	Name  *Field[string]
	Ratio *Field[float64]
}

func bindApp(s *appSettings) []Registration {
	return []Registration{
		Bind(&s.Count, "count", 0),
		Bind(&s.Name, "name", "anonymous"),
		Bind(&s.Ratio, "ratio", 0.5),
	}
}

func TestAppCountScenario(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	var s appSettings
	newOwner(t, Config{Store: store, Prefix: "app_"}, bindApp(&s)...)

	assert.Equal(t, "app_count", s.Count.Key())
	assert.Equal(t, 0, s.Count.Get())

	notified := &testutil.Recorder[string]{}
	defer s.Count.Subscribe(func() { notified.Record("count") })()

	require.NoError(t, store.Set(ctx, "app_count", value.Int(42)))
	assert.Equal(t, 1, notified.Len())
	assert.Equal(t, 42, s.Count.Get())

	require.NoError(t, store.Remove(ctx, "app_count"))
	assert.Equal(t, 2, notified.Len())
	assert.Equal(t, 0, s.Count.Get())
}

func TestDefaultFallbackEveryDomain(t *testing.T) {
	var (
		i   *Field[int]
		i64 *Field[int64]
		u8  *Field[uint8]
		f   *Field[float64]
		b   *Field[bool]
		str *Field[string]
		raw *Field[[]byte]
		lst *Field[[]string]
		m   *Field[map[string]int]
		lvl *Field[level]
		col *Field[color]
		win *Field[window]
		opt *Field[*string]
	)
	nick := "nick"
	newOwner(t, Config{Store: kv.NewMemory()},
		Bind(&i, "i", 7),
		Bind(&i64, "i64", int64(-3)),
		Bind(&u8, "u8", uint8(200)),
		Bind(&f, "f", 1.25),
		Bind(&b, "b", true),
		Bind(&str, "str", "hello"),
		Bind(&raw, "raw", []byte{1, 2}),
		Bind(&lst, "lst", []string{"a"}),
		Bind(&m, "m", map[string]int{"x": 1}),
		Bind(&lvl, "lvl", levelHigh),
		Bind(&col, "col", blue, WithCodec(RawString(validColor))),
		Bind(&win, "win", window{W: 640, H: 480}),
		BindOptional(&opt, "opt", &nick),
	)

	assert.Equal(t, 7, i.Get())
	assert.Equal(t, int64(-3), i64.Get())
	assert.Equal(t, uint8(200), u8.Get())
	assert.Equal(t, 1.25, f.Get())
	assert.True(t, b.Get())
	assert.Equal(t, "hello", str.Get())
	assert.Equal(t, []byte{1, 2}, raw.Get())
	assert.Equal(t, []string{"a"}, lst.Get())
	assert.Equal(t, map[string]int{"x": 1}, m.Get())
	assert.Equal(t, levelHigh, lvl.Get())
	assert.Equal(t, blue, col.Get())
	assert.Equal(t, window{W: 640, H: 480}, win.Get())
	require.NotNil(t, opt.Get())
	assert.Equal(t, "nick", *opt.Get())

	for _, h := range []Handle{i, i64, str, lst, win, opt} {
		assert.False(t, h.IsPersisted(), h.Name())
	}
}

func TestDomainSelection(t *testing.T) {
	var (
		i   *Field[int]
		lvl *Field[level]
		col *Field[color]
		c2  *Field[color]
		win *Field[window]
		opt *Field[*int]
	)
	newOwner(t, Config{Store: kv.NewMemory()},
		Bind(&i, "i", 0),
		Bind(&lvl, "lvl", levelLow),
		Bind(&col, "col", red, WithCodec(RawString(validColor))),
		Bind(&c2, "c2", red),
		Bind(&win, "win", window{}),
		BindOptional(&opt, "opt", nil),
	)

	assert.Equal(t, DomainNative, i.Domain())
	assert.Equal(t, DomainRaw, lvl.Domain())
	assert.Equal(t, DomainRaw, col.Domain())
	assert.Equal(t, DomainNative, c2.Domain())
	assert.Equal(t, DomainStructured, win.Domain())
	assert.Equal(t, DomainNative, opt.Domain())
	assert.True(t, opt.Optional())
}

func TestDefaultImmutability(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	var count *Field[int]
	newOwner(t, Config{Store: store, Prefix: "app_"},
		Bind(&count, "count", 0, WithInitial(5)))

	assert.Equal(t, 5, count.Get())
	assert.True(t, count.IsPersisted())
	assert.Equal(t, 0, count.Default())

	require.NoError(t, store.Remove(ctx, "app_count"))
	assert.Equal(t, 0, count.Get())

	count.Set(9)
	count.Reset()
	assert.Equal(t, 0, count.Get())
	assert.False(t, count.IsPersisted())
}

func TestInitialDoesNotOverwriteStoredValue(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Set(ctx, "count", value.Int(3)))

	var count *Field[int]
	newOwner(t, Config{Store: store}, Bind(&count, "count", 0, WithInitial(5)))
	assert.Equal(t, 3, count.Get())
}

func TestReferenceDefaultsAreFresh(t *testing.T) {
	var tags *Field[[]string]
	var win *Field[window]
	newOwner(t, Config{Store: kv.NewMemory()},
		Bind(&tags, "tags", []string{"a", "b"}),
		Bind(&win, "win", window{Tags: []string{"x"}}),
	)

	got := tags.Get()
	got[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, tags.Get())
	assert.Equal(t, []string{"a", "b"}, tags.Default())

	w := win.Get()
	w.Tags[0] = "mutated"
	assert.Equal(t, []string{"x"}, win.Get().Tags)
}

func TestStructuredDefaultKeepsGoValues(t *testing.T) {
	def := map[string]any{"n": 1, "tags": []any{"a"}}
	var m *Field[map[string]any]
	newOwner(t, Config{Store: kv.NewMemory()}, Bind(&m, "m", def))

	want := map[string]any{"n": 1, "tags": []any{"a"}}
	assert.Equal(t, want, m.Default())

	got := m.Get()
	assert.Equal(t, want, got)
	got["n"] = 2
	got["tags"].([]any)[0] = "b"
	def["n"] = 3
	assert.Equal(t, want, m.Get())
}

// hidden keeps a reference in an unexported field.
type hidden struct {
	Name string `json:"name"`
	tags []string
}

func TestUncopyableDefaultGoesThroughCodec(t *testing.T) {
	var h *Field[hidden]
	newOwner(t, Config{Store: kv.NewMemory()}, Bind(&h, "h", hidden{Name: "x", tags: []string{"t"}}))
	assert.Equal(t, hidden{Name: "x"}, h.Get())
}

func TestWriteSuppression(t *testing.T) {
	store := kv.NewMemory()
	metrics := NewMetrics(prometheus.NewRegistry())
	var count *Field[int]
	newOwner(t, Config{Store: store, Metrics: metrics}, Bind(&count, "count", 0))

	storeWrites := &testutil.Recorder[string]{}
	defer store.WatchKey("count", func(kv.Change) { storeWrites.Record("count") })()
	notified := &testutil.Recorder[string]{}
	defer count.Subscribe(func() { notified.Record("count") })()

	count.Set(7)
	count.Set(7)

	assert.Equal(t, 1, storeWrites.Len())
	assert.Equal(t, 1, notified.Len())
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Writes))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.SuppressedWrites))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.Notifications.WithLabelValues("local")))
}

func TestWritingDefaultWhenAbsentIsSuppressed(t *testing.T) {
	store := kv.NewMemory()
	var count *Field[int]
	newOwner(t, Config{Store: store}, Bind(&count, "count", 0))

	count.Set(0)
	assert.False(t, count.IsPersisted())
}

func TestSuppressionForNativeSlices(t *testing.T) {
	store := kv.NewMemory()
	var tags *Field[[]string]
	newOwner(t, Config{Store: store}, Bind(&tags, "tags", []string(nil)))

	notified := &testutil.Recorder[string]{}
	defer tags.Subscribe(func() { notified.Record("tags") })()

	tags.Set([]string{"a", "b"})
	tags.Set([]string{"a", "b"})
	tags.Set([]string{"a"})
	assert.Equal(t, 2, notified.Len())
}

func TestNotificationPrecision(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	var s appSettings
	o := newOwner(t, Config{Store: store, Prefix: "app_"}, bindApp(&s)...)

	seen := &testutil.Recorder[string]{}
	defer o.SubscribeAll(seen.Record)()

	require.NoError(t, store.Set(ctx, "app_name", value.String("zoe")))
	require.NoError(t, store.Set(ctx, "unrelated", value.Int(1)))
	require.NoError(t, store.Set(ctx, "other_count", value.Int(1)))

	assert.Equal(t, []string{"name"}, seen.All())
	assert.Equal(t, "zoe", s.Name.Get())
}

func TestOwnWritesNotifyOnce(t *testing.T) {
	store := kv.NewMemory()
	var s appSettings
	newOwner(t, Config{Store: store, Prefix: "app_"}, bindApp(&s)...)

	notified := &testutil.Recorder[string]{}
	defer s.Count.Subscribe(func() { notified.Record("count") })()

	s.Count.Set(1)
	s.Count.Set(2)
	assert.Equal(t, 2, notified.Len())
}

func TestCrossNamespaceIsolation(t *testing.T) {
	store := kv.NewMemory()
	var a, b appSettings
	newOwner(t, Config{Store: store, Prefix: "a_"}, bindApp(&a)...)
	newOwner(t, Config{Store: store, Prefix: "b_"}, bindApp(&b)...)

	notified := &testutil.Recorder[string]{}
	defer b.Count.Subscribe(func() { notified.Record("count") })()

	a.Count.Set(11)
	assert.Equal(t, 11, a.Count.Get())
	assert.Equal(t, 0, b.Count.Get())
	assert.Equal(t, 0, notified.Len())
}

// Two owners with the same prefix and field name share a key. They see each
// other's writes; this is a hazard of the namespace model, asserted here.
func TestSameNamespaceSharesKey(t *testing.T) {
	store := kv.NewMemory()
	var a, b appSettings
	newOwner(t, Config{Store: store, Prefix: "app_"}, bindApp(&a)...)
	newOwner(t, Config{Store: store, Prefix: "app_"}, bindApp(&b)...)

	notified := &testutil.Recorder[string]{}
	defer b.Count.Subscribe(func() { notified.Record("count") })()

	a.Count.Set(11)
	assert.Equal(t, 11, b.Count.Get())
	assert.Equal(t, 1, notified.Len())
}

func TestBlacklist(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	var s appSettings
	o := newOwner(t, Config{Store: store, Prefix: "app_", IgnoreExternal: []string{"count"}}, bindApp(&s)...)

	seen := &testutil.Recorder[string]{}
	defer o.SubscribeAll(seen.Record)()

	require.NoError(t, store.Set(ctx, "app_count", value.Int(42)))
	require.NoError(t, store.Set(ctx, "app_name", value.String("x")))

	assert.Equal(t, []string{"name"}, seen.All())
	// The value still changed underneath.
	assert.Equal(t, 42, s.Count.Get())

	// Local writes of a blacklisted field still notify.
	s.Count.Set(1)
	assert.Equal(t, []string{"name", "count"}, seen.All())
}

func TestDisableExternalChanges(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	var s appSettings
	o := newOwner(t, Config{Store: store, DisableExternalChanges: true}, bindApp(&s)...)

	seen := &testutil.Recorder[string]{}
	defer o.SubscribeAll(seen.Record)()
	require.NoError(t, store.Set(ctx, "count", value.Int(3)))

	assert.Zero(t, seen.Len())
	assert.False(t, o.Subscribed())
	assert.Equal(t, 0, store.WatchCount())
	assert.Equal(t, 3, s.Count.Get())
}

func TestBatchedRelay(t *testing.T) {
	store := newBatchStore()
	var s appSettings
	o := newOwner(t, Config{Store: store, Prefix: "app_", IgnoreExternal: []string{"ratio"}}, bindApp(&s)...)
	assert.Equal(t, kv.FlavorBatched, o.RelayFlavor())

	seen := &testutil.Recorder[string]{}
	defer o.SubscribeAll(seen.Record)()

	store.remote(map[string]value.Value{
		"app_count": value.Int(5),
		"app_ratio": value.Float(2),
		"elsewhere": value.Int(1),
	})
	assert.Equal(t, []string{"count"}, seen.All())
	assert.Equal(t, 5, s.Count.Get())
	assert.Equal(t, 2.0, s.Ratio.Get())

	// Own writes come back through the store-wide watch but are not
	// announced twice.
	s.Name.Set("bob")
	assert.Equal(t, []string{"count", "name"}, seen.All())
}

func TestBatchedRelayDeduplicatesKeys(t *testing.T) {
	store := newBatchStore()
	var s appSettings
	o := newOwner(t, Config{Store: store}, bindApp(&s)...)

	seen := &testutil.Recorder[string]{}
	defer o.SubscribeAll(seen.Record)()

	store.watchers.Notify([]string{"count", "count"}, "")
	assert.Equal(t, []string{"count"}, seen.All())
}

func TestExecutorRedispatch(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	loop := observe.NewLoop(nil)
	var s appSettings
	newOwner(t, Config{Store: store, Executor: loop}, bindApp(&s)...)

	notified := &testutil.Recorder[string]{}
	defer s.Count.Subscribe(func() { notified.Record("count") })()

	require.NoError(t, store.Set(ctx, "count", value.Int(1)))
	assert.Zero(t, notified.Len(), "external notifications wait for the executor")

	go loop.Run(ctx)
	defer loop.Stop()
	require.NoError(t, loop.Flush(ctx))
	assert.Equal(t, 1, notified.Len())
}

func TestCloseUnsubscribes(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	var s appSettings
	o, err := New(Config{Store: store}, bindApp(&s)...)
	require.NoError(t, err)

	assert.True(t, o.Subscribed())
	assert.Equal(t, 3, store.WatchCount())
	assert.Equal(t, kv.FlavorGranular, o.RelayFlavor())

	notified := &testutil.Recorder[string]{}
	defer s.Count.Subscribe(func() { notified.Record("count") })()

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	assert.False(t, o.Subscribed())
	assert.Equal(t, 0, store.WatchCount())

	require.NoError(t, store.Set(ctx, "count", value.Int(9)))
	assert.Zero(t, notified.Len())
	assert.Equal(t, 9, s.Count.Get())
}

func TestCloseDropsQueuedNotifications(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	loop := observe.NewLoop(nil)
	var s appSettings
	o := newOwner(t, Config{Store: store, Executor: loop}, bindApp(&s)...)

	notified := &testutil.Recorder[string]{}
	defer s.Count.Subscribe(func() { notified.Record("count") })()

	require.NoError(t, store.Set(ctx, "count", value.Int(1)))
	require.NoError(t, o.Close())

	go loop.Run(ctx)
	defer loop.Stop()
	require.NoError(t, loop.Flush(ctx))
	assert.Zero(t, notified.Len())
}

func TestTrack(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	var s appSettings
	o := newOwner(t, Config{Store: store}, bindApp(&s)...)

	var changed []string
	read, cancel := o.Track(func() {
		_ = s.Count.Get()
		_ = s.Name.Get()
	}, func(name string) { changed = append(changed, name) })
	defer cancel()

	assert.Equal(t, []string{"count", "name"}, read)

	s.Ratio.Set(3)
	assert.Empty(t, changed)

	require.NoError(t, store.Set(ctx, "name", value.String("x")))
	s.Count.Set(2)
	assert.Equal(t, []string{"name"}, changed)
}

func TestOwnerSubscribeUnknownField(t *testing.T) {
	var s appSettings
	o := newOwner(t, Config{Store: kv.NewMemory()}, bindApp(&s)...)
	_, err := o.Subscribe("nope", func(string) {})
	assert.Error(t, err)

	cancel, err := o.Subscribe("count", func(string) {})
	require.NoError(t, err)
	cancel()
}

func TestOwnerIntrospection(t *testing.T) {
	var s appSettings
	o := newOwner(t, Config{Store: kv.NewMemory(), Prefix: "app_", Keys: map[string]string{"ratio": "r"}}, bindApp(&s)...)

	assert.Equal(t, []string{"count", "name", "ratio"}, o.Fields())
	assert.Equal(t, map[string]string{"count": "app_count", "name": "app_name", "ratio": "app_r"}, o.Keys())
	assert.Equal(t, "app_", o.Prefix())
	assert.Equal(t, ModeLive, o.Mode())
	assert.NotEmpty(t, o.ID())

	h, ok := o.Field("ratio")
	require.True(t, ok)
	assert.Equal(t, value.Float(0.5), h.DefaultValue())
	_, ok = o.Field("missing")
	assert.False(t, ok)
}

func TestKeyOverridePrecedence(t *testing.T) {
	var a, b *Field[int]
	newOwner(t, Config{Store: kv.NewMemory(), Prefix: "p_", Keys: map[string]string{"a": "alias_a", "b": "alias_b"}},
		Bind(&a, "a", 0, WithKey("override_a")),
		Bind(&b, "b", 0),
	)
	assert.Equal(t, "p_override_a", a.Key())
	assert.Equal(t, "p_alias_b", b.Key())
}

func TestSyncImmediately(t *testing.T) {
	store := &syncStore{Memory: kv.NewMemory()}
	var count *Field[int]
	o := newOwner(t, Config{Store: store, SyncImmediately: true}, Bind(&count, "count", 0))

	count.Set(1)
	count.Set(1)
	count.Reset()
	assert.Equal(t, 2, store.syncs)
	assert.True(t, o.Synchronize(context.Background()))
}

func TestSynchronizeWithoutSupport(t *testing.T) {
	var count *Field[int]
	o := newOwner(t, Config{Store: kv.NewMemory()}, Bind(&count, "count", 0))
	assert.False(t, o.Synchronize(context.Background()))
}

func TestStoreFailuresResolveToDefault(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	var count *Field[int]
	newOwner(t, Config{Store: failingStore{}, Metrics: metrics}, Bind(&count, "count", 4))

	notified := &testutil.Recorder[string]{}
	defer count.Subscribe(func() { notified.Record("count") })()

	assert.Equal(t, 4, count.Get())
	count.Set(5)
	assert.Equal(t, 4, count.Get())
	assert.Equal(t, 1, notified.Len())
	assert.GreaterOrEqual(t, promtest.ToFloat64(metrics.StoreErrors.WithLabelValues("get")), 2.0)
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.StoreErrors.WithLabelValues("set")))
}

func TestDecodeFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	metrics := NewMetrics(prometheus.NewRegistry())
	var count *Field[int]
	var col *Field[color]
	var win *Field[window]
	newOwner(t, Config{Store: store, Metrics: metrics},
		Bind(&count, "count", 3),
		Bind(&col, "col", red, WithCodec(RawString(validColor))),
		Bind(&win, "win", window{W: 1}),
	)

	require.NoError(t, store.Set(ctx, "count", value.String("not a number")))
	require.NoError(t, store.Set(ctx, "col", value.String("green")))
	require.NoError(t, store.Set(ctx, "win", value.Bytes("{broken")))

	assert.Equal(t, 3, count.Get())
	assert.Equal(t, red, col.Get())
	assert.Equal(t, window{W: 1}, win.Get())
	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.DecodeFailures))
}

// An unencodable value is dropped from the store while the local cache and
// the notification still go through.
func TestEncodeFailureAsymmetry(t *testing.T) {
	store := kv.NewMemory()
	metrics := NewMetrics(prometheus.NewRegistry())
	var col *Field[color]
	newOwner(t, Config{Store: store, Metrics: metrics},
		Bind(&col, "col", red, WithCodec(RawString(validColor))))

	notified := &testutil.Recorder[string]{}
	defer col.Subscribe(func() { notified.Record("col") })()

	col.Set("green")
	assert.Equal(t, 1, notified.Len())
	assert.False(t, col.IsPersisted())
	assert.Equal(t, red, col.Get())
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.EncodeFailures))
}

func TestInt64ZeroIsNotAbsent(t *testing.T) {
	var n *Field[int64]
	newOwner(t, Config{Store: kv.NewMemory()}, Bind(&n, "n", int64(99)))

	assert.Equal(t, int64(99), n.Get())
	n.Set(0)
	assert.True(t, n.IsPersisted())
	assert.Equal(t, int64(0), n.Get())
}

func TestOptionalField(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	var nick *Field[*string]
	newOwner(t, Config{Store: store}, BindOptional(&nick, "nick", nil))

	notified := &testutil.Recorder[string]{}
	defer nick.Subscribe(func() { notified.Record("nick") })()

	assert.Nil(t, nick.Get())

	bob := "bob"
	nick.Set(&bob)
	require.NotNil(t, nick.Get())
	assert.Equal(t, "bob", *nick.Get())

	other := "bob"
	nick.Set(&other)
	assert.Equal(t, 1, notified.Len(), "same content is a no-op")

	nick.Set(nil)
	assert.Nil(t, nick.Get())
	_, ok, err := store.Get(ctx, "nick")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, notified.Len())

	nick.Set(nil)
	assert.Equal(t, 2, notified.Len())
}

func TestClearingAbsentOptionalWithDefault(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	anon := "anon"
	var nick *Field[*string]
	newOwner(t, Config{Store: kv.NewMemory(), Metrics: metrics}, BindOptional(&nick, "nick", &anon))

	notified := &testutil.Recorder[string]{}
	defer nick.Subscribe(func() { notified.Record("nick") })()

	nick.Set(nil)
	nick.Set(nil)
	assert.Equal(t, 0, notified.Len())
	assert.Equal(t, 0.0, promtest.ToFloat64(metrics.Writes))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.SuppressedWrites))
	require.NotNil(t, nick.Get())
	assert.Equal(t, "anon", *nick.Get())

	bob := "bob"
	nick.Set(&bob)
	nick.Set(nil)
	assert.Equal(t, 2, notified.Len())
	assert.False(t, nick.IsPersisted())
	assert.Equal(t, "anon", *nick.Get())

	nick.Set(nil)
	assert.Equal(t, 2, notified.Len())
}

func TestStoreWatcherWritesSiblingField(t *testing.T) {
	store := kv.NewMemory()
	var s appSettings
	newOwner(t, Config{Store: store}, bindApp(&s)...)

	defer store.WatchKey("count", func(kv.Change) { s.Name.Set("from-watcher") })()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Count.Set(1)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("write from a store watcher blocked")
	}

	assert.Equal(t, 1, s.Count.Get())
	assert.Equal(t, "from-watcher", s.Name.Get())
}

func TestOptionalInitial(t *testing.T) {
	var nick *Field[*string]
	newOwner(t, Config{Store: kv.NewMemory()}, BindOptional(&nick, "nick", nil, WithInitial("seed")))

	require.NotNil(t, nick.Get())
	assert.Equal(t, "seed", *nick.Get())
	nick.Reset()
	assert.Nil(t, nick.Get())
}

func TestHandleSetValue(t *testing.T) {
	var s appSettings
	o := newOwner(t, Config{Store: kv.NewMemory()}, bindApp(&s)...)

	h, ok := o.Field("count")
	require.True(t, ok)
	require.NoError(t, h.SetValue(value.Int(12)))
	assert.Equal(t, 12, s.Count.Get())
	assert.Equal(t, value.Int(12), h.Value())

	assert.Error(t, h.SetValue(value.String("x")))
	assert.Error(t, h.SetValue(nil))
	assert.Equal(t, 12, s.Count.Get())
}

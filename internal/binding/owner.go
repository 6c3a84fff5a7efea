// Package binding keeps named fields in sync with entries of a key-value
// store.
//
// An Owner is built from a registration table:
//
//	type Settings struct {
//		Count *binding.Field[int]
//		Name  *binding.Field[string]
//	}
//
//	var s Settings
//	owner, err := binding.New(binding.Config{Store: store, Prefix: "app_"},
//		binding.Bind(&s.Count, "count", 0),
//		binding.Bind(&s.Name, "name", "anonymous"),
//	)
//	defer owner.Close()
//
// Reads fall back to the declared default when the key is absent. Writes of
// an unchanged value are suppressed. Changes made to the store by anyone else
// are relayed as notifications on the field they belong to.
package binding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/observe"
	"github.com/roach88/fieldsync/internal/value"
)

// Config describes an owner. Only Store is required, and only in live mode.
type Config struct {
	// Store is the backing store. Ignored in memory mode.
	Store kv.Store

	// Prefix is prepended to every storage key. It must not contain '.'.
	Prefix string

	// Keys aliases field names to storage keys (before the prefix).
	// WithKey on the registration takes precedence.
	Keys map[string]string

	// IgnoreExternal lists fields that never receive notifications for
	// changes made outside this owner.
	IgnoreExternal []string

	// DisableExternalChanges turns the change relay off entirely.
	DisableExternalChanges bool

	// Mode selects live or memory. FIELDSYNC_MODE=memory or
	// FIELDSYNC_PREVIEW=1 in the environment force memory.
	Mode Mode

	// SyncImmediately asks a synchronizing store to flush after every write.
	SyncImmediately bool

	// Executor runs relayed notifications. Default: observe.Inline.
	Executor observe.Executor

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *Metrics
}

// Owner aggregates the fields of one registration table, their namespace,
// a registrar and at most one change relay.
type Owner struct {
	id        string
	mode      Mode
	store     kv.Store
	ns        *Namespace
	exec      observe.Executor
	logger    *slog.Logger
	metrics   *Metrics
	syncNow   bool
	ctx       context.Context
	registrar *observe.Registrar

	fields map[string]entry
	order  []string
	relay  *relay

	closeOnce sync.Once
}

// New builds an owner. On failure it returns a *ConfigError and leaves every
// registration target untouched.
func New(cfg Config, regs ...Registration) (*Owner, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exec := cfg.Executor
	if exec == nil {
		exec = observe.Inline
	}

	mode := effectiveMode(cfg.Mode, logger)
	if mode == ModeLive && cfg.Store == nil {
		return nil, &ConfigError{Code: ErrCodeMissingStore, Message: "live mode requires a store"}
	}

	ns, err := NewNamespace(cfg.Prefix, cfg.Keys)
	if err != nil {
		return nil, err
	}

	id := uuid.Must(uuid.NewV7()).String()
	o := &Owner{
		id:        id,
		mode:      mode,
		ns:        ns,
		exec:      exec,
		logger:    logger.With(slog.String("owner", id)),
		metrics:   cfg.Metrics,
		syncNow:   cfg.SyncImmediately,
		ctx:       kv.WithOrigin(context.Background(), id),
		registrar: observe.NewRegistrar(),
		fields:    make(map[string]entry, len(regs)),
	}
	if mode == ModeLive {
		o.store = cfg.Store
	}

	forward := make(map[string]string, len(regs))
	for _, reg := range regs {
		if reg == nil {
			return nil, configErrorf(ErrCodeNilTarget, "", "nil registration")
		}
		name := reg.fieldName()
		if _, dup := o.fields[name]; dup {
			return nil, configErrorf(ErrCodeDuplicateField, name, "field registered twice")
		}

		e, err := reg.build(o)
		if err != nil {
			return nil, err
		}
		if other, dup := forward[e.Key()]; dup {
			return nil, &ConfigError{
				Code:    ErrCodeDuplicateKey,
				Message: fmt.Sprintf("key already bound to field %s", other),
				Field:   name,
				Key:     e.Key(),
			}
		}
		forward[e.Key()] = name
		o.fields[name] = e
		o.order = append(o.order, name)
	}

	for _, name := range ns.aliased() {
		if _, ok := o.fields[name]; !ok {
			return nil, configErrorf(ErrCodeUnknownField, name, "key alias names no registered field")
		}
	}
	blacklist := make(map[string]struct{}, len(cfg.IgnoreExternal))
	for _, name := range cfg.IgnoreExternal {
		if _, ok := o.fields[name]; !ok {
			return nil, configErrorf(ErrCodeUnknownField, name, "ignored field is not registered")
		}
		blacklist[name] = struct{}{}
	}

	if err := o.seed(); err != nil {
		return nil, err
	}

	if mode == ModeLive && !cfg.DisableExternalChanges {
		source, err := kv.SourceFor(cfg.Store)
		if err != nil {
			return nil, &ConfigError{Code: ErrCodeNoChangeBroadcast, Message: err.Error()}
		}
		o.relay = newRelay(source, forward, blacklist, id, exec, o.announceExternal, o.logger)
		if err := o.relay.subscribe(); err != nil {
			return nil, &ConfigError{Code: ErrCodeNoChangeBroadcast, Message: fmt.Sprintf("subscribe: %v", err)}
		}
	}

	for _, name := range o.order {
		o.fields[name].publish()
	}

	o.logger.Debug("owner created",
		slog.String("mode", mode.String()),
		slog.String("prefix", ns.Prefix()),
		slog.Int("fields", len(o.order)),
		slog.Bool("relay", o.relay != nil))
	return o, nil
}

// seed writes the starting values once every one of them has encoded. If a
// store write fails, the values already written are removed again.
func (o *Owner) seed() error {
	type write struct {
		e   entry
		enc value.Value
	}
	var writes []write
	for _, name := range o.order {
		e := o.fields[name]
		enc, err := e.startingValue()
		if err != nil {
			return err
		}
		if enc != nil {
			writes = append(writes, write{e: e, enc: enc})
		}
	}

	for i, w := range writes {
		if err := w.e.seed(w.enc); err != nil {
			if o.mode == ModeLive {
				for _, done := range writes[:i] {
					if rerr := o.store.Remove(o.ctx, done.e.Key()); rerr != nil {
						o.logger.Warn("seed rollback failed",
							slog.String("key", done.e.Key()), slog.String("error", rerr.Error()))
					}
				}
			}
			return err
		}
	}
	return nil
}

// MustNew is New that panics on a configuration error.
func MustNew(cfg Config, regs ...Registration) *Owner {
	o, err := New(cfg, regs...)
	if err != nil {
		panic(err)
	}
	return o
}

func (o *Owner) announceExternal(name string) {
	if e, ok := o.fields[name]; ok {
		e.announceExternal()
	}
}

func (o *Owner) syncAfterWrite() {
	if !o.syncNow {
		return
	}
	if s, ok := o.store.(kv.Synchronizer); ok {
		if !s.Synchronize(o.ctx) {
			o.logger.Debug("synchronize did not reach the store")
		}
	}
}

// ID returns the owner's origin id, stamped on every write it makes.
func (o *Owner) ID() string { return o.id }

// Mode returns the effective mode, after the environment override.
func (o *Owner) Mode() Mode { return o.mode }

// Prefix returns the namespace prefix.
func (o *Owner) Prefix() string { return o.ns.Prefix() }

// Fields returns field names in registration order.
func (o *Owner) Fields() []string {
	return append([]string(nil), o.order...)
}

// Field looks a field up by name.
func (o *Owner) Field(name string) (Handle, bool) {
	e, ok := o.fields[name]
	if !ok {
		return nil, false
	}
	return e, true
}

// Keys returns the resolved storage key of every field.
func (o *Owner) Keys() map[string]string {
	keys := make(map[string]string, len(o.fields))
	for name, e := range o.fields {
		keys[name] = e.Key()
	}
	return keys
}

// Subscribe calls fn with the field name after every change to name.
func (o *Owner) Subscribe(name string, fn func(name string)) (observe.Cancel, error) {
	if _, ok := o.fields[name]; !ok {
		return nil, fmt.Errorf("unknown field %q", name)
	}
	return o.registrar.Subscribe(observe.ID(name), func(id observe.ID) { fn(string(id)) }), nil
}

// SubscribeAll subscribes fn to every field.
func (o *Owner) SubscribeAll(fn func(name string)) observe.Cancel {
	cancels := make([]observe.Cancel, 0, len(o.order))
	for _, name := range o.order {
		cancels = append(cancels, o.registrar.Subscribe(observe.ID(name), func(id observe.ID) { fn(string(id)) }))
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, c := range cancels {
				c()
			}
		})
	}
}

// Track runs apply and calls onChange once, with the field name, the first
// time any field read during apply changes. It returns the names read.
// apply must read fields synchronously and must not call Track itself.
func (o *Owner) Track(apply func(), onChange func(name string)) ([]string, observe.Cancel) {
	ids, cancel := o.registrar.Track(apply, func(id observe.ID) {
		if onChange != nil {
			onChange(string(id))
		}
	})
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return names, cancel
}

// Synchronize asks the store to flush, if it can. It reports false in memory
// mode and for stores without a flush.
func (o *Owner) Synchronize(ctx context.Context) bool {
	if o.mode == ModeMemory {
		return false
	}
	s, ok := o.store.(kv.Synchronizer)
	if !ok {
		return false
	}
	return s.Synchronize(ctx)
}

// RelayFlavor returns how the owner receives external changes, or 0 when it
// does not.
func (o *Owner) RelayFlavor() kv.Flavor {
	if o.relay == nil {
		return 0
	}
	return o.relay.source.Flavor()
}

// Subscribed reports whether the change relay is currently registered.
func (o *Owner) Subscribed() bool {
	return o.relay != nil && o.relay.currentState() == relaySubscribed
}

// Close unsubscribes from the store. Fields keep working afterwards but no
// longer hear about external changes. Safe to call more than once.
func (o *Owner) Close() error {
	o.closeOnce.Do(func() {
		if o.relay != nil {
			o.relay.close()
		}
		o.logger.Debug("owner closed")
	})
	return nil
}

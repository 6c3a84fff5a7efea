package binding

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/fieldsync/internal/observe"
	"github.com/roach88/fieldsync/internal/value"
)

// Handle is the type-erased view of a field, used by tooling that works
// from names (the CLI, conformance scenarios).
type Handle interface {
	Name() string
	Key() string
	Domain() Domain
	Strategy() Strategy
	Optional() bool

	// Value returns the effective value in store form. Nil means an
	// optional field with no value.
	Value() value.Value
	// DefaultValue returns the declared default in store form.
	DefaultValue() value.Value
	// SetValue decodes v with the field's codec and writes it. Nil clears an
	// optional field. Decoding errors are returned; nothing is written.
	SetValue(v value.Value) error
	Reset()
	IsPersisted() bool
	Subscribe(fn func()) observe.Cancel
}

// Field is one bound field. All methods are safe for concurrent use.
//
// Get returns the stored value, or the declared default when the key is
// absent or unreadable. Set writes through to the store unless the value
// equals the current effective value. Neither surfaces an error.
type Field[T any] struct {
	owner    *Owner
	name     string
	key      string
	codec    Codec[T]
	def      defaultHolder[T]
	sup      suppressor[T]
	optional bool
	initial  *T
	target   **Field[T]

	mu      sync.Mutex
	cache   T
	present bool
}

var _ Handle = (*Field[int])(nil)

// Name returns the field name.
func (f *Field[T]) Name() string { return f.name }

// Key returns the resolved storage key.
func (f *Field[T]) Key() string { return f.key }

// Domain returns the value domain chosen at registration.
func (f *Field[T]) Domain() Domain { return f.codec.Domain() }

// Strategy returns the write-suppression strategy chosen at registration.
func (f *Field[T]) Strategy() Strategy { return f.sup.strategy }

// Optional reports whether the field was registered with BindOptional.
func (f *Field[T]) Optional() bool { return f.optional }

// Default returns the declared default.
func (f *Field[T]) Default() T { return f.def.get() }

func (f *Field[T]) id() observe.ID { return observe.ID(f.name) }

// Get records the access and returns the effective value.
func (f *Field[T]) Get() T {
	f.owner.registrar.Access(f.id())
	v, _ := f.load()
	return v
}

// Set writes v unless it equals the current effective value. Clearing a
// field whose key is already absent is also a no-op.
func (f *Field[T]) Set(v T) {
	current, persisted := f.load()
	if !f.sup.shouldWrite(v, current) || (!persisted && f.clears(v)) {
		f.owner.metrics.suppressed()
		f.owner.logger.Debug("write suppressed", slog.String("field", f.name), slog.String("strategy", f.sup.strategy.String()))
		return
	}

	f.owner.metrics.write()
	f.owner.registrar.AnnounceMutation(f.id(), func() { f.persist(v) })
	f.owner.metrics.notified(sourceLocal)
}

// Reset removes the key so the field reverts to its declared default.
// Resetting a field with no stored value does nothing.
func (f *Field[T]) Reset() {
	if !f.IsPersisted() {
		return
	}
	f.owner.metrics.write()
	f.owner.registrar.AnnounceMutation(f.id(), f.remove)
	f.owner.metrics.notified(sourceLocal)
}

// IsPersisted reports whether the store holds a value for the key.
func (f *Field[T]) IsPersisted() bool {
	if f.owner.mode == ModeMemory {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.present
	}
	_, ok, err := f.owner.store.Get(f.owner.ctx, f.key)
	if err != nil {
		f.owner.metrics.storeFailed("get")
		return false
	}
	return ok
}

// Subscribe calls fn after every change to the field, local or external.
// External changes are delivered on the owner's executor.
func (f *Field[T]) Subscribe(fn func()) observe.Cancel {
	return f.owner.registrar.Subscribe(f.id(), func(observe.ID) { fn() })
}

// Value implements Handle.
func (f *Field[T]) Value() value.Value {
	f.owner.registrar.Access(f.id())
	v, _ := f.load()
	enc, err := f.codec.Encode(v)
	if err != nil {
		return nil
	}
	return enc
}

// DefaultValue implements Handle.
func (f *Field[T]) DefaultValue() value.Value {
	enc, err := f.codec.Encode(f.def.get())
	if err != nil {
		return nil
	}
	return enc
}

// SetValue implements Handle.
func (f *Field[T]) SetValue(v value.Value) error {
	if v == nil {
		if !f.optional {
			return fmt.Errorf("field %s: nil value for non-optional field", f.name)
		}
		var none T
		f.Set(none)
		return nil
	}
	decoded, err := f.codec.Decode(v)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.name, err)
	}
	f.Set(decoded)
	return nil
}

// clears reports whether writing v removes the key.
func (f *Field[T]) clears(v T) bool {
	enc, err := f.codec.Encode(v)
	return err == nil && enc == nil
}

// load returns the effective value and whether it came from the store.
func (f *Field[T]) load() (T, bool) {
	if f.owner.mode == ModeMemory {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.present {
			return f.cache, true
		}
		return f.def.get(), false
	}

	raw, ok, err := f.owner.store.Get(f.owner.ctx, f.key)
	if err != nil {
		f.owner.metrics.storeFailed("get")
		f.owner.logger.Debug("store read failed, using default",
			slog.String("field", f.name), slog.String("key", f.key), slog.String("error", err.Error()))
		return f.def.get(), false
	}
	if !ok {
		return f.def.get(), false
	}

	v, err := f.codec.Decode(raw)
	if err != nil {
		f.owner.metrics.decodeFailed()
		f.owner.logger.Debug("decode failed, using default",
			slog.String("field", f.name), slog.String("key", f.key), slog.String("error", err.Error()))
		return f.def.get(), true
	}
	f.remember(v, true)
	return v, true
}

func (f *Field[T]) remember(v T, present bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = v
	f.present = present
}

func (f *Field[T]) forget() {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero T
	f.cache = zero
	f.present = false
}

// persist is the mutation body of Set. The cache is updated before encoding,
// so an unencodable value is still observed locally even though nothing is
// written.
func (f *Field[T]) persist(v T) {
	enc, err := f.codec.Encode(v)
	if err == nil && enc == nil {
		f.forget()
	} else {
		f.remember(v, true)
	}
	if err != nil {
		f.owner.metrics.encodeFailed()
		f.owner.logger.Warn("value cannot be encoded, write dropped",
			slog.String("field", f.name), slog.String("key", f.key), slog.String("error", err.Error()))
		return
	}
	if f.owner.mode == ModeMemory {
		return
	}

	op := "set"
	if enc == nil {
		op = "remove"
		err = f.owner.store.Remove(f.owner.ctx, f.key)
	} else {
		err = f.owner.store.Set(f.owner.ctx, f.key, enc)
	}
	if err != nil {
		f.owner.metrics.storeFailed(op)
		f.owner.logger.Warn("store write failed",
			slog.String("field", f.name), slog.String("key", f.key), slog.String("op", op), slog.String("error", err.Error()))
		return
	}
	f.owner.syncAfterWrite()
}

func (f *Field[T]) remove() {
	f.forget()
	if f.owner.mode == ModeMemory {
		return
	}
	if err := f.owner.store.Remove(f.owner.ctx, f.key); err != nil {
		f.owner.metrics.storeFailed("remove")
		f.owner.logger.Warn("store remove failed",
			slog.String("field", f.name), slog.String("key", f.key), slog.String("error", err.Error()))
		return
	}
	f.owner.syncAfterWrite()
}

// startingValue returns the encoded starting value to seed, or nil when the
// field has none or its key is already stored.
func (f *Field[T]) startingValue() (value.Value, error) {
	if f.initial == nil || f.IsPersisted() {
		return nil, nil
	}
	enc, err := f.codec.Encode(*f.initial)
	if err != nil {
		return nil, configErrorf(ErrCodeSeed, f.name, "starting value cannot be encoded: %v", err)
	}
	return enc, nil
}

// seed stores a value produced by startingValue.
func (f *Field[T]) seed(enc value.Value) error {
	if f.owner.mode == ModeMemory {
		f.remember(*f.initial, true)
		return nil
	}
	if err := f.owner.store.Set(f.owner.ctx, f.key, enc); err != nil {
		return &ConfigError{Code: ErrCodeSeed, Field: f.name, Key: f.key, Message: err.Error()}
	}
	return nil
}

func (f *Field[T]) publish() { *f.target = f }

// announceExternal raises the notification for a relayed change. The value
// is not re-read here; the next Get picks it up.
func (f *Field[T]) announceExternal() {
	f.owner.registrar.AnnounceMutation(f.id(), nil)
	f.owner.metrics.notified(sourceExternal)
}

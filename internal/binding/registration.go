package binding

import "github.com/roach88/fieldsync/internal/value"

// Registration is one row of an owner's registration table, produced by Bind
// or BindOptional and consumed once by New.
type Registration interface {
	fieldName() string
	build(o *Owner) (entry, error)
}

// entry is a constructed field before the owner is published.
type entry interface {
	Handle
	startingValue() (value.Value, error)
	seed(enc value.Value) error
	publish()
	announceExternal()
}

// Option adjusts a single registration.
type Option func(*options)

type options struct {
	key        string
	codec      any
	equal      any
	initial    any
	hasInitial bool
}

// WithKey overrides the storage key (before the prefix is applied). It beats
// an alias for the same field in Config.Keys.
func WithKey(key string) Option {
	return func(o *options) { o.key = key }
}

// WithCodec replaces the codec picked from the field type. For BindOptional
// the codec is for the element type.
func WithCodec[T any](c Codec[T]) Option {
	return func(o *options) { o.codec = c }
}

// WithEquality supplies the comparison used to suppress no-op writes. For
// BindOptional it compares elements.
func WithEquality[T any](eq func(a, b T) bool) Option {
	return func(o *options) { o.equal = eq }
}

// WithInitial seeds the store with v at construction when the key is absent.
// It never changes the declared default: removing the key later reverts the
// field to the default, not to v.
func WithInitial[T any](v T) Option {
	return func(o *options) {
		o.initial = v
		o.hasInitial = true
	}
}

// Bind registers a field of type T named name with declared default def.
// On successful construction *target is set to the new field.
func Bind[T any](target **Field[T], name string, def T, opts ...Option) Registration {
	return &registration[T]{
		target: target,
		name:   name,
		def:    def,
		opts:   opts,
		setup:  setupPlain[T],
	}
}

// BindOptional registers an optional field. Absent keys read as def (usually
// nil); setting nil removes the key.
func BindOptional[V any](target **Field[*V], name string, def *V, opts ...Option) Registration {
	return &registration[*V]{
		target:   target,
		name:     name,
		def:      def,
		opts:     opts,
		setup:    setupOptional[V],
		optional: true,
	}
}

type setupFunc[T any] func(name string, o *options) (Codec[T], suppressor[T], *T, error)

type registration[T any] struct {
	target   **Field[T]
	name     string
	def      T
	opts     []Option
	setup    setupFunc[T]
	optional bool
}

func (r *registration[T]) fieldName() string { return r.name }

func (r *registration[T]) build(o *Owner) (entry, error) {
	if r.target == nil {
		return nil, configErrorf(ErrCodeNilTarget, r.name, "registration has no target")
	}
	if r.name == "" {
		return nil, configErrorf(ErrCodeInvalidName, "", "field name is empty")
	}

	var opts options
	for _, opt := range r.opts {
		opt(&opts)
	}

	codec, sup, initial, err := r.setup(r.name, &opts)
	if err != nil {
		return nil, err
	}

	def, err := newDefaultHolder(r.def, codec)
	if err != nil {
		return nil, configErrorf(ErrCodeInvalidDefault, r.name, "declared default cannot be encoded: %v", err)
	}

	f := &Field[T]{
		owner:    o,
		name:     r.name,
		key:      o.ns.Resolve(r.name, opts.key),
		codec:    codec,
		def:      def,
		sup:      sup,
		optional: r.optional,
		initial:  initial,
		target:   r.target,
	}
	return f, nil
}

func setupPlain[T any](name string, o *options) (Codec[T], suppressor[T], *T, error) {
	codec := codecFor[T]()
	if o.codec != nil {
		c, ok := o.codec.(Codec[T])
		if !ok {
			return nil, suppressor[T]{}, nil, optionTypeError[T](name, "codec", o.codec)
		}
		codec = c
	}

	var eq func(a, b T) bool
	if o.equal != nil {
		e, ok := o.equal.(func(a, b T) bool)
		if !ok {
			return nil, suppressor[T]{}, nil, optionTypeError[T](name, "equality", o.equal)
		}
		eq = e
	}

	var initial *T
	if o.hasInitial {
		v, ok := o.initial.(T)
		if !ok {
			return nil, suppressor[T]{}, nil, optionTypeError[T](name, "initial value", o.initial)
		}
		initial = &v
	}
	return codec, suppressorFor(eq, codec), initial, nil
}

func setupOptional[V any](name string, o *options) (Codec[*V], suppressor[*V], **V, error) {
	inner := codecFor[V]()
	if o.codec != nil {
		c, ok := o.codec.(Codec[V])
		if !ok {
			return nil, suppressor[*V]{}, nil, optionTypeError[V](name, "codec", o.codec)
		}
		inner = c
	}

	var eq func(a, b V) bool
	if o.equal != nil {
		e, ok := o.equal.(func(a, b V) bool)
		if !ok {
			return nil, suppressor[*V]{}, nil, optionTypeError[V](name, "equality", o.equal)
		}
		eq = e
	}

	var initial **V
	if o.hasInitial {
		switch v := o.initial.(type) {
		case V:
			p := &v
			initial = &p
		case *V:
			initial = &v
		default:
			return nil, suppressor[*V]{}, nil, optionTypeError[V](name, "initial value", o.initial)
		}
	}
	return optionalCodec[V]{inner: inner}, optionalSuppressor(suppressorFor(eq, inner)), initial, nil
}

func optionTypeError[T any](name, what string, got any) *ConfigError {
	var zero T
	return configErrorf(ErrCodeOptionType, name, "%s has type %T, field wants %T", what, got, zero)
}

// Package dynfield builds field registrations from type-tagged descriptions,
// for callers that only learn the field table at run time (the CLI and the
// scenario harness).
//
// Values arrive as decoded YAML: int, float64, bool, string, []any and
// map[string]any. Each Type converts them to one concrete Go type and binds a
// binding.Field of that type. The resulting fields are reached through
// binding.Owner.Field, which exposes them as store-native values.
package dynfield

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/fieldsync/internal/binding"
)

// Type tags a dynamic field with its Go type.
type Type string

const (
	TypeInt     Type = "int"
	TypeFloat   Type = "float"
	TypeBool    Type = "bool"
	TypeString  Type = "string"
	TypeBytes   Type = "bytes"
	TypeStrings Type = "strings"
	TypeInts    Type = "ints"
	TypeJSON    Type = "json"

	TypeOptionalInt    Type = "optional_int"
	TypeOptionalFloat  Type = "optional_float"
	TypeOptionalBool   Type = "optional_bool"
	TypeOptionalString Type = "optional_string"
)

// ErrUnknownType is returned for a type tag no builder handles.
var ErrUnknownType = errors.New("unknown field type")

// Spec describes one dynamic field.
type Spec struct {
	Name string
	Type Type

	// Key overrides the storage key (before the owner prefix).
	Key string

	// Default is the declared default. nil means the type's zero value, or
	// absent for optional types.
	Default any

	// Initial seeds the store when the key is absent. Only used when
	// HasInitial is set, so that a nil initial can be told apart from none.
	Initial    any
	HasInitial bool
}

type builder func(Spec) (binding.Registration, error)

var builders = map[Type]builder{
	TypeInt:     plain(toInt),
	TypeFloat:   plain(toFloat),
	TypeBool:    plain(toBool),
	TypeString:  plain(toString),
	TypeBytes:   plain(toBytes),
	TypeStrings: plain(toStrings),
	TypeInts:    plain(toInts),
	TypeJSON:    plain(toObject),

	TypeOptionalInt:    optional(toInt),
	TypeOptionalFloat:  optional(toFloat),
	TypeOptionalBool:   optional(toBool),
	TypeOptionalString: optional(toString),
}

// Types lists every supported type tag, sorted.
func Types() []Type {
	out := make([]Type, 0, len(builders))
	for t := range builders {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Known reports whether t is a supported type tag.
func Known(t Type) bool {
	_, ok := builders[t]
	return ok
}

// Registration converts the spec into a binding registration.
func (s Spec) Registration() (binding.Registration, error) {
	build, ok := builders[s.Type]
	if !ok {
		return nil, fmt.Errorf("field %q: %w %q", s.Name, ErrUnknownType, s.Type)
	}
	return build(s)
}

// Registrations converts every spec, stopping at the first error.
func Registrations(specs []Spec) ([]binding.Registration, error) {
	regs := make([]binding.Registration, 0, len(specs))
	for _, s := range specs {
		r, err := s.Registration()
		if err != nil {
			return nil, err
		}
		regs = append(regs, r)
	}
	return regs, nil
}

func (s Spec) keyOption() []binding.Option {
	if s.Key == "" {
		return nil
	}
	return []binding.Option{binding.WithKey(s.Key)}
}

func plain[T any](conv func(any) (T, error)) builder {
	return func(s Spec) (binding.Registration, error) {
		var def T
		if s.Default != nil {
			v, err := conv(s.Default)
			if err != nil {
				return nil, fmt.Errorf("field %q: default: %w", s.Name, err)
			}
			def = v
		}

		opts := s.keyOption()
		if s.HasInitial {
			v, err := conv(s.Initial)
			if err != nil {
				return nil, fmt.Errorf("field %q: initial: %w", s.Name, err)
			}
			opts = append(opts, binding.WithInitial(v))
		}

		var target *binding.Field[T]
		return binding.Bind(&target, s.Name, def, opts...), nil
	}
}

func optional[V any](conv func(any) (V, error)) builder {
	return func(s Spec) (binding.Registration, error) {
		var def *V
		if s.Default != nil {
			v, err := conv(s.Default)
			if err != nil {
				return nil, fmt.Errorf("field %q: default: %w", s.Name, err)
			}
			def = &v
		}

		opts := s.keyOption()
		if s.HasInitial && s.Initial != nil {
			v, err := conv(s.Initial)
			if err != nil {
				return nil, fmt.Errorf("field %q: initial: %w", s.Name, err)
			}
			opts = append(opts, binding.WithInitial(v))
		}

		var target *binding.Field[*V]
		return binding.BindOptional(&target, s.Name, def, opts...), nil
	}
}

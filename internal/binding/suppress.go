package binding

import (
	"reflect"

	"github.com/roach88/fieldsync/internal/value"
)

// Strategy is how a binding decides that a write is a no-op.
type Strategy int

const (
	// ByEquality compares values.
	ByEquality Strategy = iota + 1
	// ByIdentity compares references.
	ByIdentity
	// Always writes; used when the type offers no comparison.
	Always
)

func (s Strategy) String() string {
	switch s {
	case ByEquality:
		return "equality"
	case ByIdentity:
		return "identity"
	case Always:
		return "always"
	default:
		return "unknown"
	}
}

type suppressor[T any] struct {
	strategy Strategy
	equal    func(a, b T) bool
}

// shouldWrite reports whether next differs from current.
func (s suppressor[T]) shouldWrite(next, current T) bool {
	if s.strategy == Always || s.equal == nil {
		return true
	}
	return !s.equal(next, current)
}

// suppressorFor picks the strategy for T. Equality wins over identity so a
// pointer type with an Equal method is not rewritten for an identical copy.
func suppressorFor[T any](custom func(a, b T) bool, codec Codec[T]) suppressor[T] {
	if custom != nil {
		return suppressor[T]{strategy: ByEquality, equal: custom}
	}

	var zero T
	if _, ok := any(zero).(interface{ Equal(T) bool }); ok {
		return suppressor[T]{strategy: ByEquality, equal: methodEqual[T]}
	}

	t := reflect.TypeOf((*T)(nil)).Elem()
	switch {
	case t.Kind() == reflect.Pointer || t.Kind() == reflect.Chan || t.Kind() == reflect.UnsafePointer:
		return suppressor[T]{strategy: ByIdentity, equal: func(a, b T) bool { return any(a) == any(b) }}

	case t.Comparable():
		return suppressor[T]{strategy: ByEquality, equal: safeEqual[T]}

	case codec.Domain() == DomainNative:
		// Slices and maps of store-native values compare by content.
		return suppressor[T]{strategy: ByEquality, equal: func(a, b T) bool {
			ea, err := codec.Encode(a)
			if err != nil {
				return false
			}
			eb, err := codec.Encode(b)
			if err != nil {
				return false
			}
			return value.Equal(ea, eb)
		}}

	default:
		return suppressor[T]{strategy: Always}
	}
}

// methodEqual calls a.Equal(b). A panic (say, a nil receiver) counts as
// "different".
func methodEqual[T any](a, b T) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return any(a).(interface{ Equal(T) bool }).Equal(b)
}

// safeEqual compares with ==. Interface fields holding incomparable dynamic
// values panic at runtime; that is treated as "different".
func safeEqual[T any](a, b T) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return any(a) == any(b)
}

// optionalSuppressor compares the pointees of optional values.
func optionalSuppressor[V any](inner suppressor[V]) suppressor[*V] {
	if inner.strategy == Always || inner.equal == nil {
		return suppressor[*V]{strategy: Always}
	}
	return suppressor[*V]{strategy: inner.strategy, equal: func(a, b *V) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return inner.equal(*a, *b)
	}}
}

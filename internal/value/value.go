package value

import (
	"bytes"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the store-native value kinds.
// Only String, Int, Float, Bool, Bytes, Array and Object implement it.
//
// There is deliberately no null: a missing value is a missing key, and every
// store reports presence separately from the value it returns.
type Value interface {
	Kind() Kind
	storeValue() // Sealed
}

// Kind identifies the concrete kind of a Value.
type Kind uint8

const (
	KindString Kind = iota + 1
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindArray
	KindObject
)

// String returns the wire tag name of the kind.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// String is a UTF-8 string value.
type String string

func (String) Kind() Kind  { return KindString }
func (String) storeValue() {}

// Int is a 64-bit signed integer value.
// Ints and Floats never collapse into each other on the wire.
type Int int64

func (Int) Kind() Kind  { return KindInt }
func (Int) storeValue() {}

// Float is a 64-bit floating point value.
type Float float64

func (Float) Kind() Kind  { return KindFloat }
func (Float) storeValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) Kind() Kind  { return KindBool }
func (Bool) storeValue() {}

// Bytes is an opaque byte blob.
type Bytes []byte

func (Bytes) Kind() Kind  { return KindBytes }
func (Bytes) storeValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) Kind() Kind  { return KindArray }
func (Array) storeValue() {}

// Object is a string-keyed map of values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

func (Object) Kind() Kind  { return KindObject }
func (Object) storeValue() {}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's sort.Strings orders by UTF-8 bytes, which differs for astral characters.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	default:
		return 0
	}
}

// Equal reports whether a and b have the same kind and content.
// Two nil values are equal; nil never equals a non-nil value.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case String, Int, Float, Bool:
		return a == b
	case Bytes:
		return bytes.Equal(av, b.(Bytes))
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv := b.(Object)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Clone returns a deep copy of v. Scalars are returned as-is.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Bytes:
		return Bytes(bytes.Clone(val))
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		out := make(Object, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

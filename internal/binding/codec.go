package binding

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/roach88/fieldsync/internal/value"
)

// Domain identifies how a field's values are represented in the store.
// It is chosen once, at registration.
type Domain int

const (
	// DomainRaw stores a primitive the type converts to and from: a text
	// marshaling pair or an explicit raw codec. Preferred over structured
	// encoding when a type supports both.
	DomainRaw Domain = iota + 1
	// DomainNative stores store-native values directly: strings, integers,
	// floats, bools, byte slices, and slices or string-keyed maps of those.
	DomainNative
	// DomainStructured stores a self-describing JSON byte encoding.
	DomainStructured
)

func (d Domain) String() string {
	switch d {
	case DomainRaw:
		return "raw"
	case DomainNative:
		return "native"
	case DomainStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// ErrReconstruct is returned when a stored raw value does not map back to a
// member of the field's type.
var ErrReconstruct = errors.New("raw value does not reconstruct")

// Codec converts between a field type and store values.
//
// Encode returning a nil value with a nil error means "no value": the key is
// removed rather than written.
type Codec[T any] interface {
	Domain() Domain
	Encode(v T) (value.Value, error)
	Decode(v value.Value) (T, error)
}

// codecFor picks the most specific codec for T.
func codecFor[T any]() Codec[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	switch {
	case isText(t):
		return textCodec[T]{}
	case isNative(t):
		return nativeCodec[T]{typ: t}
	default:
		return structuredCodec[T]{}
	}
}

var (
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

func isText(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface {
		return false
	}
	return t.Implements(textMarshalerType) && reflect.PointerTo(t).Implements(textUnmarshalerType)
}

func isNative(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Slice:
		return t.Elem().Kind() == reflect.Uint8 || isNative(t.Elem())
	case reflect.Map:
		return t.Key().Kind() == reflect.String && isNative(t.Elem())
	default:
		return false
	}
}

type textCodec[T any] struct{}

func (textCodec[T]) Domain() Domain { return DomainRaw }

func (textCodec[T]) Encode(v T) (value.Value, error) {
	b, err := any(v).(encoding.TextMarshaler).MarshalText()
	if err != nil {
		return nil, err
	}
	return value.String(b), nil
}

func (textCodec[T]) Decode(v value.Value) (T, error) {
	var out T
	s, ok := v.(value.String)
	if !ok {
		return out, fmt.Errorf("%w: want string, got %s", ErrReconstruct, v.Kind())
	}
	if err := any(&out).(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
		return out, fmt.Errorf("%w: %v", ErrReconstruct, err)
	}
	return out, nil
}

// RawString stores T as its underlying string. A stored string for which
// valid reports false reconstructs to the default. A nil valid accepts all.
func RawString[T ~string](valid func(T) bool) Codec[T] {
	return rawStringCodec[T]{valid: valid}
}

type rawStringCodec[T ~string] struct {
	valid func(T) bool
}

func (rawStringCodec[T]) Domain() Domain { return DomainRaw }

func (c rawStringCodec[T]) Encode(v T) (value.Value, error) {
	if c.valid != nil && !c.valid(v) {
		return nil, fmt.Errorf("%q is not a valid value", string(v))
	}
	return value.String(v), nil
}

func (c rawStringCodec[T]) Decode(v value.Value) (T, error) {
	s, ok := v.(value.String)
	if !ok {
		return "", fmt.Errorf("%w: want string, got %s", ErrReconstruct, v.Kind())
	}
	out := T(s)
	if c.valid != nil && !c.valid(out) {
		return "", fmt.Errorf("%w: %q", ErrReconstruct, string(s))
	}
	return out, nil
}

// RawInt stores T as its underlying integer.
func RawInt[T ~int | ~int8 | ~int16 | ~int32 | ~int64](valid func(T) bool) Codec[T] {
	return rawIntCodec[T]{valid: valid}
}

type rawIntCodec[T ~int | ~int8 | ~int16 | ~int32 | ~int64] struct {
	valid func(T) bool
}

func (rawIntCodec[T]) Domain() Domain { return DomainRaw }

func (c rawIntCodec[T]) Encode(v T) (value.Value, error) {
	if c.valid != nil && !c.valid(v) {
		return nil, fmt.Errorf("%d is not a valid value", int64(v))
	}
	return value.Int(int64(v)), nil
}

func (c rawIntCodec[T]) Decode(v value.Value) (T, error) {
	i, ok := v.(value.Int)
	if !ok {
		return 0, fmt.Errorf("%w: want int, got %s", ErrReconstruct, v.Kind())
	}
	out := T(i)
	if int64(out) != int64(i) {
		return 0, fmt.Errorf("%w: %d overflows", ErrReconstruct, int64(i))
	}
	if c.valid != nil && !c.valid(out) {
		return 0, fmt.Errorf("%w: %d", ErrReconstruct, int64(i))
	}
	return out, nil
}

type nativeCodec[T any] struct {
	typ reflect.Type
}

func (nativeCodec[T]) Domain() Domain { return DomainNative }

func (c nativeCodec[T]) Encode(v T) (value.Value, error) {
	return encodeNative(reflect.ValueOf(&v).Elem())
}

func (c nativeCodec[T]) Decode(v value.Value) (T, error) {
	var out T
	rv, err := decodeNative(v, c.typ)
	if err != nil {
		return out, err
	}
	reflect.ValueOf(&out).Elem().Set(rv)
	return out, nil
}

func encodeNative(rv reflect.Value) (value.Value, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return value.Bool(rv.Bool()), nil
	case reflect.String:
		return value.String(rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return value.Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", u)
		}
		return value.Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("float %v is not representable", f)
		}
		return value.Float(f), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return value.Bytes(append([]byte(nil), rv.Bytes()...)), nil
		}
		arr := make(value.Array, rv.Len())
		for i := range arr {
			item, err := encodeNative(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = item
		}
		return arr, nil
	case reflect.Map:
		obj := make(value.Object, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item, err := encodeNative(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("%s: %w", iter.Key().String(), err)
			}
			obj[iter.Key().String()] = item
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported kind %s", rv.Kind())
	}
}

func decodeNative(v value.Value, t reflect.Type) (reflect.Value, error) {
	out := reflect.New(t).Elem()

	switch t.Kind() {
	case reflect.Bool:
		b, ok := v.(value.Bool)
		if !ok {
			return out, kindMismatch("bool", v)
		}
		out.SetBool(bool(b))

	case reflect.String:
		s, ok := v.(value.String)
		if !ok {
			return out, kindMismatch("string", v)
		}
		out.SetString(string(s))

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := integral(v)
		if err != nil {
			return out, err
		}
		if out.OverflowInt(i) {
			return out, fmt.Errorf("%d overflows %s", i, t)
		}
		out.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := integral(v)
		if err != nil {
			return out, err
		}
		if i < 0 || out.OverflowUint(uint64(i)) {
			return out, fmt.Errorf("%d overflows %s", i, t)
		}
		out.SetUint(uint64(i))

	case reflect.Float32, reflect.Float64:
		var f float64
		switch x := v.(type) {
		case value.Float:
			f = float64(x)
		case value.Int:
			f = float64(x)
		default:
			return out, kindMismatch("float", v)
		}
		if out.OverflowFloat(f) {
			return out, fmt.Errorf("%v overflows %s", f, t)
		}
		out.SetFloat(f)

	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			b, ok := v.(value.Bytes)
			if !ok {
				return out, kindMismatch("bytes", v)
			}
			out.SetBytes(append([]byte(nil), b...))
			break
		}
		arr, ok := v.(value.Array)
		if !ok {
			return out, kindMismatch("array", v)
		}
		s := reflect.MakeSlice(t, len(arr), len(arr))
		for i, item := range arr {
			ev, err := decodeNative(item, t.Elem())
			if err != nil {
				return out, fmt.Errorf("[%d]: %w", i, err)
			}
			s.Index(i).Set(ev)
		}
		out.Set(s)

	case reflect.Map:
		obj, ok := v.(value.Object)
		if !ok {
			return out, kindMismatch("object", v)
		}
		m := reflect.MakeMapWithSize(t, len(obj))
		for k, item := range obj {
			ev, err := decodeNative(item, t.Elem())
			if err != nil {
				return out, fmt.Errorf("%s: %w", k, err)
			}
			m.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		out.Set(m)

	default:
		return out, fmt.Errorf("unsupported kind %s", t.Kind())
	}
	return out, nil
}

// integral accepts Int, or a Float with no fractional part (hand-edited
// files often write 2.0 for 2).
func integral(v value.Value) (int64, error) {
	switch x := v.(type) {
	case value.Int:
		return int64(x), nil
	case value.Float:
		f := float64(x)
		if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is not an integer", f)
		}
		return int64(f), nil
	default:
		return 0, kindMismatch("int", v)
	}
}

func kindMismatch(want string, got value.Value) error {
	if got == nil {
		return fmt.Errorf("want %s, got nothing", want)
	}
	return fmt.Errorf("want %s, got %s", want, got.Kind())
}

type structuredCodec[T any] struct{}

func (structuredCodec[T]) Domain() Domain { return DomainStructured }

func (structuredCodec[T]) Encode(v T) (value.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return value.Bytes(data), nil
}

// Decode accepts bytes, or a string holding the same JSON for hand-edited
// stores.
func (structuredCodec[T]) Decode(v value.Value) (T, error) {
	var out T
	var data []byte
	switch x := v.(type) {
	case value.Bytes:
		data = x
	case value.String:
		data = []byte(x)
	default:
		return out, kindMismatch("bytes", v)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}

// optionalCodec lifts a codec for V to *V. Nil encodes to "no value".
type optionalCodec[V any] struct {
	inner Codec[V]
}

func (c optionalCodec[V]) Domain() Domain { return c.inner.Domain() }

func (c optionalCodec[V]) Encode(p *V) (value.Value, error) {
	if p == nil {
		return nil, nil
	}
	return c.inner.Encode(*p)
}

func (c optionalCodec[V]) Decode(v value.Value) (*V, error) {
	out, err := c.inner.Decode(v)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

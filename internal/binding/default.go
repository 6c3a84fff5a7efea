package binding

import (
	"reflect"

	"github.com/roach88/fieldsync/internal/value"
)

// defaultHolder keeps a field's declared default. Reference-shaped defaults
// (pointers, slices, maps, structs holding them) are deep-copied on the way
// in and on every read, so a caller mutating a returned default cannot change
// the fallback. Types reflection cannot copy (unexported references, cycles)
// are kept encoded and decoded afresh instead.
type defaultHolder[T any] struct {
	val     T
	deep    bool
	encoded value.Value
	codec   Codec[T]
}

func newDefaultHolder[T any](def T, codec Codec[T]) (defaultHolder[T], error) {
	h := defaultHolder[T]{val: def, codec: codec}

	rv := reflect.ValueOf(&def).Elem()
	if codec.Domain() == DomainRaw || !hasReferences(rv.Type(), 0) || isNilish(rv) {
		return h, nil
	}
	enc, err := codec.Encode(def)
	if err != nil {
		return h, err
	}
	if c, ok := copyOf(def); ok {
		h.val = c
		h.deep = true
		return h, nil
	}
	h.encoded = enc
	return h, nil
}

func (h defaultHolder[T]) get() T {
	switch {
	case h.deep:
		if c, ok := copyOf(h.val); ok {
			return c
		}
		return h.val
	case h.encoded != nil:
		v, err := h.codec.Decode(h.encoded)
		if err != nil {
			return h.val
		}
		return v
	default:
		return h.val
	}
}

func copyOf[T any](v T) (T, bool) {
	c, ok := deepCopy(reflect.ValueOf(&v).Elem(), 0)
	if !ok {
		return v, false
	}
	var out T
	reflect.ValueOf(&out).Elem().Set(c)
	return out, true
}

// deepCopy duplicates every pointer, slice, map and interface reachable from
// v. Map keys, channels and funcs stay shared.
func deepCopy(v reflect.Value, depth int) (reflect.Value, bool) {
	if depth > 32 {
		return v, false
	}
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			return v, true
		}
		elem, ok := deepCopy(v.Elem(), depth+1)
		if !ok {
			return v, false
		}
		p := reflect.New(v.Type().Elem())
		p.Elem().Set(elem)
		return p, true

	case reflect.Interface:
		if v.IsNil() {
			return v, true
		}
		elem, ok := deepCopy(v.Elem(), depth+1)
		if !ok {
			return v, false
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(elem)
		return out, true

	case reflect.Slice:
		if v.IsNil() {
			return v, true
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		if !copyElems(out, v, depth) {
			return v, false
		}
		return out, true

	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		if !copyElems(out, v, depth) {
			return v, false
		}
		return out, true

	case reflect.Map:
		if v.IsNil() {
			return v, true
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			e, ok := deepCopy(iter.Value(), depth+1)
			if !ok {
				return v, false
			}
			out.SetMapIndex(iter.Key(), e)
		}
		return out, true

	case reflect.Struct:
		t := v.Type()
		out := reflect.New(t).Elem()
		out.Set(v)
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !hasReferences(sf.Type, 0) {
				continue
			}
			if !sf.IsExported() {
				return v, false
			}
			f, ok := deepCopy(v.Field(i), depth+1)
			if !ok {
				return v, false
			}
			out.Field(i).Set(f)
		}
		return out, true

	default:
		return v, true
	}
}

func copyElems(dst, src reflect.Value, depth int) bool {
	for i := 0; i < src.Len(); i++ {
		e, ok := deepCopy(src.Index(i), depth+1)
		if !ok {
			return false
		}
		dst.Index(i).Set(e)
	}
	return true
}

func hasReferences(t reflect.Type, depth int) bool {
	if depth > 8 {
		return true
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	case reflect.Array:
		return hasReferences(t.Elem(), depth+1)
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if hasReferences(t.Field(i).Type, depth+1) {
				return true
			}
		}
	}
	return false
}

func isNilish(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
)

// Wire tags. Every encoded value is a single-key JSON object whose key names
// the kind, so ints, floats and byte blobs survive a round trip through any
// JSON-speaking store.
const (
	tagString = "s"
	tagInt    = "i"
	tagFloat  = "f"
	tagBool   = "b"
	tagBytes  = "x"
	tagArray  = "a"
	tagObject = "o"
)

// Marshal encodes v in the tagged wire format.
// Returns an error for nil values and for NaN or infinite floats, which have
// no JSON representation.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeTagged(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeTagged(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("marshal: nil value")
	case String:
		return writeScalar(buf, tagString, string(val))
	case Int:
		return writeScalar(buf, tagInt, int64(val))
	case Float:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("marshal: unsupported float %v", f)
		}
		return writeScalar(buf, tagFloat, f)
	case Bool:
		return writeScalar(buf, tagBool, bool(val))
	case Bytes:
		return writeScalar(buf, tagBytes, base64.StdEncoding.EncodeToString(val))
	case Array:
		buf.WriteString(`{"a":[`)
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeTagged(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteString(`]}`)
		return nil
	case Object:
		buf.WriteString(`{"o":{`)
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("marshal key %q: %w", k, err)
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := writeTagged(buf, val[k]); err != nil {
				return fmt.Errorf("object[%q]: %w", k, err)
			}
		}
		buf.WriteString(`}}`)
		return nil
	default:
		return fmt.Errorf("marshal: unknown value type %T", v)
	}
}

func writeScalar(buf *bytes.Buffer, tag string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", tag, err)
	}
	buf.WriteString(`{"`)
	buf.WriteString(tag)
	buf.WriteString(`":`)
	buf.Write(data)
	buf.WriteByte('}')
	return nil
}

// Unmarshal decodes the tagged wire format produced by Marshal.
func Unmarshal(data []byte) (Value, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("unmarshal value: expected exactly one tag, got %d", len(raw))
	}

	for tag, body := range raw {
		return decodeTagged(tag, body)
	}
	return nil, fmt.Errorf("unmarshal value: empty object")
}

func decodeTagged(tag string, body json.RawMessage) (Value, error) {
	switch tag {
	case tagString:
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, fmt.Errorf("decode string: %w", err)
		}
		return String(s), nil

	case tagInt:
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.UseNumber()
		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return nil, fmt.Errorf("decode int: %w", err)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("decode int: %w", err)
		}
		return Int(i), nil

	case tagFloat:
		var f float64
		if err := json.Unmarshal(body, &f); err != nil {
			return nil, fmt.Errorf("decode float: %w", err)
		}
		return Float(f), nil

	case tagBool:
		var b bool
		if err := json.Unmarshal(body, &b); err != nil {
			return nil, fmt.Errorf("decode bool: %w", err)
		}
		return Bool(b), nil

	case tagBytes:
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return nil, fmt.Errorf("decode bytes: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode bytes: %w", err)
		}
		return Bytes(b), nil

	case tagArray:
		var elems []json.RawMessage
		if err := json.Unmarshal(body, &elems); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		arr := make(Array, len(elems))
		for i, elem := range elems {
			v, err := Unmarshal(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = v
		}
		return arr, nil

	case tagObject:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(body, &fields); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		obj := make(Object, len(fields))
		for k, elem := range fields {
			v, err := Unmarshal(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = v
		}
		return obj, nil

	default:
		return nil, fmt.Errorf("unmarshal value: unknown tag %q", tag)
	}
}

// Envelope carries a Value inside JSON documents (cloud protocol messages).
// The zero Envelope holds no value.
type Envelope struct {
	Value Value
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Value == nil {
		return []byte("null"), nil
	}
	return Marshal(e.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		e.Value = nil
		return nil
	}
	v, err := Unmarshal(data)
	if err != nil {
		return err
	}
	e.Value = v
	return nil
}

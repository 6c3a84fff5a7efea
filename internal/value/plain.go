package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FromPlain converts a plain Go value into a Value.
// Accepts the shapes produced by encoding/json (with UseNumber) and
// gopkg.in/yaml.v3 decoding, plus the common typed slices and maps.
func FromPlain(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null has no store representation")
	case Value:
		return val, nil
	case string:
		return String(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return fromUint(uint64(val))
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return fromUint(val)
	case float32:
		return Float(val), nil
	case float64:
		return Float(val), nil
	case json.Number:
		return fromNumber(string(val))
	case []byte:
		return Bytes(bytes.Clone(val)), nil
	case []string:
		arr := make(Array, len(val))
		for i, s := range val {
			arr[i] = String(s)
		}
		return arr, nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			ev, err := FromPlain(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]string:
		obj := make(Object, len(val))
		for k, s := range val {
			obj[k] = String(s)
		}
		return obj, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ev, err := FromPlain(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

func fromUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// fromNumber keeps integral literals as Int and everything else as Float.
func fromNumber(s string) (Value, error) {
	if !strings.ContainsAny(s, ".eE") {
		i, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return Int(i), nil
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Float(f), nil
}

// ToPlain converts v into plain Go values: string, int64, float64, bool,
// []byte, []any and map[string]any.
func ToPlain(v Value) any {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Bool:
		return bool(val)
	case Bytes:
		return []byte(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToPlain(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToPlain(elem)
		}
		return out
	default:
		return nil
	}
}

// Parse interprets a command-line literal. JSON literals (numbers, booleans,
// quoted strings, arrays, objects) decode to their kinds; anything that is not
// valid JSON is taken as a bare string.
func Parse(literal string) Value {
	dec := json.NewDecoder(strings.NewReader(literal))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil || dec.More() {
		return String(literal)
	}
	v, err := FromPlain(raw)
	if err != nil {
		return String(literal)
	}
	return v
}

// Format renders v as compact plain JSON for display. Bytes render as a
// base64 string and the kind is otherwise implicit.
func Format(v Value) string {
	if v == nil {
		return "<absent>"
	}
	var buf bytes.Buffer
	formatInto(&buf, v)
	return buf.String()
}

func formatInto(buf *bytes.Buffer, v Value) {
	switch val := v.(type) {
	case String:
		data, _ := json.Marshal(string(val))
		buf.Write(data)
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		buf.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case Bytes:
		buf.WriteByte('"')
		buf.WriteString(base64.StdEncoding.EncodeToString(val))
		buf.WriteByte('"')
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			formatInto(buf, elem)
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, _ := json.Marshal(k)
			buf.Write(data)
			buf.WriteByte(':')
			formatInto(buf, val[k])
		}
		buf.WriteByte('}')
	}
}

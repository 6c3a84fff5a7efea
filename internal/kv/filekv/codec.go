package filekv

import (
	"encoding/base64"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/value"
)

// toNode renders v as a YAML node whose tag pins the value kind, so that
// Int(2) and Float(2) stay distinct on disk.
func toNode(v value.Value) (*yaml.Node, error) {
	switch x := v.(type) {
	case value.String:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: string(x)}, nil
	case value.Int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(x), 10)}, nil
	case value.Float:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatFloat(float64(x))}, nil
	case value.Bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(bool(x))}, nil
	case value.Bytes:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!binary", Value: base64.StdEncoding.EncodeToString(x)}, nil
	case value.Array:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for i, item := range x {
			n, err := toNode(item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq.Content = append(seq.Content, n)
		}
		return seq, nil
	case value.Object:
		return mappingNode(x)
	case nil:
		return nil, fmt.Errorf("nil value")
	default:
		return nil, fmt.Errorf("unsupported value %T", v)
	}
}

func mappingNode(obj map[string]value.Value) (*yaml.Node, error) {
	m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, key := range value.Object(obj).SortedKeys() {
		n, err := toNode(obj[key])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		m.Content = append(m.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, n)
	}
	return m, nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case math.IsNaN(f):
		return ".nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// fromNode converts a decoded YAML node back into a value. A null scalar
// reports ok=false.
func fromNode(n *yaml.Node) (value.Value, bool, error) {
	if n.Kind == yaml.AliasNode {
		return fromNode(n.Alias)
	}

	switch n.Kind {
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return nil, false, nil
		case "!!str":
			return value.String(n.Value), true, nil
		case "!!int":
			var i int64
			if err := n.Decode(&i); err != nil {
				return nil, false, fmt.Errorf("line %d: %w", n.Line, err)
			}
			return value.Int(i), true, nil
		case "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return nil, false, fmt.Errorf("line %d: %w", n.Line, err)
			}
			return value.Float(f), true, nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, false, fmt.Errorf("line %d: %w", n.Line, err)
			}
			return value.Bool(b), true, nil
		case "!!binary":
			raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
			if err != nil {
				return nil, false, fmt.Errorf("line %d: %w", n.Line, err)
			}
			return value.Bytes(raw), true, nil
		default:
			return nil, false, fmt.Errorf("line %d: unsupported tag %s", n.Line, n.ShortTag())
		}

	case yaml.SequenceNode:
		arr := make(value.Array, 0, len(n.Content))
		for _, item := range n.Content {
			v, ok, err := fromNode(item)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				return nil, false, fmt.Errorf("line %d: null inside sequence", item.Line)
			}
			arr = append(arr, v)
		}
		return arr, true, nil

	case yaml.MappingNode:
		obj, err := decodeMapping(n)
		if err != nil {
			return nil, false, err
		}
		return value.Object(obj), true, nil

	default:
		return nil, false, fmt.Errorf("line %d: unexpected node kind %d", n.Line, n.Kind)
	}
}

// decodeMapping reads a mapping node. Null entries are omitted.
func decodeMapping(n *yaml.Node) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		keyNode, valNode := n.Content[i], n.Content[i+1]
		if keyNode.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("line %d: mapping key must be a scalar", keyNode.Line)
		}
		v, ok, err := fromNode(valNode)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", keyNode.Value, err)
		}
		if ok {
			out[keyNode.Value] = v
		}
	}
	return out, nil
}

// parseDocument decodes a whole file. An empty file is an empty store.
func parseDocument(data []byte) (map[string]value.Value, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return map[string]value.Value{}, nil
	}
	root := doc.Content[0]
	if root.Kind == yaml.ScalarNode && root.ShortTag() == "!!null" {
		return map[string]value.Value{}, nil
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping", root.Line)
	}
	return decodeMapping(root)
}

func renderDocument(data map[string]value.Value) ([]byte, error) {
	root, err := mappingNode(data)
	if err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return []byte("{}\n"), nil
	}
	return yaml.Marshal(root)
}

package binding

import (
	"strings"
)

// Namespace maps field names to storage keys.
//
// resolve(field) = prefix + (override ?? alias ?? name). An override given on
// the registration itself (WithKey) beats an alias from Config.Keys.
type Namespace struct {
	prefix  string
	aliases map[string]string
}

// NewNamespace validates prefix and captures aliases. A prefix containing
// '.' is rejected: dots are reserved by key-path style change observation.
func NewNamespace(prefix string, aliases map[string]string) (*Namespace, error) {
	if strings.Contains(prefix, ".") {
		return nil, &ConfigError{
			Code:    ErrCodeInvalidPrefix,
			Message: "prefix must not contain '.'",
			Key:     prefix,
		}
	}

	copied := make(map[string]string, len(aliases))
	for name, key := range aliases {
		if key == "" {
			return nil, configErrorf(ErrCodeInvalidName, name, "key alias is empty")
		}
		copied[name] = key
	}
	return &Namespace{prefix: prefix, aliases: copied}, nil
}

// Prefix returns the namespace prefix.
func (n *Namespace) Prefix() string { return n.prefix }

// Resolve returns the storage key for name.
func (n *Namespace) Resolve(name, override string) string {
	if override != "" {
		return n.prefix + override
	}
	if alias, ok := n.aliases[name]; ok {
		return n.prefix + alias
	}
	return n.prefix + name
}

// aliased returns the names carrying an alias.
func (n *Namespace) aliased() []string {
	names := make([]string, 0, len(n.aliases))
	for name := range n.aliases {
		names = append(names, name)
	}
	return names
}

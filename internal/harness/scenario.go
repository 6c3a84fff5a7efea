package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/value"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Store pre-seeds keys before any owner is built. Seeding is not traced.
	Store map[string]any `yaml:"store,omitempty"`

	// Owners are built in order over the shared store.
	Owners []OwnerDecl `yaml:"owners"`

	// Flow is executed step by step.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// OwnerDecl names an owner description. The store entry of the description is
// ignored: scenario owners always share the harness store.
type OwnerDecl struct {
	Name         string `yaml:"name"`
	config.Owner `yaml:",inline"`
}

// Step is one flow operation.
type Step struct {
	// Op is one of the Op* constants.
	Op string `yaml:"op"`

	// Owner and Field address a field (set, reset, read, close).
	Owner string `yaml:"owner,omitempty"`
	Field string `yaml:"field,omitempty"`

	// Key addresses a store key (external_set, external_remove).
	Key string `yaml:"key,omitempty"`

	// Value is written by set and external_set. Null clears an optional
	// field.
	Value yaml.Node `yaml:"value,omitempty"`

	// Expect is compared with the value a read observes. Null expects no
	// value (an optional field without one).
	Expect yaml.Node `yaml:"expect,omitempty"`
}

// Step ops.
const (
	OpSet            = "set"
	OpReset          = "reset"
	OpRead           = "read"
	OpExternalSet    = "external_set"
	OpExternalRemove = "external_remove"
	OpClose          = "close"
)

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Owner string `yaml:"owner,omitempty"`
	Field string `yaml:"field,omitempty"`
	Key   string `yaml:"key,omitempty"`

	// Count is required by notified and writes; zero is meaningful.
	Count *int `yaml:"count,omitempty"`

	// Events lists "owner.field" notifications in expected order (notify_order).
	Events []string `yaml:"events,omitempty"`

	// Expect is the expected value (stored, value).
	Expect yaml.Node `yaml:"expect,omitempty"`

	// Absent expects the key to be missing (stored).
	Absent bool `yaml:"absent,omitempty"`
}

// Assertion type constants.
const (
	AssertNotified    = "notified"
	AssertNotifyOrder = "notify_order"
	AssertWrites      = "writes"
	AssertStored      = "stored"
	AssertValue       = "value"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Owners) == 0 {
		return fmt.Errorf("owners list is required and must be non-empty")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	owners := make(map[string]bool, len(s.Owners))
	for i, o := range s.Owners {
		if o.Name == "" {
			return fmt.Errorf("owners[%d]: name is required", i)
		}
		if owners[o.Name] {
			return fmt.Errorf("owners[%d]: duplicate owner %q", i, o.Name)
		}
		owners[o.Name] = true
		if len(o.Fields) == 0 {
			return fmt.Errorf("owner %q: fields list is required and must be non-empty", o.Name)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(step, owners); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, owners); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}

	return nil
}

func validateStep(step Step, owners map[string]bool) error {
	switch step.Op {
	case OpSet, OpReset, OpRead, OpClose:
		if !owners[step.Owner] {
			return fmt.Errorf("%s: unknown owner %q", step.Op, step.Owner)
		}
		if step.Op != OpClose && step.Field == "" {
			return fmt.Errorf("%s: field is required", step.Op)
		}
		if step.Op == OpSet && step.Value.Kind == 0 {
			return fmt.Errorf("set: value is required")
		}
		if step.Op == OpRead && step.Expect.Kind == 0 {
			return fmt.Errorf("read: expect is required")
		}
	case OpExternalSet, OpExternalRemove:
		if step.Key == "" {
			return fmt.Errorf("%s: key is required", step.Op)
		}
		if step.Op == OpExternalSet && step.Value.Kind == 0 {
			return fmt.Errorf("external_set: value is required")
		}
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(a Assertion, owners map[string]bool) error {
	switch a.Type {
	case AssertNotified, AssertValue:
		if !owners[a.Owner] || a.Field == "" {
			return fmt.Errorf("%s: owner and field are required", a.Type)
		}
		if a.Type == AssertNotified && a.Count == nil {
			return fmt.Errorf("notified: count is required")
		}
		if a.Type == AssertValue && a.Expect.Kind == 0 {
			return fmt.Errorf("value: expect is required")
		}
	case AssertNotifyOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("notify_order: events are required")
		}
	case AssertWrites:
		if a.Key == "" || a.Count == nil {
			return fmt.Errorf("writes: key and count are required")
		}
	case AssertStored:
		if a.Key == "" {
			return fmt.Errorf("stored: key is required")
		}
		if a.Absent == (a.Expect.Kind != 0) {
			return fmt.Errorf("stored: exactly one of expect and absent is required")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// nodeValue decodes a YAML node into a store value. Null decodes to nil.
func nodeValue(n *yaml.Node) (value.Value, error) {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	return value.FromPlain(raw)
}

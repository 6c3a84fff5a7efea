// Package config loads owner descriptions from YAML.
//
// An owner description names a store, a key prefix and a field table:
//
//	store: badger:/var/lib/app/settings
//	prefix: app_
//	keys:
//	  count: launch_count
//	ignore_external: [theme]
//	fields:
//	  - name: count
//	    type: int
//	    default: 0
//	  - name: theme
//	    type: optional_string
//	    initial: dark
//
// Unknown keys are rejected so that typos surface at load time.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fieldsync/internal/binding"
	"github.com/roach88/fieldsync/internal/dynfield"
	"github.com/roach88/fieldsync/internal/kv"
)

// Owner is a parsed owner description.
type Owner struct {
	// Store is a store DSN (see cli.OpenStore): "memory:", badger:PATH,
	// file:PATH or ws://HOST/PATH.
	Store string `yaml:"store,omitempty"`

	// Prefix is prepended to every storage key.
	Prefix string `yaml:"prefix"`

	// Mode is "live" (default) or "memory".
	Mode string `yaml:"mode,omitempty"`

	// Keys aliases field names to storage keys.
	Keys map[string]string `yaml:"keys,omitempty"`

	IgnoreExternal         []string `yaml:"ignore_external,omitempty"`
	DisableExternalChanges bool     `yaml:"disable_external_changes,omitempty"`
	SyncImmediately        bool     `yaml:"sync_immediately,omitempty"`

	Fields []Field `yaml:"fields"`
}

// Field is one entry of the field table.
type Field struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Key     string `yaml:"key,omitempty"`
	Default any    `yaml:"default,omitempty"`

	// Initial is kept as a node so that "initial: null" (seed nothing for an
	// optional field) differs from leaving initial out.
	Initial yaml.Node `yaml:"initial,omitempty"`
}

// Load reads and parses an owner description file.
func Load(path string) (*Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read owner file: %w", err)
	}
	o, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return o, nil
}

// Parse parses an owner description.
func Parse(data []byte) (*Owner, error) {
	var o Owner
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&o); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid owner description: %w", err)
	}
	return &o, nil
}

func (o *Owner) validate() error {
	if len(o.Fields) == 0 {
		return fmt.Errorf("fields list is required and must be non-empty")
	}
	if _, err := binding.ParseMode(o.Mode); err != nil {
		return err
	}
	for i, f := range o.Fields {
		if f.Name == "" {
			return fmt.Errorf("fields[%d]: name is required", i)
		}
		if !dynfield.Known(dynfield.Type(f.Type)) {
			return fmt.Errorf("fields[%d] %q: unknown type %q (want one of %v)", i, f.Name, f.Type, dynfield.Types())
		}
	}
	return nil
}

// Specs converts the field table into dynamic field specs.
func (o *Owner) Specs() ([]dynfield.Spec, error) {
	specs := make([]dynfield.Spec, 0, len(o.Fields))
	for _, f := range o.Fields {
		s := dynfield.Spec{
			Name:    f.Name,
			Type:    dynfield.Type(f.Type),
			Key:     f.Key,
			Default: f.Default,
		}
		if f.Initial.Kind != 0 {
			var v any
			if err := f.Initial.Decode(&v); err != nil {
				return nil, fmt.Errorf("field %q: initial: %w", f.Name, err)
			}
			s.Initial = v
			s.HasInitial = true
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// Registrations builds the binding registrations for the field table.
func (o *Owner) Registrations() ([]binding.Registration, error) {
	specs, err := o.Specs()
	if err != nil {
		return nil, err
	}
	return dynfield.Registrations(specs)
}

// BindingConfig returns the owner configuration for st. Executor, Logger and
// Metrics are left for the caller.
func (o *Owner) BindingConfig(st kv.Store) (binding.Config, error) {
	mode, err := binding.ParseMode(o.Mode)
	if err != nil {
		return binding.Config{}, err
	}
	return binding.Config{
		Store:                  st,
		Prefix:                 o.Prefix,
		Keys:                   o.Keys,
		IgnoreExternal:         o.IgnoreExternal,
		DisableExternalChanges: o.DisableExternalChanges,
		Mode:                   mode,
		SyncImmediately:        o.SyncImmediately,
	}, nil
}

// Build constructs the owner over st.
func (o *Owner) Build(st kv.Store, tune func(*binding.Config)) (*binding.Owner, error) {
	cfg, err := o.BindingConfig(st)
	if err != nil {
		return nil, err
	}
	if tune != nil {
		tune(&cfg)
	}
	regs, err := o.Registrations()
	if err != nil {
		return nil, err
	}
	return binding.New(cfg, regs...)
}

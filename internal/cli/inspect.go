package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/binding"
	"github.com/roach88/fieldsync/internal/config"
	"github.com/roach88/fieldsync/internal/value"
)

// FieldReport describes one field of an inspected owner.
type FieldReport struct {
	Name      string `json:"name"`
	Key       string `json:"key"`
	Domain    string `json:"domain"`
	Strategy  string `json:"strategy"`
	Optional  bool   `json:"optional,omitempty"`
	Persisted bool   `json:"persisted"`
	Value     any    `json:"value,omitempty"`
	Default   any    `json:"default,omitempty"`
}

// OwnerReport is the result of inspect.
type OwnerReport struct {
	Store  string        `json:"store"`
	Prefix string        `json:"prefix"`
	Mode   string        `json:"mode"`
	Fields []FieldReport `json:"fields"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <owner.yaml>",
		Short: "Show the fields of an owner description and their values",
		Long: `Bind the fields of an owner description and print each field's
storage key, effective value, default and whether the key is present.

The store named in the file is used unless --store is given.

Example:
  fieldsync inspect ./settings.owner.yaml
  fieldsync inspect ./settings.owner.yaml --store badger:/var/lib/app`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args[0], cmd)
		},
	}
}

func runInspect(opts *RootOptions, path string, cmd *cobra.Command) error {
	desc, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load owner description", err)
	}

	storeOpts := *opts
	if desc.Store != "" && !cmd.Flags().Changed("store") {
		storeOpts.Store = desc.Store
	}
	st, closeFn, err := openStore(cmd, &storeOpts, false)
	if err != nil {
		return err
	}
	defer closeFn()

	logger := opts.Logger(cmd.ErrOrStderr())
	owner, err := desc.Build(st, func(c *binding.Config) {
		c.Logger = logger
		// inspect only reads; no relay is needed
		c.DisableExternalChanges = true
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to bind fields", err)
	}
	defer owner.Close()

	report := OwnerReport{
		Store:  storeOpts.Store,
		Prefix: owner.Prefix(),
		Mode:   owner.Mode().String(),
		Fields: make([]FieldReport, 0, len(owner.Fields())),
	}

	var text strings.Builder
	fmt.Fprintf(&text, "store %s, prefix %q, mode %s\n", report.Store, report.Prefix, report.Mode)
	for _, name := range owner.Fields() {
		h, _ := owner.Field(name)
		fr := FieldReport{
			Name:      h.Name(),
			Key:       h.Key(),
			Domain:    h.Domain().String(),
			Strategy:  h.Strategy().String(),
			Optional:  h.Optional(),
			Persisted: h.IsPersisted(),
			Value:     plainOrNil(h.Value()),
			Default:   plainOrNil(h.DefaultValue()),
		}
		report.Fields = append(report.Fields, fr)

		marker := " "
		if fr.Persisted {
			marker = "*"
		}
		fmt.Fprintf(&text, "%s %-20s %-24s %s (default %s)\n",
			marker, fr.Name, fr.Key, value.Format(h.Value()), value.Format(h.DefaultValue()))
	}

	return opts.formatter(cmd).Success(report, strings.TrimRight(text.String(), "\n"))
}

func plainOrNil(v value.Value) any {
	if v == nil {
		return nil
	}
	return value.ToPlain(v)
}

package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/value"
)

// KeyValue is the JSON shape of one stored entry.
type KeyValue struct {
	Key   string `json:"key"`
	Kind  string `json:"kind,omitempty"`
	Value any    `json:"value,omitempty"`
}

func newKeyValue(key string, v value.Value) KeyValue {
	kvp := KeyValue{Key: key}
	if v != nil {
		kvp.Kind = v.Kind().String()
		kvp.Value = value.ToPlain(v)
	}
	return kvp
}

// NewGetCommand creates the get command.
func NewGetCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Long: `Print the value stored under a key.

Exit codes:
  0 - key found
  1 - key absent
  2 - store error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore(cmd, opts, false)
			if err != nil {
				return err
			}
			defer closeFn()

			key := args[0]
			v, ok, err := st.Get(commandContext(cmd), key)
			if err != nil {
				return WrapExitError(ExitCommandError, "read failed", err)
			}
			if !ok {
				return NewExitError(ExitFailure, fmt.Sprintf("key %q not found", key))
			}
			return opts.formatter(cmd).Success(newKeyValue(key, v), value.Format(v))
		},
	}
}

// SetOptions holds flags for the set command.
type SetOptions struct {
	*RootOptions
	Raw bool // store the literal as a string
}

// NewSetCommand creates the set command.
func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Long: `Store a value under a key.

The value is read as a JSON literal (42, 1.5, true, "quoted", [1,2],
{"a":1}); anything else is stored as a string. --raw always stores a
string.

Examples:
  fieldsync set app_count 3
  fieldsync set app_theme dark
  fieldsync set app_version --raw 2.0`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := value.Parse(args[1])
			if opts.Raw {
				v = value.String(args[1])
			}
			return writeKey(cmd, opts.RootOptions, args[0], v)
		},
	}

	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "store the value as a string")
	return cmd
}

// NewRemoveCommand creates the rm command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "rm <key>",
		Short:         "Remove a key",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeKey(cmd, opts, args[0], nil)
		},
	}
}

// writeKey sets key to v, or removes it when v is nil, then flushes stores
// that synchronize.
func writeKey(cmd *cobra.Command, opts *RootOptions, key string, v value.Value) error {
	st, closeFn, err := openStore(cmd, opts, false)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx := commandContext(cmd)
	if v == nil {
		err = st.Remove(ctx, key)
	} else {
		err = st.Set(ctx, key, v)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "write failed", err)
	}

	f := opts.formatter(cmd)
	if s, ok := st.(kv.Synchronizer); ok && !s.Synchronize(ctx) {
		f.VerboseLog("synchronize did not reach the store")
	}

	if v == nil {
		return f.Success(KeyValue{Key: key}, fmt.Sprintf("removed %s", key))
	}
	return f.Success(newKeyValue(key, v), fmt.Sprintf("%s = %s", key, value.Format(v)))
}

// ListOptions holds flags for the ls command.
type ListOptions struct {
	*RootOptions
	Prefix string
}

// NewListCommand creates the ls command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "ls",
		Short:         "List stored keys and values",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore(cmd, opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := listEntries(cmd, st, opts.Prefix)
			if err != nil {
				return err
			}

			out := make([]KeyValue, 0, len(entries))
			var text strings.Builder
			for i, e := range entries {
				out = append(out, newKeyValue(e.key, e.value))
				if i > 0 {
					text.WriteByte('\n')
				}
				fmt.Fprintf(&text, "%s = %s", e.key, value.Format(e.value))
			}
			if len(entries) == 0 {
				text.WriteString("(no keys)")
			}
			return opts.formatter(cmd).Success(out, text.String())
		},
	}

	cmd.Flags().StringVar(&opts.Prefix, "prefix", "", "only keys with this prefix")
	return cmd
}

type entry struct {
	key   string
	value value.Value
}

// listEntries returns the present keys with prefix, sorted.
func listEntries(cmd *cobra.Command, st kv.Store, prefix string) ([]entry, error) {
	lister, ok := st.(kv.Lister)
	if !ok {
		return nil, NewExitError(ExitCommandError, "store cannot list keys")
	}
	ctx := commandContext(cmd)
	keys, err := lister.Keys(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "list failed", err)
	}
	sort.Strings(keys)

	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		v, ok, err := st.Get(ctx, k)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "read failed", err)
		}
		if ok {
			entries = append(entries, entry{key: k, value: v})
		}
	}
	return entries, nil
}

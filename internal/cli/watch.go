package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/value"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Count int // stop after this many changes; 0 runs until interrupted
}

// ChangeEvent is the JSON line printed for each change.
type ChangeEvent struct {
	Origin  string     `json:"origin,omitempty"`
	Entries []KeyValue `json:"entries"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch [key...]",
		Short: "Print changes as they happen",
		Long: `Print changes to the store as they happen.

Per-key stores (file, badger) watch the named keys, or every key present
when watching starts if none are named. The cloud store reports every
change regardless of the keys named.

With --format json each change is printed as one JSON object per line.

Examples:
  fieldsync watch --store file:settings.yaml
  fieldsync watch --store ws://localhost:7070/sync --count 1`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many changes")
	return cmd
}

func runWatch(opts *WatchOptions, keys []string, cmd *cobra.Command) error {
	st, closeFn, err := openStore(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer closeFn()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	src, err := kv.SourceFor(st)
	if err != nil {
		return WrapExitError(ExitCommandError, "store cannot be watched", err)
	}
	if len(keys) == 0 && src.Flavor() == kv.FlavorGranular {
		lister, ok := st.(kv.Lister)
		if !ok {
			return NewExitError(ExitCommandError, "name the keys to watch")
		}
		if keys, err = lister.Keys(ctx); err != nil {
			return WrapExitError(ExitCommandError, "list failed", err)
		}
		if len(keys) == 0 {
			return NewExitError(ExitCommandError, "store is empty; name the keys to watch")
		}
	}

	changes := make(chan kv.Change, 64)
	stop, err := src.Subscribe(keys, func(c kv.Change) {
		select {
		case changes <- c:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "subscribe failed", err)
	}
	defer stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	f := opts.formatter(cmd)
	f.VerboseLog("watching %d key(s) on %s (%s)", len(keys), opts.Store, src.Flavor())

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sigChan:
			return nil
		case c := <-changes:
			if err := printChange(cmd, opts.RootOptions, st, c); err != nil {
				return err
			}
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				return nil
			}
		}
	}
}

func printChange(cmd *cobra.Command, opts *RootOptions, st kv.Store, c kv.Change) error {
	ctx := commandContext(cmd)
	ev := ChangeEvent{Origin: c.Origin, Entries: make([]KeyValue, 0, len(c.Keys))}
	parts := make([]string, 0, len(c.Keys))
	for _, k := range c.Keys {
		v, _, err := st.Get(ctx, k)
		if err != nil {
			return WrapExitError(ExitCommandError, "read failed", err)
		}
		ev.Entries = append(ev.Entries, newKeyValue(k, v))
		parts = append(parts, fmt.Sprintf("%s = %s", k, value.Format(v)))
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		return json.NewEncoder(w).Encode(ev)
	}
	origin := c.Origin
	if origin == "" {
		origin = "external"
	}
	_, err := fmt.Fprintf(w, "%s (%s)\n", strings.Join(parts, ", "), origin)
	return err
}

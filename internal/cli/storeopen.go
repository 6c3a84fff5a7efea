package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/cloud"
	"github.com/roach88/fieldsync/internal/kv"
	"github.com/roach88/fieldsync/internal/kv/badgerkv"
	"github.com/roach88/fieldsync/internal/kv/filekv"
)

// StoreOptions tunes OpenStore.
type StoreOptions struct {
	Logger *slog.Logger

	// Watch makes a file store reload on external edits.
	Watch bool

	// Quiet silences badger's own log lines.
	Quiet bool
}

// OpenStore opens the store named by dsn. The returned func releases it.
//
//	memory:          a fresh in-process store
//	file:PATH        filekv YAML file
//	badger:DIR       badgerkv database
//	ws://... wss://  cloud client
func OpenStore(ctx context.Context, dsn string, opts StoreOptions) (kv.Store, func() error, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	noop := func() error { return nil }

	switch {
	case dsn == "memory:" || dsn == "memory":
		return kv.NewMemory(), noop, nil

	case strings.HasPrefix(dsn, "file:"):
		path := strings.TrimPrefix(dsn, "file:")
		st, err := filekv.Open(path, filekv.Options{Watch: opts.Watch, Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	case strings.HasPrefix(dsn, "badger:"):
		cfg := badgerkv.DefaultConfig(strings.TrimPrefix(dsn, "badger:"))
		if !opts.Quiet {
			cfg.Logger = logger
		}
		st, err := badgerkv.Open(cfg)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	case strings.HasPrefix(dsn, "ws://"), strings.HasPrefix(dsn, "wss://"):
		c, err := cloud.Dial(ctx, dsn, cloud.ClientOptions{Logger: logger})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store %q (want memory:, file:PATH, badger:DIR or ws://HOST/PATH)", dsn)
	}
}

// openStore opens the --store of opts for a command, mapping failures to
// ExitCommandError.
func openStore(cmd *cobra.Command, opts *RootOptions, watch bool) (kv.Store, func() error, error) {
	logger := opts.Logger(cmd.ErrOrStderr())
	st, closeFn, err := OpenStore(commandContext(cmd), opts.Store, StoreOptions{
		Logger: logger,
		Watch:  watch,
		Quiet:  !opts.Verbose,
	})
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, closeFn, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/fieldsync/internal/cloud"
	"github.com/roach88/fieldsync/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	Database string
	Path     string

	// ready is called with the bound address once the listener is up.
	ready func(addr string)
}

const shutdownTimeout = 5 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cloud sync server",
		Long: `Run the cloud sync server.

Entries are persisted in a SQLite database (created if missing). Clients
dial ws://ADDR/PATH; Prometheus metrics are served on /metrics.

Example:
  fieldsync serve --db ./cloud.db --addr :7070
  fieldsync get app_theme --store ws://localhost:7070/sync`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":7070", "listen address")
	cmd.Flags().StringVar(&opts.Database, "db", "fieldsync.db", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Path, "path", "/sync", "websocket endpoint path")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := opts.Logger(cmd.ErrOrStderr())

	logger.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := cloud.NewServer(ctx, st, cloud.ServerOptions{
		Logger:  logger,
		Metrics: cloud.NewServerMetrics(reg),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start server", err)
	}
	defer srv.Close()

	mux := http.NewServeMux()
	mux.Handle(opts.Path, srv)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(ln) }()

	addr := ln.Addr().String()
	logger.Info("server listening", "addr", addr, "path", opts.Path, "version", srv.Version())
	fmt.Fprintf(cmd.OutOrStdout(), "Serving ws://%s%s\n", addr, opts.Path)
	if opts.ready != nil {
		opts.ready(addr)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Close the hub first: hijacked websocket connections are not tracked by
	// http.Server.Shutdown.
	srv.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/audittrail/internal/httpapi"
	"github.com/roach88/audittrail/internal/telemetry"
)

// Version is reported in traces. It is set at build time.
var Version = "dev"

// ShutdownTimeout bounds how long serve waits for in-flight requests and
// background tasks after a stop signal.
const ShutdownTimeout = 30 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		Long: `Serve the HTTP API, flush buffered entries in the background and run
scheduled archival jobs. On SIGINT or SIGTERM the server stops accepting
requests, flushes what is buffered and waits for running jobs.

Example:
  audittrail serve
  audittrail serve --addr 127.0.0.1:9000 --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default AUDITTRAIL_HTTP_ADDR)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	a, err := opts.openApp(cmd, true)
	if err != nil {
		return err
	}
	logger := a.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, a.cfg.OTelEndpoint, Version)
	if err != nil {
		closeApp(ctx, a)
		return WrapExitError(ExitCommandError, "failed to set up tracing", err)
	}

	addr := a.cfg.HTTPAddr
	if opts.Addr != "" {
		addr = opts.Addr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		closeApp(ctx, a)
		return WrapExitError(ExitFailure, "failed to listen", err)
	}

	api := httpapi.New(a.engine, httpapi.Options{
		JWTSecret:        []byte(a.cfg.JWTSecret),
		RateLimitPerHour: a.cfg.RateLimitPerHour,
		ArchiveDays:      a.cfg.ArchiveDays,
		Logger:           logger,
		Metrics:          a.metrics,
		Now:              opts.Now,
	})
	srv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.engine.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	logger.Info("audittrail serving",
		"addr", ln.Addr().String(),
		"store", a.cfg.StoreDriver,
		"auth", a.cfg.JWTSecret != "",
		"rate_limit_per_hour", a.cfg.RateLimitPerHour)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())

	runErr := g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := a.Close(sctx); err != nil {
		logger.Error("error closing", "error", err)
	}
	if err := shutdownTracing(sctx); err != nil {
		logger.Error("error flushing traces", "error", err)
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "server error", runErr)
	}
	logger.Info("stopped gracefully")
	return nil
}

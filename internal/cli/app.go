package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/audittrail/internal/batch"
	"github.com/roach88/audittrail/internal/config"
	"github.com/roach88/audittrail/internal/engine"
	"github.com/roach88/audittrail/internal/logentry"
	"github.com/roach88/audittrail/internal/signer"
	"github.com/roach88/audittrail/internal/store"
	"github.com/roach88/audittrail/internal/store/mongo"
	"github.com/roach88/audittrail/internal/telemetry"
)

// app is the wired service shared by commands that touch the store.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	backend    store.Backend
	signer     *signer.Signer
	engine     *engine.Engine
	metrics    *telemetry.Metrics
	deadLetter *batch.DeadLetterFile
}

// openApp loads config, opens the configured store and builds the engine.
// withRuntime registers Go runtime collectors, which only serve needs.
func (o *RootOptions) openApp(cmd *cobra.Command, withRuntime bool) (*app, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger := o.setupLogging(cfg, cmd.ErrOrStderr())

	backend, err := openBackend(cmd.Context(), cfg)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open store", err)
	}

	ids := o.IDs
	if ids == nil {
		ids = logentry.UUIDv7Generator{}
	}
	sig, err := signer.New([]byte(cfg.SigningKey), ids)
	if err != nil {
		_ = backend.Close()
		return nil, WrapExitError(ExitCommandError, "invalid signing key", err)
	}

	metrics := telemetry.NewMetrics(withRuntime)
	engineOpts := []engine.Option{
		engine.WithBufferCapacity(cfg.BufferCapacity),
		engine.WithFlushInterval(cfg.FlushInterval),
		engine.WithFlushRetry(cfg.FlushRetry()),
		engine.WithArchiveRetry(cfg.ArchiveRetry()),
		engine.WithWorkers(cfg.TaskWorkers),
		engine.WithListLimits(cfg.ListLimit, cfg.ListMaxLimit),
		engine.WithLogger(logger),
		engine.WithMetrics(metrics),
	}
	if o.Now != nil {
		engineOpts = append(engineOpts, engine.WithClock(o.Now))
	}

	a := &app{cfg: cfg, logger: logger, backend: backend, signer: sig, metrics: metrics}
	if cfg.DeadLetterPath != "" {
		dl, err := batch.NewDeadLetterFile(cfg.DeadLetterPath)
		if err != nil {
			_ = backend.Close()
			return nil, WrapExitError(ExitCommandError, "invalid dead-letter path", err)
		}
		a.deadLetter = dl
		engineOpts = append(engineOpts, engine.WithDeadLetter(dl))
	}
	a.engine = engine.New(backend, sig, engineOpts...)

	logger.Debug("store ready", "driver", cfg.StoreDriver)
	return a, nil
}

// Close stops background tasks and releases the store.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.engine.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tasks: %w", err))
	}
	if a.deadLetter != nil {
		if err := a.deadLetter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dead-letter file: %w", err))
		}
	}
	if err := a.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// closeApp closes a and logs rather than returns the error, for defers.
func closeApp(ctx context.Context, a *app) {
	if err := a.Close(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error("error closing", "error", err)
	}
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		st, err := mongo.Open(ctx, mongo.Options{
			URI:      cfg.MongoURI,
			Database: cfg.MongoDatabase,
			Timeout:  cfg.StoreTimeout,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverSQLite, "":
		st, err := store.Open(ctx, cfg.SQLitePath, store.Options{Timeout: cfg.StoreTimeout})
		if err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// engineFailure maps an engine error to an exit error. Rejected input is
// a command error; anything else, such as an unavailable store, is a
// failure.
func engineFailure(msg string, err error) error {
	if engine.IsValidation(err) {
		return WrapExitError(ExitCommandError, msg, err)
	}
	return WrapExitError(ExitFailure, msg, err)
}

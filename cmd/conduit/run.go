package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	audithook "github.com/xraph/conduit/audit_hook"
	"github.com/xraph/conduit/config"
	"github.com/xraph/conduit/engine"
	"github.com/xraph/conduit/httpapi"
	"github.com/xraph/conduit/logscope"
	"github.com/xraph/conduit/ping"
)

type runOptions struct {
	ConfigPath string
	HTTP       bool
	Out        io.Writer
}

// run blocks until ctx ends or the HTTP server fails.
func run(ctx context.Context, opts runOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if cfg.App.Version == "" || cfg.App.Version == "dev" {
		cfg.App.Version = version
	}

	logger := logscope.Setup(cfg.Log.Level, cfg.Log.Format, opts.Out)

	eng, err := engine.New(ctx, cfg.Core(),
		engine.WithLogger(logger),
		engine.WithExtension(audithook.New(audithook.LogRecorder(logger), audithook.WithLogger(logger))),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	if err := ping.Register(eng); err != nil {
		_ = eng.Stop(ctx)
		return fmt.Errorf("register ping: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop(ctx)
		return err
	}

	serveErr := make(chan error, 1)
	var srv *http.Server
	if opts.HTTP {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.App.Port),
			Handler:           httpapi.New(eng, httpapi.WithVersion(cfg.App.Version)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http server listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}
	logger.Info("conduit started",
		slog.String("name", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.Bool("http", opts.HTTP),
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		logger.Error("http server failed", slog.String("error", runErr.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Tasks.ShutdownTimeout)
	defer cancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", slog.String("error", err.Error()))
		}
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	logger.Info("conduit stopped")
	return runErr
}

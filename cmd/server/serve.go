package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-dazzeo/realm/internal/api"
	"github.com/p-dazzeo/realm/internal/config"
	"github.com/p-dazzeo/realm/internal/upload"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
	// baseTimeout covers extraction and persistence on top of transfer time.
	baseTimeout = 30 * time.Second
	// minUploadRate is the slowest client upload, in bytes per second, that
	// still fits a full-size project inside the read deadline.
	minUploadRate int64 = 1 << 20
)

// serverTimeouts sizes the deadlines for single-request uploads. The write
// deadline starts once the headers are read, so it spans the body read, one
// parser call and persistence.
func serverTimeouts(cfg *config.Config) (read, write time.Duration) {
	read = baseTimeout
	if cfg.MaxProjectSize > 0 {
		read += time.Duration(cfg.MaxProjectSize/minUploadRate) * time.Second
	}
	write = read + baseTimeout
	if cfg.ParserEnabled {
		write += cfg.ParserTimeout
	}
	return read, write
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, cmdCtx *commandContext) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cmdCtx.withService(ctx, func(cfg *config.Config, svc *upload.Service, logger *slog.Logger) error {
		go svc.Store().RunSweeper(ctx, cfg.CacheTTL, logger)

		handler := api.NewHandler(cfg, svc, logger)
		readTimeout, writeTimeout := serverTimeouts(cfg)
		server := &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler.Router(),
			ReadHeaderTimeout: readHeaderTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("server.listening", "addr", server.Addr, "parser_enabled", cfg.ParserEnabled)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err, ok := <-errCh:
			if ok {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		logger.Info("server.shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server.shutdown_failed", "error", err)
			return err
		}
		return nil
	})
}

// Package main is the entry point for the coordinator binary: the HTTP
// boundary of the job pipeline (spec §4.E).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lakeflow/control-plane/internal/bus"
	"github.com/lakeflow/control-plane/internal/catalog"
	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/coordinator"
	"github.com/lakeflow/control-plane/internal/jobstore"
	"github.com/lakeflow/control-plane/internal/objectstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	store := objectstore.New(cfg)

	jobs := jobstore.New(time.Duration(cfg.JobTTLSeconds) * time.Second)
	defer jobs.Close()

	busAdapter, err := bus.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("message bus: %w", err)
	}
	defer busAdapter.Close() //nolint:errcheck

	cat, err := catalog.Open(cfg)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer cat.Close() //nolint:errcheck

	server := coordinator.New(cfg, store, jobs, busAdapter, cat, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down coordinator")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("coordinator listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

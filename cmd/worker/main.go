// Package main is the entry point for the worker binary: the execution
// tier of the job pipeline (spec §4.F-I).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/lakeflow/control-plane/internal/bus"
	"github.com/lakeflow/control-plane/internal/catalog"
	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/jobstore"
	"github.com/lakeflow/control-plane/internal/objectstore"
	"github.com/lakeflow/control-plane/internal/worker"
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

	dispatcher := worker.New(busAdapter, jobs, store, cat, cfg, logger)

	consumerTag := "worker-" + uuid.NewString()
	logger.Info("worker dispatcher starting", "consumer_tag", consumerTag)

	if err := dispatcher.Run(ctx, consumerTag); err != nil && ctx.Err() == nil {
		return fmt.Errorf("dispatcher: %w", err)
	}
	logger.Info("worker dispatcher stopped")
	return nil
}

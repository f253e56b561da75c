// Package worker implements the worker execution tier (spec §4.F-I): a
// dispatcher that consumes bus deliveries and routes them to the ingest,
// query, and schema executors, each of which writes a terminal job state.
//
// Grounded on the teacher's pipeline.executeRun/executeJob shape (level
// execution with panic recovery and status finalization in
// service/pipeline/executor.go), adapted from multi-job DAG runs to
// single-delivery processing.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakeflow/control-plane/internal/bus"
	"github.com/lakeflow/control-plane/internal/catalog"
	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/domain"
	"github.com/lakeflow/control-plane/internal/jobstore"
	"github.com/lakeflow/control-plane/internal/objectstore"
)

// Dispatcher consumes messages from the bus and routes them to executors
// by job kind.
type Dispatcher struct {
	bus     *bus.Adapter
	jobs    *jobstore.Store
	store   *objectstore.Gateway
	catalog *catalog.Catalog
	cfg     *config.Config
	logger  *slog.Logger
}

// New constructs a Dispatcher from its external collaborators.
func New(b *bus.Adapter, jobs *jobstore.Store, store *objectstore.Gateway, cat *catalog.Catalog, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{bus: b, jobs: jobs, store: store, catalog: cat, cfg: cfg, logger: logger}
}

// Run consumes deliveries until ctx is canceled, blocking the caller.
func (d *Dispatcher) Run(ctx context.Context, consumerTag string) error {
	deliveries, err := d.bus.Consume(ctx, consumerTag)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return nil
			}
			d.handle(ctx, delivery)
		}
	}
}

// handle processes one delivery, recovering from panics in an executor the
// way the teacher's executeRun recovers from panics in a pipeline job, and
// deciding ack/nack from whether the failure is retryable
// (domain.Retryable).
func (d *Dispatcher) handle(ctx context.Context, delivery bus.Delivery) {
	logger := d.logger.With("job_id", delivery.Message.ID, "kind", delivery.Message.Kind)

	err := d.process(ctx, delivery, logger)
	if err == nil {
		if ackErr := delivery.Ack(); ackErr != nil {
			logger.Error("ack failed", "error", ackErr)
		}
		return
	}

	if domain.Retryable(err) {
		logger.Warn("retryable failure, nacking with requeue", "error", err)
		if nackErr := delivery.Nack(true); nackErr != nil {
			logger.Error("nack failed", "error", nackErr)
		}
		return
	}

	logger.Warn("deterministic failure, not requeuing", "error", err)
	if nackErr := delivery.Nack(false); nackErr != nil {
		logger.Error("nack failed", "error", nackErr)
	}
}

func (d *Dispatcher) process(ctx context.Context, delivery bus.Delivery, logger *slog.Logger) (procErr error) {
	id := delivery.Message.ID

	defer func() {
		if r := recover(); r != nil {
			procErr = domain.ErrExecution(fmt.Errorf("%v", r), "panic processing job %s: %v", id, r)
			d.markFailed(ctx, id, procErr.Error(), logger)
		}
	}()

	if _, err := d.jobs.IncrementAttempt(ctx, id); err != nil {
		logger.Warn("could not record attempt, job may have expired", "error", err)
	}

	start := time.Now()
	var execErr error

	switch domain.JobKind(delivery.Message.Kind) {
	case domain.JobKindUpload:
		var payload domain.UploadPayload
		if err := json.Unmarshal(delivery.Raw, &payload); err != nil {
			return d.failParse(ctx, id, err, logger)
		}
		execErr = d.runIngest(ctx, id, payload, logger)
	case domain.JobKindQuery:
		var payload domain.QueryPayload
		if err := json.Unmarshal(delivery.Raw, &payload); err != nil {
			return d.failParse(ctx, id, err, logger)
		}
		execErr = d.runQuery(ctx, id, payload, logger)
	case domain.JobKindSchema:
		var payload domain.SchemaPayload
		if err := json.Unmarshal(delivery.Raw, &payload); err != nil {
			return d.failParse(ctx, id, err, logger)
		}
		execErr = d.runSchema(ctx, id, payload, logger)
	default:
		return d.failParse(ctx, id, fmt.Errorf("unknown job kind %q", delivery.Message.Kind), logger)
	}

	durationMS := time.Since(start).Milliseconds()
	if execErr != nil {
		if domain.Retryable(execErr) {
			logger.Warn("retryable failure, leaving job processing for requeue", "error", execErr)
			return execErr
		}
		d.markFailedWithDuration(ctx, id, execErr.Error(), durationMS, logger)
		return nil // deterministic failure: terminal state written, ack, do not requeue
	}
	return nil
}

// failParse marks the job failed for a malformed message body — always a
// deterministic, non-retried failure per spec §7.
func (d *Dispatcher) failParse(ctx context.Context, id string, err error, logger *slog.Logger) error {
	d.markFailed(ctx, id, fmt.Sprintf("invalid_input: malformed message: %v", err), logger)
	return nil
}

func (d *Dispatcher) markFailed(ctx context.Context, id, message string, logger *slog.Logger) {
	if _, err := d.jobs.Update(ctx, id, jobstore.StatusUpdate{Status: domain.JobStatusFailed, Message: message}); err != nil {
		logger.Warn("failed to write terminal failed state, job may have expired", "error", err)
	}
}

func (d *Dispatcher) markFailedWithDuration(ctx context.Context, id, message string, durationMS int64, logger *slog.Logger) {
	if _, err := d.jobs.Update(ctx, id, jobstore.StatusUpdate{Status: domain.JobStatusFailed, Message: message, DurationMS: durationMS}); err != nil {
		logger.Warn("failed to write terminal failed state, job may have expired", "error", err)
	}
	logger.Info("job failed", "duration_ms", durationMS)
}

func (d *Dispatcher) markProcessing(ctx context.Context, id, message string, logger *slog.Logger) {
	if _, err := d.jobs.Update(ctx, id, jobstore.StatusUpdate{Status: domain.JobStatusProcessing, Message: message}); err != nil {
		logger.Warn("failed to write processing state, job may have expired", "error", err)
	}
}

func (d *Dispatcher) markCompletedWithDuration(ctx context.Context, id, message string, result interface{}, durationMS int64, logger *slog.Logger) {
	if _, err := d.jobs.Update(ctx, id, jobstore.StatusUpdate{Status: domain.JobStatusCompleted, Message: message, Result: result, DurationMS: durationMS}); err != nil {
		logger.Warn("failed to write completed state, job may have expired", "error", err)
	}
}

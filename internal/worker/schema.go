package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakeflow/control-plane/internal/domain"
)

// runSchema implements the schema executor (spec §4.I): load the table's
// declared schema without scanning data, and write it as the job result:
// the column list and its count. The result has no separate preview, file
// size or result path field. Transport-class (domain.Retryable) errors are
// returned for requeue; any other error marks the job failed.
func (d *Dispatcher) runSchema(ctx context.Context, id string, payload domain.SchemaPayload, logger *slog.Logger) error {
	start := time.Now()
	d.markProcessing(ctx, id, "Started retrieving schema", logger)

	tableID := domain.TableID{Project: payload.Project, Table: payload.Table}

	columns, err := d.catalog.Schema(ctx, tableID)
	if err != nil {
		if domain.Retryable(err) {
			return err
		}
		d.markFailedWithDuration(ctx, id, fmt.Sprintf("Failed to retrieve schema: %v", err), time.Since(start).Milliseconds(), logger)
		return nil // deterministic: table_not_found is not retried
	}

	result := domain.SchemaResult{Columns: columns, Count: len(columns)}

	d.markCompletedWithDuration(ctx, id,
		fmt.Sprintf("Schema retrieved: %d columns from table %s", len(columns), tableID),
		result, time.Since(start).Milliseconds(), logger,
	)
	return nil
}

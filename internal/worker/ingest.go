package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lakeflow/control-plane/internal/csvreader"
	"github.com/lakeflow/control-plane/internal/domain"
)

// runIngest implements the upload executor (spec §4.G): download the
// staged blob, parse it, append it to the catalog, write a terminal
// state, and delete the transient file. Grounded on the teacher's
// ingestion.CommitIngestion download->parse->commit->audit shape.
func (d *Dispatcher) runIngest(ctx context.Context, id string, payload domain.UploadPayload, logger *slog.Logger) error {
	start := time.Now()
	d.markProcessing(ctx, id, "Started processing upload", logger)

	body, err := d.store.Get(ctx, d.cfg.UploadsBucket, payload.BlobPath)
	if err != nil {
		return domain.ErrStorage(err, "download staged blob %s: %v", payload.BlobPath, err)
	}
	defer body.Close() //nolint:errcheck

	rel, err := csvreader.Read(body)
	if err != nil {
		return err // already domain.ValidationError, deterministic
	}

	table := payload.Table
	if table == "" {
		table = "default_table"
	}
	tableID := domain.TableID{Project: payload.Project, Table: table}

	rowCount, err := d.catalog.Append(ctx, tableID, rel)
	if err != nil {
		return err // domain.SchemaMismatchError or domain.CatalogError, classified by the catalog
	}

	d.markCompletedWithDuration(ctx, id,
		fmt.Sprintf("Successfully processed %d rows into table %s", rowCount, tableID),
		domain.UploadResult{RowCount: rowCount},
		time.Since(start).Milliseconds(),
		logger,
	)

	if err := d.store.Delete(ctx, d.cfg.UploadsBucket, payload.BlobPath); err != nil {
		logger.Warn("failed to delete transient upload blob", "blob_path", payload.BlobPath, "error", err)
	}

	logger.Info("upload ingested", "table", tableID.String(), "row_count", rowCount)
	return nil
}

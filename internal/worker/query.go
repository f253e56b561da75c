package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lakeflow/control-plane/internal/domain"
	"github.com/lakeflow/control-plane/internal/queryplan"
)

// runQuery implements the query executor (spec §4.H): parse the persisted
// spec, resolve the source table, build the plan, run it through RunQuery
// for the row count and preview, run it a second time through
// ExportParquet to write the result file, upload that file to the
// warehouse bucket, and write a terminal state. The plan is executed twice
// against the catalog. Grounded on the teacher's query.query_async.go
// parse->execute->materialize->persist-terminal shape.
func (d *Dispatcher) runQuery(ctx context.Context, id string, payload domain.QueryPayload, logger *slog.Logger) error {
	start := time.Now()
	d.markProcessing(ctx, id, "Started processing query", logger)

	var spec domain.QuerySpec
	if err := json.Unmarshal([]byte(payload.QuerySpecJSON), &spec); err != nil {
		return domain.ErrValidation("malformed persisted query spec: %v", err)
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	project, table, err := splitSource(spec.Source)
	if err != nil {
		return err
	}
	tableID := domain.TableID{Project: project, Table: table}

	exists, err := d.catalog.TableExists(ctx, tableID)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrNotFound("table %s not found", tableID)
	}

	qualified := fmt.Sprintf("%q.%q", project, table)
	plan, err := queryplan.Build(spec, qualified, logger)
	if err != nil {
		return err
	}

	queryCtx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout)
	defer cancel()

	rel, err := d.catalog.RunQuery(queryCtx, plan.SQL, plan.Args...)
	if err != nil {
		if queryCtx.Err() != nil {
			return domain.ErrTimeout("query timed out after %s", d.cfg.QueryTimeout)
		}
		return err
	}
	rowCount := int64(rel.RowCount())

	tmpFile, err := os.CreateTemp("", "query-result-*.parquet")
	if err != nil {
		return domain.ErrExecution(err, "create temp file for result: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	defer os.Remove(tmpPath) //nolint:errcheck

	if err := d.catalog.ExportParquet(queryCtx, plan.SQL, tmpPath, plan.Args...); err != nil {
		return err
	}

	fileInfo, err := os.Stat(tmpPath)
	if err != nil {
		return domain.ErrExecution(err, "stat exported result: %v", err)
	}

	resultPath := buildResultPath(project)
	fileHandle, err := os.Open(tmpPath)
	if err != nil {
		return domain.ErrExecution(err, "reopen exported result: %v", err)
	}
	defer fileHandle.Close() //nolint:errcheck

	if err := d.store.Put(ctx, d.cfg.WarehouseBucket, resultPath, fileHandle, fileInfo.Size(), "application/octet-stream"); err != nil {
		return domain.ErrStorage(err, "upload query result: %v", err)
	}

	preview := relationToPreview(rel, d.cfg.PreviewMaxRows)

	result := domain.QueryResult{
		ResultPath:    resultPath,
		RowCount:      rowCount,
		FileSizeBytes: fileInfo.Size(),
		Preview:       preview,
	}

	d.markCompletedWithDuration(ctx, id,
		fmt.Sprintf("Query completed: %d rows, result stored at %s", rowCount, resultPath),
		result, time.Since(start).Milliseconds(), logger,
	)
	return nil
}

func splitSource(source string) (project, table string, err error) {
	parts := strings.SplitN(source, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", domain.ErrValidation("source %q is not a valid project.table reference", source)
	}
	return parts[0], parts[1], nil
}

// buildResultPath follows spec §6's result path layout:
// warehouse/wh/<project>/queries/query_<yyyyMMdd_HHmmss>/result.parquet.
func buildResultPath(project string) string {
	ts := time.Now().UTC().Format("20060102_150405")
	return fmt.Sprintf("wh/%s/queries/query_%s/result.parquet", project, ts)
}

func relationToPreview(rel domain.Relation, maxRows int) []map[string]interface{} {
	n := rel.RowCount()
	if n > maxRows {
		n = maxRows
	}
	preview := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		row := make(map[string]interface{}, len(rel.Columns))
		for c, col := range rel.Columns {
			row[col.Name] = rel.Rows[i][c]
		}
		preview[i] = row
	}
	return preview
}

// Package catalog implements the table catalog facade (spec §4.D): a
// transactional columnar engine fronted by a small create/append/scan/schema
// surface. It is grounded on the teacher's engine.SecureEngine (the same
// database/sql-over-DuckDB wiring, minus the RBAC/row-filter/column-mask
// layers the spec's Non-goals exclude) and on
// internal/engine/information_schema.go for schema introspection.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" database/sql driver

	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/domain"
)

// Catalog is the table catalog facade. It is constructed once at the
// composition root and shared across dispatcher executors.
type Catalog struct {
	db *sql.DB
}

// Open connects to the DuckDB file named by cfg.WarehousePath. ":memory:"
// is accepted for tests, matching the teacher's db/testhelper.go pattern of
// spinning up a real embedded engine rather than mocking the catalog.
func Open(cfg *config.Config) (*Catalog, error) {
	db, err := sql.Open("duckdb", cfg.WarehousePath)
	if err != nil {
		return nil, domain.ErrCatalog(err, "open duckdb at %s: %v", cfg.WarehousePath, err)
	}
	// Pool sizing mirrors the teacher's db/sqlite.go tuning (spec §5: pool
	// size 8 per worker).
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, domain.ErrCatalog(err, "ping duckdb: %v", err)
	}
	return &Catalog{db: db}, nil
}

// Close releases the underlying connection pool.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// CreateNamespaceIfAbsent ensures the project's DuckDB schema exists.
// Namespaces map one-to-one to DuckDB schemas, grounded on the teacher's
// CreateSchema flow in service/catalog/catalog.go (minus privilege checks).
func (c *Catalog) CreateNamespaceIfAbsent(ctx context.Context, project string) error {
	stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(project))
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return domain.ErrCatalog(err, "create namespace %s: %v", project, err)
	}
	return nil
}

// TableExists reports whether the given table is already present.
func (c *Catalog) TableExists(ctx context.Context, id domain.TableID) (bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT count(*) FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ?`, id.Project, id.Table)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, domain.ErrCatalog(err, "check table existence %s: %v", id, err)
	}
	return n > 0, nil
}

// Append writes rel into id inside one transaction. On first write it
// creates the table from rel's schema (CREATE TABLE with a column list);
// on subsequent writes it checks rel against the existing schema. In both
// cases the rows are then inserted one at a time through a prepared,
// parameterized INSERT INTO. A schema
// mismatch between rel and an existing table surfaces as
// domain.SchemaMismatchError (deterministic, not retried).
//
// Duplicate appends caused by at-least-once message redelivery are
// deliberately not deduplicated here; see spec §9 Open Question 4.
func (c *Catalog) Append(ctx context.Context, id domain.TableID, rel domain.Relation) (int64, error) {
	if err := c.CreateNamespaceIfAbsent(ctx, id.Project); err != nil {
		return 0, err
	}

	exists, err := c.TableExists(ctx, id)
	if err != nil {
		return 0, err
	}

	qualified := quoteIdent(id.Project) + "." + quoteIdent(id.Table)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.ErrCatalog(err, "begin append transaction: %v", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if !exists {
		if err := createTableFromRelation(ctx, tx, qualified, rel); err != nil {
			return 0, err
		}
	} else {
		existingCols, err := c.schemaTx(ctx, tx, id)
		if err != nil {
			return 0, err
		}
		if err := validateSchemaMatch(existingCols, rel.Columns); err != nil {
			return 0, err
		}
	}

	if rel.RowCount() > 0 {
		if err := insertRows(ctx, tx, qualified, rel); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.ErrCatalog(err, "commit append: %v", err)
	}
	return int64(rel.RowCount()), nil
}

// Schema returns the column definitions for id.
func (c *Catalog) Schema(ctx context.Context, id domain.TableID) ([]domain.ColumnSchema, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, id.Project, id.Table)
	if err != nil {
		return nil, domain.ErrCatalog(err, "read schema %s: %v", id, err)
	}
	defer rows.Close() //nolint:errcheck

	var cols []domain.ColumnSchema
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, domain.ErrCatalog(err, "scan schema row: %v", err)
		}
		cols = append(cols, domain.ColumnSchema{
			Name:     name,
			Type:     string(duckTypeToColumnType(dataType)),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if len(cols) == 0 {
		return nil, domain.ErrNotFound("table %s not found", id)
	}
	return cols, nil
}

func (c *Catalog) schemaTx(ctx context.Context, tx *sql.Tx, id domain.TableID) ([]domain.Column, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`, id.Project, id.Table)
	if err != nil {
		return nil, domain.ErrCatalog(err, "read schema %s: %v", id, err)
	}
	defer rows.Close() //nolint:errcheck

	var cols []domain.Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, domain.ErrCatalog(err, "scan schema row: %v", err)
		}
		cols = append(cols, domain.Column{
			Name:     name,
			Type:     duckTypeToColumnType(dataType),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	return cols, nil
}

// RunQuery executes a built SELECT statement against the catalog and
// materializes the result as a Relation (spec §4.H step 4's terminal
// step, issued against the same handle used for the catalog facade).
func (c *Catalog) RunQuery(ctx context.Context, query string, args ...interface{}) (domain.Relation, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.Relation{}, domain.ErrExecution(err, "execute query: %v", err)
	}
	defer rows.Close() //nolint:errcheck

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return domain.Relation{}, domain.ErrExecution(err, "read result columns: %v", err)
	}

	cols := make([]domain.Column, len(colTypes))
	for i, ct := range colTypes {
		nullable, _ := ct.Nullable()
		cols[i] = domain.Column{Name: ct.Name(), Type: duckTypeToColumnType(ct.DatabaseTypeName()), Nullable: nullable}
	}

	var resultRows [][]interface{}
	for rows.Next() {
		scanDest := make([]interface{}, len(cols))
		scanPtrs := make([]interface{}, len(cols))
		for i := range scanDest {
			scanPtrs[i] = &scanDest[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return domain.Relation{}, domain.ErrExecution(err, "scan result row: %v", err)
		}
		resultRows = append(resultRows, scanDest)
	}
	if err := rows.Err(); err != nil {
		return domain.Relation{}, domain.ErrExecution(err, "iterate result rows: %v", err)
	}

	return domain.Relation{Columns: cols, Rows: resultRows}, nil
}

// ExportParquet runs query and streams its result directly to disk as a
// Parquet file via DuckDB's native COPY ... TO ... (FORMAT PARQUET),
// avoiding a second columnar library for the one place a query result
// needs to be serialized to a blob (spec §4.H).
func (c *Catalog) ExportParquet(ctx context.Context, query, destPath string, args ...interface{}) error {
	copyStmt := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET)", query, escapeLiteral(destPath))
	if _, err := c.db.ExecContext(ctx, copyStmt, args...); err != nil {
		return domain.ErrExecution(err, "export query result to parquet: %v", err)
	}
	return nil
}

func createTableFromRelation(ctx context.Context, tx *sql.Tx, qualified string, rel domain.Relation) error {
	colDefs := make([]string, len(rel.Columns))
	for i, col := range rel.Columns {
		colDefs[i] = fmt.Sprintf("%s %s", quoteIdent(col.Name), columnTypeToDuckType(col.Type))
	}
	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", qualified, strings.Join(colDefs, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return domain.ErrCatalog(err, "create table %s: %v", qualified, err)
	}
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, qualified string, rel domain.Relation) error {
	placeholders := make([]string, len(rel.Columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	colNames := make([]string, len(rel.Columns))
	for i, col := range rel.Columns {
		colNames[i] = quoteIdent(col.Name)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qualified, strings.Join(colNames, ", "), strings.Join(placeholders, ", "))

	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return domain.ErrCatalog(err, "prepare insert into %s: %v", qualified, err)
	}
	defer prepared.Close() //nolint:errcheck

	for _, row := range rel.Rows {
		if _, err := prepared.ExecContext(ctx, row...); err != nil {
			return domain.ErrCatalog(err, "insert row into %s: %v", qualified, err)
		}
	}
	return nil
}

func validateSchemaMatch(existing []domain.Column, incoming []domain.Column) error {
	if len(existing) != len(incoming) {
		return domain.ErrSchemaMismatch("table has %d columns, append has %d", len(existing), len(incoming))
	}
	byName := make(map[string]domain.Column, len(existing))
	for _, c := range existing {
		byName[c.Name] = c
	}
	for _, c := range incoming {
		ec, ok := byName[c.Name]
		if !ok {
			return domain.ErrSchemaMismatch("append column %q not present in existing table", c.Name)
		}
		if ec.Type != c.Type {
			return domain.ErrSchemaMismatch("column %q type mismatch: table has %s, append has %s", c.Name, ec.Type, c.Type)
		}
	}
	return nil
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func columnTypeToDuckType(t domain.ColumnType) string {
	switch t {
	case domain.ColumnTypeInteger:
		return "BIGINT"
	case domain.ColumnTypeFloating:
		return "DOUBLE"
	case domain.ColumnTypeBoolean:
		return "BOOLEAN"
	case domain.ColumnTypeDate:
		return "DATE"
	default:
		return "VARCHAR"
	}
}

func duckTypeToColumnType(duckType string) domain.ColumnType {
	upper := strings.ToUpper(duckType)
	switch {
	case strings.Contains(upper, "INT"):
		return domain.ColumnTypeInteger
	case strings.Contains(upper, "DOUBLE"), strings.Contains(upper, "FLOAT"), strings.Contains(upper, "DECIMAL"), strings.Contains(upper, "NUMERIC"):
		return domain.ColumnTypeFloating
	case strings.Contains(upper, "BOOL"):
		return domain.ColumnTypeBoolean
	case strings.Contains(upper, "DATE"), strings.Contains(upper, "TIMESTAMP"):
		return domain.ColumnTypeDate
	default:
		return domain.ColumnTypeString
	}
}

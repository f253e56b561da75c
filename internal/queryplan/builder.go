// Package queryplan translates a domain.QuerySpec into SQL executed
// against the table catalog (spec §4.H step 4). The stages run in a fixed
// order — projection/aggregation, filters, group by, order by, limit/
// offset — matching the teacher's model.SelectModels string-DSL-to-filter
// translation in spirit: a small selector language translated into a
// concrete query, unknown pieces dropped rather than rejected.
package queryplan

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lakeflow/control-plane/internal/domain"
)

// Plan is a built SQL statement plus its parameter list, ready to run
// through database/sql.
type Plan struct {
	SQL  string
	Args []interface{}
}

// Build translates spec into a Plan selecting from the given fully
// qualified table name.
//
// Filters referencing an unknown operator are dropped with a warning
// logged, never failing the build — spec §9 requires filter translation
// to degrade gracefully rather than reject the whole query.
func Build(spec domain.QuerySpec, qualifiedTable string, logger *slog.Logger) (Plan, error) {
	if err := spec.Validate(); err != nil {
		return Plan{}, err
	}

	var b strings.Builder
	var args []interface{}

	b.WriteString("SELECT ")
	b.WriteString(buildSelectList(spec))
	b.WriteString(" FROM ")
	b.WriteString(qualifiedTable)

	whereClause, whereArgs := buildWhere(spec.Filters, logger)
	if whereClause != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereClause)
		args = append(args, whereArgs...)
	}

	if spec.HasAggregation() {
		if groupBy := buildGroupBy(spec); groupBy != "" {
			b.WriteString(" GROUP BY ")
			b.WriteString(groupBy)
		}
	}

	if orderBy := buildOrderBy(spec.OrderBy); orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}

	if spec.Limit != nil {
		b.WriteString(" LIMIT " + strconv.Itoa(*spec.Limit))
	}
	if spec.Offset != nil {
		b.WriteString(" OFFSET " + strconv.Itoa(*spec.Offset))
	}

	return Plan{SQL: b.String(), Args: args}, nil
}

func buildSelectList(spec domain.QuerySpec) string {
	if len(spec.Select) == 0 {
		return "*"
	}
	parts := make([]string, len(spec.Select))
	for i, entry := range spec.Select {
		col := "*"
		if entry.Column != "*" {
			col = quoteIdent(entry.Column)
		}
		if entry.Aggregation != nil && domain.ValidAggFunc(*entry.Aggregation) {
			col = fmt.Sprintf("%s(%s)", strings.ToUpper(*entry.Aggregation), col)
		}
		if entry.Column == "*" && entry.Aggregation == nil {
			parts[i] = col
			continue
		}
		parts[i] = col + " AS " + quoteIdent(entry.OutputName())
	}
	return strings.Join(parts, ", ")
}

func buildGroupBy(spec domain.QuerySpec) string {
	cols := spec.EffectiveGroupBy()
	if len(cols) == 0 {
		return ""
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

func buildOrderBy(entries []domain.OrderEntry) string {
	if len(entries) == 0 {
		return ""
	}
	parts := make([]string, len(entries))
	for i, e := range entries {
		dir := "ASC"
		if e.Normalized() == domain.SortDesc {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("%s %s", quoteIdent(e.Column), dir)
	}
	return strings.Join(parts, ", ")
}

// buildWhere translates filters into a parameterized SQL predicate.
// Filters with an unrecognized operator are skipped with a warning log;
// this never fails the overall query build.
func buildWhere(filters []domain.Filter, logger *slog.Logger) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	for _, f := range filters {
		if !domain.ValidFilterOp(f.Operator) {
			if logger != nil {
				logger.Warn("dropping filter with unknown operator", "column", f.Column, "operator", f.Operator)
			}
			continue
		}

		col := quoteIdent(f.Column)
		switch domain.FilterOp(f.Operator) {
		case domain.OpEq:
			clauses = append(clauses, col+" = ?")
			args = append(args, f.Value)
		case domain.OpNeq:
			clauses = append(clauses, col+" != ?")
			args = append(args, f.Value)
		case domain.OpLt:
			clauses = append(clauses, col+" < ?")
			args = append(args, f.Value)
		case domain.OpLte:
			clauses = append(clauses, col+" <= ?")
			args = append(args, f.Value)
		case domain.OpGt:
			clauses = append(clauses, col+" > ?")
			args = append(args, f.Value)
		case domain.OpGte:
			clauses = append(clauses, col+" >= ?")
			args = append(args, f.Value)
		case domain.OpLike:
			clauses = append(clauses, col+" LIKE ?")
			args = append(args, f.Value)
		case domain.OpIn:
			values, ok := f.Value.([]interface{})
			if !ok || len(values) == 0 {
				if logger != nil {
					logger.Warn("dropping 'in' filter with empty or invalid value list", "column", f.Column)
				}
				continue
			}
			placeholders := make([]string, len(values))
			for i, v := range values {
				placeholders[i] = "?"
				args = append(args, v)
			}
			clauses = append(clauses, col+" IN ("+strings.Join(placeholders, ", ")+")")
		case domain.OpBetween:
			clauses = append(clauses, col+" BETWEEN ? AND ?")
			args = append(args, f.Value, f.Value2)
		case domain.OpIsNull:
			clauses = append(clauses, col+" IS NULL")
		case domain.OpIsNotNull:
			clauses = append(clauses, col+" IS NOT NULL")
		}
	}

	return strings.Join(clauses, " AND "), args
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

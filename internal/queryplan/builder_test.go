package queryplan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lakeflow/control-plane/internal/domain"
)

func TestBuild_SelectStar(t *testing.T) {
	plan, err := Build(domain.QuerySpec{Source: "p1.t1"}, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "p1"."t1"`, plan.SQL)
	assert.Empty(t, plan.Args)
}

func TestBuild_AggregationWithImplicitGroupBy(t *testing.T) {
	agg := "sum"
	spec := domain.QuerySpec{
		Source: "p1.t1",
		Select: []domain.SelectEntry{
			{Column: "region"},
			{Column: "revenue", Aggregation: &agg},
		},
	}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `SUM("revenue")`)
	assert.Contains(t, plan.SQL, `GROUP BY "region"`)
}

func TestBuild_PlainProjectionWithoutAggregationEmitsNoGroupBy(t *testing.T) {
	spec := domain.QuerySpec{
		Source: "p1.t2",
		Select: []domain.SelectEntry{
			{Column: "region"},
			{Column: "revenue"},
		},
	}
	plan, err := Build(spec, `"p1"."t2"`, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "region" AS "region", "revenue" AS "revenue" FROM "p1"."t2"`, plan.SQL)
	assert.NotContains(t, plan.SQL, "GROUP BY")
}

func TestBuild_ExplicitGroupByWithoutAggregationIsAlsoSuppressed(t *testing.T) {
	spec := domain.QuerySpec{
		Source:  "p1.t2",
		Select:  []domain.SelectEntry{{Column: "region"}},
		GroupBy: []string{"region"},
	}
	plan, err := Build(spec, `"p1"."t2"`, nil)
	require.NoError(t, err)
	assert.NotContains(t, plan.SQL, "GROUP BY")
}

func TestBuild_SelectStarColumnEmitsUnquotedWildcard(t *testing.T) {
	spec := domain.QuerySpec{
		Source: "p1.t2",
		Select: []domain.SelectEntry{{Column: "*"}},
	}
	plan, err := Build(spec, `"p1"."t2"`, nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "p1"."t2"`, plan.SQL)
	assert.NotContains(t, plan.SQL, `"*"`)
	assert.NotContains(t, plan.SQL, "GROUP BY")
}

func TestBuild_CountStarEmitsUnquotedCountStar(t *testing.T) {
	agg := "count"
	spec := domain.QuerySpec{
		Source: "p1.t2",
		Select: []domain.SelectEntry{{Column: "*", Aggregation: &agg}},
	}
	plan, err := Build(spec, `"p1"."t2"`, nil)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "COUNT(*)")
	assert.NotContains(t, plan.SQL, `COUNT("*")`)
}

func TestBuild_FiltersProduceParameterizedPredicates(t *testing.T) {
	spec := domain.QuerySpec{
		Source: "p1.t1",
		Filters: []domain.Filter{
			{Column: "status", Operator: string(domain.OpEq), Value: "active"},
			{Column: "amount", Operator: string(domain.OpGte), Value: 100},
		},
	}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `"status" = ?`)
	assert.Contains(t, plan.SQL, `"amount" >= ?`)
	assert.Equal(t, []interface{}{"active", 100}, plan.Args)
}

func TestBuild_InFilter(t *testing.T) {
	spec := domain.QuerySpec{
		Source: "p1.t1",
		Filters: []domain.Filter{
			{Column: "region", Operator: string(domain.OpIn), Value: []interface{}{"us", "eu"}},
		},
	}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `"region" IN (?, ?)`)
	assert.Equal(t, []interface{}{"us", "eu"}, plan.Args)
}

func TestBuild_InFilterDroppedWhenEmpty(t *testing.T) {
	spec := domain.QuerySpec{
		Source: "p1.t1",
		Filters: []domain.Filter{
			{Column: "region", Operator: string(domain.OpIn), Value: []interface{}{}},
		},
	}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.NotContains(t, plan.SQL, "WHERE")
}

func TestBuild_BetweenFilter(t *testing.T) {
	spec := domain.QuerySpec{
		Source: "p1.t1",
		Filters: []domain.Filter{
			{Column: "amount", Operator: string(domain.OpBetween), Value: 10, Value2: 20},
		},
	}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `"amount" BETWEEN ? AND ?`)
	assert.Equal(t, []interface{}{10, 20}, plan.Args)
}

func TestBuild_IsNullFilters(t *testing.T) {
	spec := domain.QuerySpec{
		Source: "p1.t1",
		Filters: []domain.Filter{
			{Column: "deleted_at", Operator: string(domain.OpIsNull)},
		},
	}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `"deleted_at" IS NULL`)
	assert.Empty(t, plan.Args)
}

func TestBuild_UnknownOperatorDroppedNotFailed(t *testing.T) {
	spec := domain.QuerySpec{
		Source: "p1.t1",
		Filters: []domain.Filter{
			{Column: "x", Operator: "~weird~"},
		},
	}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.NotContains(t, plan.SQL, "WHERE")
}

func TestBuild_OrderByDefaultsAscending(t *testing.T) {
	spec := domain.QuerySpec{
		Source:  "p1.t1",
		OrderBy: []domain.OrderEntry{{Column: "created_at"}, {Column: "id", Direction: "desc"}},
	}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, `ORDER BY "created_at" ASC, "id" DESC`)
}

func TestBuild_LimitOffset(t *testing.T) {
	limit, offset := 10, 5
	spec := domain.QuerySpec{Source: "p1.t1", Limit: &limit, Offset: &offset}
	plan, err := Build(spec, `"p1"."t1"`, nil)
	require.NoError(t, err)
	assert.Contains(t, plan.SQL, "LIMIT 10")
	assert.Contains(t, plan.SQL, "OFFSET 5")
}

func TestBuild_InvalidSpecRejected(t *testing.T) {
	_, err := Build(domain.QuerySpec{}, `"p1"."t1"`, nil)
	require.Error(t, err)
}

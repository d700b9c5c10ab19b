package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

func validPlan(t *testing.T) *models.QueryPlan {
	t.Helper()
	plan, err := Synthesize(models.IntentRanking, models.Entities{
		explicit(models.RoleMetric, "noi"),
		{Role: "property_type", Value: "Multifamily", Kind: "asset", Source: models.SourceExplicit},
		explicit(models.RoleLimit, "5"),
		year(2024),
	}, mustCatalog(t))
	require.NoError(t, err)
	return plan
}

func TestValidate(t *testing.T) {
	cat := mustCatalog(t)

	tests := []struct {
		name       string
		mutate     func(*models.QueryPlan)
		schemaKind string
		contains   string
	}{
		{"unknown fact", func(p *models.QueryPlan) { p.FactTable = "FactRent" }, "table", ""},
		{"unknown column", func(p *models.QueryPlan) { p.Select[1].Column.Column = "CapRate" }, "column", ""},
		{"unknown metric", func(p *models.QueryPlan) { p.Select[1].Metric = "caprate" }, "metric", ""},
		{"illegal aggregate", func(p *models.QueryPlan) { p.Select[1].Aggregate = models.AggregateCount }, "aggregation", ""},
		{"unjoined table", func(p *models.QueryPlan) { p.Joins = nil }, "", "not joined"},
		{"join from nowhere", func(p *models.QueryPlan) { p.Joins[0].From.Table = "DimFund" }, "", "not joined yet"},
		{"duplicate alias", func(p *models.QueryPlan) { p.Select[1].Alias = "asset" }, "", "duplicated"},
		{"order by unselected alias", func(p *models.QueryPlan) { p.OrderBy[0].Alias = "revenue" }, "", "does not name"},
		{"negative limit", func(p *models.QueryPlan) { p.Limit = -1 }, "", "negative limit"},
		{"empty select", func(p *models.QueryPlan) { p.Select = nil }, "", "selects nothing"},
		{"eq with two values", func(p *models.QueryPlan) { p.Filters[0].Values = []any{"Office", "Retail"} }, "", "eq takes one value"},
		{"between with one value", func(p *models.QueryPlan) { p.Filters[1].Values = []any{20240101} }, "", "between takes two values"},
		{"unknown operator", func(p *models.QueryPlan) { p.Filters[0].Op = "like" }, "", "unknown operator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := validPlan(t)
			tt.mutate(plan)
			err := Validate(plan, cat)
			require.Error(t, err)
			if tt.schemaKind != "" {
				var sch *apperrors.SchemaResolutionError
				require.ErrorAs(t, err, &sch)
				assert.Equal(t, tt.schemaKind, sch.Kind)
				return
			}
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestValidate_RejectsInjectedLiteral(t *testing.T) {
	plan := validPlan(t)
	plan.Filters[0].Values = []any{"Multifamily' OR '1'='1"}

	err := Validate(plan, mustCatalog(t))
	assert.ErrorIs(t, err, ErrUnsafeLiteral)
}

func TestValidate_AcceptsSynthesizedPlan(t *testing.T) {
	plan := validPlan(t)
	assert.NoError(t, Validate(plan, mustCatalog(t)))
	assert.Error(t, Validate(nil, mustCatalog(t)))
}

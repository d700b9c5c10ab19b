package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntent(t *testing.T) {
	tests := []struct {
		in     string
		want   Intent
		wantOK bool
	}{
		{"ranking", IntentRanking, true},
		{"  Trend ", IntentTrend, true},
		{"COMPARISON", IntentComparison, true},
		{"unknown", IntentUnknown, true},
		{"forecast", IntentUnknown, false},
		{"", IntentUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseIntent(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestIntent_IsActionable(t *testing.T) {
	for _, i := range ValidIntents {
		assert.Equal(t, i != IntentUnknown, i.IsActionable(), i)
	}
	assert.False(t, Intent("forecast").IsActionable())
}

func TestDateRange(t *testing.T) {
	r := DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	assert.Equal(t, 20240101, r.StartKey())
	assert.Equal(t, 20240331, r.EndKey())
	assert.Equal(t, 91*24*time.Hour, r.Span())
	assert.Equal(t, "2024-01-01..2024-03-31", r.String())
}

func TestEntities(t *testing.T) {
	ents := Entities{
		{Role: RoleMetric, Value: "noi", Source: SourceInherited},
		{Role: RoleComparisonTarget, Value: "Fund II", Kind: "fund", Source: SourceExplicit},
		{Role: RoleComparisonTarget, Value: "Fund III", Kind: "fund", Source: SourceExplicit},
		{Role: RoleTimeRange, Value: "2024", Range: &DateRange{}, Source: SourceInherited},
	}

	got, ok := ents.Get(RoleComparisonTarget)
	require.True(t, ok)
	assert.Equal(t, "Fund II", got.Value)
	assert.Equal(t, []string{"Fund II", "Fund III"}, ents.Values(RoleComparisonTarget))
	assert.True(t, ents.Has(RoleMetric))
	assert.False(t, ents.Has(RoleAsset))
	assert.True(t, ents.HasSubject())
	assert.NotNil(t, ents.TimeRange())
	assert.Equal(t, []Role{RoleComparisonTarget, RoleMetric, RoleTimeRange}, ents.Roles())
	assert.Equal(t, []string{"comparison_target"}, ents.RolesFrom(SourceExplicit))
	assert.Equal(t, []string{"metric", "time_range"}, ents.RolesFrom(SourceInherited))
	assert.Empty(t, ents.RolesFrom(SourceDefault))

	assert.False(t, Entities{{Role: RoleMetric, Value: "noi"}}.HasSubject())
	assert.Nil(t, Entities{}.TimeRange())
}

func TestQueryPlan_Items(t *testing.T) {
	plan := &QueryPlan{
		FactTable: "FactAssetOperations",
		Joins:     []Join{{Table: "DimAsset"}, {Table: "DimFund"}},
		Select: []SelectItem{
			{Alias: "asset"},
			{Alias: "noi", Metric: "noi", Aggregate: AggregateSum},
		},
		Limit: 5,
	}

	assert.Equal(t, []string{"FactAssetOperations", "DimAsset", "DimFund"}, plan.Tables())
	require.Len(t, plan.MetricItems(), 1)
	assert.Equal(t, "noi", plan.MetricItems()[0].Alias)
	require.Len(t, plan.LabelItems(), 1)
	assert.Equal(t, "asset", plan.LabelItems()[0].Alias)

	expanded := plan.WithoutLimit(1000)
	assert.Equal(t, 1000, expanded.Limit)
	assert.Equal(t, 5, plan.Limit, "original plan is untouched")
}

func TestResultSet_Summarize(t *testing.T) {
	rs := &ResultSet{
		Columns:  []ColumnInfo{{Name: "asset"}, {Name: "noi"}},
		Rows:     []map[string]any{{"asset": "a"}, {"asset": "b"}, {"asset": "c"}},
		RowCount: 3,
	}

	s := rs.Summarize(2)
	assert.Equal(t, 3, s.RowCount)
	assert.Equal(t, []string{"asset", "noi"}, s.Columns)
	assert.Len(t, s.Preview, 2)

	assert.Len(t, rs.Summarize(10).Preview, 3)
	assert.Nil(t, rs.Summarize(0).Preview)
}

func TestTurnResponse_NeedsClarification(t *testing.T) {
	assert.False(t, (&TurnResponse{}).NeedsClarification())
	assert.True(t, (&TurnResponse{Clarification: &Clarification{Kind: ClarifyAmbiguous}}).NeedsClarification())
}

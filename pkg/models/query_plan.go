package models

import "time"

// Aggregate is an aggregation function a metric may be reduced with.
type Aggregate string

const (
	AggregateNone  Aggregate = ""
	AggregateSum   Aggregate = "sum"
	AggregateAvg   Aggregate = "avg"
	AggregateMin   Aggregate = "min"
	AggregateMax   Aggregate = "max"
	AggregateCount Aggregate = "count"
)

// ParseAggregate returns the aggregate named by s.
func ParseAggregate(s string) (Aggregate, bool) {
	switch Aggregate(s) {
	case AggregateSum, AggregateAvg, AggregateMin, AggregateMax, AggregateCount:
		return Aggregate(s), true
	default:
		return AggregateNone, false
	}
}

// Grain is the time bucket a trend is grouped by.
type Grain string

const (
	GrainNone    Grain = ""
	GrainMonth   Grain = "month"
	GrainQuarter Grain = "quarter"
	GrainYear    Grain = "year"
)

// FilterOp is the comparison applied by a predicate.
type FilterOp string

const (
	FilterEq      FilterOp = "eq"
	FilterIn      FilterOp = "in"
	FilterBetween FilterOp = "between"
)

// ColumnRef identifies a physical column.
type ColumnRef struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

// Join attaches a table to the plan. From is already part of the plan.
type Join struct {
	Table string    `json:"table"`
	From  ColumnRef `json:"from"`
	To    ColumnRef `json:"to"`
}

// SelectItem is one output column. Metric is the catalog metric key for metric columns.
type SelectItem struct {
	Column    ColumnRef `json:"column"`
	Aggregate Aggregate `json:"aggregate,omitempty"`
	Distinct  bool      `json:"distinct,omitempty"`
	Alias     string    `json:"alias"`
	Metric    string    `json:"metric,omitempty"`
}

// IsMetric reports whether the item carries a measure rather than a label.
func (s SelectItem) IsMetric() bool {
	return s.Aggregate != AggregateNone
}

// Filter is a predicate on a column. Values are bound as parameters.
type Filter struct {
	Column ColumnRef `json:"column"`
	Op     FilterOp  `json:"op"`
	Values []any     `json:"values"`
}

// OrderTerm orders by an output alias.
type OrderTerm struct {
	Alias string `json:"alias"`
	Desc  bool   `json:"desc"`
}

// QueryPlan is a schema-validated, dialect-independent description of a query.
type QueryPlan struct {
	Intent    Intent       `json:"intent"`
	FactTable string       `json:"fact_table"`
	Joins     []Join       `json:"joins,omitempty"`
	Select    []SelectItem `json:"select"`
	Metrics   []string     `json:"metrics,omitempty"`
	Filters   []Filter     `json:"filters,omitempty"`
	GroupBy   []ColumnRef  `json:"group_by,omitempty"`
	OrderBy   []OrderTerm  `json:"order_by,omitempty"`
	Limit     int          `json:"limit,omitempty"`
	Grain     Grain        `json:"grain,omitempty"`
	TimeRange *DateRange   `json:"time_range,omitempty"`
}

// Tables returns the fact table followed by every joined table.
func (p *QueryPlan) Tables() []string {
	out := []string{p.FactTable}
	for _, j := range p.Joins {
		out = append(out, j.Table)
	}
	return out
}

// MetricItems returns the select items that carry metrics.
func (p *QueryPlan) MetricItems() []SelectItem {
	var out []SelectItem
	for _, s := range p.Select {
		if s.IsMetric() {
			out = append(out, s)
		}
	}
	return out
}

// LabelItems returns the non-metric select items.
func (p *QueryPlan) LabelItems() []SelectItem {
	var out []SelectItem
	for _, s := range p.Select {
		if !s.IsMetric() {
			out = append(out, s)
		}
	}
	return out
}

// WithoutLimit returns a copy of the plan whose limit is replaced by max.
func (p *QueryPlan) WithoutLimit(max int) *QueryPlan {
	cp := *p
	cp.Limit = max
	return &cp
}

// ============================================================================
// Results
// ============================================================================

// ColumnInfo describes one result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ResultSet is the tabular result handed back by the execution collaborator.
type ResultSet struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
	Elapsed  time.Duration    `json:"elapsed"`
}

// ColumnNames returns the result's column names in order.
func (r *ResultSet) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// ResultSummary is the part of a result kept with a turn.
type ResultSummary struct {
	RowCount int              `json:"row_count"`
	Columns  []string         `json:"columns"`
	Preview  []map[string]any `json:"preview,omitempty"`
}

// Summarize keeps at most previewRows rows of the result.
func (r *ResultSet) Summarize(previewRows int) ResultSummary {
	s := ResultSummary{RowCount: r.RowCount, Columns: r.ColumnNames()}
	n := previewRows
	if n > len(r.Rows) {
		n = len(r.Rows)
	}
	if n > 0 {
		s.Preview = append([]map[string]any(nil), r.Rows[:n]...)
	}
	return s
}

package sql

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// Statement is rendered SQL with its positional arguments.
type Statement struct {
	SQL     string
	Args    []any
	Dialect Dialect
}

// Render writes plan as a single parameterised SELECT. Every literal is bound as an
// argument; identifiers come only from the plan, which the planner has validated
// against the catalog.
func Render(plan *models.QueryPlan, d Dialect) (*Statement, error) {
	if plan == nil {
		return nil, fmt.Errorf("render: nil plan")
	}
	if len(plan.Select) == 0 {
		return nil, fmt.Errorf("render: plan selects nothing")
	}

	r := &renderer{d: d, aliases: map[string]string{plan.FactTable: "t0"}}
	for i, j := range plan.Joins {
		r.aliases[j.Table] = fmt.Sprintf("t%d", i+1)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if d.usesTop() && plan.Limit > 0 {
		fmt.Fprintf(&sb, "TOP (%d) ", plan.Limit)
	}
	for i, s := range plan.Select {
		if i > 0 {
			sb.WriteString(", ")
		}
		expr, err := r.selectExpr(s)
		if err != nil {
			return nil, err
		}
		sb.WriteString(expr)
		sb.WriteString(" AS ")
		sb.WriteString(d.QuoteIdentifier(s.Alias))
	}

	fmt.Fprintf(&sb, "\nFROM %s AS %s", d.QuoteIdentifier(plan.FactTable), d.QuoteIdentifier("t0"))
	for _, j := range plan.Joins {
		from, err := r.column(j.From)
		if err != nil {
			return nil, err
		}
		to, err := r.column(j.To)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "\nJOIN %s AS %s ON %s = %s",
			d.QuoteIdentifier(j.Table), d.QuoteIdentifier(r.aliases[j.Table]), to, from)
	}

	for i, f := range plan.Filters {
		if i == 0 {
			sb.WriteString("\nWHERE ")
		} else {
			sb.WriteString("\n  AND ")
		}
		pred, err := r.predicate(f)
		if err != nil {
			return nil, err
		}
		sb.WriteString(pred)
	}

	if len(plan.GroupBy) > 0 {
		sb.WriteString("\nGROUP BY ")
		for i, g := range plan.GroupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			col, err := r.column(g)
			if err != nil {
				return nil, err
			}
			sb.WriteString(col)
		}
	}

	if len(plan.OrderBy) > 0 {
		sb.WriteString("\nORDER BY ")
		for i, o := range plan.OrderBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(d.QuoteIdentifier(o.Alias))
			if o.Desc {
				sb.WriteString(" DESC")
			}
		}
	}

	if !d.usesTop() && plan.Limit > 0 {
		fmt.Fprintf(&sb, "\nLIMIT %d", plan.Limit)
	}

	if problems := CheckArguments(r.args); len(problems) > 0 {
		return nil, fmt.Errorf("render: argument %s rejected (fingerprint %s)", problems[0].ParamName, problems[0].Fingerprint)
	}
	v := ValidateAndNormalize(sb.String())
	if v.Error != nil {
		return nil, fmt.Errorf("render: %w", v.Error)
	}
	return &Statement{SQL: v.NormalizedSQL, Args: r.args, Dialect: d}, nil
}

type renderer struct {
	d       Dialect
	aliases map[string]string
	args    []any
}

func (r *renderer) column(c models.ColumnRef) (string, error) {
	alias, ok := r.aliases[c.Table]
	if !ok {
		return "", fmt.Errorf("render: column %s.%s references a table outside the plan", c.Table, c.Column)
	}
	return r.d.QuoteIdentifier(alias) + "." + r.d.QuoteIdentifier(c.Column), nil
}

func (r *renderer) selectExpr(s models.SelectItem) (string, error) {
	col, err := r.column(s.Column)
	if err != nil {
		return "", err
	}
	if s.Aggregate == models.AggregateNone {
		return col, nil
	}
	fn, ok := aggregateFunctions[s.Aggregate]
	if !ok {
		return "", fmt.Errorf("render: unsupported aggregate %q", s.Aggregate)
	}
	if s.Distinct {
		return fn + "(DISTINCT " + col + ")", nil
	}
	return fn + "(" + col + ")", nil
}

var aggregateFunctions = map[models.Aggregate]string{
	models.AggregateSum:   "SUM",
	models.AggregateAvg:   "AVG",
	models.AggregateMin:   "MIN",
	models.AggregateMax:   "MAX",
	models.AggregateCount: "COUNT",
}

func (r *renderer) bind(v any) string {
	r.args = append(r.args, v)
	return r.d.Placeholder(len(r.args))
}

func (r *renderer) predicate(f models.Filter) (string, error) {
	col, err := r.column(f.Column)
	if err != nil {
		return "", err
	}
	switch f.Op {
	case models.FilterEq:
		if len(f.Values) != 1 {
			return "", fmt.Errorf("render: eq filter on %s needs one value", f.Column.Column)
		}
		return col + " = " + r.bind(f.Values[0]), nil
	case models.FilterIn:
		if len(f.Values) == 0 {
			return "", fmt.Errorf("render: in filter on %s has no values", f.Column.Column)
		}
		marks := make([]string, len(f.Values))
		for i, v := range f.Values {
			marks[i] = r.bind(v)
		}
		return col + " IN (" + strings.Join(marks, ", ") + ")", nil
	case models.FilterBetween:
		if len(f.Values) != 2 {
			return "", fmt.Errorf("render: between filter on %s needs two values", f.Column.Column)
		}
		lo := r.bind(f.Values[0])
		hi := r.bind(f.Values[1])
		return col + " BETWEEN " + lo + " AND " + hi, nil
	default:
		return "", fmt.Errorf("render: unsupported operator %q", f.Op)
	}
}

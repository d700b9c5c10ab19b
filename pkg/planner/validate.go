package planner

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	"github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

// ErrUnsafeLiteral is returned when a filter value looks like SQL rather than data.
var ErrUnsafeLiteral = errors.New("filter value rejected as unsafe")

// Validate checks that every table, column, alias and aggregation in plan is declared
// in the catalog and that every string literal passes injection screening. Plans are
// validated before they leave the planner, and again by callers re-running a stored plan.
func Validate(plan *models.QueryPlan, cat *catalog.Catalog) error {
	if plan == nil {
		return errors.New("nil plan")
	}
	if cat.TableKind(plan.FactTable) == "" {
		return unknownTable(plan.FactTable)
	}
	if plan.Limit < 0 {
		return fmt.Errorf("negative limit %d", plan.Limit)
	}
	if len(plan.Select) == 0 {
		return errors.New("plan selects nothing")
	}

	inPlan := map[string]bool{plan.FactTable: true}
	for _, j := range plan.Joins {
		if cat.TableKind(j.Table) == "" {
			return unknownTable(j.Table)
		}
		if !inPlan[j.From.Table] {
			return fmt.Errorf("join to %s starts from %s, which is not joined yet", j.Table, j.From.Table)
		}
		if j.To.Table != j.Table {
			return fmt.Errorf("join to %s targets column of %s", j.Table, j.To.Table)
		}
		if err := checkColumn(cat, j.From); err != nil {
			return err
		}
		if err := checkColumn(cat, j.To); err != nil {
			return err
		}
		inPlan[j.Table] = true
	}

	reachable := func(c models.ColumnRef) error {
		if err := checkColumn(cat, c); err != nil {
			return err
		}
		if !inPlan[c.Table] {
			return fmt.Errorf("column %s.%s references a table that is not joined", c.Table, c.Column)
		}
		return nil
	}

	aliases := make(map[string]bool, len(plan.Select))
	for _, s := range plan.Select {
		if err := reachable(s.Column); err != nil {
			return err
		}
		if s.Alias == "" || aliases[s.Alias] {
			return fmt.Errorf("select alias %q is empty or duplicated", s.Alias)
		}
		aliases[s.Alias] = true
		if s.Metric == "" {
			continue
		}
		m, ok := cat.Metric(s.Metric)
		if !ok {
			return &apperrors.SchemaResolutionError{Kind: "metric", Name: s.Metric, Suggestions: cat.SuggestMetrics(s.Metric)}
		}
		if !m.Allows(s.Aggregate) {
			return illegalAggregate(m, s.Aggregate)
		}
	}

	for _, f := range plan.Filters {
		if err := reachable(f.Column); err != nil {
			return err
		}
		if err := checkFilter(f); err != nil {
			return err
		}
	}

	for _, g := range plan.GroupBy {
		if err := reachable(g); err != nil {
			return err
		}
	}

	for _, o := range plan.OrderBy {
		if !aliases[o.Alias] {
			return fmt.Errorf("order by %q does not name a selected column", o.Alias)
		}
	}
	return nil
}

func checkFilter(f models.Filter) error {
	switch f.Op {
	case models.FilterEq:
		if len(f.Values) != 1 {
			return fmt.Errorf("filter on %s.%s: eq takes one value, got %d", f.Column.Table, f.Column.Column, len(f.Values))
		}
	case models.FilterIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("filter on %s.%s: in takes at least one value", f.Column.Table, f.Column.Column)
		}
	case models.FilterBetween:
		if len(f.Values) != 2 {
			return fmt.Errorf("filter on %s.%s: between takes two values, got %d", f.Column.Table, f.Column.Column, len(f.Values))
		}
	default:
		return fmt.Errorf("filter on %s.%s: unknown operator %q", f.Column.Table, f.Column.Column, f.Op)
	}

	for _, v := range f.Values {
		if r := sql.CheckParameterForInjection(f.Column.Column, v); r != nil {
			return fmt.Errorf("%w: %s (fingerprint %s)", ErrUnsafeLiteral, r.ParamName, r.Fingerprint)
		}
	}
	return nil
}

func checkColumn(cat *catalog.Catalog, c models.ColumnRef) error {
	if !cat.HasColumn(c.Table, c.Column) {
		return &apperrors.SchemaResolutionError{
			Kind:   "column",
			Name:   c.Table + "." + c.Column,
			Reason: "is not declared in the catalog",
		}
	}
	return nil
}

func unknownTable(table string) error {
	return &apperrors.SchemaResolutionError{Kind: "table", Name: table, Reason: "is not declared in the catalog"}
}

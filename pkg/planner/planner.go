// Package planner turns a classified question into a schema-validated query plan.
// Plans only reference tables and columns declared in the catalog; anything the
// catalog cannot map is reported as a recoverable error instead of guessed.
package planner

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// DefaultLimit applies when a ranking carries no usable limit.
const DefaultLimit = 10

// Synthesize builds and validates the plan for intent over the resolved entities.
func Synthesize(intent models.Intent, entities models.Entities, cat *catalog.Catalog) (*models.QueryPlan, error) {
	b := &builder{
		cat:    cat,
		intent: intent,
		ents:   entities,
		plan:   &models.QueryPlan{Intent: intent},
		joined: make(map[string]bool),
	}

	var err error
	switch intent {
	case models.IntentLookup:
		err = b.lookup()
	case models.IntentRanking:
		err = b.ranking()
	case models.IntentTrend:
		err = b.trend()
	case models.IntentComparison:
		err = b.comparison()
	case models.IntentAggregation:
		err = b.aggregation()
	case models.IntentUnknown:
		err = apperrors.ErrClassificationUncertain
	default:
		err = fmt.Errorf("unsupported intent %q", intent)
	}
	if err != nil {
		return nil, err
	}

	if err := Validate(b.plan, cat); err != nil {
		return nil, err
	}
	return b.plan, nil
}

type builder struct {
	cat    *catalog.Catalog
	intent models.Intent
	ents   models.Entities
	plan   *models.QueryPlan
	joined map[string]bool
}

// lookup selects the named metrics (or every metric the subject's default fact
// carries) for one subject, or for the whole portfolio when none is named.
func (b *builder) lookup() error {
	subjects, err := b.subjects()
	if err != nil {
		return err
	}
	metrics, err := b.metrics(false)
	if err != nil {
		return err
	}

	label := firstMember(subjects)
	profile := false
	if len(metrics) == 0 {
		if label == nil {
			return b.incomplete([]string{string(models.RoleMetric)}, "name a metric or an asset, fund or lender")
		}
		if metrics, err = b.defaultMetrics(label.desc); err != nil {
			return err
		}
		profile = true
	}

	if err := b.useFact(metrics); err != nil {
		return err
	}
	if err := b.joinSubjects(subjects, metrics[0]); err != nil {
		return err
	}

	b.plan.Limit = 1
	if label != nil {
		b.addLabel(label.desc)
		if profile {
			for _, attr := range label.desc.Profile {
				col, _ := label.desc.AttributeColumn(attr)
				b.addGroupedItem(models.ColumnRef{Table: label.desc.Table, Column: col}, attr)
			}
		}
		b.plan.Limit = len(label.values)
		b.plan.OrderBy = append(b.plan.OrderBy, models.OrderTerm{Alias: label.kind})
	}
	if err := b.addMetrics(metrics); err != nil {
		return err
	}
	b.addSubjectFilters(subjects)
	b.addTimeFilter()
	return nil
}

// ranking orders the members of one entity kind by the first metric.
func (b *builder) ranking() error {
	subjects, err := b.subjects()
	if err != nil {
		return err
	}
	metrics, err := b.metrics(true)
	if err != nil {
		return err
	}
	if err := b.useFact(metrics); err != nil {
		return err
	}

	kind, err := b.groupKind(subjects)
	if err != nil {
		return err
	}
	desc, err := b.entity(kind)
	if err != nil {
		return err
	}
	if err := b.joinSubjects(subjects, metrics[0], desc.Table); err != nil {
		return err
	}

	b.addLabel(desc)
	if err := b.addMetrics(metrics); err != nil {
		return err
	}
	b.addSubjectFilters(subjects)
	b.addTimeFilter()

	b.plan.OrderBy = []models.OrderTerm{
		{Alias: metrics[0].Key, Desc: b.direction() != "asc"},
		{Alias: desc.Name},
	}
	b.plan.Limit = b.limit()
	return nil
}

// trend groups a metric by the time dimension at a grain implied by the range.
func (b *builder) trend() error {
	subjects, err := b.subjects()
	if err != nil {
		return err
	}
	metrics, err := b.metrics(true)
	if err != nil {
		return err
	}
	rng := b.ents.TimeRange()
	if rng == nil {
		return b.incomplete([]string{string(models.RoleTimeRange)}, "a trend needs a time range")
	}
	if err := b.useFact(metrics); err != nil {
		return err
	}

	t := b.cat.Time()
	if err := b.joinSubjects(subjects, metrics[0], t.Table); err != nil {
		return err
	}

	// Several members of one kind are plotted as separate series.
	series := firstMember(subjects)
	if series != nil && len(series.values) > 1 {
		b.addLabel(series.desc)
	} else {
		series = nil
	}

	b.plan.Grain = GrainFor(*rng)
	for _, col := range t.GrainColumns(b.plan.Grain) {
		alias := timeAlias(t, col)
		b.addGroupedItem(models.ColumnRef{Table: t.Table, Column: col}, alias)
		b.plan.OrderBy = append(b.plan.OrderBy, models.OrderTerm{Alias: alias})
	}
	if series != nil {
		b.plan.OrderBy = append(b.plan.OrderBy, models.OrderTerm{Alias: series.kind})
	}

	if err := b.addMetrics(metrics); err != nil {
		return err
	}
	b.addSubjectFilters(subjects)
	b.addTimeFilter()
	return nil
}

// comparison puts exactly two members of one kind side by side over the same period.
func (b *builder) comparison() error {
	subjects, err := b.subjects()
	if err != nil {
		return err
	}
	targets := b.ents.All(models.RoleComparisonTarget)
	if len(targets) != 2 {
		return b.incomplete([]string{string(models.RoleComparisonTarget)},
			fmt.Sprintf("a comparison needs exactly two targets, found %d", len(targets)))
	}
	kind0, kind1 := b.targetKind(targets[0]), b.targetKind(targets[1])
	if kind0 != kind1 {
		return b.incomplete([]string{string(models.RoleComparisonTarget)},
			fmt.Sprintf("cannot compare %s %q with %s %q", kind0, targets[0].Value, kind1, targets[1].Value))
	}
	if targets[0].Value == targets[1].Value {
		return b.incomplete([]string{string(models.RoleComparisonTarget)},
			fmt.Sprintf("both targets are %q", targets[0].Value))
	}

	metrics, err := b.metrics(true)
	if err != nil {
		return err
	}
	if err := b.useFact(metrics); err != nil {
		return err
	}
	if err := b.joinSubjects(subjects, metrics[0]); err != nil {
		return err
	}

	cmp := memberOf(subjects, kind0)
	if cmp == nil {
		return fmt.Errorf("comparison targets of kind %q were not collected", kind0)
	}
	b.addLabel(cmp.desc)
	if err := b.addMetrics(metrics); err != nil {
		return err
	}
	b.addSubjectFilters(subjects)
	b.addTimeFilter()
	b.plan.OrderBy = []models.OrderTerm{{Alias: cmp.kind}}
	return nil
}

// aggregation reduces the filtered rows with the requested aggregate, optionally
// grouped by an entity kind. Counting without a metric counts dimension members.
func (b *builder) aggregation() error {
	subjects, err := b.subjects()
	if err != nil {
		return err
	}

	agg, _ := b.requestedAggregate()
	metric, hasMetric := b.ents.Get(models.RoleMetric)
	if agg == models.AggregateCount && (!hasMetric || metric.Source != models.SourceExplicit) {
		return b.countMembers(subjects)
	}

	metrics, err := b.metrics(true)
	if err != nil {
		return err
	}
	if err := b.useFact(metrics); err != nil {
		return err
	}

	var groupDesc *catalog.EntityDescriptor
	if g, ok := b.ents.Get(models.RoleGroupBy); ok {
		if groupDesc, err = b.entity(g.Value); err != nil {
			return err
		}
	}
	var extra []string
	if groupDesc != nil {
		extra = append(extra, groupDesc.Table)
	}
	if err := b.joinSubjects(subjects, metrics[0], extra...); err != nil {
		return err
	}

	if groupDesc != nil {
		b.addLabel(groupDesc)
		b.plan.OrderBy = []models.OrderTerm{{Alias: groupDesc.Name}}
	} else {
		b.plan.Limit = 1
	}
	if err := b.addMetrics(metrics); err != nil {
		return err
	}
	b.addSubjectFilters(subjects)
	b.addTimeFilter()
	return nil
}

// countMembers counts distinct members of a kind straight from its dimension table.
func (b *builder) countMembers(subjects []subject) error {
	kind := ""
	if g, ok := b.ents.Get(models.RoleGroupBy); ok {
		kind = g.Value
	} else if len(subjects) > 0 {
		kind = subjects[0].kind
	}
	if kind == "" {
		return b.incomplete([]string{string(models.RoleGroupBy)}, "say which assets, funds or lenders to count")
	}
	desc, err := b.entity(kind)
	if err != nil {
		return err
	}

	b.plan.FactTable = desc.Table
	b.joined[desc.Table] = true
	if err := b.joinSubjects(subjects, nil); err != nil {
		return err
	}

	alias := desc.Name + "_count"
	b.plan.Select = append(b.plan.Select, models.SelectItem{
		Column:    models.ColumnRef{Table: desc.Table, Column: desc.Key},
		Aggregate: models.AggregateCount,
		Distinct:  true,
		Alias:     alias,
	})
	b.plan.Limit = 1
	b.addSubjectFilters(subjects)
	return nil
}

// metrics resolves every metric entity. When required, a missing metric is an
// IncompleteQueryError.
func (b *builder) metrics(required bool) ([]*catalog.MetricDescriptor, error) {
	var out []*catalog.MetricDescriptor
	for _, e := range b.ents.All(models.RoleMetric) {
		m, ok := b.cat.Metric(e.Value)
		if !ok {
			return nil, &apperrors.SchemaResolutionError{
				Kind:        "metric",
				Name:        e.Value,
				Suggestions: b.cat.SuggestMetrics(e.Value),
			}
		}
		out = append(out, m)
	}
	if required && len(out) == 0 {
		return nil, b.incomplete([]string{string(models.RoleMetric)}, "")
	}
	return out, nil
}

// defaultMetrics returns every metric recorded on the entity's default fact, by key.
func (b *builder) defaultMetrics(desc *catalog.EntityDescriptor) ([]*catalog.MetricDescriptor, error) {
	var out []*catalog.MetricDescriptor
	for _, key := range b.cat.MetricKeys() {
		m, _ := b.cat.Metric(key)
		if m.Fact == desc.DefaultFact {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, b.incomplete([]string{string(models.RoleMetric)}, fmt.Sprintf("no default metrics are declared for %s", desc.Name))
	}
	return out, nil
}

// useFact makes the first metric's fact the plan's fact. Every other metric must share it.
func (b *builder) useFact(metrics []*catalog.MetricDescriptor) error {
	fact := metrics[0].Fact
	for _, m := range metrics[1:] {
		if m.Fact != fact {
			return &apperrors.SchemaResolutionError{
				Kind:   "metric",
				Name:   m.Key,
				Reason: fmt.Sprintf("is recorded separately from %s; ask for it on its own", metrics[0].Label),
			}
		}
	}
	b.plan.FactTable = fact
	b.joined[fact] = true
	return nil
}

// requestedAggregate returns the aggregate the question asked for, if any.
func (b *builder) requestedAggregate() (models.Aggregate, bool) {
	e, ok := b.ents.Get(models.RoleAggregate)
	if !ok {
		return models.AggregateNone, false
	}
	agg, ok := models.ParseAggregate(e.Value)
	if !ok {
		return models.AggregateNone, false
	}
	return agg, e.Source == models.SourceExplicit
}

// aggregateFor picks the aggregate for m: the requested one when legal, else the
// metric's default. An explicitly requested illegal aggregate is an error.
func (b *builder) aggregateFor(m *catalog.MetricDescriptor) (models.Aggregate, error) {
	agg, explicit := b.requestedAggregate()
	switch {
	case agg == models.AggregateNone:
		return m.Default, nil
	case m.Allows(agg):
		return agg, nil
	case explicit:
		return models.AggregateNone, illegalAggregate(m, agg)
	default:
		// An inherited aggregate that does not fit the new metric is dropped.
		return m.Default, nil
	}
}

func illegalAggregate(m *catalog.MetricDescriptor, agg models.Aggregate) error {
	return &apperrors.SchemaResolutionError{
		Kind:        "aggregation",
		Name:        string(agg),
		Reason:      fmt.Sprintf("%s cannot be aggregated with %s", m.Label, agg),
		Suggestions: m.AllowedNames(),
	}
}

func (b *builder) addMetrics(metrics []*catalog.MetricDescriptor) error {
	for _, m := range metrics {
		agg, err := b.aggregateFor(m)
		if err != nil {
			return err
		}
		b.plan.Select = append(b.plan.Select, models.SelectItem{
			Column:    models.ColumnRef{Table: m.Fact, Column: m.Column},
			Aggregate: agg,
			Alias:     m.Key,
			Metric:    m.Key,
		})
		b.plan.Metrics = append(b.plan.Metrics, m.Key)
	}
	return nil
}

// addLabel selects and groups by the entity's name column, aliased by kind.
func (b *builder) addLabel(desc *catalog.EntityDescriptor) {
	b.addGroupedItem(models.ColumnRef{Table: desc.Table, Column: desc.NameColumn}, desc.Name)
}

func (b *builder) addGroupedItem(col models.ColumnRef, alias string) {
	b.plan.Select = append(b.plan.Select, models.SelectItem{Column: col, Alias: alias})
	b.plan.GroupBy = append(b.plan.GroupBy, col)
}

func (b *builder) addTimeFilter() {
	rng := b.ents.TimeRange()
	if rng == nil {
		return
	}
	fact, ok := b.cat.Fact(b.plan.FactTable)
	if !ok {
		return
	}
	b.plan.TimeRange = rng
	b.plan.Filters = append(b.plan.Filters, models.Filter{
		Column: models.ColumnRef{Table: fact.Table, Column: fact.DateKey},
		Op:     models.FilterBetween,
		Values: []any{rng.StartKey(), rng.EndKey()},
	})
}

// groupKind is the entity kind a ranking orders: the requested grouping, else the
// kind of the named subjects, else the fact's preferred dimension.
func (b *builder) groupKind(subjects []subject) (string, error) {
	if g, ok := b.ents.Get(models.RoleGroupBy); ok {
		return g.Value, nil
	}
	if len(subjects) > 0 {
		return subjects[0].kind, nil
	}
	fact, ok := b.cat.Fact(b.plan.FactTable)
	if !ok {
		return "", fmt.Errorf("fact %s not in catalog", b.plan.FactTable)
	}
	for _, kind := range b.cat.JoinPreference {
		if _, ok := fact.Dimensions[kind]; ok {
			return kind, nil
		}
	}
	kinds := make([]string, 0, len(fact.Dimensions))
	for kind := range fact.Dimensions {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	if len(kinds) == 0 {
		return "", b.incomplete([]string{string(models.RoleGroupBy)}, "say what to rank")
	}
	return kinds[0], nil
}

func (b *builder) direction() string {
	if d, ok := b.ents.Get(models.RoleDirection); ok {
		return d.Value
	}
	return "desc"
}

func (b *builder) limit() int {
	if l, ok := b.ents.Get(models.RoleLimit); ok {
		if n, err := strconv.Atoi(l.Value); err == nil && n > 0 {
			return n
		}
	}
	return DefaultLimit
}

func (b *builder) incomplete(missing []string, reason string) error {
	return &apperrors.IncompleteQueryError{Intent: string(b.intent), Missing: missing, Reason: reason}
}

// GrainFor returns the finest grain that keeps a trend readable: monthly under two
// years, quarterly under five, yearly beyond.
func GrainFor(rng models.DateRange) models.Grain {
	switch end := rng.End.AddDate(0, 0, 1); {
	case end.Before(rng.Start.AddDate(2, 0, 0)):
		return models.GrainMonth
	case end.Before(rng.Start.AddDate(5, 0, 0)):
		return models.GrainQuarter
	default:
		return models.GrainYear
	}
}

func timeAlias(t *catalog.TimeDimension, col string) string {
	switch col {
	case t.Year:
		return "year"
	case t.Quarter:
		return "quarter"
	case t.Month:
		return "month"
	default:
		return col
	}
}

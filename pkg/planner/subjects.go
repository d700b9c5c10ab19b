package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/fuzzy"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// subject is one filter on a dimension: named members of a kind, or facet values.
type subject struct {
	kind   string
	desc   *catalog.EntityDescriptor
	column models.ColumnRef
	values []string
	member bool
}

// modifiers never become filters.
var modifiers = map[models.Role]bool{
	models.RoleMetric:    true,
	models.RoleTimeRange: true,
	models.RoleLimit:     true,
	models.RoleDirection: true,
	models.RoleAggregate: true,
	models.RoleGroupBy:   true,
}

// subjects collects member, comparison target and facet filters and checks every
// value against the catalog. Members come first in join preference order, then
// facets by name.
func (b *builder) subjects() ([]subject, error) {
	members := make(map[string][]string)
	facets := make(map[string][]string)

	for _, e := range b.ents {
		switch {
		case modifiers[e.Role]:
			continue
		case e.Role == models.RoleComparisonTarget:
			kind := b.targetKind(e)
			if kind == "" {
				return nil, &apperrors.SchemaResolutionError{
					Kind:        "comparison target",
					Name:        e.Value,
					Suggestions: b.cat.SuggestMembers("", e.Value),
				}
			}
			members[kind] = append(members[kind], e.Value)
		case e.Role.IsSubject():
			members[string(e.Role)] = append(members[string(e.Role)], e.Value)
		default:
			if _, ok := b.cat.Facet(string(e.Role)); !ok {
				return nil, &apperrors.SchemaResolutionError{
					Kind:   "role",
					Name:   string(e.Role),
					Reason: "is not an entity or attribute the catalog knows",
				}
			}
			facets[string(e.Role)] = append(facets[string(e.Role)], e.Value)
		}
	}

	var out []subject
	for _, kind := range b.orderKinds(members) {
		s, err := b.memberSubject(kind, members[kind])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	names := make([]string, 0, len(facets))
	for name := range facets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s, err := b.facetSubject(name, facets[name])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (b *builder) memberSubject(kind string, values []string) (subject, error) {
	desc, err := b.entity(kind)
	if err != nil {
		return subject{}, err
	}
	s := subject{
		kind:   desc.Name,
		desc:   desc,
		column: models.ColumnRef{Table: desc.Table, Column: desc.NameColumn},
		member: true,
	}
	for _, v := range values {
		m, ok := desc.Member(v)
		if !ok {
			return subject{}, &apperrors.SchemaResolutionError{
				Kind:        desc.Name,
				Name:        v,
				Suggestions: b.cat.SuggestMembers(desc.Name, v),
			}
		}
		s.values = appendUnique(s.values, m.Name)
	}
	return s, nil
}

func (b *builder) facetSubject(name string, values []string) (subject, error) {
	f, _ := b.cat.Facet(name)
	desc, err := b.entity(f.Entity)
	if err != nil {
		return subject{}, err
	}
	col, _ := desc.AttributeColumn(f.Attribute)
	s := subject{
		kind:   desc.Name,
		desc:   desc,
		column: models.ColumnRef{Table: desc.Table, Column: col},
	}

	allowed := make([]string, len(f.Values))
	for i, fv := range f.Values {
		allowed[i] = fv.Value
	}
	for _, v := range values {
		canonical := ""
		for _, a := range allowed {
			if strings.EqualFold(a, v) {
				canonical = a
				break
			}
		}
		if canonical == "" {
			return subject{}, &apperrors.SchemaResolutionError{
				Kind:        name,
				Name:        v,
				Suggestions: fuzzy.Suggest(v, allowed, 3),
			}
		}
		s.values = appendUnique(s.values, canonical)
	}
	return s, nil
}

// targetKind is the entity kind of a comparison target, looked up by member name
// when the entity does not carry it.
func (b *builder) targetKind(e models.ResolvedEntity) string {
	if e.Kind != "" {
		return e.Kind
	}
	for _, kind := range b.cat.EntityKinds() {
		desc, _ := b.cat.Entity(kind)
		if _, ok := desc.Member(e.Value); ok {
			return kind
		}
	}
	return ""
}

// orderKinds sorts entity kinds by join preference, unknown kinds last by name.
func (b *builder) orderKinds(m map[string][]string) []string {
	kinds := make([]string, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		ri, rj := b.rank(kinds[i]), b.rank(kinds[j])
		if ri != rj {
			return ri < rj
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

func (b *builder) rank(kind string) int {
	for i, k := range b.cat.JoinPreference {
		if k == kind {
			return i
		}
	}
	return len(b.cat.JoinPreference)
}

func (b *builder) entity(kind string) (*catalog.EntityDescriptor, error) {
	desc, ok := b.cat.Entity(kind)
	if !ok {
		return nil, &apperrors.SchemaResolutionError{
			Kind:        "entity",
			Name:        kind,
			Suggestions: fuzzy.Suggest(kind, b.cat.EntityKinds(), 3),
		}
	}
	return desc, nil
}

// joinSubjects joins every table the subjects and extra need, in preference order.
// metric names the measure in the error when a table is unreachable; it may be nil.
func (b *builder) joinSubjects(subjects []subject, metric *catalog.MetricDescriptor, extra ...string) error {
	seen := make(map[string]bool)
	var tables []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			tables = append(tables, t)
		}
	}
	for _, s := range subjects {
		add(s.desc.Table)
	}
	for _, t := range extra {
		add(t)
	}

	sort.SliceStable(tables, func(i, j int) bool {
		ri, rj := b.rank(b.cat.TableKind(tables[i])), b.rank(b.cat.TableKind(tables[j]))
		if ri != rj {
			return ri < rj
		}
		return tables[i] < tables[j]
	})

	for _, t := range tables {
		if err := b.join(t, metric); err != nil {
			return err
		}
	}
	return nil
}

// join appends the shortest join path from the plan's fact to table, skipping
// tables already joined.
func (b *builder) join(table string, metric *catalog.MetricDescriptor) error {
	if b.joined[table] {
		return nil
	}
	path, ok := b.cat.FactDimensionJoins().ShortestPath(b.plan.FactTable, table)
	if !ok {
		what := b.plan.FactTable
		if metric != nil {
			what = metric.Label
		}
		kind := b.cat.TableKind(table)
		return &apperrors.SchemaResolutionError{
			Kind:   "join",
			Name:   kind,
			Reason: fmt.Sprintf("%s cannot be broken down by %s", what, kind),
		}
	}
	for _, e := range path {
		if b.joined[e.To.Table] {
			continue
		}
		b.joined[e.To.Table] = true
		b.plan.Joins = append(b.plan.Joins, models.Join{Table: e.To.Table, From: e.From, To: e.To})
	}
	return nil
}

func (b *builder) addSubjectFilters(subjects []subject) {
	for _, s := range subjects {
		values := make([]any, len(s.values))
		for i, v := range s.values {
			values[i] = v
		}
		op := models.FilterEq
		if len(values) > 1 {
			op = models.FilterIn
		}
		b.plan.Filters = append(b.plan.Filters, models.Filter{Column: s.column, Op: op, Values: values})
	}
}

func firstMember(subjects []subject) *subject {
	for i := range subjects {
		if subjects[i].member {
			return &subjects[i]
		}
	}
	return nil
}

func memberOf(subjects []subject, kind string) *subject {
	for i := range subjects {
		if subjects[i].member && subjects[i].kind == kind {
			return &subjects[i]
		}
	}
	return nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

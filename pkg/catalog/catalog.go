// Package catalog describes the warehouse tables, columns and metrics the
// translator may reference. A Catalog is immutable after Load and is shared
// by every session without locking.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/portfolio-chat/pkg/fuzzy"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// TimeKind is the table kind of the time dimension.
const TimeKind = "time"

// Unit describes how a metric's values are displayed.
type Unit string

const (
	UnitCurrency Unit = "currency"
	UnitPercent  Unit = "percent"
	UnitMultiple Unit = "multiple"
	UnitCount    Unit = "count"
	UnitNumber   Unit = "number"
)

// Member is a known instance of an entity (an asset, a fund, a lender).
type Member struct {
	Name       string            `yaml:"name"`
	Aliases    []string          `yaml:"aliases"`
	Attributes map[string]string `yaml:"attributes"`
}

// Link is a foreign key from one entity table to another (asset -> fund).
type Link struct {
	Entity string `yaml:"entity"`
	Column string `yaml:"column"`
}

// EntityDescriptor describes a dimension table.
type EntityDescriptor struct {
	Name              string            `yaml:"-"`
	Table             string            `yaml:"table"`
	Key               string            `yaml:"key"`
	NameColumn        string            `yaml:"name_column"`
	Words             []string          `yaml:"words"`
	Attributes        map[string]string `yaml:"attributes"`
	Profile           []string          `yaml:"profile"`
	Links             []Link            `yaml:"links"`
	DefaultFact       string            `yaml:"default_fact"`
	PerformanceMetric string            `yaml:"performance_metric"`
	Members           []Member          `yaml:"members"`
}

// MemberNames returns the canonical names of every member.
func (e *EntityDescriptor) MemberNames() []string {
	names := make([]string, len(e.Members))
	for i, m := range e.Members {
		names[i] = m.Name
	}
	return names
}

// Member returns the member with the given canonical name.
func (e *EntityDescriptor) Member(name string) (*Member, bool) {
	for i := range e.Members {
		m := &e.Members[i]
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return nil, false
}

// AttributeColumn returns the physical column of a named attribute.
func (e *EntityDescriptor) AttributeColumn(attr string) (string, bool) {
	col, ok := e.Attributes[attr]
	return col, ok
}

// MetricDescriptor describes a measure on a fact table.
type MetricDescriptor struct {
	Key          string             `yaml:"-"`
	Label        string             `yaml:"label"`
	Fact         string             `yaml:"fact"`
	Column       string             `yaml:"column"`
	Aggregations []models.Aggregate `yaml:"aggregations"`
	Default      models.Aggregate   `yaml:"default"`
	Unit         Unit               `yaml:"unit"`
	Synonyms     []string           `yaml:"synonyms"`
}

// Allows reports whether agg is legal for the metric.
func (m *MetricDescriptor) Allows(agg models.Aggregate) bool {
	for _, a := range m.Aggregations {
		if a == agg {
			return true
		}
	}
	return false
}

// AllowedNames returns the legal aggregations as strings.
func (m *MetricDescriptor) AllowedNames() []string {
	out := make([]string, len(m.Aggregations))
	for i, a := range m.Aggregations {
		out[i] = string(a)
	}
	return out
}

// FactDescriptor describes a fact table and its dimension keys.
type FactDescriptor struct {
	Table      string            `yaml:"-"`
	DateKey    string            `yaml:"date_key"`
	Dimensions map[string]string `yaml:"dimensions"` // entity kind -> fact column
}

// TimeDimension describes the calendar table keyed by YYYYMMDD integers.
type TimeDimension struct {
	Table   string `yaml:"table"`
	Key     string `yaml:"key"`
	Year    string `yaml:"year"`
	Quarter string `yaml:"quarter"`
	Month   string `yaml:"month"`
}

// GrainColumns returns the time columns a grain is grouped by, coarsest first.
func (t *TimeDimension) GrainColumns(g models.Grain) []string {
	switch g {
	case models.GrainYear:
		return []string{t.Year}
	case models.GrainQuarter:
		return []string{t.Year, t.Quarter}
	case models.GrainMonth:
		return []string{t.Year, t.Month}
	default:
		return nil
	}
}

// FacetValue is one allowed value of a facet with the phrases that name it.
type FacetValue struct {
	Value    string   `yaml:"value"`
	Synonyms []string `yaml:"synonyms"`
}

// FacetDescriptor is a filterable entity attribute with a closed value set.
type FacetDescriptor struct {
	Name      string       `yaml:"-"`
	Entity    string       `yaml:"entity"`
	Attribute string       `yaml:"attribute"`
	Values    []FacetValue `yaml:"values"`
}

// Catalog is the immutable schema description.
type Catalog struct {
	Name           string
	JoinPreference []string

	entities map[string]*EntityDescriptor
	metrics  map[string]*MetricDescriptor
	facts    map[string]*FactDescriptor
	facets   map[string]*FacetDescriptor
	time     *TimeDimension

	// lowercase word/synonym -> canonical key
	entityWords map[string]string
	metricWords map[string]string
	columns     map[string]map[string]bool
	tableKinds  map[string]string
	graph       *JoinGraph
}

type catalogFile struct {
	Name           string                       `yaml:"name"`
	JoinPreference []string                     `yaml:"join_preference"`
	Time           *TimeDimension               `yaml:"time"`
	Entities       map[string]*EntityDescriptor `yaml:"entities"`
	Facts          map[string]*FactDescriptor   `yaml:"facts"`
	Metrics        map[string]*MetricDescriptor `yaml:"metrics"`
	Facets         map[string]*FacetDescriptor  `yaml:"facets"`
}

// LoadDefault returns the embedded portfolio catalog.
func LoadDefault() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return LoadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds and validates a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if f.Time == nil {
		return nil, fmt.Errorf("catalog has no time dimension")
	}

	c := &Catalog{
		Name:           f.Name,
		JoinPreference: f.JoinPreference,
		entities:       f.Entities,
		metrics:        f.Metrics,
		facts:          f.Facts,
		facets:         f.Facets,
		time:           f.Time,
		entityWords:    make(map[string]string),
		metricWords:    make(map[string]string),
		columns:        make(map[string]map[string]bool),
		tableKinds:     make(map[string]string),
	}
	if len(c.JoinPreference) == 0 {
		c.JoinPreference = []string{"asset", "fund", "lender", TimeKind}
	}
	if c.entities == nil {
		c.entities = map[string]*EntityDescriptor{}
	}
	if c.metrics == nil {
		c.metrics = map[string]*MetricDescriptor{}
	}
	if c.facts == nil {
		c.facts = map[string]*FactDescriptor{}
	}
	if c.facets == nil {
		c.facets = map[string]*FacetDescriptor{}
	}

	if err := c.index(); err != nil {
		return nil, err
	}
	c.graph = buildJoinGraph(c)
	return c, nil
}

func (c *Catalog) addColumn(table, column string) {
	if c.columns[table] == nil {
		c.columns[table] = make(map[string]bool)
	}
	c.columns[table][column] = true
}

// index fills the name and column lookups and validates cross references.
func (c *Catalog) index() error {
	t := c.time
	if t.Table == "" || t.Key == "" {
		return fmt.Errorf("time dimension requires table and key")
	}
	c.tableKinds[t.Table] = TimeKind
	for _, col := range []string{t.Key, t.Year, t.Quarter, t.Month} {
		if col != "" {
			c.addColumn(t.Table, col)
		}
	}

	for kind, e := range c.entities {
		e.Name = kind
		if e.Table == "" || e.Key == "" || e.NameColumn == "" {
			return fmt.Errorf("entity %s requires table, key and name_column", kind)
		}
		c.tableKinds[e.Table] = kind
		c.addColumn(e.Table, e.Key)
		c.addColumn(e.Table, e.NameColumn)
		for _, col := range e.Attributes {
			c.addColumn(e.Table, col)
		}
		for _, l := range e.Links {
			c.addColumn(e.Table, l.Column)
		}
		for _, p := range e.Profile {
			if _, ok := e.Attributes[p]; !ok {
				return fmt.Errorf("entity %s profile references unknown attribute %s", kind, p)
			}
		}
		for _, w := range append([]string{kind}, e.Words...) {
			w = strings.ToLower(w)
			c.entityWords[w] = kind
			c.entityWords[inflection.Plural(w)] = kind
		}
	}

	for kind, e := range c.entities {
		for _, l := range e.Links {
			if _, ok := c.entities[l.Entity]; !ok {
				return fmt.Errorf("entity %s links to unknown entity %s", kind, l.Entity)
			}
		}
	}

	for table, fact := range c.facts {
		fact.Table = table
		c.tableKinds[table] = "fact"
		if fact.DateKey == "" {
			return fmt.Errorf("fact %s requires date_key", table)
		}
		c.addColumn(table, fact.DateKey)
		for kind, col := range fact.Dimensions {
			if _, ok := c.entities[kind]; !ok {
				return fmt.Errorf("fact %s references unknown entity %s", table, kind)
			}
			c.addColumn(table, col)
		}
	}

	for key, m := range c.metrics {
		m.Key = key
		if _, ok := c.facts[m.Fact]; !ok {
			return fmt.Errorf("metric %s references unknown fact %s", key, m.Fact)
		}
		if m.Column == "" {
			return fmt.Errorf("metric %s requires column", key)
		}
		if len(m.Aggregations) == 0 {
			return fmt.Errorf("metric %s declares no aggregations", key)
		}
		for _, a := range m.Aggregations {
			if _, ok := models.ParseAggregate(string(a)); !ok {
				return fmt.Errorf("metric %s declares unknown aggregation %q", key, a)
			}
		}
		if m.Default == models.AggregateNone {
			m.Default = m.Aggregations[0]
		}
		if !m.Allows(m.Default) {
			return fmt.Errorf("metric %s default aggregation %s is not declared legal", key, m.Default)
		}
		if m.Label == "" {
			m.Label = key
		}
		c.addColumn(m.Fact, m.Column)
		c.metricWords[key] = key
		c.metricWords[strings.ToLower(m.Label)] = key
		for _, s := range m.Synonyms {
			c.metricWords[strings.ToLower(s)] = key
		}
	}

	for kind, e := range c.entities {
		if e.DefaultFact != "" {
			if _, ok := c.facts[e.DefaultFact]; !ok {
				return fmt.Errorf("entity %s default_fact references unknown fact %s", kind, e.DefaultFact)
			}
		}
		if e.PerformanceMetric != "" {
			if _, ok := c.metrics[e.PerformanceMetric]; !ok {
				return fmt.Errorf("entity %s performance_metric references unknown metric %s", kind, e.PerformanceMetric)
			}
		}
	}

	for name, f := range c.facets {
		f.Name = name
		e, ok := c.entities[f.Entity]
		if !ok {
			return fmt.Errorf("facet %s references unknown entity %s", name, f.Entity)
		}
		if _, ok := e.Attributes[f.Attribute]; !ok {
			return fmt.Errorf("facet %s references unknown attribute %s.%s", name, f.Entity, f.Attribute)
		}
	}

	return nil
}

// Entity returns the descriptor for an entity kind or any of its words ("properties" -> asset).
func (c *Catalog) Entity(name string) (*EntityDescriptor, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if kind, ok := c.entityWords[n]; ok {
		return c.entities[kind], true
	}
	if kind, ok := c.entityWords[inflection.Singular(n)]; ok {
		return c.entities[kind], true
	}
	return nil, false
}

// EntityKinds returns the entity kinds, sorted.
func (c *Catalog) EntityKinds() []string {
	return sortedKeys(c.entities)
}

// Metric returns the descriptor for a metric key, label or synonym.
func (c *Catalog) Metric(name string) (*MetricDescriptor, bool) {
	if key, ok := c.metricWords[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c.metrics[key], true
	}
	return nil, false
}

// MetricKeys returns the metric keys, sorted.
func (c *Catalog) MetricKeys() []string {
	return sortedKeys(c.metrics)
}

// MetricSynonyms returns every phrase that names a metric, mapped to its key.
func (c *Catalog) MetricSynonyms() map[string]string {
	out := make(map[string]string, len(c.metricWords))
	for k, v := range c.metricWords {
		out[k] = v
	}
	return out
}

// EntityWords returns every word that names an entity kind, mapped to the kind.
func (c *Catalog) EntityWords() map[string]string {
	out := make(map[string]string, len(c.entityWords))
	for k, v := range c.entityWords {
		out[k] = v
	}
	return out
}

// Fact returns the descriptor for a fact table.
func (c *Catalog) Fact(table string) (*FactDescriptor, bool) {
	f, ok := c.facts[table]
	return f, ok
}

// Facet returns the descriptor for a facet.
func (c *Catalog) Facet(name string) (*FacetDescriptor, bool) {
	f, ok := c.facets[name]
	return f, ok
}

// FacetNames returns the facet names, sorted.
func (c *Catalog) FacetNames() []string {
	return sortedKeys(c.facets)
}

// Time returns the time dimension.
func (c *Catalog) Time() *TimeDimension {
	return c.time
}

// FactDimensionJoins returns the precomputed join adjacency.
func (c *Catalog) FactDimensionJoins() *JoinGraph {
	return c.graph
}

// TableKind returns the entity kind of a dimension table, "time", or "fact".
func (c *Catalog) TableKind(table string) string {
	return c.tableKinds[table]
}

// HasColumn reports whether table.column is declared anywhere in the catalog.
func (c *Catalog) HasColumn(table, column string) bool {
	return c.columns[table][column]
}

// Attribute returns a member's attribute value, e.g. an asset's acquisition_date.
func (c *Catalog) Attribute(kind, member, attr string) (string, bool) {
	e, ok := c.entities[kind]
	if !ok {
		return "", false
	}
	m, ok := e.Member(member)
	if !ok {
		return "", false
	}
	v, ok := m.Attributes[attr]
	return v, ok
}

// SuggestMetrics returns metric keys close to name.
func (c *Catalog) SuggestMetrics(name string) []string {
	candidates := make([]string, 0, len(c.metricWords))
	for w := range c.metricWords {
		candidates = append(candidates, w)
	}
	sort.Strings(candidates)

	seen := make(map[string]bool)
	var out []string
	for _, w := range fuzzy.Suggest(name, candidates, 10) {
		key := c.metricWords[w]
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

// SuggestMembers returns canonical member names of kind whose name or alias is close to name.
// An empty kind searches all entities.
func (c *Catalog) SuggestMembers(kind, name string) []string {
	canonical := make(map[string]string)
	var candidates []string
	for _, k := range c.EntityKinds() {
		if kind != "" && k != kind {
			continue
		}
		for _, m := range c.entities[k].Members {
			for _, n := range append([]string{m.Name}, m.Aliases...) {
				if _, dup := canonical[n]; !dup {
					canonical[n] = m.Name
					candidates = append(candidates, n)
				}
			}
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, n := range fuzzy.Suggest(name, candidates, 10) {
		m := canonical[n]
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
		if len(out) == 3 {
			break
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

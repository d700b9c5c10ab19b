package models

import (
	"fmt"
	"sort"
	"time"
)

// ============================================================================
// Roles
// ============================================================================

// Role names the slot a resolved entity fills in a question.
// Catalog facets (property_type, city, ...) are roles too and use the facet name.
type Role string

const (
	RoleMetric           Role = "metric"
	RoleAsset            Role = "asset"
	RoleFund             Role = "fund"
	RoleLender           Role = "lender"
	RoleTimeRange        Role = "time_range"
	RoleComparisonTarget Role = "comparison_target"
	RoleLimit            Role = "limit"
	RoleDirection        Role = "direction"
	RoleAggregate        Role = "aggregate"
	RoleGroupBy          Role = "group_by"
)

// SubjectRoles are the roles naming the thing a question is about.
// Naming any subject in a follow-up replaces all inherited subjects.
var SubjectRoles = []Role{RoleAsset, RoleFund, RoleLender, RoleComparisonTarget}

// IsSubject reports whether r is one of SubjectRoles.
func (r Role) IsSubject() bool {
	for _, s := range SubjectRoles {
		if s == r {
			return true
		}
	}
	return false
}

// MemberRole returns the subject role for an entity kind ("asset" -> RoleAsset).
func MemberRole(kind string) Role {
	return Role(kind)
}

// Source records where a resolved value came from.
type Source string

const (
	SourceExplicit  Source = "explicit"
	SourceInherited Source = "inherited_from_context"
	SourceDefault   Source = "default"
)

// ============================================================================
// Date ranges
// ============================================================================

// DateRange is an inclusive calendar-day range.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DateKey converts a date to the warehouse's YYYYMMDD integer key.
func DateKey(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// StartKey returns the first day of the range as a YYYYMMDD key.
func (d DateRange) StartKey() int { return DateKey(d.Start) }

// EndKey returns the last day of the range as a YYYYMMDD key.
func (d DateRange) EndKey() int { return DateKey(d.End) }

// Span returns the length of the range.
func (d DateRange) Span() time.Duration {
	return d.End.Sub(d.Start) + 24*time.Hour
}

func (d DateRange) String() string {
	return fmt.Sprintf("%s..%s", d.Start.Format(time.DateOnly), d.End.Format(time.DateOnly))
}

// ============================================================================
// Resolved entities
// ============================================================================

// ResolvedEntity is one role/value pair extracted from (or carried into) a question.
type ResolvedEntity struct {
	Role       Role       `json:"role"`
	Value      string     `json:"value"`
	Kind       string     `json:"kind,omitempty"` // entity kind for subjects and comparison targets
	Range      *DateRange `json:"range,omitempty"`
	Confidence float64    `json:"confidence"`
	Source     Source     `json:"source"`
	Mention    string     `json:"mention,omitempty"`
}

// Entities is the resolved entity set of one question. A role may hold several
// entities (two comparison targets, several assets in a filter).
type Entities []ResolvedEntity

// Get returns the first entity for role.
func (e Entities) Get(role Role) (ResolvedEntity, bool) {
	for _, ent := range e {
		if ent.Role == role {
			return ent, true
		}
	}
	return ResolvedEntity{}, false
}

// All returns every entity for role, in resolution order.
func (e Entities) All(role Role) []ResolvedEntity {
	var out []ResolvedEntity
	for _, ent := range e {
		if ent.Role == role {
			out = append(out, ent)
		}
	}
	return out
}

// Has reports whether any entity fills role.
func (e Entities) Has(role Role) bool {
	_, ok := e.Get(role)
	return ok
}

// Values returns the values of every entity for role.
func (e Entities) Values(role Role) []string {
	var out []string
	for _, ent := range e.All(role) {
		out = append(out, ent.Value)
	}
	return out
}

// Roles returns the distinct roles present, sorted.
func (e Entities) Roles() []Role {
	seen := make(map[Role]bool)
	var out []Role
	for _, ent := range e {
		if !seen[ent.Role] {
			seen[ent.Role] = true
			out = append(out, ent.Role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RolesFrom returns the distinct role names filled from source, sorted.
func (e Entities) RolesFrom(source Source) []string {
	var from Entities
	for _, ent := range e {
		if ent.Source == source {
			from = append(from, ent)
		}
	}
	roles := from.Roles()
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

// HasSubject reports whether any subject role is filled.
func (e Entities) HasSubject() bool {
	for _, ent := range e {
		if ent.Role.IsSubject() {
			return true
		}
	}
	return false
}

// TimeRange returns the resolved time range, if any.
func (e Entities) TimeRange() *DateRange {
	if ent, ok := e.Get(RoleTimeRange); ok {
		return ent.Range
	}
	return nil
}

package resolver

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	"github.com/ekaya-inc/portfolio-chat/pkg/normalizer"
)

// turnContext serves Latest from one prior turn's entities.
type turnContext struct {
	entities models.Entities
}

func (c *turnContext) Latest(role models.Role) []models.ResolvedEntity {
	return c.entities.All(role)
}

type fixture struct {
	norm *normalizer.Normalizer
	res  *Resolver
	now  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	return &fixture{
		norm: normalizer.New(cat, true),
		res:  New(cat, 10),
		now:  date(2025, time.March, 15),
	}
}

func (f *fixture) resolve(t *testing.T, question string, ctx Context) *Resolution {
	t.Helper()
	res, err := f.res.Resolve(f.norm.Analyze(question), ctx, f.now)
	require.NoError(t, err, question)
	return res
}

func get(t *testing.T, e models.Entities, role models.Role) models.ResolvedEntity {
	t.Helper()
	ent, ok := e.Get(role)
	require.True(t, ok, "role %s not resolved", role)
	return ent
}

func TestResolve_RankingQuestion(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "Show me our top 5 performing multifamily assets by NOI in 2024", nil)

	metric := get(t, res.Entities, models.RoleMetric)
	assert.Equal(t, "noi", metric.Value)
	assert.Equal(t, models.SourceExplicit, metric.Source)

	pt := get(t, res.Entities, "property_type")
	assert.Equal(t, "Multifamily", pt.Value)
	assert.Equal(t, "asset", pt.Kind)

	tr := get(t, res.Entities, models.RoleTimeRange)
	require.NotNil(t, tr.Range)
	assert.Equal(t, date(2024, 1, 1), tr.Range.Start)
	assert.Equal(t, date(2024, 12, 31), tr.Range.End)
	assert.Equal(t, models.SourceExplicit, tr.Source)

	assert.Equal(t, "5", get(t, res.Entities, models.RoleLimit).Value)
	assert.Equal(t, "desc", get(t, res.Entities, models.RoleDirection).Value)
	assert.Equal(t, "asset", get(t, res.Entities, models.RoleGroupBy).Value)

	assert.True(t, res.Cues.Ranking)
	assert.False(t, res.Entities.HasSubject())
	assert.Empty(t, res.Unresolved)
}

func TestResolve_FollowUpInheritsContext(t *testing.T) {
	f := newFixture(t)

	first := f.resolve(t, "Show me our top 5 performing multifamily assets by NOI in 2024", nil)
	ctx := &turnContext{entities: first.Entities}

	res := f.resolve(t, "what about by occupancy instead?", ctx)

	metric := get(t, res.Entities, models.RoleMetric)
	assert.Equal(t, "occupancy", metric.Value)
	assert.Equal(t, models.SourceExplicit, metric.Source)

	pt := get(t, res.Entities, "property_type")
	assert.Equal(t, "Multifamily", pt.Value)
	assert.Equal(t, models.SourceInherited, pt.Source)

	tr := get(t, res.Entities, models.RoleTimeRange)
	assert.Equal(t, models.SourceInherited, tr.Source)
	assert.Equal(t, date(2024, 1, 1), tr.Range.Start)

	limit := get(t, res.Entities, models.RoleLimit)
	assert.Equal(t, "5", limit.Value)
	assert.Equal(t, models.SourceInherited, limit.Source)

	assert.True(t, res.Cues.FollowUp)
	assert.Len(t, res.Entities.All(models.RoleMetric), 1, "explicit metric replaces the inherited one")
}

// For a question naming nothing new, every inherited role equals the previous turn's value.
func TestResolve_ContextCarryInvariant(t *testing.T) {
	f := newFixture(t)

	previous := []string{
		"Show me our top 5 performing multifamily assets by NOI in 2024",
		"Compare Fund II and Fund III IRR last year",
		"What is the NOI for Parkview in Q1 2024",
		"total equity for Fund II",
		"average occupancy of office assets in Denver since 2021",
	}
	followUps := []string{"what about it?", "and again", "show me that"}

	for _, p := range previous {
		prev := f.resolve(t, p, nil)
		ctx := &turnContext{entities: prev.Entities}

		for _, q := range followUps {
			t.Run(p+" / "+q, func(t *testing.T) {
				res := f.resolve(t, q, ctx)
				for _, e := range res.Entities {
					if e.Source != models.SourceInherited {
						continue
					}
					want := prev.Entities.All(e.Role)
					require.NotEmpty(t, want)
					got := res.Entities.All(e.Role)
					require.Len(t, got, len(want))
					for i := range want {
						assert.Equal(t, want[i].Value, got[i].Value)
						assert.Equal(t, want[i].Range, got[i].Range)
					}
				}
				for _, role := range prev.Entities.Roles() {
					assert.True(t, res.Entities.Has(role), "role %s not carried", role)
				}
			})
		}
	}
}

func TestResolve_DropsUnreachableInheritedContext(t *testing.T) {
	f := newFixture(t)

	first := f.resolve(t, "Show me our top 5 performing multifamily assets by NOI in 2024", nil)
	ctx := &turnContext{entities: first.Entities}

	t.Run("fund metric drops asset facet and grouping", func(t *testing.T) {
		res := f.resolve(t, "Compare Fund II and Fund III IRR", ctx)
		assert.False(t, res.Entities.Has("property_type"))
		assert.False(t, res.Entities.Has(models.RoleGroupBy))
		assert.Equal(t, "irr", get(t, res.Entities, models.RoleMetric).Value)
		assert.Len(t, res.Entities.All(models.RoleComparisonTarget), 2)
	})

	t.Run("asset metric keeps them", func(t *testing.T) {
		res := f.resolve(t, "what about by occupancy instead?", ctx)
		assert.Equal(t, models.SourceInherited, get(t, res.Entities, "property_type").Source)
		assert.Equal(t, "asset", get(t, res.Entities, models.RoleGroupBy).Value)
	})

	t.Run("comparison targets replace grouping", func(t *testing.T) {
		res := f.resolve(t, "Compare Oakview and Parkview", ctx)
		assert.False(t, res.Entities.Has(models.RoleGroupBy))
		assert.Equal(t, "Multifamily", get(t, res.Entities, "property_type").Value)
	})
}

func TestResolve_Comparison(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "Compare Fund II and Fund III IRR", nil)

	targets := res.Entities.All(models.RoleComparisonTarget)
	require.Len(t, targets, 2)
	assert.Equal(t, "Fund II", targets[0].Value)
	assert.Equal(t, "Fund III", targets[1].Value)
	for _, target := range targets {
		assert.Equal(t, "fund", target.Kind)
	}
	assert.Equal(t, "irr", get(t, res.Entities, models.RoleMetric).Value)
	assert.True(t, res.Cues.Comparison)
}

func TestResolve_ComparisonWithUnknownFund(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "Compare Fund II and Fund IX IRR", nil)

	targets := res.Entities.All(models.RoleComparisonTarget)
	require.Len(t, targets, 1)
	assert.Equal(t, "Fund II", targets[0].Value)

	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, models.RoleFund, res.Unresolved[0].Role)
	assert.Equal(t, "Fund IX", res.Unresolved[0].Mention)
	assert.Contains(t, res.Unresolved[0].Suggestions, "Fund II")
	assert.Equal(t, "irr", get(t, res.Entities, models.RoleMetric).Value)
}

func TestResolve_Ambiguity(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name           string
		question       string
		wantCandidates []string
	}{
		{
			name:           "shared alias",
			question:       "What is the NOI for Harbor Point?",
			wantCandidates: []string{"Harbor Point Lofts", "Harbor Point Plaza"},
		},
		{
			name:           "two assets for a singular question",
			question:       "NOI for Oakview and Parkview",
			wantCandidates: []string{"Oakview Apartments", "Parkview Commons"},
		},
		{
			name:           "fuzzy name close to two members",
			question:       "revenue for Harbor Pointe",
			wantCandidates: []string{"Harbor Point Lofts", "Harbor Point Plaza"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.res.Resolve(f.norm.Analyze(tt.question), nil, f.now)
			require.Error(t, err)

			var amb *apperrors.AmbiguityError
			require.True(t, errors.As(err, &amb))
			assert.Equal(t, "asset", amb.Role)
			assert.Equal(t, tt.wantCandidates, amb.Candidates)
		})
	}
}

func TestResolve_SeveralMembersWithRankingCue(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "rank Oakview, Parkview and Riverside by revenue", nil)

	assert.Equal(t, []string{"Oakview Apartments", "Parkview Commons", "Riverside Tower"},
		res.Entities.Values(models.RoleAsset))
	assert.Equal(t, "revenue", get(t, res.Entities, models.RoleMetric).Value)
}

func TestResolve_FuzzyMemberName(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "What is the NOI for Oakveiw", nil)

	asset := get(t, res.Entities, models.RoleAsset)
	assert.Equal(t, "Oakview Apartments", asset.Value)
	assert.Equal(t, fuzzyConfidence, asset.Confidence)
	assert.Equal(t, "Oakveiw", asset.Mention)
}

func TestResolve_MisspelledQuestion(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "show me teh NOI for Parkview", nil)
	assert.Equal(t, "Parkview Commons", get(t, res.Entities, models.RoleAsset).Value)
	assert.Equal(t, "noi", get(t, res.Entities, models.RoleMetric).Value)

	res = f.resolve(t, "what is the occupnacy at Oakview", nil)
	assert.Equal(t, "Oakview Apartments", get(t, res.Entities, models.RoleAsset).Value)
	assert.Equal(t, "occupancy", get(t, res.Entities, models.RoleMetric).Value)
}

func TestResolve_SinceAcquisition(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "NOI for Oakview since acquisition", nil)

	tr := get(t, res.Entities, models.RoleTimeRange)
	assert.Equal(t, date(2019, 6, 15), tr.Range.Start)
	assert.Equal(t, f.now, tr.Range.End)
	assert.True(t, res.Cues.Trend)

	// The asset may come from context.
	ctx := &turnContext{entities: res.Entities}
	res = f.resolve(t, "and revenue since we acquired it", ctx)
	assert.Equal(t, date(2019, 6, 15), get(t, res.Entities, models.RoleTimeRange).Range.Start)

	// Without any asset the range cannot be anchored.
	_, err := f.res.Resolve(f.norm.Analyze("total noi since acquisition"), nil, f.now)
	var inc *apperrors.IncompleteQueryError
	require.True(t, errors.As(err, &inc))
	assert.Equal(t, []string{"asset"}, inc.Missing)
}

func TestResolve_PeriodAfterCurrentDate(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		question string
		wantErr  bool
	}{
		{"NOI trend for Parkview since 2030", true},
		{"total NOI in 2031", true},
		{"NOI for Parkview in q1 2027", true},
		{"NOI for Parkview this year", false},
		{"NOI trend for Parkview since 2025", false},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			res, err := f.res.Resolve(f.norm.Analyze(tt.question), nil, f.now)
			if !tt.wantErr {
				require.NoError(t, err)
				tr := get(t, res.Entities, models.RoleTimeRange)
				assert.False(t, tr.Range.Start.After(f.now))
				return
			}
			var inc *apperrors.IncompleteQueryError
			require.True(t, errors.As(err, &inc), "got %v", err)
			assert.Equal(t, []string{string(models.RoleTimeRange)}, inc.Missing)
			assert.Contains(t, inc.Reason, "begins after 2025-03-15")
		})
	}
}

func TestResolve_SubjectInheritance(t *testing.T) {
	f := newFixture(t)

	prev := f.resolve(t, "total equity for Fund II in 2023", nil)
	ctx := &turnContext{entities: prev.Entities}

	t.Run("no subject named inherits", func(t *testing.T) {
		res := f.resolve(t, "what about last year?", ctx)
		fund := get(t, res.Entities, models.RoleFund)
		assert.Equal(t, "Fund II", fund.Value)
		assert.Equal(t, models.SourceInherited, fund.Source)
		assert.Equal(t, "equity", get(t, res.Entities, models.RoleMetric).Value)
		assert.Equal(t, "sum", get(t, res.Entities, models.RoleAggregate).Value)
		assert.Equal(t, date(2024, 1, 1), get(t, res.Entities, models.RoleTimeRange).Range.Start)
	})

	t.Run("named subject replaces", func(t *testing.T) {
		res := f.resolve(t, "what about Fund III?", ctx)
		assert.Equal(t, []string{"Fund III"}, res.Entities.Values(models.RoleFund))
		assert.Equal(t, models.SourceExplicit, get(t, res.Entities, models.RoleFund).Source)
	})

	t.Run("grouping by the subject kind does not filter", func(t *testing.T) {
		res := f.resolve(t, "top 3 funds by irr", ctx)
		assert.False(t, res.Entities.Has(models.RoleFund))
		assert.Equal(t, "fund", get(t, res.Entities, models.RoleGroupBy).Value)
	})

	t.Run("grouping by the kind of carried comparison targets does not filter", func(t *testing.T) {
		cmp := f.resolve(t, "Compare Fund II and Fund III IRR", nil)
		res := f.resolve(t, "Give me total equity for each fund", &turnContext{entities: cmp.Entities})
		assert.False(t, res.Entities.Has(models.RoleComparisonTarget))
		assert.Equal(t, "fund", get(t, res.Entities, models.RoleGroupBy).Value)
	})

	t.Run("unresolved subject blocks inheritance", func(t *testing.T) {
		res := f.resolve(t, "what about Fund IX?", ctx)
		assert.False(t, res.Entities.Has(models.RoleFund))
		require.Len(t, res.Unresolved, 1)
	})
}

func TestResolve_Defaults(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "NOI for Oakview", nil)

	tr := get(t, res.Entities, models.RoleTimeRange)
	assert.Equal(t, models.SourceDefault, tr.Source)
	assert.Equal(t, date(2024, 3, 16), tr.Range.Start)
	assert.Equal(t, f.now, tr.Range.End)

	limit := get(t, res.Entities, models.RoleLimit)
	assert.Equal(t, "10", limit.Value)
	assert.Equal(t, models.SourceDefault, limit.Source)

	assert.Equal(t, models.SourceDefault, get(t, res.Entities, models.RoleDirection).Source)
	assert.False(t, res.Entities.Has(models.RoleAggregate))
}

func TestResolve_PerformanceMetricDefault(t *testing.T) {
	f := newFixture(t)

	res := f.resolve(t, "best performing funds", nil)

	metric := get(t, res.Entities, models.RoleMetric)
	assert.Equal(t, "irr", metric.Value)
	assert.Equal(t, models.SourceDefault, metric.Source)
}

func TestResolve_UnknownMetric(t *testing.T) {
	f := newFixture(t)

	prev := f.resolve(t, "top 5 assets by noi", nil)
	res := f.resolve(t, "top 5 assets by caprate", &turnContext{entities: prev.Entities})

	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, models.RoleMetric, res.Unresolved[0].Role)
	assert.Equal(t, "caprate", res.Unresolved[0].Mention)
	assert.False(t, res.Entities.Has(models.RoleMetric), "an unknown metric is never replaced by the previous one")
}

func TestResolve_Deterministic(t *testing.T) {
	f := newFixture(t)

	q := "Compare the occupancy of Oakview vs Parkview in Q3 2024"
	first := f.resolve(t, q, nil)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, f.resolve(t, q, nil))
	}
}

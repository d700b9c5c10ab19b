// Package insight turns a query result into a short narrative. Narratives are
// built from templates that only substitute result values, row labels and
// simple derivations of those values (differences, percentage changes, means),
// so every figure a user reads can be traced back to the result.
package insight

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/llm"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	"github.com/ekaya-inc/portfolio-chat/pkg/prompts"
	"github.com/ekaya-inc/portfolio-chat/pkg/retry"
)

// NoDataNarrative is returned for empty results.
const NoDataNarrative = "There are no matching records for this question. Try widening the time range or removing a filter."

const (
	// maxListed bounds how many rows a narrative names.
	maxListed = 10
	// maxConfidence applies when every metric cell is populated.
	maxConfidence = 0.95

	phraseTemperature = 0.2
)

// Generator is safe for concurrent use.
type Generator struct {
	cat    *catalog.Catalog
	model  llm.LLMClient
	retry  *retry.Config
	logger *zap.Logger
}

// New creates a generator. model may be nil, in which case template narratives
// are returned as is.
func New(cat *catalog.Catalog, model llm.LLMClient, timeout time.Duration, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		cat:    cat,
		model:  model,
		retry:  retry.CollaboratorConfig(timeout, 1),
		logger: logger.Named("insight"),
	}
}

// Generate explains result in the terms of plan. question is only used to
// give the phrasing model context. An error is returned only for a nil plan
// or when ctx is cancelled while the model is phrasing.
func (g *Generator) Generate(ctx context.Context, question string, plan *models.QueryPlan, result *models.ResultSet) (*models.Insight, error) {
	if plan == nil {
		return nil, errors.New("insight: nil plan")
	}
	if result == nil || len(result.Rows) == 0 {
		return &models.Insight{Narrative: NoDataNarrative, CitedFacts: []models.Fact{}, Confidence: 1}, nil
	}

	ins := g.explain(plan, result)
	if g.model == nil {
		return ins, nil
	}
	if err := g.phrase(ctx, question, ins); err != nil {
		return nil, err
	}
	return ins, nil
}

// phrase lets the model reword the narrative. The reworded text is kept only
// when every number in it already appears in the template narrative.
func (g *Generator) phrase(ctx context.Context, question string, ins *models.Insight) error {
	prompt := prompts.BuildPhrasingPrompt(question, ins.Narrative, ins.CitedFacts)
	system := prompts.BuildPhrasingSystemMessage()

	resp, out, err := retry.DoWithTimeout(ctx, g.retry, func(ctx context.Context) (*llm.GenerateResponseResult, error) {
		return g.model.GenerateResponse(ctx, prompt, system, phraseTemperature, false)
	})
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("phrase insight: %w", err)
		}
		g.logger.Warn("Narrative phrasing failed, keeping template",
			zap.Int("attempts", out.Attempts),
			zap.Bool("timed_out", out.TimedOut),
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Error(err))
		return nil
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil
	}
	if extra := unsupportedNumbers(text, ins.Narrative); len(extra) > 0 {
		g.logger.Info("Rejected phrased narrative citing figures outside the result",
			zap.Strings("numbers", extra))
		return nil
	}
	ins.Narrative = text
	ins.Phrased = true
	return nil
}

// measure is a metric column of the result.
type measure struct {
	alias string
	label string
	unit  catalog.Unit
	agg   models.Aggregate
	// kind is set for member counts ("asset" for asset_count).
	kind string
}

// layout is how a plan's select list maps onto narrative roles.
type layout struct {
	measures []measure
	// entity is the alias of the member-name column, empty for portfolio-wide results.
	entity string
	// attrs are profile attributes shown next to the entity.
	attrs []string
}

var periodAliases = map[string]bool{"year": true, "quarter": true, "month": true}

func (g *Generator) layout(plan *models.QueryPlan) layout {
	var l layout
	for _, s := range plan.Select {
		switch {
		case s.IsMetric():
			l.measures = append(l.measures, g.measure(s))
		case periodAliases[s.Alias]:
			// periods label trend points, see periodOf
		case l.entity == "":
			l.entity = s.Alias
		default:
			l.attrs = append(l.attrs, s.Alias)
		}
	}
	return l
}

func (g *Generator) measure(s models.SelectItem) measure {
	m := measure{alias: s.Alias, label: humanize(s.Alias), unit: catalog.UnitNumber, agg: s.Aggregate}
	if s.Metric != "" && g.cat != nil {
		if md, ok := g.cat.Metric(s.Metric); ok {
			m.label = md.Label
			m.unit = md.Unit
			return m
		}
	}
	if s.Aggregate == models.AggregateCount {
		m.unit = catalog.UnitCount
		m.kind = strings.TrimSuffix(s.Alias, "_count")
	}
	return m
}

// narrative accumulates sentences together with the facts they cite.
type narrative struct {
	sentences []string
	facts     []models.Fact
	stats     map[string]float64
}

// cite formats v and records it as a fact.
func (n *narrative) cite(label string, v float64, unit catalog.Unit, derived bool) string {
	d := FormatNumber(v, unit)
	n.facts = append(n.facts, models.Fact{Label: label, Value: v, Display: d, Derived: derived})
	return d
}

func (n *narrative) say(format string, args ...any) {
	n.sentences = append(n.sentences, fmt.Sprintf(format, args...))
}

func (n *narrative) stat(key string, v float64) {
	n.stats[key] = v
}

func (g *Generator) explain(plan *models.QueryPlan, result *models.ResultSet) *models.Insight {
	l := g.layout(plan)
	n := &narrative{stats: make(map[string]float64)}

	if len(l.measures) == 0 {
		n.say("The matching records are listed in the table.")
	} else {
		switch plan.Intent {
		case models.IntentRanking:
			g.ranking(n, l, result.Rows)
		case models.IntentTrend:
			g.trend(n, l, result.Rows)
		case models.IntentComparison:
			g.comparison(n, l, result.Rows)
		case models.IntentAggregation:
			g.aggregation(n, l, result.Rows)
		default:
			g.lookup(n, l, result.Rows)
		}
	}

	return &models.Insight{
		Narrative:  strings.Join(n.sentences, " "),
		CitedFacts: n.facts,
		Confidence: confidence(l, result.Rows),
		Stats:      n.stats,
	}
}

// confidence scales with the share of metric cells that are populated.
func confidence(l layout, rows []map[string]any) float64 {
	total, filled := 0, 0
	for _, row := range rows {
		for _, m := range l.measures {
			total++
			if _, ok := toFloat(row[m.alias]); ok {
				filled++
			}
		}
	}
	if total == 0 {
		return maxConfidence
	}
	return math.Round(maxConfidence*float64(filled)/float64(total)*100) / 100
}

func (l layout) subject(row map[string]any) string {
	if l.entity == "" {
		return "The portfolio"
	}
	return labelText(row[l.entity])
}

// lookup reads out every metric of every listed row.
func (g *Generator) lookup(n *narrative, l layout, rows []map[string]any) {
	for i, row := range rows {
		if i == maxListed {
			n.say("Further rows are listed in the table.")
			break
		}
		subject := l.subject(row)
		var parts []string
		for _, m := range l.measures {
			v, ok := toFloat(row[m.alias])
			if !ok {
				parts = append(parts, "no reported "+m.label)
				continue
			}
			parts = append(parts, fmt.Sprintf("%s of %s", m.label, n.cite(subject+" "+m.label, v, m.unit, false)))
			if len(rows) == 1 {
				n.stat(m.alias, v)
			}
		}
		n.say("%s has %s.", subject, joinList(parts))

		var profile []string
		for _, a := range l.attrs {
			if cell, ok := row[a]; ok && cell != nil {
				profile = append(profile, humanize(a)+" "+labelText(cell))
			}
		}
		if len(profile) > 0 {
			n.say("Profile: %s.", joinList(profile))
		}
	}
}

type ranked struct {
	label string
	value float64
}

// ranking names the leader and the laggard, the spread between them and any outliers.
func (g *Generator) ranking(n *narrative, l layout, rows []map[string]any) {
	m := l.measures[0]
	var items []ranked
	for _, row := range rows {
		if v, ok := toFloat(row[m.alias]); ok {
			items = append(items, ranked{label: l.subject(row), value: v})
		}
	}
	if len(items) == 0 {
		n.say("None of the matching rows report %s.", m.label)
		return
	}

	leader := items[0]
	if len(items) == 1 {
		n.say("%s is the only match, with %s of %s.", leader.label, m.label,
			n.cite(leader.label+" "+m.label, leader.value, m.unit, false))
		n.stat("leader", leader.value)
		return
	}

	laggard := items[len(items)-1]
	n.say("%s ranks first on %s with %s.", leader.label, m.label,
		n.cite(leader.label+" "+m.label, leader.value, m.unit, false))

	var middle []string
	for _, it := range items[1 : len(items)-1] {
		if len(middle) == maxListed-2 {
			break
		}
		middle = append(middle, fmt.Sprintf("%s (%s)", it.label, n.cite(it.label+" "+m.label, it.value, m.unit, false)))
	}
	if len(middle) > 0 {
		n.say("It is followed by %s.", joinList(middle))
	}

	n.say("%s is last with %s.", laggard.label, n.cite(laggard.label+" "+m.label, laggard.value, m.unit, false))

	spread := math.Abs(leader.value - laggard.value)
	n.say("The spread between first and last is %s.", n.cite("spread", spread, m.unit, true))

	values := make([]float64, len(items))
	for i, it := range items {
		values[i] = it.value
	}
	out := outliers(values)
	if len(out) > 0 {
		avg := mean(values)
		avgText := n.cite("mean "+m.label, avg, m.unit, true)
		for _, i := range out {
			n.say("%s stands out at %s, more than two standard deviations from the mean of %s.",
				items[i].label, n.cite(items[i].label+" "+m.label, items[i].value, m.unit, false), avgText)
		}
	}

	n.stat("leader", leader.value)
	n.stat("laggard", laggard.value)
	n.stat("spread", spread)
	n.stat("mean", mean(values))
	n.stat("stddev", stddev(values))
	n.stat("outliers", float64(len(out)))
}

type point struct {
	period string
	value  float64
}

type series struct {
	name   string
	points []point
}

// trend describes each series by the sign of its slope and its first-to-last change.
func (g *Generator) trend(n *narrative, l layout, rows []map[string]any) {
	m := l.measures[0]

	var all []*series
	byName := make(map[string]*series)
	for _, row := range rows {
		v, ok := toFloat(row[m.alias])
		if !ok {
			continue
		}
		name := ""
		if l.entity != "" {
			name = labelText(row[l.entity])
		}
		s, ok := byName[name]
		if !ok {
			s = &series{name: name}
			byName[name] = s
			all = append(all, s)
		}
		s.points = append(s.points, point{period: periodOf(row), value: v})
	}
	if len(all) == 0 {
		n.say("None of the matching periods report %s.", m.label)
		return
	}

	for _, s := range all {
		subject := m.label
		prefix := ""
		if s.name != "" {
			subject = m.label + " for " + s.name
			if len(all) > 1 {
				prefix = s.name + "."
			}
		}
		g.describeSeries(n, capitalize(subject), m, s, prefix)
	}
}

func (g *Generator) describeSeries(n *narrative, subject string, m measure, s *series, statPrefix string) {
	first, last := s.points[0], s.points[len(s.points)-1]
	if len(s.points) == 1 {
		n.say("%s was %s in %s; a single period does not show a trend.", subject,
			n.cite(subject+" "+first.period, first.value, m.unit, false), first.period)
		n.stat(statPrefix+"first", first.value)
		return
	}

	values := make([]float64, len(s.points))
	for i, p := range s.points {
		values[i] = p.value
	}
	sl := slope(values)

	direction := "held steady"
	switch {
	case sl > 0:
		direction = "trended upward"
	case sl < 0:
		direction = "trended downward"
	}

	sentence := fmt.Sprintf("%s %s, moving from %s in %s to %s in %s", subject, direction,
		n.cite(subject+" "+first.period, first.value, m.unit, false), first.period,
		n.cite(subject+" "+last.period, last.value, m.unit, false), last.period)

	change := last.value - first.value
	if pct, ok := pctChange(first.value, last.value); ok && change != 0 {
		word := "an increase"
		if change < 0 {
			word = "a decrease"
		}
		sentence += fmt.Sprintf(" (%s of %s)", word, n.cite(subject+" change", math.Abs(pct), catalog.UnitPercent, true))
		n.stat(statPrefix+"change_pct", pct)
	}
	n.say("%s.", sentence)

	peak := 0
	for i, v := range values {
		if v > values[peak] {
			peak = i
		}
	}
	if peak != 0 && peak != len(values)-1 {
		p := s.points[peak]
		n.say("It peaked at %s in %s.", n.cite(subject+" peak", p.value, m.unit, false), p.period)
	}

	n.stat(statPrefix+"slope", sl)
	n.stat(statPrefix+"first", first.value)
	n.stat(statPrefix+"last", last.value)
	n.stat(statPrefix+"change", change)
}

// comparison states each metric for both targets with their difference.
func (g *Generator) comparison(n *narrative, l layout, rows []map[string]any) {
	if len(rows) < 2 {
		g.lookup(n, l, rows)
		n.say("The other target has no matching records.")
		return
	}
	a, b := rows[0], rows[1]
	la, lb := l.subject(a), l.subject(b)

	for i, m := range l.measures {
		va, okA := toFloat(a[m.alias])
		vb, okB := toFloat(b[m.alias])
		switch {
		case !okA && !okB:
			n.say("Neither %s nor %s reports %s.", la, lb, m.label)
			continue
		case !okA:
			n.say("%s has no reported %s; %s has %s.", la, m.label, lb, n.cite(lb+" "+m.label, vb, m.unit, false))
			continue
		case !okB:
			n.say("%s has %s of %s; %s has none reported.", la, m.label, n.cite(la+" "+m.label, va, m.unit, false), lb)
			continue
		}

		n.say("%s has %s of %s compared with %s for %s.", la, m.label,
			n.cite(la+" "+m.label, va, m.unit, false), n.cite(lb+" "+m.label, vb, m.unit, false), lb)

		delta := va - vb
		if delta == 0 {
			n.say("The two are level.")
		} else {
			word := "higher"
			if delta < 0 {
				word = "lower"
			}
			deltaUnit := m.unit
			if m.unit == catalog.UnitPercent {
				deltaUnit = unitPoints
			}
			diff := fmt.Sprintf("%s is %s by %s", la, word, n.cite("difference in "+m.label, math.Abs(delta), deltaUnit, true))
			if pct, ok := pctChange(vb, va); ok {
				diff += fmt.Sprintf(" (%s)", n.cite("relative difference in "+m.label, math.Abs(pct), catalog.UnitPercent, true))
			}
			n.say("%s.", diff)
		}

		if i == 0 {
			n.stat("delta", delta)
			if pct, ok := pctChange(vb, va); ok {
				n.stat("delta_pct", pct)
			}
		}
	}
}

var aggregatePhrase = map[models.Aggregate]string{
	models.AggregateSum:   "Total",
	models.AggregateAvg:   "Average",
	models.AggregateMin:   "Lowest",
	models.AggregateMax:   "Highest",
	models.AggregateCount: "Number of",
}

// aggregation reports the aggregate, per group when the plan is grouped.
func (g *Generator) aggregation(n *narrative, l layout, rows []map[string]any) {
	if l.entity == "" {
		row := rows[0]
		for _, m := range l.measures {
			v, ok := toFloat(row[m.alias])
			if !ok {
				n.say("No %s is reported for the matching records.", m.label)
				continue
			}
			n.stat(m.alias, v)
			if m.kind != "" {
				verb := "are"
				if v == 1 {
					verb = "is"
				}
				n.say("There %s %s matching %s.", verb, n.cite(m.alias, v, m.unit, false), kindNoun(m.kind, v))
				continue
			}
			n.say("%s %s is %s.", aggregatePhrase[m.agg], m.label, n.cite(m.label, v, m.unit, false))
		}
		return
	}

	m := l.measures[0]
	var parts []string
	found := false
	var bestValue float64
	var bestLabel string
	for _, row := range rows {
		v, ok := toFloat(row[m.alias])
		if !ok {
			continue
		}
		label := l.subject(row)
		if len(parts) < maxListed {
			parts = append(parts, fmt.Sprintf("%s %s", label, n.cite(label+" "+m.label, v, m.unit, false)))
		}
		if !found || v > bestValue {
			found, bestValue, bestLabel = true, v, label
		}
	}
	if len(parts) == 0 {
		n.say("No %s is reported for the matching records.", m.label)
		return
	}
	phrase := aggregatePhrase[m.agg]
	if phrase == "" {
		phrase = "Reported"
	}
	n.say("%s %s by %s: %s.", phrase, m.label, humanize(l.entity), joinList(parts))
	if len(rows) > maxListed {
		n.say("Further groups are listed in the table.")
	}
	if len(parts) > 1 {
		n.say("%s is highest with %s.", bestLabel, n.cite(bestLabel+" "+m.label, bestValue, m.unit, false))
	}
	n.stat("max", bestValue)
}

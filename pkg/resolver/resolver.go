// Package resolver extracts domain entities and time ranges from a normalized
// question and fills roles the question leaves out from conversation context.
package resolver

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/fuzzy"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	"github.com/ekaya-inc/portfolio-chat/pkg/normalizer"
)

const (
	// Longest catalog phrase matched, in tokens.
	maxPhraseTokens = 5
	// Confidence of a member found by fuzzy lookup rather than exact match.
	fuzzyConfidence = 0.75
)

// Context exposes the most recent committed value of each role.
// conversation.State implements it.
type Context interface {
	Latest(role models.Role) []models.ResolvedEntity
}

// Resolution is the outcome of resolving one question.
type Resolution struct {
	Entities   models.Entities
	Unresolved []models.UnresolvedMention
	Cues       normalizer.Cues
}

// Explicit returns the entities named in the question itself.
func (r *Resolution) Explicit() models.Entities {
	var out models.Entities
	for _, e := range r.Entities {
		if e.Source == models.SourceExplicit {
			out = append(out, e)
		}
	}
	return out
}

// UnresolvedRoles returns the distinct roles of unresolved mentions.
func (r *Resolution) UnresolvedRoles() []models.Role {
	seen := make(map[models.Role]bool)
	var out []models.Role
	for _, u := range r.Unresolved {
		if !seen[u.Role] {
			seen[u.Role] = true
			out = append(out, u.Role)
		}
	}
	return out
}

type memberRef struct {
	kind string
	name string
}

// phraseEntry is everything a lowercase phrase can name in the catalog.
type phraseEntry struct {
	members    []memberRef
	metric     string
	facet      string
	facetValue string
	kind       string
}

// memberName is one name or alias of a member, tokenized for fuzzy lookup.
type memberName struct {
	tokens []string
	ref    memberRef
}

// Resolver maps question tokens onto the catalog. It is immutable after New
// and safe for concurrent use.
type Resolver struct {
	cat          *catalog.Catalog
	defaultLimit int

	phrases     map[string]*phraseEntry
	memberNames []memberName
}

// New indexes the catalog's member names, metric synonyms, facet values and entity words.
func New(cat *catalog.Catalog, defaultLimit int) *Resolver {
	r := &Resolver{
		cat:          cat,
		defaultLimit: defaultLimit,
		phrases:      make(map[string]*phraseEntry),
	}

	entry := func(phrase string) *phraseEntry {
		key := strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
		e, ok := r.phrases[key]
		if !ok {
			e = &phraseEntry{}
			r.phrases[key] = e
		}
		return e
	}

	for _, kind := range cat.EntityKinds() {
		desc, _ := cat.Entity(kind)
		for _, m := range desc.Members {
			ref := memberRef{kind: kind, name: m.Name}
			for _, name := range append([]string{m.Name}, m.Aliases...) {
				e := entry(name)
				if !containsRef(e.members, ref) {
					e.members = append(e.members, ref)
				}
				r.memberNames = append(r.memberNames, memberName{
					tokens: strings.Fields(strings.ToLower(name)),
					ref:    ref,
				})
			}
		}
	}
	for phrase, key := range cat.MetricSynonyms() {
		entry(phrase).metric = key
	}
	for _, name := range cat.FacetNames() {
		f, _ := cat.Facet(name)
		for _, v := range f.Values {
			for _, s := range append([]string{v.Value}, v.Synonyms...) {
				e := entry(s)
				e.facet, e.facetValue = name, v.Value
			}
		}
	}
	for word, kind := range cat.EntityWords() {
		entry(word).kind = kind
	}

	return r
}

func containsRef(refs []memberRef, ref memberRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

// match is one catalog phrase found in the question.
type match struct {
	start, end int
	mention    string
	entry      *phraseEntry
	fuzzy      bool
}

// Resolve extracts entities from n, inherits missing roles from ctx (which may be nil)
// and applies defaults. Relative dates are anchored on currentDate.
//
// Two or more equally valid candidates for one mention yield an *apperrors.AmbiguityError;
// the resolver never picks one.
func (r *Resolver) Resolve(n *normalizer.Normalized, ctx Context, currentDate time.Time) (*Resolution, error) {
	tokens := n.Words()
	consumed := make([]bool, len(tokens))
	res := &Resolution{}

	// Time expressions first so "2024" or "last quarter" are never read as names.
	timeMatches := findTime(tokens, currentDate)
	trendFromTime := false
	for _, tm := range timeMatches {
		markConsumed(consumed, tm.start, tm.end)
		trendFromTime = trendFromTime || tm.trend
	}

	// Exact member names, then capitalized spans the dictionary did not recognise
	// (fuzzy member lookup), then metrics, facets and entity words.
	matches := r.matchPhrases(tokens, consumed, memberPhrase)
	spanMatches, unresolved, err := r.matchNameSpans(n, consumed)
	if err != nil {
		return nil, err
	}
	matches = append(matches, spanMatches...)
	matches = append(matches, r.matchPhrases(tokens, consumed, termPhrase)...)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].start < matches[j].start })
	res.Unresolved = append(res.Unresolved, unresolved...)

	res.Cues = normalizer.DetectCues(tokens, consumed)
	if trendFromTime {
		res.Cues.Trend = true
	}
	res.Unresolved = append(res.Unresolved, r.unknownMetricMentions(n, consumed)...)

	explicit, err := r.explicitEntities(tokens, matches, res.Cues)
	if err != nil {
		return nil, err
	}

	// Time range, once subjects are known for "since acquisition".
	var timeEnt *models.ResolvedEntity
	if len(timeMatches) > 0 {
		timeEnt, err = r.timeEntity(tokens, timeMatches, explicit, ctx, currentDate)
		if err != nil {
			return nil, err
		}
	}
	if timeEnt != nil {
		explicit = append(explicit, *timeEnt)
	}

	res.Entities = r.inherit(explicit, res.Unresolved, ctx, currentDate)
	return res, nil
}

func markConsumed(consumed []bool, start, end int) {
	for i := start; i < end && i < len(consumed); i++ {
		consumed[i] = true
	}
}

// memberPhrase accepts phrases naming members.
func memberPhrase(e *phraseEntry) (*phraseEntry, bool) {
	if len(e.members) == 0 {
		return nil, false
	}
	return &phraseEntry{members: e.members}, true
}

// termPhrase accepts phrases naming metrics, facet values or entity kinds.
func termPhrase(e *phraseEntry) (*phraseEntry, bool) {
	if e.metric == "" && e.facet == "" && e.kind == "" {
		return nil, false
	}
	return &phraseEntry{metric: e.metric, facet: e.facet, facetValue: e.facetValue, kind: e.kind}, true
}

// matchPhrases finds catalog phrases accepted by accept, longest match first, left to right.
func (r *Resolver) matchPhrases(tokens []string, consumed []bool, accept func(*phraseEntry) (*phraseEntry, bool)) []match {
	var out []match
	for i := 0; i < len(tokens); {
		if consumed[i] {
			i++
			continue
		}
		found := false
		for l := maxPhraseTokens; l >= 1; l-- {
			if i+l > len(tokens) || anyConsumed(consumed, i, i+l) {
				continue
			}
			phrase := strings.Join(tokens[i:i+l], " ")
			e, ok := r.phrases[phrase]
			if !ok && l == 1 {
				// Inflected entity words the index does not list ("vehicles").
				if desc, found := r.cat.Entity(phrase); found {
					e, ok = &phraseEntry{kind: desc.Name}, true
				}
			}
			if ok {
				e, ok = accept(e)
			}
			if !ok {
				continue
			}
			out = append(out, match{start: i, end: i + l, mention: phrase, entry: e})
			markConsumed(consumed, i, i+l)
			i += l
			found = true
			break
		}
		if !found {
			i++
		}
	}
	return out
}

func anyConsumed(consumed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if consumed[i] {
			return true
		}
	}
	return false
}

// matchNameSpans collects runs of capitalized, unconsumed tokens that contain at least
// one word outside the dictionary ("Oakveiw", "Fund IX") and looks them up fuzzily.
// A leading entity word stays in the span so "Fund IX" is looked up as a fund.
func (r *Resolver) matchNameSpans(n *normalizer.Normalized, consumed []bool) ([]match, []models.UnresolvedMention, error) {
	var matches []match
	var unresolved []models.UnresolvedMention

	nameToken := func(k int) bool {
		return k < len(n.Tokens) && !consumed[k] && n.Tokens[k].Capitalized() && !n.Tokens[k].Known
	}
	isKind := func(k int) bool {
		_, ok := r.cat.Entity(n.Tokens[k].Text)
		return ok
	}

	// Sentence-initial capitals are not evidence of a name unless an entity word leads.
	for i := 0; i < len(n.Tokens); i++ {
		start := i
		switch {
		case i > 0 && nameToken(i):
		case !consumed[i] && n.Tokens[i].Capitalized() && isKind(i) && nameToken(i+1):
			// A leading entity word belongs to the name ("Fund IX").
		default:
			continue
		}
		end := i + 1
		for nameToken(end) {
			end++
		}
		i = end - 1

		var words, surface []string
		for k := start; k < end; k++ {
			words = append(words, n.Tokens[k].Text)
			surface = append(surface, n.Tokens[k].Original)
		}
		mention := strings.Join(surface, " ")

		kindHint := ""
		if desc, ok := r.cat.Entity(words[0]); ok {
			kindHint = desc.Name
		}

		refs := r.fuzzyMembers(words, kindHint)
		switch {
		case len(refs) == 1:
			matches = append(matches, match{
				start: start, end: end, mention: mention, fuzzy: true,
				entry: &phraseEntry{members: refs},
			})
		case len(refs) > 1:
			return nil, nil, &apperrors.AmbiguityError{
				Role:       refs[0].kind,
				Mention:    mention,
				Candidates: refNames(refs),
			}
		default:
			suggestions := r.cat.SuggestMembers(kindHint, mention)
			role := models.RoleAsset
			switch {
			case kindHint != "":
				role = models.MemberRole(kindHint)
			case len(suggestions) > 0:
				role = models.MemberRole(r.kindOf(suggestions[0]))
			}
			unresolved = append(unresolved, models.UnresolvedMention{
				Role:        role,
				Mention:     mention,
				Suggestions: suggestions,
			})
		}
		markConsumed(consumed, start, end)
	}

	return matches, unresolved, nil
}

// fuzzyMembers returns the members whose name or alias is token-wise closest to words.
// Tokens shorter than four runes must match exactly.
func (r *Resolver) fuzzyMembers(words []string, kind string) []memberRef {
	best := -1
	var refs []memberRef
	for _, mn := range r.memberNames {
		if kind != "" && mn.ref.kind != kind {
			continue
		}
		if len(mn.tokens) != len(words) {
			continue
		}
		total := 0
		ok := true
		for k, w := range words {
			cand := mn.tokens[k]
			if len([]rune(w)) < 4 || len([]rune(cand)) < 4 {
				if w != cand {
					ok = false
					break
				}
				continue
			}
			d := fuzzy.Distance(w, cand)
			if d > fuzzy.Threshold(w) && d > 1 {
				ok = false
				break
			}
			total += d
		}
		if !ok {
			continue
		}
		switch {
		case best < 0 || total < best:
			best = total
			refs = []memberRef{mn.ref}
		case total == best && !containsRef(refs, mn.ref):
			refs = append(refs, mn.ref)
		}
	}
	return refs
}

func (r *Resolver) kindOf(member string) string {
	for _, mn := range r.memberNames {
		if mn.ref.name == member {
			return mn.ref.kind
		}
	}
	return string(models.RoleAsset)
}

func refNames(refs []memberRef) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = ref.name
	}
	sort.Strings(out)
	return out
}

// unknownMetricMentions flags words in a metric position ("by caprate", "total foo")
// that name nothing in the catalog.
func (r *Resolver) unknownMetricMentions(n *normalizer.Normalized, consumed []bool) []models.UnresolvedMention {
	var out []models.UnresolvedMention
	for i := 1; i < len(n.Tokens); i++ {
		tok := n.Tokens[i]
		if consumed[i] || tok.Known || len([]rune(tok.Text)) < 3 || tok.Capitalized() {
			continue
		}
		if _, isNum := normalizer.ParseCount(tok.Text); isNum {
			continue
		}
		prev := n.Tokens[i-1].Text
		if prev != "by" && !isMetricCue(prev) {
			continue
		}
		consumed[i] = true
		out = append(out, models.UnresolvedMention{
			Role:        models.RoleMetric,
			Mention:     tok.Original,
			Suggestions: r.cat.SuggestMetrics(tok.Text),
		})
	}
	return out
}

func isMetricCue(word string) bool {
	c := normalizer.DetectCues([]string{word}, nil)
	return c.Aggregation || c.Direction != ""
}

// explicitEntities turns phrase matches and cues into explicitly stated entities.
func (r *Resolver) explicitEntities(tokens []string, matches []match, cues normalizer.Cues) (models.Entities, error) {
	var metrics, facets, subjects models.Entities
	var groupBy string

	membersByKind := make(map[string][]match)
	var kindOrder []string
	var members []match

	for _, m := range matches {
		e := m.entry
		switch {
		case len(e.members) > 1:
			return nil, &apperrors.AmbiguityError{
				Role:       e.members[0].kind,
				Mention:    m.mention,
				Candidates: refNames(e.members),
			}
		case len(e.members) == 1:
			kind := e.members[0].kind
			if _, seen := membersByKind[kind]; !seen {
				kindOrder = append(kindOrder, kind)
			}
			membersByKind[kind] = append(membersByKind[kind], m)
			members = append(members, m)
		case e.metric != "":
			if !hasValue(metrics, e.metric) {
				metrics = append(metrics, models.ResolvedEntity{
					Role: models.RoleMetric, Value: e.metric, Confidence: 1,
					Source: models.SourceExplicit, Mention: m.mention,
				})
			}
		case e.facet != "":
			facets = append(facets, models.ResolvedEntity{
				Role: models.Role(e.facet), Value: e.facetValue, Kind: r.facetEntity(e.facet),
				Confidence: 1, Source: models.SourceExplicit, Mention: m.mention,
			})
		case e.kind != "":
			// "by fund" wins over an earlier bare entity word.
			if groupBy == "" || at(tokens, m.start-1) == "by" {
				groupBy = e.kind
			}
		}
	}

	toEntity := func(m match, role models.Role) models.ResolvedEntity {
		ref := m.entry.members[0]
		conf := 1.0
		if m.fuzzy {
			conf = fuzzyConfidence
		}
		return models.ResolvedEntity{
			Role: role, Value: ref.name, Kind: ref.kind, Confidence: conf,
			Source: models.SourceExplicit, Mention: m.mention,
		}
	}

	switch {
	case cues.Comparison:
		for _, m := range dedupeMembers(members) {
			subjects = append(subjects, toEntity(m, models.RoleComparisonTarget))
		}
	default:
		for _, kind := range kindOrder {
			ms := dedupeMembers(membersByKind[kind])
			if len(ms) > 1 && !(cues.Ranking || cues.Aggregation || cues.Trend) {
				var mentions []string
				for _, m := range ms {
					mentions = append(mentions, m.mention)
				}
				return nil, &apperrors.AmbiguityError{
					Role:       kind,
					Mention:    strings.Join(mentions, ", "),
					Candidates: refNames(refsOf(ms)),
				}
			}
			for _, m := range ms {
				subjects = append(subjects, toEntity(m, models.MemberRole(kind)))
			}
		}
	}

	if len(metrics) == 0 && cues.Performance {
		kind := groupBy
		if kind == "" && len(subjects) > 0 {
			kind = subjects[0].Kind
		}
		if desc, ok := r.cat.Entity(kind); ok && desc.PerformanceMetric != "" {
			metrics = append(metrics, models.ResolvedEntity{
				Role: models.RoleMetric, Value: desc.PerformanceMetric, Confidence: 1,
				Source: models.SourceDefault, Mention: "performance",
			})
		}
	}

	out := append(models.Entities{}, metrics...)
	out = append(out, subjects...)
	out = append(out, facets...)
	if cues.Limit > 0 {
		out = append(out, modifier(models.RoleLimit, strconv.Itoa(cues.Limit)))
	}
	if cues.Direction != "" {
		out = append(out, modifier(models.RoleDirection, cues.Direction))
	}
	if cues.Aggregate != models.AggregateNone {
		out = append(out, modifier(models.RoleAggregate, string(cues.Aggregate)))
	}
	if groupBy != "" {
		out = append(out, modifier(models.RoleGroupBy, groupBy))
	}
	return out, nil
}

func hasValue(list models.Entities, value string) bool {
	for _, e := range list {
		if e.Value == value {
			return true
		}
	}
	return false
}

func modifier(role models.Role, value string) models.ResolvedEntity {
	return models.ResolvedEntity{Role: role, Value: value, Confidence: 1, Source: models.SourceExplicit}
}

func dedupeMembers(ms []match) []match {
	seen := make(map[memberRef]bool)
	var out []match
	for _, m := range ms {
		ref := m.entry.members[0]
		if !seen[ref] {
			seen[ref] = true
			out = append(out, m)
		}
	}
	return out
}

func refsOf(ms []match) []memberRef {
	out := make([]memberRef, len(ms))
	for i, m := range ms {
		out[i] = m.entry.members[0]
	}
	return out
}

func (r *Resolver) facetEntity(name string) string {
	if f, ok := r.cat.Facet(name); ok {
		return f.Entity
	}
	return ""
}

// timeEntity builds the explicit time range. Several expressions are merged into the
// range covering all of them.
func (r *Resolver) timeEntity(tokens []string, matches []timeMatch, explicit models.Entities, ctx Context, current time.Time) (*models.ResolvedEntity, error) {
	var mentions []string
	var plain []timeMatch
	var acquisition *timeMatch
	for i, tm := range matches {
		mentions = append(mentions, tm.mention(tokens))
		if tm.sinceAcquisition {
			acquisition = &matches[i]
			continue
		}
		plain = append(plain, tm)
	}

	if acquisition != nil {
		start, err := r.acquisitionDate(explicit, ctx)
		if err != nil {
			return nil, err
		}
		acquisition.rng = models.DateRange{Start: start, End: day(current)}
		plain = append(plain, *acquisition)
	}

	rng := mergeRanges(plain)
	if today := day(current); rng.Start.After(today) || rng.Start.After(rng.End) {
		return nil, &apperrors.IncompleteQueryError{
			Intent:  "time range",
			Missing: []string{string(models.RoleTimeRange)},
			Reason:  fmt.Sprintf("the period starting %s begins after %s", rng.Start.Format(time.DateOnly), today.Format(time.DateOnly)),
		}
	}
	return &models.ResolvedEntity{
		Role:       models.RoleTimeRange,
		Value:      rng.String(),
		Range:      &rng,
		Confidence: 1,
		Source:     models.SourceExplicit,
		Mention:    strings.Join(mentions, ", "),
	}, nil
}

// acquisitionDate returns the earliest acquisition date of the assets the question is
// about, named explicitly or carried over from context.
func (r *Resolver) acquisitionDate(explicit models.Entities, ctx Context) (time.Time, error) {
	var assets []string
	for _, e := range explicit {
		if e.Kind == string(models.RoleAsset) && e.Role.IsSubject() {
			assets = append(assets, e.Value)
		}
	}
	if len(assets) == 0 && ctx != nil && !explicit.HasSubject() {
		for _, role := range []models.Role{models.RoleAsset, models.RoleComparisonTarget} {
			for _, e := range ctx.Latest(role) {
				if e.Kind == string(models.RoleAsset) {
					assets = append(assets, e.Value)
				}
			}
		}
	}
	if len(assets) == 0 {
		return time.Time{}, &apperrors.IncompleteQueryError{
			Intent:  "since acquisition",
			Missing: []string{string(models.RoleAsset)},
			Reason:  "name the asset whose acquisition date starts the range",
		}
	}

	var earliest time.Time
	for _, a := range assets {
		v, ok := r.cat.Attribute(string(models.RoleAsset), a, "acquisition_date")
		if !ok {
			return time.Time{}, &apperrors.SchemaResolutionError{
				Kind: "attribute", Name: "acquisition_date", Reason: fmt.Sprintf("no acquisition date recorded for %s", a),
			}
		}
		d, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("acquisition date of %s: %w", a, err)
		}
		if earliest.IsZero() || d.Before(earliest) {
			earliest = d
		}
	}
	return earliest, nil
}

// modifierRoles are filled from context when the question leaves them out.
var modifierRoles = []models.Role{
	models.RoleMetric, models.RoleTimeRange, models.RoleLimit, models.RoleDirection,
	models.RoleAggregate, models.RoleGroupBy,
}

// inherit fills roles missing from explicit with the latest context values, then defaults.
// Subject roles are inherited only when the question names no subject at all, and a
// subject kind the question groups by is never inherited as a filter.
func (r *Resolver) inherit(explicit models.Entities, unresolved []models.UnresolvedMention, ctx Context, current time.Time) models.Entities {
	out := append(models.Entities{}, explicit...)

	namesSubject := explicit.HasSubject()
	for _, u := range unresolved {
		if u.Role.IsSubject() {
			namesSubject = true
		}
	}
	unresolvedMetric := false
	for _, u := range unresolved {
		if u.Role == models.RoleMetric {
			unresolvedMetric = true
		}
	}

	carry := func(role models.Role) bool {
		if ctx == nil || explicit.Has(role) {
			return false
		}
		prev := ctx.Latest(role)
		for _, e := range prev {
			e.Source = models.SourceInherited
			out = append(out, e)
		}
		return len(prev) > 0
	}

	if !namesSubject {
		groupBy, _ := explicit.Get(models.RoleGroupBy)
		for _, role := range models.SubjectRoles {
			if string(role) == groupBy.Value {
				continue
			}
			if role == models.RoleComparisonTarget && groupBy.Value != "" && ctx != nil &&
				anyOfKind(ctx.Latest(role), groupBy.Value) {
				continue
			}
			carry(role)
		}
	}

	for _, facet := range r.cat.FacetNames() {
		carry(models.Role(facet))
	}

	for _, role := range modifierRoles {
		if role == models.RoleMetric && unresolvedMetric {
			continue
		}
		if carry(role) || explicit.Has(role) {
			continue
		}
		switch role {
		case models.RoleTimeRange:
			rng := TrailingTwelveMonths(current)
			out = append(out, models.ResolvedEntity{
				Role: role, Value: rng.String(), Range: &rng, Confidence: 1, Source: models.SourceDefault,
			})
		case models.RoleLimit:
			out = append(out, models.ResolvedEntity{
				Role: role, Value: strconv.Itoa(r.defaultLimit), Confidence: 1, Source: models.SourceDefault,
			})
		case models.RoleDirection:
			out = append(out, models.ResolvedEntity{
				Role: role, Value: "desc", Confidence: 1, Source: models.SourceDefault,
			})
		}
	}

	return r.dropStale(out, explicit.Has(models.RoleComparisonTarget))
}

// dropStale removes inherited facets and group_by kinds the current metrics cannot
// be joined to. An inherited group_by is also dropped when the question names
// comparison targets.
func (r *Resolver) dropStale(ents models.Entities, comparing bool) models.Entities {
	out := ents[:0:0]
	for _, e := range ents {
		if e.Source != models.SourceInherited {
			out = append(out, e)
			continue
		}
		kind := ""
		switch {
		case e.Role == models.RoleGroupBy:
			if comparing {
				continue
			}
			kind = e.Value
		case !modifierRole(e.Role) && !e.Role.IsSubject():
			if f, ok := r.cat.Facet(string(e.Role)); ok {
				kind = f.Entity
			}
		}
		if kind != "" && !r.reachable(ents, kind) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// reachable reports whether every metric in ents can be joined to the entity kind.
// Without metrics nothing is known to be unreachable.
func (r *Resolver) reachable(ents models.Entities, kind string) bool {
	desc, ok := r.cat.Entity(kind)
	if !ok {
		return true
	}
	for _, key := range ents.Values(models.RoleMetric) {
		m, ok := r.cat.Metric(key)
		if !ok || m.Fact == desc.Table {
			continue
		}
		if !r.cat.FactDimensionJoins().Reachable(m.Fact, desc.Table) {
			return false
		}
	}
	return true
}

func anyOfKind(ents []models.ResolvedEntity, kind string) bool {
	for _, e := range ents {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

func modifierRole(role models.Role) bool {
	for _, m := range modifierRoles {
		if m == role {
			return true
		}
	}
	return false
}

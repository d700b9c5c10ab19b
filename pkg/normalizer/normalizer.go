// Package normalizer folds case, collapses whitespace and corrects likely
// misspellings of domain terms before entity resolution.
package normalizer

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/fuzzy"
)

// Token is one word of a normalized question.
type Token struct {
	Text      string // lowercased, possibly corrected
	Original  string // surface form as typed, punctuation trimmed
	Corrected bool
	Known     bool // dictionary word: stopword, cue, time word or catalog term
}

// Capitalized reports whether the token was typed with a leading capital letter.
func (t Token) Capitalized() bool {
	for _, r := range t.Original {
		return unicode.IsUpper(r)
	}
	return false
}

// Correction records one spelling fix.
type Correction struct {
	From string
	To   string
}

// Normalized is the analysis of one raw question.
type Normalized struct {
	Raw         string
	Text        string
	Tokens      []Token
	Corrections []Correction
}

// Words returns the lowercased token texts.
func (n *Normalized) Words() []string {
	out := make([]string, len(n.Tokens))
	for i, t := range n.Tokens {
		out[i] = t.Text
	}
	return out
}

// Normalizer corrects tokens against a dictionary drawn from the catalog.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	spellCorrection bool

	// Dictionary words: stopwords, cue and time words, catalog terms.
	vocab map[string]bool
	// Parts of member names and aliases. Never corrected, never correction targets.
	memberWords map[string]bool
	// Correction targets, sorted for deterministic tie detection.
	dictionary []string
}

// New builds a Normalizer for cat. With spellCorrection false only case folding,
// whitespace and the known-misspelling map apply.
func New(cat *catalog.Catalog, spellCorrection bool) *Normalizer {
	n := &Normalizer{
		spellCorrection: spellCorrection,
		vocab:           make(map[string]bool),
		memberWords:     make(map[string]bool),
	}

	addWords := func(phrase string) {
		for _, w := range strings.Fields(strings.ToLower(phrase)) {
			n.vocab[w] = true
		}
	}

	for _, w := range commonWords {
		addWords(w)
	}
	for _, w := range timeWords {
		addWords(w)
	}
	for w := range numberWords {
		addWords(w)
	}
	for _, set := range []map[string]bool{rankingDesc, rankingAsc, rankingNeutral, comparisonWords, trendWords, performanceWords} {
		for w := range set {
			addWords(w)
		}
	}
	for w := range aggregateWords {
		addWords(w)
	}
	for _, group := range [][][]string{trendPhrases, comparisonPhrases, countPhrases, followUpPhrases} {
		for _, p := range group {
			for _, w := range p {
				addWords(w)
			}
		}
	}
	for _, target := range knownMisspellings {
		addWords(target)
	}

	for phrase := range cat.MetricSynonyms() {
		addWords(phrase)
	}
	for w := range cat.EntityWords() {
		addWords(w)
	}
	for _, name := range cat.FacetNames() {
		f, _ := cat.Facet(name)
		for _, v := range f.Values {
			addWords(v.Value)
			for _, s := range v.Synonyms {
				addWords(s)
			}
		}
	}

	for w := range n.vocab {
		if len([]rune(w)) >= 4 {
			n.dictionary = append(n.dictionary, w)
		}
	}

	// Member names are protected but not correction targets: a near-miss of one
	// proper noun must never become a different proper noun.
	for _, kind := range cat.EntityKinds() {
		e, _ := cat.Entity(kind)
		for _, m := range e.Members {
			for _, name := range append([]string{m.Name}, m.Aliases...) {
				for _, w := range strings.Fields(strings.ToLower(name)) {
					n.memberWords[w] = true
				}
			}
		}
	}

	sort.Strings(n.dictionary)
	return n
}

// Normalize returns the normalized text of raw.
func (n *Normalizer) Normalize(raw string) string {
	return n.Analyze(raw).Text
}

// Analyze tokenizes raw and corrects misspelled domain terms.
func (n *Normalizer) Analyze(raw string) *Normalized {
	out := &Normalized{Raw: raw}

	for i, field := range strings.Fields(raw) {
		surface := trimToken(field)
		if surface == "" {
			continue
		}
		lower := strings.ToLower(surface)
		tok := Token{Text: lower, Original: surface}

		if fixed, ok := n.correct(lower, surface, i == 0); ok {
			out.Corrections = append(out.Corrections, Correction{From: lower, To: fixed})
			tok.Text = fixed
			tok.Corrected = true
		}
		tok.Known = n.vocab[tok.Text]
		out.Tokens = append(out.Tokens, tok)
	}

	out.Text = strings.Join(out.Words(), " ")
	return out
}

func (n *Normalizer) correct(lower, surface string, initial bool) (string, bool) {
	if fixed, ok := knownMisspellings[lower]; ok {
		return fixed, true
	}
	if !n.spellCorrection {
		return "", false
	}
	if strings.IndexFunc(lower, unicode.IsDigit) >= 0 {
		return "", false
	}
	if n.vocab[lower] || n.memberWords[lower] {
		return "", false
	}
	// Capitalized mid-sentence words are treated as proper nouns.
	if !initial && unicode.IsUpper([]rune(surface)[0]) {
		return "", false
	}

	maxDist := fuzzy.Threshold(lower)
	if maxDist == 0 {
		return "", false
	}
	match, _, ok := fuzzy.Best(lower, n.dictionary, maxDist)
	if !ok {
		return "", false
	}
	return match, true
}

// trimToken strips surrounding punctuation and a trailing possessive.
// Internal hyphens and dots ("multi-family", "3.5") are kept.
func trimToken(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	s = strings.TrimSuffix(s, "'s")
	s = strings.TrimSuffix(s, "’s")
	return s
}

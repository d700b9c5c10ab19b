package normalizer

import (
	"strconv"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// knownMisspellings are corrected before edit-distance matching, regardless of length.
var knownMisspellings = map[string]string{
	"liost":       "list",
	"lsit":        "list",
	"lst":         "list",
	"porofolio":   "portfolio",
	"portoflio":   "portfolio",
	"portifolio":  "portfolio",
	"propertys":   "properties",
	"proprties":   "properties",
	"aseets":      "assets",
	"asets":       "assets",
	"reveune":     "revenue",
	"revenu":      "revenue",
	"expnese":     "expense",
	"expenes":     "expenses",
	"hopsitality": "hospitality",
	"hopitality":  "hospitality",
	"multifamly":  "multifamily",
	"multifmaily": "multifamily",
	"qaurter":     "quarter",
	"quater":      "quarter",
	"finacial":    "financial",
	"fianncial":   "financial",
	"teh":         "the",
	"waht":        "what",
	"shwo":        "show",
	"compaer":     "compare",
}

// commonWords are never corrected. They are the glue of analytical questions.
var commonWords = []string{
	"a", "about", "across", "after", "all", "also", "an", "and", "any", "are", "as", "at",
	"be", "been", "before", "between", "by", "can", "could", "did", "do", "does", "doing",
	"each", "for", "from", "give", "has", "have", "how", "i", "in", "instead", "is", "it",
	"its", "just", "last", "let", "list", "me", "much", "my", "now", "of", "on", "or", "our",
	"over", "per", "please", "portfolio", "prior", "same", "see", "show", "since", "so",
	"tell", "than", "that", "the", "their", "them", "then", "there", "these", "this", "those",
	"through", "to", "up", "us", "was", "we", "were", "what", "whats", "when", "where",
	"which", "who", "why", "will", "with", "would", "you", "your", "get", "find", "display",
	"performing", "performance", "performers", "numbers", "figures", "data", "results",
	"rows", "records", "everything", "more", "less", "only", "both", "other", "versus",
	"financial", "expense", "help", "hello", "hey", "hi", "thanks", "thank", "bye", "goodbye",
	"morning", "afternoon", "evening", "good", "great", "ok", "okay", "yes", "no",
	"during", "within", "against", "under", "above", "below", "among", "every", "including",
	"excluding", "higher", "lower", "into", "out", "again", "only", "type", "types", "city",
	"cities", "state", "states", "where", "located", "name", "names", "many",
}

// timeWords are part of the dictionary so that "qaurter"/"quartr" style typos correct.
var timeWords = []string{
	"year", "years", "quarter", "quarters", "month", "months", "week", "weeks", "today",
	"ytd", "qtd", "mtd", "ttm", "trailing", "twelve", "previous", "current", "acquisition",
	"acquired", "january", "february", "march", "april", "may", "june", "july", "august",
	"september", "october", "november", "december", "monthly", "quarterly", "annually",
	"annual", "yearly", "first", "second", "third", "fourth", "past", "next", "date",
}

// numberWords maps spelled-out counts used in "top five" style questions.
var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "fifteen": 15,
	"twenty": 20, "fifty": 50, "hundred": 100,
}

// ParseCount parses a digit or spelled-out count.
func ParseCount(tok string) (int, bool) {
	if n, ok := numberWords[tok]; ok {
		return n, true
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ============================================================================
// Cue lexicon shared by the resolver and the intent classifier
// ============================================================================

var (
	rankingDesc = map[string]bool{
		"top": true, "best": true, "highest": true, "largest": true, "biggest": true,
		"most": true, "leading": true, "strongest": true, "greatest": true,
	}
	rankingAsc = map[string]bool{
		"bottom": true, "worst": true, "lowest": true, "smallest": true, "least": true,
		"weakest": true, "underperforming": true,
	}
	rankingNeutral = map[string]bool{
		"rank": true, "ranking": true, "ranked": true, "rankings": true,
	}
	comparisonWords = map[string]bool{
		"compare": true, "compared": true, "comparing": true, "comparison": true,
		"vs": true, "versus": true,
	}
	trendWords = map[string]bool{
		"trend": true, "trends": true, "trending": true, "trended": true, "since": true,
		"growth": true, "monthly": true, "quarterly": true, "annually": true, "yearly": true,
		"history": true, "historical": true, "trajectory": true, "evolution": true,
	}
	aggregateWords = map[string]models.Aggregate{
		"total":    models.AggregateSum,
		"sum":      models.AggregateSum,
		"combined": models.AggregateSum,
		"overall":  models.AggregateSum,
		"average":  models.AggregateAvg,
		"avg":      models.AggregateAvg,
		"mean":     models.AggregateAvg,
		"count":    models.AggregateCount,
		"minimum":  models.AggregateMin,
		"min":      models.AggregateMin,
		"maximum":  models.AggregateMax,
		"max":      models.AggregateMax,
	}
	performanceWords = map[string]bool{
		"performing": true, "performance": true, "performers": true, "performer": true,
	}
)

// phrase cues span several tokens.
var (
	trendPhrases = [][]string{
		{"over", "time"}, {"month", "over", "month"}, {"quarter", "over", "quarter"},
		{"year", "over", "year"}, {"by", "month"}, {"by", "quarter"}, {"by", "year"},
		{"per", "month"}, {"per", "quarter"}, {"per", "year"},
	}
	comparisonPhrases = [][]string{
		{"difference", "between"}, {"relative", "to"}, {"side", "by", "side"},
	}
	countPhrases = [][]string{
		{"how", "many"}, {"number", "of"},
	}
	followUpPhrases = [][]string{
		{"what", "about"}, {"how", "about"}, {"and", "for"}, {"same", "for"}, {"instead"},
		{"what", "if"}, {"now", "for"}, {"and", "what", "about"},
	}
)

// Cues are the intent signals present in the tokens left over after entity matching.
type Cues struct {
	Comparison  bool
	Ranking     bool
	Trend       bool
	Aggregation bool
	Performance bool
	FollowUp    bool
	Limit       int
	Direction   string // "desc", "asc" or empty
	Aggregate   models.Aggregate
}

// Any reports whether any intent cue fired.
func (c Cues) Any() bool {
	return c.Comparison || c.Ranking || c.Trend || c.Aggregation
}

// DetectCues scans tokens for intent cues. Tokens with skip[i] set (already
// consumed as part of an entity or metric name) are ignored. skip may be nil.
func DetectCues(tokens []string, skip []bool) Cues {
	var c Cues
	live := func(i int) bool {
		return i >= 0 && i < len(tokens) && (skip == nil || !skip[i])
	}

	for i, tok := range tokens {
		if !live(i) {
			continue
		}

		switch {
		case rankingDesc[tok]:
			c.Ranking = true
			if c.Direction == "" {
				c.Direction = "desc"
			}
		case rankingAsc[tok]:
			c.Ranking = true
			if c.Direction == "" {
				c.Direction = "asc"
			}
		case rankingNeutral[tok]:
			c.Ranking = true
		case comparisonWords[tok]:
			c.Comparison = true
		case trendWords[tok]:
			c.Trend = true
		case performanceWords[tok]:
			c.Performance = true
		}

		if agg, ok := aggregateWords[tok]; ok {
			c.Aggregation = true
			if c.Aggregate == models.AggregateNone {
				c.Aggregate = agg
			}
		}

		// "top 5", "bottom ten", "5 best"
		if rankingDesc[tok] || rankingAsc[tok] {
			if live(i+1) {
				if n, ok := ParseCount(tokens[i+1]); ok && c.Limit == 0 {
					c.Limit = n
				}
			}
			if live(i-1) {
				if n, ok := ParseCount(tokens[i-1]); ok && c.Limit == 0 {
					c.Limit = n
				}
			}
		}
	}

	if matchAny(tokens, live, trendPhrases) {
		c.Trend = true
	}
	if matchAny(tokens, live, comparisonPhrases) {
		c.Comparison = true
	}
	if matchAny(tokens, live, countPhrases) {
		c.Aggregation = true
		c.Aggregate = models.AggregateCount
	}
	if matchAny(tokens, live, followUpPhrases) {
		c.FollowUp = true
	}

	return c
}

func matchAny(tokens []string, live func(int) bool, phrases [][]string) bool {
	for _, p := range phrases {
		if indexPhrase(tokens, live, p) >= 0 {
			return true
		}
	}
	return false
}

func indexPhrase(tokens []string, live func(int) bool, phrase []string) int {
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, w := range phrase {
			if !live(i+j) || tokens[i+j] != w {
				continue outer
			}
		}
		return i
	}
	return -1
}

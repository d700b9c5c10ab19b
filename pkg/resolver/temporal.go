package resolver

import (
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	"github.com/ekaya-inc/portfolio-chat/pkg/normalizer"
)

// timeMatch is one temporal expression found in a question.
type timeMatch struct {
	start, end int // token span [start, end)
	rng        models.DateRange
	// sinceAcquisition ranges start on the subject asset's acquisition date,
	// which is only known after entity matching.
	sinceAcquisition bool
	trend            bool
}

func (m timeMatch) mention(tokens []string) string {
	return strings.Join(tokens[m.start:m.end], " ")
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var ordinalQuarters = map[string]int{
	"first": 1, "1st": 1, "second": 2, "2nd": 2, "third": 3, "3rd": 3, "fourth": 4, "4th": 4,
}

var (
	lastWords    = map[string]bool{"last": true, "previous": true, "prior": true}
	thisWords    = map[string]bool{"this": true, "current": true}
	trailingWord = map[string]bool{"last": true, "past": true, "trailing": true, "previous": true, "prior": true}
	rangeJoiners = map[string]bool{"and": true, "to": true, "through": true, "thru": true, "until": true}
)

// day truncates t to a UTC calendar day.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func yearRange(y int) models.DateRange {
	return models.DateRange{
		Start: time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(y, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

func quarterRange(y, q int) models.DateRange {
	start := time.Date(y, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return models.DateRange{Start: start, End: start.AddDate(0, 3, -1)}
}

func monthRange(y int, m time.Month) models.DateRange {
	start := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	return models.DateRange{Start: start, End: start.AddDate(0, 1, -1)}
}

func quarterOf(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// TrailingTwelveMonths is the default time range: the twelve months ending on current.
func TrailingTwelveMonths(current time.Time) models.DateRange {
	end := day(current)
	return models.DateRange{Start: end.AddDate(-1, 0, 1), End: end}
}

// parseYear accepts four-digit years and "fy2024"/"fy24".
func parseYear(tok string) (int, bool) {
	s := strings.TrimPrefix(tok, "fy")
	if len(s) == 2 && s != tok {
		if n, err := strconv.Atoi(s); err == nil {
			return 2000 + n, true
		}
	}
	if len(s) != 4 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1900 || n > 2100 {
		return 0, false
	}
	return n, true
}

// parseQuarterToken accepts "q1".."q4".
func parseQuarterToken(tok string) (int, bool) {
	if len(tok) != 2 || tok[0] != 'q' || tok[1] < '1' || tok[1] > '4' {
		return 0, false
	}
	return int(tok[1] - '0'), true
}

// findTime scans tokens for temporal expressions anchored on current.
func findTime(tokens []string, current time.Time) []timeMatch {
	current = day(current)
	var out []timeMatch
	for i := 0; i < len(tokens); {
		if m, ok := matchTimeAt(tokens, i, current); ok {
			out = append(out, m)
			i = m.end
			continue
		}
		i++
	}
	return out
}

func at(tokens []string, i int) string {
	if i < 0 || i >= len(tokens) {
		return ""
	}
	return tokens[i]
}

// yearAfter reads an optional "[of|in] YYYY" following position i.
func yearAfter(tokens []string, i int) (year, next int, ok bool) {
	j := i
	if t := at(tokens, j); t == "of" || t == "in" {
		j++
	}
	if y, ok := parseYear(at(tokens, j)); ok {
		return y, j + 1, true
	}
	return 0, i, false
}

// latestQuarter returns the most recent year in which quarter q has started.
func latestQuarter(q int, current time.Time) int {
	if q > quarterOf(current) {
		return current.Year() - 1
	}
	return current.Year()
}

func matchTimeAt(tokens []string, i int, current time.Time) (timeMatch, bool) {
	tok := tokens[i]
	next := at(tokens, i+1)

	switch {
	case tok == "since":
		switch next {
		case "acquisition", "acquired", "purchase", "purchased":
			return timeMatch{start: i, end: i + 2, sinceAcquisition: true, trend: true}, true
		case "we":
			if n2 := at(tokens, i+2); n2 == "acquired" || n2 == "bought" || n2 == "purchased" {
				return timeMatch{start: i, end: i + 3, sinceAcquisition: true, trend: true}, true
			}
		}
		if y, ok := parseYear(next); ok {
			return timeMatch{
				start: i, end: i + 2, trend: true,
				rng: models.DateRange{Start: yearRange(y).Start, End: current},
			}, true
		}

	case tok == "from" || tok == "between":
		if y1, ok := parseYear(next); ok && rangeJoiners[at(tokens, i+2)] {
			if y2, ok := parseYear(at(tokens, i+3)); ok && y2 >= y1 {
				return timeMatch{
					start: i, end: i + 4,
					rng: models.DateRange{Start: yearRange(y1).Start, End: yearRange(y2).End},
				}, true
			}
		}

	case tok == "ytd" || (tok == "year" && next == "to" && at(tokens, i+2) == "date"):
		end := i + 1
		if tok == "year" {
			end = i + 3
		}
		return timeMatch{start: i, end: end, rng: models.DateRange{Start: yearRange(current.Year()).Start, End: current}}, true

	case tok == "qtd" || (tok == "quarter" && next == "to" && at(tokens, i+2) == "date"):
		end := i + 1
		if tok == "quarter" {
			end = i + 3
		}
		q := quarterRange(current.Year(), quarterOf(current))
		return timeMatch{start: i, end: end, rng: models.DateRange{Start: q.Start, End: current}}, true

	case tok == "mtd":
		m := monthRange(current.Year(), current.Month())
		return timeMatch{start: i, end: i + 1, rng: models.DateRange{Start: m.Start, End: current}}, true

	case tok == "ttm":
		return timeMatch{start: i, end: i + 1, rng: TrailingTwelveMonths(current)}, true
	}

	// "last quarter", "this year", "previous month"
	if lastWords[tok] || thisWords[tok] {
		switch next {
		case "quarter":
			q, y := quarterOf(current), current.Year()
			if lastWords[tok] {
				q--
				if q == 0 {
					q, y = 4, y-1
				}
			}
			return timeMatch{start: i, end: i + 2, rng: quarterRange(y, q)}, true
		case "year":
			y := current.Year()
			if lastWords[tok] {
				y--
			}
			return timeMatch{start: i, end: i + 2, rng: yearRange(y)}, true
		case "month":
			ref := current
			if lastWords[tok] {
				ref = time.Date(current.Year(), current.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
			}
			return timeMatch{start: i, end: i + 2, rng: monthRange(ref.Year(), ref.Month())}, true
		}
	}

	// "last 6 months", "trailing twelve months", "past 3 years"
	if trailingWord[tok] {
		if n, ok := normalizer.ParseCount(next); ok {
			unit := at(tokens, i+2)
			end := current
			var start time.Time
			switch unit {
			case "month", "months":
				start = end.AddDate(0, -n, 1)
			case "quarter", "quarters":
				start = end.AddDate(0, -3*n, 1)
			case "year", "years":
				start = end.AddDate(-n, 0, 1)
			}
			if !start.IsZero() {
				return timeMatch{start: i, end: i + 3, rng: models.DateRange{Start: start, End: end}}, true
			}
		}
	}

	// "q1 2024", "q3"
	if q, ok := parseQuarterToken(tok); ok {
		if y, end, ok := yearAfter(tokens, i+1); ok {
			return timeMatch{start: i, end: end, rng: quarterRange(y, q)}, true
		}
		return timeMatch{start: i, end: i + 1, rng: quarterRange(latestQuarter(q, current), q)}, true
	}

	// "first quarter of 2024", "the 3rd quarter"
	if q, ok := ordinalQuarters[tok]; ok && next == "quarter" {
		if y, end, ok := yearAfter(tokens, i+2); ok {
			return timeMatch{start: i, end: end, rng: quarterRange(y, q)}, true
		}
		return timeMatch{start: i, end: i + 2, rng: quarterRange(latestQuarter(q, current), q)}, true
	}

	// "march 2024"; a bare month name needs a year to avoid "may" the verb.
	if m, ok := months[tok]; ok {
		if y, end, ok := yearAfter(tokens, i+1); ok {
			return timeMatch{start: i, end: end, rng: monthRange(y, m)}, true
		}
	}

	// "2024", "fy24", "2019 to 2023"
	if y, ok := parseYear(tok); ok {
		if rangeJoiners[next] && next != "and" {
			if y2, ok := parseYear(at(tokens, i+2)); ok && y2 >= y {
				return timeMatch{
					start: i, end: i + 3,
					rng: models.DateRange{Start: yearRange(y).Start, End: yearRange(y2).End},
				}, true
			}
		}
		start := i
		if p := at(tokens, i-1); p == "in" || p == "for" || p == "during" {
			start = i - 1
		}
		return timeMatch{start: start, end: i + 1, rng: yearRange(y)}, true
	}

	return timeMatch{}, false
}

// mergeRanges returns the smallest range covering every match.
func mergeRanges(matches []timeMatch) models.DateRange {
	out := matches[0].rng
	for _, m := range matches[1:] {
		if m.rng.Start.Before(out.Start) {
			out.Start = m.rng.Start
		}
		if m.rng.End.After(out.End) {
			out.End = m.rng.End
		}
	}
	return out
}

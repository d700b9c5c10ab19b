package insight

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
)

// unitPoints renders the difference between two percentages.
const unitPoints catalog.Unit = "points"

// FormatNumber renders v the way narratives cite it. Percent values are
// fractions (0.87 is 87.0%).
func FormatNumber(v float64, unit catalog.Unit) string {
	p := message.NewPrinter(language.English)
	neg := v < 0
	abs := math.Abs(v)

	var s string
	switch unit {
	case catalog.UnitCurrency:
		if abs >= 1000 {
			s = "$" + p.Sprintf("%.0f", abs)
		} else {
			s = "$" + p.Sprintf("%.2f", abs)
		}
	case catalog.UnitPercent:
		s = p.Sprintf("%.1f", abs*100) + "%"
	case unitPoints:
		s = p.Sprintf("%.1f", abs*100) + " pts"
	case catalog.UnitMultiple:
		s = p.Sprintf("%.2f", abs) + "x"
	case catalog.UnitCount:
		s = p.Sprintf("%.0f", abs)
	default:
		if abs == math.Trunc(abs) {
			s = p.Sprintf("%.0f", abs)
		} else {
			s = p.Sprintf("%.2f", abs)
		}
	}
	if neg && strings.ContainsAny(s, "123456789") {
		s = "-" + s
	}
	return s
}

var numberPattern = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)

// NumericTokens returns the distinct numbers written in text, without
// thousands separators, in order of appearance.
func NumericTokens(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range numberPattern.FindAllString(text, -1) {
		tok := strings.ReplaceAll(m, ",", "")
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// unsupportedNumbers returns the numbers in candidate that reference does not contain.
func unsupportedNumbers(candidate, reference string) []string {
	allowed := make(map[string]bool)
	for _, tok := range NumericTokens(reference) {
		allowed[tok] = true
	}
	var extra []string
	for _, tok := range NumericTokens(candidate) {
		if !allowed[tok] {
			extra = append(extra, tok)
		}
	}
	sort.Strings(extra)
	return extra
}

// toFloat reads a numeric result cell.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x) && !math.IsInf(x, 0)
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// labelText renders a label cell verbatim so any digits in it come from the result.
func labelText(v any) string {
	switch x := v.(type) {
	case nil:
		return "unknown"
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprint(x)
	}
}

// periodOf labels a trend row from its year, quarter and month cells.
func periodOf(row map[string]any) string {
	year := labelText(row["year"])
	if q, ok := row["quarter"]; ok && q != nil {
		return "Q" + labelText(q) + " " + year
	}
	if m, ok := row["month"]; ok && m != nil {
		if n, ok := toFloat(m); ok && n >= 1 && n <= 12 {
			return time.Month(int(n)).String()[:3] + " " + year
		}
	}
	return year
}

// kindNoun returns "asset" or "assets" for an entity kind.
func kindNoun(kind string, n float64) string {
	kind = humanize(kind)
	if n == 1 {
		return kind
	}
	return inflection.Plural(kind)
}

func humanize(alias string) string {
	return strings.ReplaceAll(alias, "_", " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// joinList joins items as "a", "a and b" or "a, b and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

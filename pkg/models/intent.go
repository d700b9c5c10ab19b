package models

import "strings"

// Intent is the closed set of analytical operations a question can request.
type Intent string

const (
	IntentRanking     Intent = "ranking"
	IntentTrend       Intent = "trend"
	IntentComparison  Intent = "comparison"
	IntentLookup      Intent = "lookup"
	IntentAggregation Intent = "aggregation"
	IntentUnknown     Intent = "unknown"
)

// ValidIntents contains every intent value, Unknown included.
var ValidIntents = []Intent{
	IntentRanking,
	IntentTrend,
	IntentComparison,
	IntentLookup,
	IntentAggregation,
	IntentUnknown,
}

// ParseIntent maps free text onto the closed enumeration.
// Anything that is not an exact (case-insensitive) member returns IntentUnknown and false.
func ParseIntent(s string) (Intent, bool) {
	candidate := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, v := range ValidIntents {
		if v == candidate {
			return v, true
		}
	}
	return IntentUnknown, false
}

// IsActionable reports whether a query plan can be synthesized for the intent.
func (i Intent) IsActionable() bool {
	switch i {
	case IntentRanking, IntentTrend, IntentComparison, IntentLookup, IntentAggregation:
		return true
	case IntentUnknown:
		return false
	default:
		return false
	}
}

func (i Intent) String() string {
	return string(i)
}

package models

import "time"

// Turn is one committed question/answer exchange. Turns are never mutated after append.
type Turn struct {
	ID                 int            `json:"id"`
	RawQuestion        string         `json:"raw_question"`
	NormalizedQuestion string         `json:"normalized_question"`
	Intent             Intent         `json:"intent"`
	Entities           Entities       `json:"entities"`
	Plan               *QueryPlan     `json:"plan,omitempty"`
	GeneratedQuery     string         `json:"generated_query,omitempty"`
	ResultSummary      *ResultSummary `json:"result_summary,omitempty"`
	Timestamp          time.Time      `json:"timestamp"`
}

// ============================================================================
// Insights
// ============================================================================

// Fact is a number cited by a narrative, either a result value or a derivation of result values.
type Fact struct {
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
	Derived bool    `json:"derived,omitempty"`
}

// Insight is the narrative explanation of a result.
type Insight struct {
	Narrative  string             `json:"narrative"`
	CitedFacts []Fact             `json:"cited_facts"`
	Confidence float64            `json:"confidence"`
	Stats      map[string]float64 `json:"stats,omitempty"`
	Phrased    bool               `json:"phrased,omitempty"`
}

// ============================================================================
// Turn responses
// ============================================================================

// ClarificationKind classifies why the engine is asking instead of answering.
type ClarificationKind string

const (
	ClarifyAmbiguous    ClarificationKind = "ambiguous"
	ClarifyIncomplete   ClarificationKind = "incomplete"
	ClarifyUnknownName  ClarificationKind = "unknown_name"
	ClarifyUnknownQuery ClarificationKind = "unknown_intent"
	ClarifySmallTalk    ClarificationKind = "small_talk"
)

// Clarification is returned in place of an answer for recoverable failures.
type Clarification struct {
	Kind         ClarificationKind `json:"kind"`
	Message      string            `json:"message"`
	Candidates   []string          `json:"candidates,omitempty"`
	MissingRoles []Role            `json:"missing_roles,omitempty"`
	Err          error             `json:"-"`
}

// UnresolvedMention is a span the resolver could not map onto the catalog.
type UnresolvedMention struct {
	Role        Role     `json:"role"`
	Mention     string   `json:"mention"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// TurnResponse is the inbound contract's reply for one question.
type TurnResponse struct {
	TurnID          int                 `json:"turn_id,omitempty"`
	Intent          Intent              `json:"intent"`
	Entities        Entities            `json:"entities,omitempty"`
	Plan            *QueryPlan          `json:"query_plan,omitempty"`
	GeneratedQuery  string              `json:"generated_query,omitempty"`
	ResultSummary   *ResultSummary      `json:"result_summary,omitempty"`
	Insight         *Insight            `json:"insight,omitempty"`
	UnresolvedRoles []UnresolvedMention `json:"unresolved_roles,omitempty"`
	Clarification   *Clarification      `json:"clarification,omitempty"`
	// Hint suggests a follow-up, such as expanding a truncated result.
	Hint string `json:"hint,omitempty"`
}

// NeedsClarification reports whether the engine asked instead of answering.
func (r *TurnResponse) NeedsClarification() bool {
	return r.Clarification != nil || len(r.UnresolvedRoles) > 0
}

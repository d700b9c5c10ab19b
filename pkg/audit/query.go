// Package audit records warehouse activity as structured events for SIEM
// consumption: injection screening hits, executed statements and failures.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// EventType categorizes audit events for filtering and alerting.
type EventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags a bound value.
	EventSQLInjectionAttempt EventType = "sql_injection_attempt"
	// EventQueryExecution is logged for every statement that ran.
	EventQueryExecution EventType = "query_execution"
	// EventQueryFailure is logged when the warehouse rejected or abandoned a statement.
	EventQueryFailure EventType = "query_failure"
)

// Event is one auditable warehouse event.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	QueryID   uuid.UUID `json:"query_id"`
	SessionID string    `json:"session_id,omitempty"`
	Dialect   string    `json:"dialect,omitempty"`
	Details   any       `json:"details"`
	Severity  string    `json:"severity"` // info, warning, critical
}

// InjectionDetails describes a bound value that looked like SQL.
type InjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"` // libinjection fingerprint
	FactTable   string `json:"fact_table"`
}

// ExecutionDetails describes a statement that ran.
type ExecutionDetails struct {
	Intent    string `json:"intent"`
	FactTable string `json:"fact_table"`
	Rows      int    `json:"rows"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Query     string `json:"query"` // sanitized
}

// FailureDetails describes a statement the warehouse did not complete.
type FailureDetails struct {
	FactTable string `json:"fact_table"`
	Cause     string `json:"cause"` // redacted
	Timeout   bool   `json:"timeout"`
	Query     string `json:"query"` // sanitized
}

type sessionKey struct{}

// WithSession tags ctx with the conversation session the queries belong to.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFromContext returns the session set by WithSession, or "".
func SessionFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// Auditor logs warehouse events under the "query_audit" logger.
type Auditor struct {
	logger *zap.Logger
	clock  clockwork.Clock
}

// NewAuditor creates an auditor. A nil clock uses the real clock.
func NewAuditor(logger *zap.Logger, clock clockwork.Clock) *Auditor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Auditor{logger: logger.Named("query_audit"), clock: clock}
}

func (a *Auditor) event(ctx context.Context, typ EventType, queryID uuid.UUID, dialect, severity string, details any) (Event, string) {
	event := Event{
		Timestamp: a.clock.Now().UTC(),
		EventType: typ,
		QueryID:   queryID,
		SessionID: SessionFromContext(ctx),
		Dialect:   dialect,
		Details:   details,
		Severity:  severity,
	}
	// marshaling these types cannot fail
	eventJSON, _ := json.Marshal(event)
	return event, string(eventJSON)
}

// LogInjectionAttempt records a bound value rejected by injection screening.
// Logged at ERROR with "critical" severity.
func (a *Auditor) LogInjectionAttempt(ctx context.Context, queryID uuid.UUID, dialect string, details InjectionDetails) {
	event, eventJSON := a.event(ctx, EventSQLInjectionAttempt, queryID, dialect, "critical", details)
	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", eventJSON),
		zap.String("query_id", queryID.String()),
		zap.String("session_id", event.SessionID),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", event.Severity),
	)
}

// LogQueryExecution records a completed statement. Logged at DEBUG: every
// answered question produces one.
func (a *Auditor) LogQueryExecution(ctx context.Context, queryID uuid.UUID, dialect string, details ExecutionDetails) {
	event, eventJSON := a.event(ctx, EventQueryExecution, queryID, dialect, "info", details)
	a.logger.Debug("Query executed",
		zap.String("event_json", eventJSON),
		zap.String("query_id", queryID.String()),
		zap.String("session_id", event.SessionID),
		zap.String("fact_table", details.FactTable),
		zap.Int("rows", details.Rows),
		zap.String("severity", event.Severity),
	)
}

// LogQueryFailure records a statement the warehouse did not complete.
func (a *Auditor) LogQueryFailure(ctx context.Context, queryID uuid.UUID, dialect string, details FailureDetails) {
	event, eventJSON := a.event(ctx, EventQueryFailure, queryID, dialect, "warning", details)
	a.logger.Warn("Query failed",
		zap.String("event_json", eventJSON),
		zap.String("query_id", queryID.String()),
		zap.String("session_id", event.SessionID),
		zap.String("fact_table", details.FactTable),
		zap.Bool("timeout", details.Timeout),
		zap.String("severity", event.Severity),
	)
}

package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrClassificationUncertain marks a question whose intent resolved to Unknown.
	ErrClassificationUncertain = errors.New("classification uncertain")
	ErrSessionBusy             = errors.New("session is processing another turn")
)

// AmbiguityError is returned when a mention matches two or more equally valid candidates.
type AmbiguityError struct {
	Role       string
	Mention    string
	Candidates []string
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous %s %q: could be %s", e.Role, e.Mention, strings.Join(e.Candidates, " or "))
}

// IncompleteQueryError is returned when an intent lacks a role it requires.
type IncompleteQueryError struct {
	Intent  string
	Missing []string
	Reason  string
}

func (e *IncompleteQueryError) Error() string {
	msg := fmt.Sprintf("%s query is missing %s", e.Intent, strings.Join(e.Missing, ", "))
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// SchemaResolutionError is returned when a name has no catalog mapping.
type SchemaResolutionError struct {
	Kind        string
	Name        string
	Reason      string
	Suggestions []string
}

func (e *SchemaResolutionError) Error() string {
	msg := fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
	if e.Reason != "" {
		msg = fmt.Sprintf("%s %q: %s", e.Kind, e.Name, e.Reason)
	}
	if len(e.Suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean %s?)", strings.Join(e.Suggestions, ", "))
	}
	return msg
}

// QueryExecutionError wraps a failure of the execution collaborator.
// Cause is already redacted of credentials.
type QueryExecutionError struct {
	Cause     string
	Timeout   bool
	Attempts  int
	retryable bool
	err       error
}

// NewQueryExecutionError builds an execution error. cause must be redacted by the caller.
func NewQueryExecutionError(cause string, err error, retryable bool) *QueryExecutionError {
	return &QueryExecutionError{Cause: cause, err: err, retryable: retryable}
}

func (e *QueryExecutionError) Error() string {
	if e.Timeout {
		return "query execution timed out: " + e.Cause
	}
	return "query execution failed: " + e.Cause
}

// Unwrap returns the underlying error for errors.Is checks (context errors, driver sentinels).
func (e *QueryExecutionError) Unwrap() error {
	return e.err
}

// IsRetryable reports whether the caller may submit the question again.
func (e *QueryExecutionError) IsRetryable() bool {
	return e.retryable || e.Timeout
}

// IsRecoverable reports whether err should be surfaced as a clarification
// rather than a failure.
func IsRecoverable(err error) bool {
	var amb *AmbiguityError
	var inc *IncompleteQueryError
	var sch *SchemaResolutionError
	return errors.As(err, &amb) || errors.As(err, &inc) || errors.As(err, &sch) ||
		errors.Is(err, ErrClassificationUncertain)
}

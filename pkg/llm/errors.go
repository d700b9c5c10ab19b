package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrorType classifies what part of the model collaborator failed.
type ErrorType string

const (
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeResponse  ErrorType = "response"
	ErrorTypeCircuit   ErrorType = "circuit_open"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int    // HTTP status code if known
	Model      string // Model name if known
	Endpoint   string // Endpoint URL if known; only the host is printed
}

// Error implements the error interface.
func (e *Error) Error() string {
	parts := []string{string(e.Type)}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if host := endpointHost(e.Endpoint); host != "" {
		parts = append(parts, "endpoint="+host)
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

func (e *Error) withContext(model, endpoint string) *Error {
	if e.Model == "" {
		e.Model = model
	}
	if e.Endpoint == "" {
		e.Endpoint = endpoint
	}
	return e
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

type classifyRule struct {
	errType   ErrorType
	message   string
	retryable bool
	match     func(lower string, status int) bool
}

// classifyRules are evaluated in order; the first match wins.
var classifyRules = []classifyRule{
	{ErrorTypeAuth, "authentication failed", false, func(lower string, status int) bool {
		return status == 401 || status == 403 || containsAny(lower, "unauthorized", "invalid api key", "invalid x-api-key")
	}},
	{ErrorTypeModel, "model not found", false, func(lower string, _ int) bool {
		return strings.Contains(lower, "model") && containsAny(lower, "not found", "does not exist")
	}},
	{ErrorTypeEndpoint, "endpoint not found", false, func(_ string, status int) bool {
		return status == 404
	}},
	{ErrorTypeEndpoint, "connection failed", true, func(lower string, _ int) bool {
		return containsAny(lower, "connection refused", "no such host", "connection reset")
	}},
	{ErrorTypeTimeout, "request timeout", true, func(lower string, _ int) bool {
		return containsAny(lower, "timeout", "deadline exceeded")
	}},
	{ErrorTypeRateLimit, "rate limited", true, func(lower string, status int) bool {
		return status == 429 || containsAny(lower, "rate limit", "overloaded")
	}},
	{ErrorTypeEndpoint, "server error", true, func(_ string, status int) bool {
		return status >= 500
	}},
}

// ClassifyError categorizes an error and returns a structured Error.
// Context cancellation is never retryable: the caller gave up.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrorTypeTimeout, "request canceled", false, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrorTypeTimeout, "request timeout", true, err)
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	status := statusCode(msg)

	for _, rule := range classifyRules {
		if rule.match(lower, status) {
			e := NewError(rule.errType, rule.message, rule.retryable, err)
			e.StatusCode = status
			return e
		}
	}

	e := NewError(ErrorTypeUnknown, "llm error", false, err)
	e.StatusCode = status
	return e
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// statusCode finds the first HTTP status code in an error message.
func statusCode(msg string) int {
	for _, field := range strings.FieldsFunc(msg, func(r rune) bool { return r < '0' || r > '9' }) {
		if len(field) != 3 {
			continue
		}
		if code, err := strconv.Atoi(field); err == nil && code >= 400 && code < 600 {
			return code
		}
	}
	return 0
}

func endpointHost(endpoint string) string {
	if endpoint == "" {
		return ""
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

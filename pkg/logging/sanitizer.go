// Package logging builds the process logger and redacts credentials from
// anything that may reach a log line or a user-visible error.
package logging

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// MaxQueryLogLength is the maximum length of a query to log
	MaxQueryLogLength = 200
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"
)

var (
	// password=xxx, pwd=xxx, pass=xxx up to the next delimiter; also
	// ADO-style "Password=xxx;" used by SQL Server connection strings
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)\s*=\s*[^;&\s]+`)

	// Bearer tokens
	bearerPattern = regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9\-_.~+/]+=*`)

	// api_key=..., x-api-key: ..., sk-... style provider keys
	apiKeyPattern   = regexp.MustCompile(`(?i)(api[_-]?key|apikey|x-api-key)(\s*[=:]\s*)[A-Za-z0-9\-_]{16,}`)
	providerKeyLike = regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{16,}`)

	// user:pass@host in URLs (postgres://, sqlserver://)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s?]+`)
)

// SanitizeConnectionString removes sensitive data from connection strings.
// Use this before logging any connection string.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Use this before logging or surfacing any warehouse or model error.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeText(err.Error())
}

// SanitizeText applies every credential pattern to s.
func SanitizeText(s string) string {
	sanitized := passwordPattern.ReplaceAllString(s, "${1}="+RedactedText)
	sanitized = bearerPattern.ReplaceAllString(sanitized, "Bearer "+RedactedText)
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}${2}"+RedactedText)
	sanitized = providerKeyLike.ReplaceAllString(sanitized, RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeQuery truncates and sanitizes a SQL query for logging.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return SanitizeText(TruncateString(query, MaxQueryLogLength))
}

// TruncateString truncates s to at most maxLen bytes on a rune boundary and
// adds an ellipsis if anything was cut.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Redactor removes known secret values (configured passwords, API keys) in
// addition to the pattern-based redaction of SanitizeText.
type Redactor struct {
	secrets []string
}

// NewRedactor creates a redactor for the given secrets. Empty and very short
// values are ignored since they would redact ordinary text.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{}
	for _, s := range secrets {
		if len(s) >= 4 {
			r.secrets = append(r.secrets, s)
		}
	}
	// longest first so a secret containing another is removed whole
	sort.Slice(r.secrets, func(i, j int) bool { return len(r.secrets[i]) > len(r.secrets[j]) })
	return r
}

// Error returns err's message with secrets and credential patterns removed.
func (r *Redactor) Error(err error) string {
	if err == nil {
		return ""
	}
	return r.Text(err.Error())
}

// Text returns s with secrets and credential patterns removed.
func (r *Redactor) Text(s string) string {
	if r != nil {
		for _, secret := range r.secrets {
			s = strings.ReplaceAll(s, secret, RedactedText)
		}
	}
	return SanitizeText(s)
}

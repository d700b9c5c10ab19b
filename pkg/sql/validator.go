package sql

import (
	"errors"
	"strings"
)

// ErrMultipleStatements indicates the text holds more than one SQL statement.
var ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

// ValidationResult contains the normalized SQL and any validation error.
type ValidationResult struct {
	NormalizedSQL string
	Error         error
}

// ValidateAndNormalize trims the statement, strips one trailing semicolon and
// rejects any other semicolon outside quoted text.
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	normalized := stripTrailingSemicolon(strings.TrimSpace(sqlQuery))
	if normalized == "" {
		return ValidationResult{}
	}
	if hasSemicolonOutsideQuotes(normalized) {
		return ValidationResult{Error: ErrMultipleStatements}
	}
	return ValidationResult{NormalizedSQL: normalized}
}

// hasSemicolonOutsideQuotes scans for a semicolon outside '...', "..." and [...].
// Doubled quotes ('' and "") and ]] stay inside the quoted run.
func hasSemicolonOutsideQuotes(s string) bool {
	var closing rune
	for _, ch := range s {
		if closing != 0 {
			if ch == closing {
				// a doubled quote re-opens on the next rune
				closing = 0
			}
			continue
		}
		switch ch {
		case ';':
			return true
		case '\'':
			closing = '\''
		case '"':
			closing = '"'
		case '[':
			closing = ']'
		}
	}
	return false
}

func stripTrailingSemicolon(s string) string {
	s = strings.TrimRight(s, " \t\n\r")
	if strings.HasSuffix(s, ";") {
		s = strings.TrimRight(strings.TrimSuffix(s, ";"), " \t\n\r")
	}
	return s
}

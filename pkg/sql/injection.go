package sql

import (
	"fmt"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a bound value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Column or placeholder the value is bound to
	ParamValue  any
}

// CheckParameterForInjection uses libinjection to detect SQL injection patterns
// in a value bound to paramName.
//
// Only string values are checked; numbers (date keys, limits) cannot carry an
// injection and return nil.
//
// Example:
//
//	CheckParameterForInjection("AssetName", "Oakview Apartments") // nil
//	CheckParameterForInjection("AssetName", "x' OR '1'='1")       // IsSQLi == true
func CheckParameterForInjection(paramName string, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &InjectionCheckResult{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			ParamName:   paramName,
			ParamValue:  value,
		}
	}

	return nil
}

// CheckArguments screens positional arguments, naming each by its 1-based position.
// Returns nil when every argument is clean.
func CheckArguments(args []any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for i, value := range args {
		if result := CheckParameterForInjection(fmt.Sprintf("arg%d", i+1), value); result != nil {
			results = append(results, result)
		}
	}
	return results
}

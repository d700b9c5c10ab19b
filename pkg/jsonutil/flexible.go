// Package jsonutil reads loosely typed JSON produced by language models.
package jsonutil

import (
	"encoding/json"
	"strconv"
	"strings"
)

// FlexibleString is a string field that also accepts numbers, booleans and
// null, which models return in place of quoted strings.
type FlexibleString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleString) UnmarshalJSON(data []byte) error {
	*f = FlexibleString(FlexibleStringValue(data))
	return nil
}

// FlexibleFloat is a number field that also accepts numeric strings such as
// "0.8" or "80%". Unparseable values decode as zero.
type FlexibleFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleFloat) UnmarshalJSON(data []byte) error {
	v, _ := FlexibleFloatValue(data)
	*f = FlexibleFloat(v)
	return nil
}

// FlexibleStringValue converts a json.RawMessage to a string, handling cases where
// models return numbers or booleans instead of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return strconv.FormatFloat(numVal, 'f', -1, 64)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return strconv.FormatBool(boolVal)
	}

	return string(raw)
}

// FlexibleFloatValue converts a json.RawMessage holding a number or a numeric
// string to float64. A trailing percent sign divides by 100.
func FlexibleFloatValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		return numVal, true
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err != nil {
		return 0, false
	}
	strVal = strings.TrimSpace(strVal)
	scale := 1.0
	if strings.HasSuffix(strVal, "%") {
		strVal = strings.TrimSpace(strings.TrimSuffix(strVal, "%"))
		scale = 100
	}
	v, err := strconv.ParseFloat(strVal, 64)
	if err != nil {
		return 0, false
	}
	return v / scale, true
}

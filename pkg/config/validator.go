package config

import (
	"fmt"
	"strings"
)

// ValidationError is a single configuration validation failure with enough
// context to fix it without reading the source.
type ValidationError struct {
	Field    string
	Value    string
	Message  string
	Expected string
	Hint     string
}

// ValidationResult accumulates every ValidationError found by Validate,
// rather than failing fast on the first one, so a caller sees every
// misconfigured field in one pass.
type ValidationResult struct {
	Errors []ValidationError
}

func (v *ValidationResult) Add(err ValidationError) { v.Errors = append(v.Errors, err) }

func (v *ValidationResult) HasErrors() bool { return len(v.Errors) > 0 }

// FormatErrors renders every accumulated error into one human-readable
// numbered list with hints.
func (v *ValidationResult) FormatErrors() string {
	if !v.HasErrors() {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration errors:\n")
	for i, err := range v.Errors {
		sb.WriteString(fmt.Sprintf("\n  %d. %s\n", i+1, err.Field))
		if err.Value != "" {
			sb.WriteString(fmt.Sprintf("     value: %q\n", err.Value))
		}
		sb.WriteString(fmt.Sprintf("     error: %s\n", err.Message))
		if err.Expected != "" {
			sb.WriteString(fmt.Sprintf("     expected: %s\n", err.Expected))
		}
		if err.Hint != "" {
			sb.WriteString(fmt.Sprintf("     hint: %s\n", err.Hint))
		}
	}
	return sb.String()
}

// fieldHints maps Configuration fields to a fix-it suggestion shown
// alongside a validation failure.
var fieldHints = map[string]string{
	"Endpoint":           "A full URL including scheme, e.g. https://nosql.us-ashburn-1.oci.oraclecloud.com",
	"DefaultTimeout":      "A positive duration, e.g. 5s.",
	"TableDDLTimeout":     "A positive duration long enough for CreateTable/DropTable to be accepted, e.g. 10s.",
	"TablePollTimeout":    "The overall budget for waiting on a table to reach its target state, e.g. 2m.",
	"TablePollDelay":      "The delay between successive GetTable polls, e.g. 1s.",
	"RateLimiterPercent":  "A value in (0, 100]; 100 paces at the table's full provisioned throughput.",
	"SecurityInfoNotReadyTimeout": "A positive duration; overrides the request timeout only when it would otherwise be shorter.",
}

// GetHint returns a helpful suggestion for a field, or empty if none is
// registered.
func GetHint(field string) string {
	return fieldHints[field]
}

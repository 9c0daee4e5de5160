package entities

import "strings"

// ValidationResult is the outcome of checking a policy document.
type ValidationResult struct {
	Errors   []ValidationError `json:"errors,omitempty"`
	Warnings []ValidationError `json:"warnings,omitempty"`
	Valid    bool              `json:"valid"`
}

// ValidationError points at one offending field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// AddError records an error and marks the result invalid.
func (r *ValidationResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning records a non-fatal finding.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Error joins all error messages; empty when valid.
func (r *ValidationResult) Error() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return strings.Join(parts, "; ")
}

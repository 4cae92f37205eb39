package validator

import (
	"fmt"
	"strings"
)

// Error is a single rule validation failure. Field identifies the rule
// field (dotted path for criteria conditions, e.g. "criteria.conditions[2]").
type Error struct {
	Field      string
	Message    string
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, e.Suggestion)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ErrorList accumulates validation failures so a caller sees every
// problem with a rule at once instead of fixing them one at a time.
type ErrorList struct {
	Errors []*Error
}

// NewErrorList creates a new empty error list.
func NewErrorList() *ErrorList {
	return &ErrorList{Errors: make([]*Error, 0)}
}

// Add creates and appends a failure for the given field.
func (el *ErrorList) Add(field, format string, args ...any) {
	el.Errors = append(el.Errors, &Error{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	})
}

// AddWithSuggestion creates and appends a failure with a suggested fix.
func (el *ErrorList) AddWithSuggestion(field, message, suggestion string) {
	el.Errors = append(el.Errors, &Error{
		Field:      field,
		Message:    message,
		Suggestion: suggestion,
	})
}

// HasErrors returns true if the list contains any failures.
func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

// Error implements the error interface.
func (el *ErrorList) Error() string {
	if !el.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("rule validation failed with %d error(s):", len(el.Errors)))
	for _, err := range el.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// ToError returns nil if the list is empty, otherwise the list itself.
func (el *ErrorList) ToError() error {
	if !el.HasErrors() {
		return nil
	}
	return el
}

package models

import (
	"errors"
	"fmt"
)

// ValidationError reports bad job or webhook configuration. Nothing is changed when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthenticationError reports a webhook signature mismatch
type AuthenticationError struct {
	Source  string
	Message string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for source %s: %s", e.Source, e.Message)
}

// NotFoundError reports an unknown job, subscription, handler, entity or conflict
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// NewNotFoundError creates a NotFoundError
func NewNotFoundError(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// AdapterError reports an unreachable source or malformed source data
type AdapterError struct {
	Source string
	Op     string
	Err    error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError wraps err as an AdapterError
func NewAdapterError(source, op string, err error) error {
	return &AdapterError{Source: source, Op: op, Err: err}
}

// IsValidation reports whether err is or wraps a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsAuthentication reports whether err is or wraps an AuthenticationError
func IsAuthentication(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a NotFoundError
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAdapter reports whether err is or wraps an AdapterError
func IsAdapter(err error) bool {
	var target *AdapterError
	return errors.As(err, &target)
}

// Package services holds the gateway use-cases: account registration and
// login, and the proxied AI capabilities with their local fallbacks.
// This file centralizes the service-level error values so handlers can map
// them to HTTP results consistently.
package services

import (
	"errors"
	"strings"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidCredentials is returned by Login for an unknown email or a
	// wrong password. The two cases are not distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserExists is returned by Register when the username or email is taken.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned when the token refers to a user that no
	// longer exists.
	ErrUserNotFound = errors.New("user not found")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every invalid field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) true.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// validator accumulates field errors.
type validator struct {
	fields []FieldError
}

func (v *validator) add(field, msg string) {
	v.fields = append(v.fields, FieldError{Field: field, Message: msg})
}

func (v *validator) check(ok bool, field, msg string) {
	if !ok {
		v.add(field, msg)
	}
}

// err returns nil when nothing was recorded.
func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: v.fields}
}

// DegradedError wraps an upstream failure together with what the gateway
// could still do locally: a fallback payload, or a locally saved report.
type DegradedError struct {
	Capability   string
	Err          error
	Fallback     any
	SavedLocally bool
	ReportID     string
}

func (e *DegradedError) Error() string {
	return e.Capability + ": " + e.Err.Error()
}

func (e *DegradedError) Unwrap() error { return e.Err }

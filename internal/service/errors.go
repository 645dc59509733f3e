package service

import "fmt"

// The route layer translates these into HTTP 400/404/403. Anything else
// surfaces as a 500.

// ValidationError covers malformed input and business-rule violations such
// as joining a room twice.
type ValidationError struct {
	msg string
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string { return e.msg }

// NotFoundError means a referenced room or resource does not exist.
type NotFoundError struct {
	msg string
}

func NewNotFoundError(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{msg: fmt.Sprintf(format, args...)}
}

func (e *NotFoundError) Error() string { return e.msg }

// AuthorizationError means the caller lacks the required role.
type AuthorizationError struct {
	msg string
}

func NewAuthorizationError(format string, args ...interface{}) *AuthorizationError {
	return &AuthorizationError{msg: fmt.Sprintf(format, args...)}
}

func (e *AuthorizationError) Error() string { return e.msg }

package apperrors

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrAccountExpired     = errors.New("student account is expired")

	ErrSessionExpired        = errors.New("session expired")
	ErrInsufficientPrivilege = errors.New("insufficient privilege")
	ErrPasswordMismatch      = errors.New("passwords do not match")
	ErrValidationFailed      = errors.New("validation failed")

	ErrNetworkFailure     = errors.New("network failure")
	ErrUnexpectedResponse = errors.New("unexpected response")

	ErrInvalidSession   = errors.New("session is incomplete")
	ErrNotInitialized   = errors.New("auth is not initialized")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionNotFound  = errors.New("session not found")
)

// ValidationError carries per-field messages reported by the client-side
// validator or by the remote API. Field keys are wire (json) names.
type ValidationError struct {
	Message string
	Fields  map[string][]string
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string][]string)}
}

// Add appends a message for the field
func (e *ValidationError) Add(field, message string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
	return e
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Message != "" {
			return e.Message
		}
		return ErrValidationFailed.Error()
	}

	parts := make([]string, 0, len(e.Fields))
	for _, field := range slices.Sorted(maps.Keys(e.Fields)) {
		parts = append(parts, field+": "+strings.Join(e.Fields[field], "; "))
	}

	return ErrValidationFailed.Error() + ": " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

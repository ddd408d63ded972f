// Package apperror defines the error taxonomy shared by every layer.
//
// Sentinels identify the KIND of failure (errors.Is), AppError carries the
// human-readable message(s) for the client (errors.As). Store failures are
// never AppErrors: they travel up as wrapped errors and end as a 500.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("Validation Error")
	ErrInvariant    = errors.New("invariant violated")
	ErrUnauthorized = errors.New("unauthorized")
)

type AppError struct {
	Err      error    // actual error
	Message  string   // Human-readable error message
	Field    string   // Optional: field causing the error
	Messages []string // Optional: every validation message, in order
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Details returns every client-facing message carried by the error.
func (e *AppError) Details() []string {
	if len(e.Messages) > 0 {
		return e.Messages
	}
	return []string{e.Message}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Invalid bundles several validation messages into one error.
// Message is the first one so Error() stays readable in logs.
func Invalid(messages ...string) *AppError {
	e := &AppError{Err: ErrValidation, Messages: messages}
	if len(messages) > 0 {
		e.Message = messages[0]
	}
	return e
}

// InvariantViolated reports stored data that breaks a rule the resolver
// relies on (a cluster without a primary, a chained link). HTTP handlers map
// this to 500: it is our bug or corrupted data, never the caller's.
func InvariantViolated(format string, args ...any) *AppError {
	return &AppError{
		Err:     ErrInvariant,
		Message: fmt.Sprintf(format, args...),
	}
}

// Unauthorized returns an AppError for a missing or rejected credential.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// TABLE-DRIVEN TESTS:
// Each case names the constructor under test and the sentinel it must wrap.
// errors.Is walks the Unwrap chain, so wrapping with fmt.Errorf("%w") must
// not hide the kind.

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("contact", "42"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "Please provide a valid email address"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Invalid wraps ErrValidation",
			err:       Invalid("a", "b"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "InvariantViolated wraps ErrInvariant",
			err:       InvariantViolated("cluster %d has no primary", 7),
			target:    ErrInvariant,
			wantMatch: true,
		},
		{
			name:      "Unauthorized wraps ErrUnauthorized",
			err:       Unauthorized("token expired"),
			target:    ErrUnauthorized,
			wantMatch: true,
		},
		{
			name:      "wrapped NotFound still matches",
			err:       fmt.Errorf("looking up contact: %w", NotFound("contact", "1")),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("contact", "42"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "InvariantViolated does NOT match ErrValidation",
			err:       InvariantViolated("bad"),
			target:    ErrValidation,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("contact", "42"),
			wantMessage: "contact not found with id 42",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("email", "Please provide a valid email address"),
			wantMessage: "Please provide a valid email address",
		},
		{
			name:        "Invalid uses the first message",
			err:         Invalid("first", "second"),
			wantMessage: "first",
		},
		{
			name:        "InvariantViolated formats its arguments",
			err:         InvariantViolated("cluster %d has no primary", 7),
			wantMessage: "cluster 7 has no primary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestDetails(t *testing.T) {
	single := ValidationFailed("email", "bad email")
	if got := single.Details(); len(got) != 1 || got[0] != "bad email" {
		t.Errorf("Details() = %v, want [bad email]", got)
	}

	multi := Invalid("one", "two")
	got := multi.Details()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("Details() = %v, want [one two]", got)
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("contact", "42")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestValidationFailedField(t *testing.T) {
	err := ValidationFailed("email", "invalid email format")
	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}

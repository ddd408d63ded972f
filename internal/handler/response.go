package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
//   writeJSON(w, http.StatusOK, data)
//   writeError(w, err)
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape, the one expected by
// existing identify clients:
//   {"statusCode": 400, "error": "Bad Request", "message": ["..."]}
//
// "message" is always a list, even with a single entry, so a client can show
// every validation problem at once.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/contact-identity/internal/apperror"
)

// internalErrorMessage is the only thing a client learns about a 500.
const internalErrorMessage = "Internal server error"

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	StatusCode int      `json:"statusCode"` // HTTP status, repeated in the body
	Error      string   `json:"error"`      // status text, e.g. "Bad Request"
	Message    []string `json:"message"`    // human-readable descriptions
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status must be written BEFORE the body: once Encode calls
// w.Write the headers are on the wire and later changes are ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; logging is all that is left.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeErrorStatus sends the error envelope for status with the given messages.
func writeErrorStatus(w http.ResponseWriter, status int, messages ...string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    messages,
	})
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// ERROR MAPPING:
//
//	apperror.ErrValidation   → 400
//	apperror.ErrUnauthorized → 401
//	apperror.ErrNotFound     → 404
//	anything else            → 500 (ErrInvariant and store failures included)
//
// errors.Is walks the Unwrap chain, so a store error wrapped by fmt.Errorf
// with %w still maps correctly. A 500 never carries the underlying message:
// it may contain SQL, file paths or connection details.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		switch {
		case errors.Is(err, apperror.ErrValidation):
			writeErrorStatus(w, http.StatusBadRequest, appErr.Details()...)
			return
		case errors.Is(err, apperror.ErrUnauthorized):
			writeErrorStatus(w, http.StatusUnauthorized, appErr.Details()...)
			return
		case errors.Is(err, apperror.ErrNotFound):
			writeErrorStatus(w, http.StatusNotFound, appErr.Details()...)
			return
		}
	}

	writeErrorStatus(w, http.StatusInternalServerError, internalErrorMessage)
}

// isServerError reports whether writeError would answer err with a 500.
func isServerError(err error) bool {
	return !errors.Is(err, apperror.ErrValidation) &&
		!errors.Is(err, apperror.ErrUnauthorized) &&
		!errors.Is(err, apperror.ErrNotFound)
}

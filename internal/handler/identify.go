// Package handler contains the HTTP handlers of the identity service.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse and validate the incoming request (body, path params)
//  2. Call the resolver
//  3. Write the HTTP response (status code, headers, JSON body)
//
// Handlers hold no cluster rules. Everything about primaries, secondaries and
// merges lives in the service package.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/contact-identity/internal/apperror"
	"github.com/sakif/contact-identity/internal/model"
)

// maxBodyBytes caps the identify request body. The payload is two short strings.
const maxBodyBytes = 64 << 10

// Client-facing validation messages. They match the wording existing
// callers already parse, so change them only together with those callers.
const (
	msgInvalidJSON  = "Request body must be valid JSON"
	msgInvalidEmail = "Please provide a valid email address"
	msgAtLeastOne   = "At least one of email or phoneNumber must be provided"
	msgEmailString  = "email must be a string"
	msgPhoneString  = "phoneNumber must be a string"
)

// ContactResolver is the part of service.Resolver the handlers need.
// Declaring it here lets tests swap in a mock.
type ContactResolver interface {
	Resolve(ctx context.Context, email, phone *string) (*model.ConsolidatedContact, error)
	Lookup(ctx context.Context, id int64) (*model.ConsolidatedContact, error)
}

// identifyRequest is the raw body of POST /identify.
//
// Fields are json.RawMessage so a number or object in either field can be
// reported as "must be a string" instead of a generic decode error.
type identifyRequest struct {
	Email       json.RawMessage `json:"email"`
	PhoneNumber json.RawMessage `json:"phoneNumber"`
}

// identifyInput is the decoded, trimmed request that the validator checks.
type identifyInput struct {
	Email       string `validate:"omitempty,email"`
	PhoneNumber string `validate:"required_without=Email"`
}

// validationMessages maps a failed validator tag to the message the client sees.
var validationMessages = map[string]string{
	"email":            msgInvalidEmail,
	"required_without": msgAtLeastOne,
}

// IdentifyHandler serves POST /identify.
type IdentifyHandler struct {
	resolver ContactResolver
	validate *validator.Validate
	logger   *slog.Logger
}

// NewIdentifyHandler creates a new IdentifyHandler.
func NewIdentifyHandler(resolver ContactResolver, logger *slog.Logger) *IdentifyHandler {
	return &IdentifyHandler{
		resolver: resolver,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// HandleIdentify reconciles the submitted email and/or phone number.
//
// HTTP: POST /identify
// REQUEST BODY:  {"email": "mcfly@hillvalley.edu", "phoneNumber": "123456"}
// RESPONSE 200:
//
//	{"contact": {"primaryContatctId": 1, "emails": [...], "phoneNumbers": [...], "secondaryContactIds": [...]}}
//
// Either field may be missing, null or "". At least one must carry a value.
func (h *IdentifyHandler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	input, err := h.decode(w, r)
	if err != nil {
		h.logger.Debug("rejected identify request", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	view, err := h.resolver.Resolve(r.Context(),
		model.StringPtr(input.Email), model.StringPtr(input.PhoneNumber))
	if err != nil {
		if isServerError(err) {
			h.logger.Error("identify failed", slog.String("error", err.Error()))
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.IdentifyResponse{Contact: *view})
}

// decode reads, trims and validates the request body.
func (h *IdentifyHandler) decode(w http.ResponseWriter, r *http.Request) (identifyInput, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return identifyInput{}, apperror.Invalid(msgInvalidJSON)
	}

	var req identifyRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return identifyInput{}, apperror.Invalid(msgInvalidJSON)
		}
	}

	var (
		input    identifyInput
		messages []string
	)
	if input.Email, err = optionalString(req.Email); err != nil {
		messages = append(messages, msgEmailString)
	}
	if input.PhoneNumber, err = optionalString(req.PhoneNumber); err != nil {
		messages = append(messages, msgPhoneString)
	}
	if len(messages) > 0 {
		return identifyInput{}, apperror.Invalid(messages...)
	}

	if err := h.validate.Struct(input); err != nil {
		return identifyInput{}, apperror.Invalid(describeValidation(err)...)
	}
	return input, nil
}

// optionalString decodes an absent or null field as "" and a JSON string as
// its trimmed value. Anything else is an error.
func optionalString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// describeValidation turns validator errors into client messages.
func describeValidation(err error) []string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if msg, ok := validationMessages[fe.Tag()]; ok {
			messages = append(messages, msg)
			continue
		}
		messages = append(messages, fe.Field()+" is invalid")
	}
	return messages
}

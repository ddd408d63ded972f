package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/contact-identity/internal/apperror"
	"github.com/sakif/contact-identity/internal/model"
)

// ContactHandler serves the operator lookup endpoint.
type ContactHandler struct {
	resolver ContactResolver
	logger   *slog.Logger
}

// NewContactHandler creates a new ContactHandler.
func NewContactHandler(resolver ContactResolver, logger *slog.Logger) *ContactHandler {
	return &ContactHandler{resolver: resolver, logger: logger}
}

// HandleGet returns the consolidated view of the cluster that contains a
// contact, whether the id names its primary or one of its secondaries.
//
// HTTP: GET /contacts/{id}
//
// chi.URLParam reads the {id} segment declared on the route.
func (h *ContactHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, apperror.Invalid("id must be a positive integer"))
		return
	}

	view, err := h.resolver.Lookup(r.Context(), id)
	if err != nil {
		if isServerError(err) {
			h.logger.Error("contact lookup failed",
				slog.Int64("contact_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, model.IdentifyResponse{Contact: *view})
}

// Pinger is anything that can report whether its backend is reachable.
// repository.ContactStore satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /health.
type HealthHandler struct {
	store  Pinger
	logger *slog.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(store Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{store: store, logger: logger}
}

// HandleHealth answers {"status":"ok"} when the store responds to a ping
// and 503 with {"status":"unavailable"} otherwise.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("health check failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

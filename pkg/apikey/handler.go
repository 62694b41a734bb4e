package apikey

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flm-project/flm-gateway/internal/domain"
	"github.com/flm-project/flm-gateway/internal/httpapi"
)

// Handler provides the admin HTTP handlers for API key management.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates an API key Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes returns a chi.Router with every API key route mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Post("/{id}/rotate", h.handleRotate)
	r.Delete("/{id}", h.handleRevoke)
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !httpapi.DecodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.logger.Error("creating api key", "error", err)
		httpapi.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to create api key")
		return
	}
	httpapi.Respond(w, http.StatusCreated, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("listing api keys", "error", err)
		httpapi.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list api keys")
		return
	}
	httpapi.Respond(w, http.StatusOK, map[string]any{"keys": items, "count": len(items)})
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	resp, err := h.service.Rotate(r.Context(), id)
	if err != nil {
		h.writeRepoError(w, "rotating api key", id, err)
		return
	}
	httpapi.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Revoke(r.Context(), id); err != nil {
		h.writeRepoError(w, "revoking api key", id, err)
		return
	}
	httpapi.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) writeRepoError(w http.ResponseWriter, action, id string, err error) {
	if domain.IsRepoNotFound(err) {
		httpapi.RespondError(w, http.StatusNotFound, "not_found", "api key not found")
		return
	}
	var re *domain.RepoError
	if errors.As(err, &re) && re.Kind == domain.RepoValidationError {
		httpapi.RespondError(w, http.StatusBadRequest, "bad_request", re.Message)
		return
	}
	h.logger.Error(action, "error", err, "id", id)
	httpapi.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to "+action)
}

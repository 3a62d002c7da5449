package activity

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-strategy/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
)

// Handler exposes the activity ping used by the dashboard.
type Handler struct {
	monitor  *Monitor
	logger   *slog.Logger
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(monitor *Monitor, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{monitor: monitor, logger: logger, validate: validator.New()}
}

// MountRoutes registers the ping endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/activity", h.ping)
}

type pingRequest struct {
	Event string `json:"event" validate:"required,max=32"`
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.Authenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no active session")
		return
	}
	var req pingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	if !IsQualifying(req.Event) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	state, err := h.monitor.Check(r.Context(), sess.ID, sess.User())
	if err != nil {
		h.logger.Error("activity check", slog.Any("error", err))
	}
	if state == StateExpired {
		httpx.JSON(w, http.StatusUnauthorized, map[string]any{"state": state, "redirect": "/auth/login?sessionExpired=true"})
		return
	}
	if err := h.monitor.Touch(r.Context(), sess.ID); err != nil {
		h.logger.Error("activity touch", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "activity store unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

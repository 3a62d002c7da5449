package planning

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-strategy/internal/guard"
	"github.com/odyssey-erp/odyssey-strategy/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-strategy/internal/rbac"
)

type planningService interface {
	ListGoals(ctx context.Context, filter ListFilter) ([]Goal, error)
	GetGoal(ctx context.Context, id int64) (Goal, error)
	CreateGoal(ctx context.Context, in GoalInput) (Goal, error)
	UpdateGoal(ctx context.Context, id int64, in GoalInput) (Goal, error)
	DeleteGoal(ctx context.Context, id int64) error
	ListInitiatives(ctx context.Context, filter ListFilter) ([]Initiative, error)
	CreateInitiative(ctx context.Context, in InitiativeInput) (Initiative, error)
	UpdateInitiative(ctx context.Context, id int64, in InitiativeInput) (Initiative, error)
	DeleteInitiative(ctx context.Context, id int64) error
	Dashboard(ctx context.Context) (Summary, error)
}

// Protector wraps handlers with a guard policy.
type Protector interface {
	Protect(p guard.Policy) func(http.Handler) http.Handler
}

// Handler serves the planning JSON API.
type Handler struct {
	logger  *slog.Logger
	service planningService
	guard   Protector
	rbac    rbac.Middleware
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service planningService, g Protector, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: g, rbac: mw}
}

// MountRoutes registers the planning endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/goals", func(r chi.Router) {
		r.With(h.protect(rbac.ResourceGoals, rbac.ActionView, guard.ActionView)).Get("/", h.listGoals)
		r.With(h.protect(rbac.ResourceGoals, rbac.ActionCreate, guard.ActionEdit)).Post("/", h.createGoal)
		r.With(h.protect(rbac.ResourceGoals, rbac.ActionView, guard.ActionView)).Get("/{id}", h.getGoal)
		r.With(h.protect(rbac.ResourceGoals, rbac.ActionEdit, guard.ActionEdit)).Put("/{id}", h.updateGoal)
		r.With(h.protect(rbac.ResourceGoals, rbac.ActionDelete, guard.ActionDelete)).Delete("/{id}", h.deleteGoal)
		r.With(h.protect(rbac.ResourceInitiatives, rbac.ActionView, guard.ActionView)).Get("/{id}/initiatives", h.listGoalInitiatives)
	})
	r.Route("/initiatives", func(r chi.Router) {
		r.With(h.protect(rbac.ResourceInitiatives, rbac.ActionView, guard.ActionView)).Get("/", h.listInitiatives)
		r.With(h.protect(rbac.ResourceInitiatives, rbac.ActionCreate, guard.ActionEdit)).Post("/", h.createInitiative)
		r.With(h.protect(rbac.ResourceInitiatives, rbac.ActionEdit, guard.ActionEdit)).Put("/{id}", h.updateInitiative)
		r.With(h.protect(rbac.ResourceInitiatives, rbac.ActionDelete, guard.ActionDelete)).Delete("/{id}", h.deleteInitiative)
	})
	r.With(h.protect(rbac.ResourceGoals, rbac.ActionView, guard.ActionView)).Get("/dashboard", h.dashboard)
}

// protect runs the guard with the capability's minimum role, then the capability
// check against the role the guard already resolved.
func (h *Handler) protect(resource, action string, kind guard.Action) func(http.Handler) http.Handler {
	policy := guard.Policy{ResourceType: resource, Action: kind}
	if minimum, ok := rbac.MinimumRoleFor(resource, action); ok {
		policy.RequiredRoles = []string{string(minimum)}
	}
	guarded := h.guard.Protect(policy)
	allowed := h.rbac.RequireAccess(resource, action)
	return func(next http.Handler) http.Handler {
		return guarded(allowed(next))
	}
}

func (h *Handler) listGoals(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	goals, err := h.service.ListGoals(r.Context(), filter)
	if err != nil {
		h.fail(w, "list goals", err)
		return
	}
	if goals == nil {
		goals = []Goal{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"goals": goals})
}

func (h *Handler) getGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	goal, err := h.service.GetGoal(r.Context(), id)
	if err != nil {
		h.fail(w, "get goal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, goal)
}

func (h *Handler) createGoal(w http.ResponseWriter, r *http.Request) {
	var in GoalInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	goal, err := h.service.CreateGoal(r.Context(), in)
	if err != nil {
		h.fail(w, "create goal", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, goal)
}

func (h *Handler) updateGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in GoalInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	goal, err := h.service.UpdateGoal(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update goal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, goal)
}

func (h *Handler) deleteGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteGoal(r.Context(), id); err != nil {
		h.fail(w, "delete goal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listGoalInitiatives(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.GoalID = id
	h.writeInitiatives(w, r, filter)
}

func (h *Handler) listInitiatives(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.writeInitiatives(w, r, filter)
}

func (h *Handler) writeInitiatives(w http.ResponseWriter, r *http.Request, filter ListFilter) {
	items, err := h.service.ListInitiatives(r.Context(), filter)
	if err != nil {
		h.fail(w, "list initiatives", err)
		return
	}
	if items == nil {
		items = []Initiative{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"initiatives": items})
}

func (h *Handler) createInitiative(w http.ResponseWriter, r *http.Request) {
	var in InitiativeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	created, err := h.service.CreateInitiative(r.Context(), in)
	if err != nil {
		h.fail(w, "create initiative", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateInitiative(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in InitiativeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payload")
		return
	}
	updated, err := h.service.UpdateInitiative(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update initiative", err)
		return
	}
	httpx.JSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteInitiative(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteInitiative(r.Context(), id); err != nil {
		h.fail(w, "delete initiative", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.fail(w, "dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrValidation) {
		h.logger.Error("planning "+op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func parseFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	filter := ListFilter{Status: q.Get("status")}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return ListFilter{}, errors.Join(httpx.ErrValidation, errors.New(name+" must be a non-negative integer"))
		}
		*dst = v
	}
	return filter, nil
}

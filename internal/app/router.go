package app

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-strategy/internal/activity"
	audithttp "github.com/odyssey-erp/odyssey-strategy/internal/audit/http"
	"github.com/odyssey-erp/odyssey-strategy/internal/auth"
	"github.com/odyssey-erp/odyssey-strategy/internal/guard"
	"github.com/odyssey-erp/odyssey-strategy/internal/observability"
	"github.com/odyssey-erp/odyssey-strategy/internal/planning"
	"github.com/odyssey-erp/odyssey-strategy/internal/rbac"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
	"github.com/odyssey-erp/odyssey-strategy/internal/view"
	"github.com/odyssey-erp/odyssey-strategy/jobs"
	"github.com/odyssey-erp/odyssey-strategy/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Templates          *view.Engine
	Sessions           SessionStore
	Guard              *guard.Guard
	Resolver           *rbac.Resolver
	AuthHandler        *auth.Handler
	ActivityHandler    *activity.Handler
	PlanningHandler    *planning.Handler
	PermissionsHandler *rbac.PermissionsHandler
	AuditHandler       *audithttp.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// Policies of the routes mounted by NewRouter.
var (
	dashboardPolicy = guard.Policy{}
	apiPolicy       = guard.Policy{}
	securityPolicy  = guard.Policy{
		RequiredRoles: []string{string(rbac.RoleAdmin)},
		ResourceType:  rbac.ResourceAudit,
		Action:        guard.ActionAdmin,
		RequireMFA:    true,
	}
)

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:   params.Logger,
		Config:   params.Config,
		Sessions: params.Sessions,
		Metrics:  params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.With(params.Guard.Protect(dashboardPolicy)).Get("/", func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		role := rbac.RoleViewer
		if id, ok := rbac.ParseUserID(sess.User(), params.Logger); ok {
			role = params.Resolver.Role(r.Context(), id)
		}
		data := view.TemplateData{
			Title:          "Strategy dashboard",
			Flash:          sess.PopFlash(),
			CurrentPath:    r.URL.Path,
			ActivityEvents: strings.Join(activity.QualifyingEvents(), ","),
			Data: map[string]any{
				"RoleName": role.DisplayName(),
				"Grants":   rbac.PermissionsFor(role).Grants(),
			},
		}
		if err := params.Templates.Render(w, http.StatusOK, view.PageHome, data); err != nil {
			params.Logger.Error("render home", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})

	loginLimit := 10
	if params.Config != nil && params.Config.LoginRateLimit > 0 {
		loginLimit = params.Config.LoginRateLimit
	}
	r.Route("/auth", func(r chi.Router) {
		r.Use(httprate.Limit(loginLimit, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "too many sign-in attempts, try again shortly", http.StatusTooManyRequests)
			}),
		))
		params.AuthHandler.MountRoutes(r)
	})
	r.Get(guard.AccessDeniedPath, params.Guard.DeniedHandler())

	if params.ActivityHandler != nil {
		r.Route("/session", params.ActivityHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		if params.PlanningHandler != nil {
			params.PlanningHandler.MountRoutes(r)
		}
		if params.PermissionsHandler != nil {
			r.With(params.Guard.Protect(apiPolicy)).Group(params.PermissionsHandler.MountRoutes)
		}
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(params.Guard.Protect(securityPolicy))
		if params.AuditHandler != nil {
			r.Route("/security-events", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

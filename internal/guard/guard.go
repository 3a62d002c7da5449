// Package guard decides, per request, whether a protected handler may run. Checks run
// in a fixed order and the first failing check settles the response.
package guard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/odyssey-erp/odyssey-strategy/internal/activity"
	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
	"github.com/odyssey-erp/odyssey-strategy/internal/rbac"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
	"github.com/odyssey-erp/odyssey-strategy/internal/view"
)

// Routes the guard redirects to.
const (
	LoginPath        = "/auth/login"
	MFAPath          = "/auth/mfa"
	AccessDeniedPath = "/access-denied"
)

// Denial reasons carried to the access-denied route.
const (
	ReasonSuspicious   = "suspicious"
	ReasonIPRestricted = "ip_restricted"
	ReasonUnauthorized = "unauthorized"
)

// Outcome names the branch that settled a request.
type Outcome string

const (
	OutcomeLoading         Outcome = "loading"
	OutcomeSuspicious      Outcome = "suspicious"
	OutcomeUnauthenticated Outcome = "unauthenticated"
	OutcomeSessionExpired  Outcome = "session_expired"
	OutcomeIPRestricted    Outcome = "ip_restricted"
	OutcomeMFARequired     Outcome = "mfa_required"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeAllowed         Outcome = "allowed"
)

// Action is the kind of access a protected route performs.
type Action string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionAdmin  Action = "admin"
)

// Policy describes what a protected route requires.
type Policy struct {
	RequiredRoles []string
	ResourceType  string
	ResourceID    string
	Action        Action
	RequireMFA    bool
}

// Decision is the result of evaluating a request against a Policy.
type Decision struct {
	Outcome       Outcome
	Status        int
	Location      string
	Reason        string
	UserRole      rbac.Role
	RequiredRoles []string
	// Audit tracks the events emitted while deciding.
	Audit *audit.Batch

	subject int64
}

// Allowed reports whether the protected handler may run.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}

// RoleResolver resolves a user's current role.
type RoleResolver interface {
	Role(ctx context.Context, userID int64) rbac.Role
}

// ActivityTracker is the session activity monitor as seen by the guard.
type ActivityTracker interface {
	Check(ctx context.Context, sessionID, userID string) (activity.State, error)
	Touch(ctx context.Context, sessionID string) error
	Expired(ctx context.Context, sessionID string) (bool, error)
}

// IPChecker evaluates IP restrictions for a user.
type IPChecker interface {
	Check(ctx context.Context, r *http.Request, userID int64) IPVerdict
}

// Renderer renders the access-denied and loading views.
type Renderer interface {
	Render(w http.ResponseWriter, status int, name string, data view.TemplateData) error
}

// SessionDestroyer drops a session when the response is committed.
type SessionDestroyer interface {
	Destroy(sess *shared.Session)
}

// Config wires a Guard. Recorder, Activity, IP, Views and Observe are optional.
type Config struct {
	Roles             RoleResolver
	Recorder          audit.Recorder
	Activity          ActivityTracker
	IP                IPChecker
	Sessions          SessionDestroyer
	Views             Renderer
	PreviewHostSuffix string
	Logger            *slog.Logger
	Observe           func(Outcome)
}

// Guard evaluates policies.
type Guard struct {
	cfg Config
}

// New constructs a Guard.
func New(cfg Config) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.Discard{}
	}
	return &Guard{cfg: cfg}
}

// Protect returns middleware enforcing p.
func (g *Guard) Protect(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Evaluate(r, p)
			g.Respond(w, r, d, next)
		})
	}
}

// Respond writes the response for d, running next only when access is allowed.
func (g *Guard) Respond(w http.ResponseWriter, r *http.Request, d Decision, next http.Handler) {
	switch {
	case d.Allowed():
		if d.UserRole != "" {
			r = r.WithContext(rbac.ContextWithRole(r.Context(), d.subject, d.UserRole))
		}
		next.ServeHTTP(w, r)
	case d.Location != "":
		http.Redirect(w, r, d.Location, d.Status)
	case d.Outcome == OutcomeLoading:
		w.Header().Set("Retry-After", "2")
		w.Header().Set("Refresh", "2")
		g.render(w, d.Status, view.PageLoading, view.TemplateData{Title: "Loading", CurrentPath: r.URL.Path})
	default:
		g.render(w, d.Status, view.PageAccessDenied, view.TemplateData{
			Title:       "Access denied",
			CurrentPath: r.URL.Path,
			Data:        DeniedView{Reason: d.Reason, RequiredRoles: displayRoles(d.RequiredRoles), UserRole: d.UserRole.DisplayName()},
		})
	}
}

// DeniedView is the data behind the access-denied page.
type DeniedView struct {
	Reason        string
	RequiredRoles []string
	UserRole      string
}

func displayRoles(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, role := range rbac.RequiredRoles(raw...) {
		out = append(out, role.DisplayName())
	}
	return out
}

func (g *Guard) render(w http.ResponseWriter, status int, name string, data view.TemplateData) {
	if g.cfg.Views != nil {
		err := g.cfg.Views.Render(w, status, name, data)
		if err == nil {
			return
		}
		g.cfg.Logger.Error("guard render", slog.String("template", name), slog.Any("error", err))
	}
	http.Error(w, http.StatusText(status), status)
}

// Evaluate runs the checks for r in order. Audit writes are started, not awaited;
// Decision.Audit lets callers wait for them.
func (g *Guard) Evaluate(r *http.Request, p Policy) Decision {
	ctx := r.Context()
	batch := &audit.Batch{}
	d := g.evaluate(ctx, r, normalize(p), batch)
	d.Audit = batch
	if g.cfg.Observe != nil {
		g.cfg.Observe(d.Outcome)
	}
	return d
}

func normalize(p Policy) Policy {
	p.Action = Action(strings.ToLower(strings.TrimSpace(string(p.Action))))
	if p.Action == "" {
		p.Action = ActionView
	}
	return p
}

func (g *Guard) evaluate(ctx context.Context, r *http.Request, p Policy, batch *audit.Batch) Decision {
	if shared.SessionLoading(ctx) {
		return Decision{Outcome: OutcomeLoading, Status: http.StatusServiceUnavailable}
	}

	requestURI := r.URL.RequestURI()
	if pattern, ok := DetectSuspicious(requestURI); ok {
		g.record(ctx, batch, audit.Event{
			Action:      audit.ActionSuspiciousURL,
			Resource:    audit.ResourceSecurity,
			Description: "request URL matched an injection heuristic",
			UserID:      subjectUser(ctx),
			Severity:    audit.SeverityHigh,
			Metadata:    audit.SuspiciousURLMetadata{URL: truncate(requestURI, 512), Pattern: pattern},
		})
		return redirect(OutcomeSuspicious, AccessDeniedPath, url.Values{"reason": {ReasonSuspicious}}, ReasonSuspicious)
	}

	sess := shared.SessionFromContext(ctx)
	userID, validUser := int64(0), false
	if sess.Authenticated() {
		userID, validUser = rbac.ParseUserID(sess.User(), g.cfg.Logger)
	}
	if !validUser {
		return g.unauthenticated(ctx, r, sess, requestURI, batch)
	}

	if g.cfg.Activity != nil {
		state, err := g.cfg.Activity.Check(ctx, sess.ID, sess.User())
		if err != nil {
			g.cfg.Logger.Warn("activity check failed", slog.String("session_id", sess.ID), slog.Any("error", err))
		}
		if state == activity.StateExpired {
			if g.cfg.Sessions != nil {
				g.cfg.Sessions.Destroy(sess)
			}
			return redirect(OutcomeSessionExpired, LoginPath, url.Values{"sessionExpired": {"true"}}, "")
		}
		if err == nil {
			if err := g.cfg.Activity.Touch(ctx, sess.ID); err != nil {
				g.cfg.Logger.Warn("activity touch failed", slog.String("session_id", sess.ID), slog.Any("error", err))
			}
		}
	}

	if g.cfg.IP != nil {
		verdict := g.cfg.IP.Check(ctx, r, userID)
		if verdict.Restricted {
			g.record(ctx, batch, audit.Event{
				Action:      audit.ActionIPRestricted,
				Resource:    audit.ResourceSecurity,
				Description: "request from an address outside the user's allow-list",
				UserID:      sess.User(),
				Severity:    audit.SeverityHigh,
				Metadata:    audit.IPRestrictionMetadata{IP: verdict.IP, AllowedCount: verdict.AllowedCount, Source: verdict.Source},
			})
			return redirect(OutcomeIPRestricted, AccessDeniedPath, url.Values{"reason": {ReasonIPRestricted}}, ReasonIPRestricted)
		}
	}

	if p.RequireMFA && !sess.MFAVerified() {
		g.record(ctx, batch, audit.Event{
			Action:      audit.ActionMFARequired,
			Resource:    audit.ResourceAuth,
			Description: "route requires a verified second factor",
			UserID:      sess.User(),
			Severity:    audit.SeverityMedium,
			Metadata:    audit.AuthMetadata{Path: r.URL.Path, Reason: "mfa_not_verified"},
		})
		return redirect(OutcomeMFARequired, MFAPath, url.Values{"from": {requestURI}}, "")
	}

	var role rbac.Role
	if len(p.RequiredRoles) > 0 || p.ResourceType != "" {
		role = g.cfg.Roles.Role(ctx, userID)
	}

	if len(p.RequiredRoles) > 0 {
		required := rbac.RequiredRoles(p.RequiredRoles...)
		if !rbac.HasAnyRole(role, required) {
			names := make([]string, len(required))
			for i, req := range required {
				names[i] = string(req)
			}
			g.record(ctx, batch, audit.Event{
				Action:      audit.ActionUnauthorized,
				Resource:    audit.ResourceAccess,
				ResourceID:  p.ResourceID,
				Description: "role does not satisfy the route requirement",
				UserID:      sess.User(),
				Severity:    audit.SeverityHigh,
				Metadata: audit.UnauthorizedMetadata{
					RequiredRoles: names,
					UserRole:      string(role),
					Action:        string(p.Action),
					Path:          r.URL.Path,
				},
			})
			return Decision{
				Outcome:       OutcomeUnauthorized,
				Status:        http.StatusForbidden,
				Reason:        ReasonUnauthorized,
				UserRole:      role,
				RequiredRoles: names,
			}
		}
	}

	if p.ResourceType != "" && p.Action != ActionView {
		severity := audit.SeverityMedium
		if p.Action == ActionAdmin {
			severity = audit.SeverityHigh
		}
		g.record(ctx, batch, audit.Event{
			Action:      audit.ActionAccessGranted,
			Resource:    audit.ResourceAccess,
			ResourceID:  p.ResourceID,
			Description: string(p.Action) + " access to " + p.ResourceType,
			UserID:      sess.User(),
			Severity:    severity,
			Metadata:    audit.ResourceAccessMetadata{ResourceType: p.ResourceType, Action: string(p.Action), Path: r.URL.Path},
		})
	}
	return Decision{Outcome: OutcomeAllowed, Status: http.StatusOK, UserRole: role, subject: userID}
}

func (g *Guard) unauthenticated(ctx context.Context, r *http.Request, sess *shared.Session, requestURI string, batch *audit.Batch) Decision {
	if g.cfg.Activity != nil && sess.StaleID() != "" {
		expired, err := g.cfg.Activity.Expired(ctx, sess.StaleID())
		if err != nil {
			g.cfg.Logger.Warn("activity lookup failed", slog.Any("error", err))
		}
		if expired {
			return redirect(OutcomeSessionExpired, LoginPath, url.Values{"sessionExpired": {"true"}}, "")
		}
	}
	if meta, framed := DetectFraming(r, g.cfg.PreviewHostSuffix); framed {
		g.record(ctx, batch, audit.Event{
			Action:      audit.ActionClickjacking,
			Resource:    audit.ResourceSecurity,
			Description: "protected route requested inside a frame",
			Severity:    audit.SeverityHigh,
			Metadata:    meta,
		})
	}
	g.record(ctx, batch, audit.Event{
		Action:      audit.ActionUnauthenticated,
		Resource:    audit.ResourceAuth,
		Description: "unauthenticated request to a protected route",
		Severity:    audit.SeverityMedium,
		Metadata:    audit.AuthMetadata{Path: r.URL.Path, Reason: "no_session", IP: r.RemoteAddr},
	})
	return redirect(OutcomeUnauthenticated, LoginPath, url.Values{"from": {requestURI}}, "")
}

func (g *Guard) record(ctx context.Context, batch *audit.Batch, ev audit.Event) {
	batch.Add(g.cfg.Recorder.Record(ctx, ev))
}

func redirect(outcome Outcome, path string, query url.Values, reason string) Decision {
	return Decision{
		Outcome:  outcome,
		Status:   http.StatusSeeOther,
		Location: path + "?" + query.Encode(),
		Reason:   reason,
	}
}

func subjectUser(ctx context.Context) string {
	if sess := shared.SessionFromContext(ctx); sess.Authenticated() {
		return sess.User()
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

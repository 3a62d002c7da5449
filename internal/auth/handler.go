package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
	"github.com/odyssey-erp/odyssey-strategy/internal/view"
)

// ActivityTracker starts and stops inactivity tracking for sessions.
type ActivityTracker interface {
	Touch(ctx context.Context, sessionID string) error
	Forget(ctx context.Context, sessionID string) error
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	recorder       audit.Recorder
	activity       ActivityTracker
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, recorder audit.Recorder, activity ActivityTracker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		recorder:       recorder,
		activity:       activity,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/mfa", h.showMFA)
	r.Post("/mfa", h.handleMFA)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=128"`
}

type mfaForm struct {
	Code string `validate:"required,len=6,numeric"`
}

// LoginPage is the data behind the login template.
type LoginPage struct {
	From           string
	Email          string
	Error          string
	SessionExpired bool
}

// MFAPage is the data behind the MFA template.
type MFAPage struct {
	From  string
	Error string
}

const (
	msgInvalidCredentials = "Invalid email or password"
	msgTooManyAttempts    = "Too many attempts. Try again later"
	msgInvalidCode        = "The code is not valid"
	msgNotEnrolled        = "Two-factor authentication is not set up for this account"
)

// SafeRedirect returns from when it is a local path outside the auth routes, "/" otherwise.
func SafeRedirect(from string) string {
	from = strings.TrimSpace(from)
	if from == "" || !strings.HasPrefix(from, "/") || strings.HasPrefix(from, "//") || strings.HasPrefix(from, "/\\") {
		return "/"
	}
	u, err := url.Parse(from)
	if err != nil || u.Scheme != "" || u.Host != "" || strings.HasPrefix(u.Path, "/auth/") {
		return "/"
	}
	return u.RequestURI()
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	from := SafeRedirect(r.URL.Query().Get("from"))
	if sess.Authenticated() {
		http.Redirect(w, r, from, http.StatusSeeOther)
		return
	}
	page := LoginPage{From: from, SessionExpired: r.URL.Query().Get("sessionExpired") == "true"}
	h.render(w, r, http.StatusOK, view.PageLogin, "Sign in", page)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	page := LoginPage{From: SafeRedirect(r.PostFormValue("from")), Email: form.Email}

	if err := h.validator.Struct(form); err != nil {
		page.Error = msgInvalidCredentials
		h.render(w, r, http.StatusBadRequest, view.PageLogin, "Sign in", page)
		return
	}
	if sess == nil {
		h.logger.Error("session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		status, reason := http.StatusBadRequest, "invalid_credentials"
		page.Error = msgInvalidCredentials
		switch {
		case errors.Is(err, shared.ErrTooManyAttempts):
			status, reason = http.StatusTooManyRequests, "too_many_attempts"
			page.Error = msgTooManyAttempts
		case !errors.Is(err, shared.ErrInvalidCredentials):
			h.logger.Error("authenticate", slog.Any("error", err))
			status, reason = http.StatusServiceUnavailable, "unavailable"
		}
		h.recorder.Record(r.Context(), audit.Event{
			Action:      audit.ActionLoginFailed,
			Resource:    audit.ResourceAuth,
			Description: "login rejected",
			Severity:    audit.SeverityMedium,
			Metadata:    audit.AuthMetadata{Path: r.URL.Path, Reason: reason, IP: r.RemoteAddr},
		})
		h.render(w, r, status, view.PageLogin, "Sign in", page)
		return
	}

	userID := strconv.FormatInt(user.ID, 10)
	h.renew(r.Context(), sess)
	sess.SetUser(userID)
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back"})
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, time.Now().Add(h.sessionManager.TTL()), r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	h.recorder.Record(r.Context(), audit.Event{
		Action:      audit.ActionLogin,
		Resource:    audit.ResourceAuth,
		Description: "user signed in",
		UserID:      userID,
		Severity:    audit.SeverityLow,
		Metadata:    audit.AuthMetadata{Path: r.URL.Path, IP: r.RemoteAddr},
	})
	http.Redirect(w, r, page.From, http.StatusSeeOther)
}

func (h *Handler) showMFA(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	from := SafeRedirect(r.URL.Query().Get("from"))
	if !sess.Authenticated() {
		http.Redirect(w, r, "/auth/login?"+url.Values{"from": {from}}.Encode(), http.StatusSeeOther)
		return
	}
	if sess.MFAVerified() {
		http.Redirect(w, r, from, http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, view.PageMFA, "Verification", MFAPage{From: from})
}

func (h *Handler) handleMFA(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	page := MFAPage{From: SafeRedirect(r.PostFormValue("from"))}
	if !sess.Authenticated() {
		http.Redirect(w, r, "/auth/login?"+url.Values{"from": {page.From}}.Encode(), http.StatusSeeOther)
		return
	}
	userID, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		h.sessionManager.Destroy(sess)
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}

	form := mfaForm{Code: strings.TrimSpace(r.PostFormValue("code"))}
	if err := h.validator.Struct(form); err != nil {
		page.Error = msgInvalidCode
		h.render(w, r, http.StatusBadRequest, view.PageMFA, "Verification", page)
		return
	}
	if err := h.service.VerifyOTP(r.Context(), userID, form.Code); err != nil {
		status, reason := http.StatusBadRequest, "invalid_otp"
		page.Error = msgInvalidCode
		switch {
		case errors.Is(err, shared.ErrTooManyAttempts):
			status, reason = http.StatusTooManyRequests, "too_many_attempts"
			page.Error = msgTooManyAttempts
		case errors.Is(err, ErrNotEnrolled):
			reason = "not_enrolled"
			page.Error = msgNotEnrolled
		case !errors.Is(err, shared.ErrInvalidOTP):
			h.logger.Error("verify otp", slog.Any("error", err))
			status, reason = http.StatusServiceUnavailable, "unavailable"
		}
		h.recorder.Record(r.Context(), audit.Event{
			Action:      audit.ActionLoginFailed,
			Resource:    audit.ResourceAuth,
			Description: "second factor rejected",
			UserID:      sess.User(),
			Severity:    audit.SeverityMedium,
			Metadata:    audit.AuthMetadata{Path: r.URL.Path, Reason: reason, IP: r.RemoteAddr},
		})
		h.render(w, r, status, view.PageMFA, "Verification", page)
		return
	}

	h.renew(r.Context(), sess)
	sess.MarkMFAVerified()
	h.recorder.Record(r.Context(), audit.Event{
		Action:      audit.ActionMFAVerified,
		Resource:    audit.ResourceAuth,
		Description: "second factor verified",
		UserID:      sess.User(),
		Severity:    audit.SeverityLow,
		Metadata:    audit.AuthMetadata{Path: r.URL.Path, IP: r.RemoteAddr},
	})
	http.Redirect(w, r, page.From, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess.Authenticated() {
		h.recorder.Record(r.Context(), audit.Event{
			Action:      audit.ActionLogout,
			Resource:    audit.ResourceAuth,
			Description: "user signed out",
			UserID:      sess.User(),
			Severity:    audit.SeverityLow,
			Metadata:    audit.AuthMetadata{Path: r.URL.Path, IP: r.RemoteAddr},
		})
	}
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.forget(r.Context(), sess.ID)
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

// renew rotates the session id on a privilege change and moves activity tracking along.
func (h *Handler) renew(ctx context.Context, sess *shared.Session) {
	previous := sess.ID
	h.sessionManager.Renew(sess)
	h.forget(ctx, previous)
	if h.activity != nil {
		if err := h.activity.Touch(ctx, sess.ID); err != nil {
			h.logger.Warn("activity touch", slog.Any("error", err))
		}
	}
}

func (h *Handler) forget(ctx context.Context, sessionID string) {
	if h.activity == nil {
		return
	}
	if err := h.activity.Forget(ctx, sessionID); err != nil {
		h.logger.Warn("activity forget", slog.Any("error", err))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	viewData := view.TemplateData{
		Title:       title,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if err := h.templates.Render(w, status, name, viewData); err != nil {
		h.logger.Error("render auth page", slog.String("template", name), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

// ShowLoginForTest exposes the GET handler for tests.
func (h *Handler) ShowLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.showLogin(w, r)
}

// HandleLoginForTest exposes the POST handler for tests.
func (h *Handler) HandleLoginForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogin(w, r)
}

// ShowMFAForTest exposes the MFA form for tests.
func (h *Handler) ShowMFAForTest(w http.ResponseWriter, r *http.Request) {
	h.showMFA(w, r)
}

// HandleMFAForTest exposes the MFA POST handler for tests.
func (h *Handler) HandleMFAForTest(w http.ResponseWriter, r *http.Request) {
	h.handleMFA(w, r)
}

// HandleLogoutForTest exposes the logout handler for tests.
func (h *Handler) HandleLogoutForTest(w http.ResponseWriter, r *http.Request) {
	h.handleLogout(w, r)
}

package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
	"github.com/odyssey-erp/odyssey-strategy/internal/auth"
	"github.com/odyssey-erp/odyssey-strategy/internal/ratelimit"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
	"github.com/odyssey-erp/odyssey-strategy/internal/view"
	_ "github.com/odyssey-erp/odyssey-strategy/testing"
)

type stubRepo struct {
	user *auth.User
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateUser(ctx context.Context, user auth.User) (int64, error) {
	user.ID = 1
	s.user = &user
	return 1, nil
}

func (s *stubRepo) SetMFASecret(ctx context.Context, id int64, secret string) error {
	s.user.MFASecret = secret
	return nil
}

func (s *stubRepo) IPRestrictions(ctx context.Context, id int64) ([]string, error) {
	return s.user.IPRestrictions, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	return nil
}

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureRecorder) Record(ctx context.Context, ev audit.Event) *audit.Pending {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	return audit.Resolved(nil)
}

func (c *captureRecorder) actions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Action)
	}
	return out
}

type stubActivity struct {
	touched   []string
	forgotten []string
}

func (s *stubActivity) Touch(ctx context.Context, id string) error {
	s.touched = append(s.touched, id)
	return nil
}

func (s *stubActivity) Forget(ctx context.Context, id string) error {
	s.forgotten = append(s.forgotten, id)
	return nil
}

type harness struct {
	handler  *auth.Handler
	sessions *shared.SessionManager
	recorder *captureRecorder
	activity *stubActivity
	router   http.Handler
}

func newHarness(t *testing.T, repo auth.Repository) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessionManager := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	h := &harness{
		sessions: sessionManager,
		recorder: &captureRecorder{},
		activity: &stubActivity{},
	}
	attempts := ratelimit.New(ratelimit.Config{Limit: 3, Window: time.Minute})
	h.handler = auth.NewHandler(nil, auth.NewService(repo, attempts, "Test"), templates, sessionManager, h.recorder, h.activity)
	h.router = h.withSession(h.handler)
	return h
}

// withSession mirrors the session middleware: load, serve, commit.
func (h *harness) withSession(handler *auth.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth/login", func(w http.ResponseWriter, r *http.Request) { handler.ShowLoginForTest(w, r) })
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) { handler.HandleLoginForTest(w, r) })
	mux.HandleFunc("GET /auth/mfa", func(w http.ResponseWriter, r *http.Request) { handler.ShowMFAForTest(w, r) })
	mux.HandleFunc("POST /auth/mfa", func(w http.ResponseWriter, r *http.Request) { handler.HandleMFAForTest(w, r) })
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) { handler.HandleLogoutForTest(w, r) })
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.sessions.Load(r.Context(), r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ctx := shared.ContextWithSession(r.Context(), sess)
		buffered := httptest.NewRecorder()
		mux.ServeHTTP(buffered, r.WithContext(ctx))
		if err := h.sessions.Commit(ctx, w, sess); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		for k, v := range buffered.Header() {
			w.Header()[k] = v
		}
		w.WriteHeader(buffered.Code)
		_, _ = w.Write(buffered.Body.Bytes())
	})
}

func (h *harness) do(t *testing.T, method, target string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	res := httptest.NewRecorder()
	h.router.ServeHTTP(res, req)
	return res
}

func sessionCookie(t *testing.T, res *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range res.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func newUser(t *testing.T) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return &auth.User{ID: 7, Email: "user@test.local", PasswordHash: string(hashed), Role: "manager", IsActive: true}
}

func TestLoginPage(t *testing.T) {
	h := newHarness(t, &stubRepo{})
	res := h.do(t, http.MethodGet, "/auth/login", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "<form") {
		t.Fatalf("expected login form in body")
	}
	if strings.Contains(res.Body.String(), "session expired") {
		t.Fatalf("expiry banner shown without flag")
	}
}

func TestLoginPageShowsExpiryBanner(t *testing.T) {
	h := newHarness(t, &stubRepo{})
	res := h.do(t, http.MethodGet, "/auth/login?sessionExpired=true", nil, nil)
	if !strings.Contains(res.Body.String(), "session expired") {
		t.Fatalf("expected expiry banner, got %s", res.Body.String())
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t, &stubRepo{user: newUser(t)})
	form := url.Values{"email": {"user@test.local"}, "password": {"wrongpass"}}
	res := h.do(t, http.MethodPost, "/auth/login", form, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "Invalid email or password") {
		t.Fatalf("expected error message in response")
	}
	if got := h.recorder.actions(); len(got) != 1 || got[0] != audit.ActionLoginFailed {
		t.Fatalf("expected one login_failed event, got %v", got)
	}
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t, &stubRepo{user: newUser(t)})
	form := url.Values{"email": {"user@test.local"}, "password": {"wrongpass"}}
	for i := 0; i < 3; i++ {
		h.do(t, http.MethodPost, "/auth/login", form, nil)
	}
	form.Set("password", "correctpass")
	res := h.do(t, http.MethodPost, "/auth/login", form, nil)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", res.Code)
	}
}

func TestLoginSuccessRedirectsToSafeTarget(t *testing.T) {
	h := newHarness(t, &stubRepo{user: newUser(t)})
	form := url.Values{"email": {"USER@test.local"}, "password": {"correctpass"}, "from": {"/goals?tab=kpi"}}
	res := h.do(t, http.MethodPost, "/auth/login", form, nil)
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	if loc := res.Header().Get("Location"); loc != "/goals?tab=kpi" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	cookie := sessionCookie(t, res, "test_session")
	sess, err := h.sessions.Load(context.Background(), cookieRequest(cookie))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sess.User() != "7" || sess.MFAVerified() {
		t.Fatalf("unexpected session state user=%q mfa=%v", sess.User(), sess.MFAVerified())
	}
	if len(h.activity.touched) != 1 || h.activity.touched[0] != cookie.Value {
		t.Fatalf("activity not tracked for new session: %v", h.activity.touched)
	}
}

func TestLoginRejectsOpenRedirect(t *testing.T) {
	h := newHarness(t, &stubRepo{user: newUser(t)})
	form := url.Values{"email": {"user@test.local"}, "password": {"correctpass"}, "from": {"//evil.example.com/x"}}
	res := h.do(t, http.MethodPost, "/auth/login", form, nil)
	if loc := res.Header().Get("Location"); loc != "/" {
		t.Fatalf("expected redirect to /, got %q", loc)
	}
}

func TestSafeRedirect(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/goals":                  "/goals",
		"/goals?id=1":             "/goals?id=1",
		"https://evil.example":    "/",
		"//evil.example":          "/",
		"/\\evil.example":         "/",
		"/auth/login?from=/goals": "/",
		"javascript:alert(1)":     "/",
	}
	for in, want := range cases {
		if got := auth.SafeRedirect(in); got != want {
			t.Errorf("SafeRedirect(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMFAFlow(t *testing.T) {
	user := newUser(t)
	repo := &stubRepo{user: user}
	h := newHarness(t, repo)
	svc := auth.NewService(repo, nil, "Test")
	key, err := svc.EnrollMFA(context.Background(), user.Email)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}

	res := h.do(t, http.MethodPost, "/auth/login", url.Values{"email": {user.Email}, "password": {"correctpass"}}, nil)
	cookie := sessionCookie(t, res, "test_session")

	res = h.do(t, http.MethodGet, "/auth/mfa?from=/settings", nil, cookie)
	if res.Code != http.StatusOK {
		t.Fatalf("expected mfa page, got %d", res.Code)
	}

	res = h.do(t, http.MethodPost, "/auth/mfa", url.Values{"code": {"000000"}, "from": {"/settings"}}, cookie)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for wrong code, got %d", res.Code)
	}

	code, err := totp.GenerateCode(key.Secret(), time.Now().UTC())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	res = h.do(t, http.MethodPost, "/auth/mfa", url.Values{"code": {code}, "from": {"/settings"}}, cookie)
	if res.Code != http.StatusSeeOther || res.Header().Get("Location") != "/settings" {
		t.Fatalf("expected redirect to /settings, got %d %q", res.Code, res.Header().Get("Location"))
	}
	renewed := sessionCookie(t, res, "test_session")
	if renewed.Value == cookie.Value {
		t.Fatalf("session id not rotated after mfa")
	}
	sess, err := h.sessions.Load(context.Background(), cookieRequest(renewed))
	if err != nil || !sess.MFAVerified() {
		t.Fatalf("expected verified session, err=%v", err)
	}
	old, _ := h.sessions.Load(context.Background(), cookieRequest(cookie))
	if old.Authenticated() {
		t.Fatalf("previous session id still valid")
	}
}

func TestMFANotEnrolled(t *testing.T) {
	h := newHarness(t, &stubRepo{user: newUser(t)})
	res := h.do(t, http.MethodPost, "/auth/login", url.Values{"email": {"user@test.local"}, "password": {"correctpass"}}, nil)
	cookie := sessionCookie(t, res, "test_session")
	res = h.do(t, http.MethodPost, "/auth/mfa", url.Values{"code": {"123456"}}, cookie)
	if !strings.Contains(res.Body.String(), "not set up") {
		t.Fatalf("expected not enrolled message")
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h := newHarness(t, &stubRepo{user: newUser(t)})
	res := h.do(t, http.MethodPost, "/auth/login", url.Values{"email": {"user@test.local"}, "password": {"correctpass"}}, nil)
	cookie := sessionCookie(t, res, "test_session")

	res = h.do(t, http.MethodPost, "/auth/logout", url.Values{}, cookie)
	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	sess, _ := h.sessions.Load(context.Background(), cookieRequest(cookie))
	if sess.Authenticated() {
		t.Fatalf("session still valid after logout")
	}
	actions := h.recorder.actions()
	if actions[len(actions)-1] != audit.ActionLogout {
		t.Fatalf("expected logout event, got %v", actions)
	}
	if len(h.activity.forgotten) == 0 || h.activity.forgotten[len(h.activity.forgotten)-1] != cookie.Value {
		t.Fatalf("activity not forgotten: %v", h.activity.forgotten)
	}
}

func cookieRequest(c *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(c)
	return req
}

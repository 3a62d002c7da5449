package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-strategy/internal/activity"
	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
	"github.com/odyssey-erp/odyssey-strategy/internal/rbac"
	"github.com/odyssey-erp/odyssey-strategy/internal/shared"
	"github.com/odyssey-erp/odyssey-strategy/internal/view"
)

type stubRoles map[int64]rbac.Role

func (s stubRoles) Role(_ context.Context, userID int64) rbac.Role {
	if role, ok := s[userID]; ok {
		return role
	}
	return rbac.RoleViewer
}

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureRecorder) Record(_ context.Context, ev audit.Event) *audit.Pending {
	return audit.Go(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, ev)
		return nil
	})
}

func (c *captureRecorder) all() []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Event(nil), c.events...)
}

type stubActivity struct {
	state   activity.State
	err     error
	expired map[string]bool
	touched []string
}

func (s *stubActivity) Check(context.Context, string, string) (activity.State, error) {
	if s.state == "" {
		return activity.StateActive, s.err
	}
	return s.state, s.err
}

func (s *stubActivity) Touch(_ context.Context, id string) error {
	s.touched = append(s.touched, id)
	return nil
}

func (s *stubActivity) Expired(_ context.Context, id string) (bool, error) {
	return s.expired[id], nil
}

type stubIP struct{ verdict IPVerdict }

func (s stubIP) Check(context.Context, *http.Request, int64) IPVerdict { return s.verdict }

type destroyRecorder struct{ destroyed []*shared.Session }

func (d *destroyRecorder) Destroy(sess *shared.Session) { d.destroyed = append(d.destroyed, sess) }

type fixture struct {
	guard    *Guard
	recorder *captureRecorder
	activity *stubActivity
	sessions *destroyRecorder
	outcomes []Outcome
}

func newFixture(t *testing.T, ip IPVerdict) *fixture {
	t.Helper()
	engine, err := view.NewEngine()
	require.NoError(t, err)
	f := &fixture{
		recorder: &captureRecorder{},
		activity: &stubActivity{expired: map[string]bool{}},
		sessions: &destroyRecorder{},
	}
	f.guard = New(Config{
		Roles:             stubRoles{1: rbac.RoleManager, 2: rbac.RoleAdmin, 3: rbac.RoleViewer},
		Recorder:          f.recorder,
		Activity:          f.activity,
		IP:                stubIP{verdict: ip},
		Sessions:          f.sessions,
		Views:             engine,
		PreviewHostSuffix: ".preview.local",
		Observe:           func(o Outcome) { f.outcomes = append(f.outcomes, o) },
	})
	return f
}

func newRequest(target string, user string, mfa bool) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	sess := &shared.Session{ID: "sess-1"}
	if user != "" {
		sess.SetUser(user)
		if mfa {
			sess.MarkMFAVerified()
		}
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess))
}

func serve(t *testing.T, f *fixture, p Policy, req *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	ran := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		w.WriteHeader(http.StatusOK)
	})
	rr := httptest.NewRecorder()
	d := f.guard.Evaluate(req, p)
	f.guard.Respond(rr, req, d, next)
	require.NoError(t, d.Audit.Wait(context.Background()))
	return rr, ran
}

func TestUnauthenticatedAlwaysRedirectsToLogin(t *testing.T) {
	policies := []Policy{
		{},
		{RequiredRoles: []string{"viewer"}},
		{ResourceType: "goals", Action: ActionDelete},
		{RequireMFA: true},
	}
	for _, p := range policies {
		f := newFixture(t, IPVerdict{})
		rr, ran := serve(t, f, p, newRequest("/goals/7?tab=kpi", "", false))
		assert.False(t, ran)
		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/auth/login?from=%2Fgoals%2F7%3Ftab%3Dkpi", rr.Header().Get("Location"))

		events := f.recorder.all()
		require.Len(t, events, 1)
		assert.Equal(t, audit.ActionUnauthenticated, events[0].Action)
		assert.Equal(t, audit.SeverityMedium, events[0].Severity)
	}
}

func TestUnauthenticatedFramedRequestIsAudited(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	req := newRequest("/goals", "", false)
	req.Host = "evil.example.com"
	req.Header.Set("Sec-Fetch-Dest", "iframe")
	_, ran := serve(t, f, Policy{}, req)
	assert.False(t, ran)

	events := f.recorder.all()
	require.Len(t, events, 2)
	actions := []string{events[0].Action, events[1].Action}
	assert.ElementsMatch(t, []string{audit.ActionClickjacking, audit.ActionUnauthenticated}, actions)
}

func TestPreviewHostSkipsFramingAudit(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	req := newRequest("/goals", "", false)
	req.Host = "branch-12.preview.local:8080"
	req.Header.Set("Sec-Fetch-Dest", "iframe")
	serve(t, f, Policy{}, req)
	events := f.recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionUnauthenticated, events[0].Action)
}

func TestManagerDeniedAdminRoute(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	rr, ran := serve(t, f, Policy{RequiredRoles: []string{"admin"}, Action: ActionAdmin}, newRequest("/admin/security-events", "1", true))

	assert.False(t, ran)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"), "denial is rendered in place")
	assert.Contains(t, rr.Body.String(), "Access denied")
	assert.Contains(t, rr.Body.String(), "Admin")

	events := f.recorder.all()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, audit.ActionUnauthorized, ev.Action)
	assert.Equal(t, audit.SeverityHigh, ev.Severity)
	meta, ok := ev.Metadata.(audit.UnauthorizedMetadata)
	require.True(t, ok)
	assert.Equal(t, "manager", meta.UserRole)
	assert.Equal(t, []string{"admin"}, meta.RequiredRoles)
	assert.Equal(t, "admin", meta.Action)
	assert.Equal(t, []Outcome{OutcomeUnauthorized}, f.outcomes)
}

func TestAnyRequiredRoleSuffices(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	_, ran := serve(t, f, Policy{RequiredRoles: []string{"admin", "manager"}}, newRequest("/teams", "1", true))
	assert.True(t, ran)
	assert.Empty(t, f.recorder.all())
}

func TestUnknownRequiredRoleDenies(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	rr, ran := serve(t, f, Policy{RequiredRoles: []string{"root"}}, newRequest("/x", "2", true))
	assert.False(t, ran)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestSuspiciousURLRedirects(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	rr, ran := serve(t, f, Policy{}, newRequest("/goals?q=%3Cscript%3Ealert(1)%3C/script%3E", "2", true))
	assert.False(t, ran)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/access-denied?reason=suspicious", rr.Header().Get("Location"))

	events := f.recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionSuspiciousURL, events[0].Action)
	assert.Equal(t, audit.SeverityHigh, events[0].Severity)
	assert.Equal(t, "2", events[0].UserID)
}

func TestSuspiciousCheckedBeforeAuthentication(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	rr, _ := serve(t, f, Policy{}, newRequest("/goals?next=javascript:alert(1)", "", false))
	assert.Equal(t, "/access-denied?reason=suspicious", rr.Header().Get("Location"))
}

func TestLoadingSessionRendersPlaceholder(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	req := newRequest("/goals", "2", true)
	req = req.WithContext(shared.ContextWithSessionLoading(req.Context()))
	rr, ran := serve(t, f, Policy{}, req)
	assert.False(t, ran)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
	assert.Empty(t, rr.Header().Get("Location"))
	assert.Empty(t, f.recorder.all())
}

func TestExpiredSessionRedirectsWithFlag(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	f.activity.state = activity.StateExpired
	rr, ran := serve(t, f, Policy{}, newRequest("/goals", "2", true))
	assert.False(t, ran)
	assert.Equal(t, "/auth/login?sessionExpired=true", rr.Header().Get("Location"))
	assert.Len(t, f.sessions.destroyed, 1)
}

func TestRevokedSessionCookieRedirectsWithFlag(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	f.activity.expired["old-session"] = true

	mr := httptest.NewRequest(http.MethodGet, "/goals", nil)
	mr.AddCookie(&http.Cookie{Name: "odyssey_session", Value: "old-session"})
	sess := loadStale(t, mr)
	req := mr.WithContext(shared.ContextWithSession(mr.Context(), sess))

	rr, _ := serve(t, f, Policy{}, req)
	assert.Equal(t, "/auth/login?sessionExpired=true", rr.Header().Get("Location"))
	assert.Empty(t, f.recorder.all(), "expiry was already audited when it happened")
}

func TestActiveSessionIsTouched(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	_, ran := serve(t, f, Policy{}, newRequest("/goals", "2", true))
	assert.True(t, ran)
	assert.Equal(t, []string{"sess-1"}, f.activity.touched)
}

func TestActivityErrorDoesNotLockOut(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	f.activity.err = errors.New("redis down")
	_, ran := serve(t, f, Policy{}, newRequest("/goals", "2", true))
	assert.True(t, ran)
	assert.Empty(t, f.activity.touched)
}

func TestIPRestrictedRedirects(t *testing.T) {
	f := newFixture(t, IPVerdict{Restricted: true, IP: "203.0.113.9", AllowedCount: 2, Source: SourceRequest})
	rr, ran := serve(t, f, Policy{}, newRequest("/goals", "2", true))
	assert.False(t, ran)
	assert.Equal(t, "/access-denied?reason=ip_restricted", rr.Header().Get("Location"))
	events := f.recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionIPRestricted, events[0].Action)
	assert.Equal(t, audit.SeverityHigh, events[0].Severity)
}

func TestMFARequired(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	rr, ran := serve(t, f, Policy{RequireMFA: true}, newRequest("/settings", "2", false))
	assert.False(t, ran)
	assert.Equal(t, "/auth/mfa?from=%2Fsettings", rr.Header().Get("Location"))
	events := f.recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionMFARequired, events[0].Action)
	assert.Equal(t, audit.SeverityMedium, events[0].Severity)

	f = newFixture(t, IPVerdict{})
	_, ran = serve(t, f, Policy{RequireMFA: true}, newRequest("/settings", "2", true))
	assert.True(t, ran)
}

func TestResourceAccessAudit(t *testing.T) {
	cases := []struct {
		action   Action
		events   int
		severity audit.Severity
	}{
		{ActionView, 0, ""},
		{"", 0, ""},
		{ActionEdit, 1, audit.SeverityMedium},
		{ActionDelete, 1, audit.SeverityMedium},
		{ActionAdmin, 1, audit.SeverityHigh},
	}
	for _, tc := range cases {
		f := newFixture(t, IPVerdict{})
		_, ran := serve(t, f, Policy{ResourceType: "goals", ResourceID: "7", Action: tc.action}, newRequest("/goals/7", "2", true))
		assert.True(t, ran)
		events := f.recorder.all()
		require.Len(t, events, tc.events, string(tc.action))
		if tc.events == 1 {
			assert.Equal(t, audit.ActionAccessGranted, events[0].Action)
			assert.Equal(t, tc.severity, events[0].Severity)
			assert.Equal(t, "7", events[0].ResourceID)
			require.NoError(t, events[0].Validate())
		}
	}
}

func TestDeniedHandler(t *testing.T) {
	f := newFixture(t, IPVerdict{})
	rr := httptest.NewRecorder()
	f.guard.DeniedHandler()(rr, httptest.NewRequest(http.MethodGet, "/access-denied?reason=ip_restricted", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "network location")
}

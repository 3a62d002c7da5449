package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "test_session", time.Hour, false), mr
}

func commitAndReload(t *testing.T, sm *SessionManager, sess *Session) *Session {
	t.Helper()
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), res, sess))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range res.Result().Cookies() {
		req.AddCookie(c)
	}
	loaded, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	return loaded
}

func TestSessionPersistsUserAndMFA(t *testing.T) {
	sm, _ := newTestManager(t)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.False(t, sess.Authenticated())

	sess.SetUser("7")
	sess.MarkMFAVerified()
	loaded := commitAndReload(t, sm, sess)

	assert.Equal(t, sess.ID, loaded.ID)
	assert.Equal(t, "7", loaded.User())
	assert.True(t, loaded.MFAVerified())
}

func TestSetUserResetsMFA(t *testing.T) {
	sess := &Session{}
	sess.MarkMFAVerified()
	sess.SetUser("8")
	assert.False(t, sess.MFAVerified())
}

func TestRenewDropsPreviousRecord(t *testing.T) {
	sm, mr := newTestManager(t)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	loaded := commitAndReload(t, sm, sess)
	oldID := loaded.ID

	sm.Renew(loaded)
	loaded.SetUser("3")
	renewed := commitAndReload(t, sm, loaded)

	assert.NotEqual(t, oldID, renewed.ID)
	assert.Equal(t, "3", renewed.User())
	assert.False(t, mr.Exists(sessionKeyPrefix+oldID))
}

func TestRevokeReturnsOwnerAndDeletes(t *testing.T) {
	sm, mr := newTestManager(t)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.SetUser("11")
	loaded := commitAndReload(t, sm, sess)

	owner, err := sm.Revoke(context.Background(), loaded.ID)
	require.NoError(t, err)
	assert.Equal(t, "11", owner)
	assert.False(t, mr.Exists(sessionKeyPrefix+loaded.ID))

	owner, err = sm.Revoke(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, owner)
}

func TestLoadUnknownCookieStartsFreshSession(t *testing.T) {
	sm, _ := newTestManager(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: "forged"})

	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "forged", sess.ID)
	assert.False(t, sess.Authenticated())
	assert.Equal(t, "forged", sess.StaleID())
}

func TestDestroyExpiresCookie(t *testing.T) {
	sm, mr := newTestManager(t)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	loaded := commitAndReload(t, sm, sess)

	sm.Destroy(loaded)
	res := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), res, loaded))

	assert.False(t, mr.Exists(sessionKeyPrefix+loaded.ID))
	cookies := res.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestSessionLoadingFlag(t *testing.T) {
	ctx := context.Background()
	assert.False(t, SessionLoading(ctx))
	assert.True(t, SessionLoading(ContextWithSessionLoading(ctx)))
}

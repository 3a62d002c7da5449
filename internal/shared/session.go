package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

// FlashMessage represents a one-time notification stored in session.
type FlashMessage struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// SessionManager orchestrates cookie based sessions backed by Redis.
type SessionManager struct {
	client     redis.UniversalClient
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data.
type Session struct {
	ID          string
	values      map[string]string
	userID      string
	mfaVerified bool
	createdAt   time.Time
	flashes     []FlashMessage
	previousID  string
	staleID     string
	isNew       bool
	dirty       bool
	destroyed   bool
}

type sessionPayload struct {
	Values      map[string]string `json:"values"`
	UserID      string            `json:"user_id"`
	MFAVerified bool              `json:"mfa_verified"`
	CreatedAt   time.Time         `json:"created_at"`
	Flashes     []FlashMessage    `json:"flashes"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client redis.UniversalClient, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Load loads the session named by the request cookie or starts a new one.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return sm.newSession(), nil
		}
		return nil, err
	}

	stored, err := sm.fetch(ctx, cookie.Value)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Unknown or revoked ids are never reused.
			sess := sm.newSession()
			sess.staleID = cookie.Value
			return sess, nil
		}
		return nil, err
	}

	sess := sm.newSession()
	sess.ID = cookie.Value
	sess.values = stored.Values
	sess.userID = stored.UserID
	sess.mfaVerified = stored.MFAVerified
	sess.createdAt = stored.CreatedAt
	sess.flashes = stored.Flashes
	sess.isNew = false
	sess.dirty = false
	return sess, nil
}

// Commit persists the session and writes cookie headers as needed.
func (sm *SessionManager) Commit(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return nil
	}

	if sess.destroyed {
		if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		http.SetCookie(w, sm.cookie("", -1, time.Time{}))
		return nil
	}

	if sess.previousID != "" {
		if err := sm.client.Del(ctx, sm.redisKey(sess.previousID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		sess.previousID = ""
	}

	if sess.dirty || sess.isNew {
		data, err := json.Marshal(sess.payload())
		if err != nil {
			return err
		}
		if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
			return err
		}
		sess.dirty = false
		sess.isNew = false
	}

	http.SetCookie(w, sm.cookie(sess.ID, 0, time.Now().Add(sm.ttl)))
	return nil
}

// Destroy marks the session for deletion on commit.
func (sm *SessionManager) Destroy(sess *Session) {
	if sess == nil {
		return
	}
	sess.destroyed = true
}

// Renew assigns a fresh id, dropping the old record on commit. Called on privilege changes.
func (sm *SessionManager) Renew(sess *Session) {
	if sess == nil {
		return
	}
	if !sess.isNew {
		sess.previousID = sess.ID
	}
	sess.ID = sm.generateSessionID()
	sess.dirty = true
}

// Revoke deletes a stored session immediately and returns the user it belonged to.
// A missing session is not an error.
func (sm *SessionManager) Revoke(ctx context.Context, id string) (string, error) {
	stored, err := sm.fetch(ctx, id)
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", err
	}
	if err := sm.client.Del(ctx, sm.redisKey(id)).Err(); err != nil {
		return "", fmt.Errorf("shared: revoke session: %w", err)
	}
	return stored.UserID, nil
}

// TTL exposes the configured session lifetime.
func (sm *SessionManager) TTL() time.Duration {
	return sm.ttl
}

// CookieName returns the cookie identifier used for sessions.
func (sm *SessionManager) CookieName() string {
	return sm.cookieName
}

// Set stores a key-value pair.
func (s *Session) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
	s.dirty = true
}

// Get retrieves a value.
func (s *Session) Get(key string) string {
	if s.values == nil {
		return ""
	}
	return s.values[key]
}

// Delete removes a value.
func (s *Session) Delete(key string) {
	if s.values == nil {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// SetUser associates the session with a user ID. MFA must be proven again.
func (s *Session) SetUser(id string) {
	s.userID = id
	s.mfaVerified = false
	s.dirty = true
}

// User returns the current user ID.
func (s *Session) User() string {
	return s.userID
}

// Authenticated reports whether a user is attached.
func (s *Session) Authenticated() bool {
	return s != nil && s.userID != ""
}

// MarkMFAVerified records a completed second factor.
func (s *Session) MarkMFAVerified() {
	s.mfaVerified = true
	s.dirty = true
}

// MFAVerified reports whether the second factor was completed in this session.
func (s *Session) MFAVerified() bool {
	return s != nil && s.mfaVerified
}

// StaleID returns the id carried by the request cookie when it no longer named a stored
// session, typically because the session was revoked.
func (s *Session) StaleID() string {
	if s == nil {
		return ""
	}
	return s.staleID
}

// CreatedAt returns when the session was first stored.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// AddFlash queues a flash message.
func (s *Session) AddFlash(msg FlashMessage) {
	s.flashes = append(s.flashes, msg)
	s.dirty = true
}

// PopFlash retrieves and clears the oldest flash message.
func (s *Session) PopFlash() *FlashMessage {
	if s == nil || len(s.flashes) == 0 {
		return nil
	}
	msg := s.flashes[0]
	s.flashes = s.flashes[1:]
	s.dirty = true
	return &msg
}

func (s *Session) payload() sessionPayload {
	return sessionPayload{
		Values:      s.values,
		UserID:      s.userID,
		MFAVerified: s.mfaVerified,
		CreatedAt:   s.createdAt,
		Flashes:     s.flashes,
	}
}

func (sm *SessionManager) fetch(ctx context.Context, id string) (sessionPayload, error) {
	var stored sessionPayload
	raw, err := sm.client.Get(ctx, sm.redisKey(id)).Bytes()
	if err != nil {
		return stored, err
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return stored, fmt.Errorf("shared: decode session: %w", err)
	}
	return stored, nil
}

func (sm *SessionManager) newSession() *Session {
	return &Session{
		ID:        sm.generateSessionID(),
		values:    make(map[string]string),
		createdAt: time.Now().UTC(),
		isNew:     true,
		dirty:     true,
	}
}

func (sm *SessionManager) cookie(value string, maxAge int, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     sm.cookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  expires,
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (sm *SessionManager) redisKey(id string) string {
	return sessionKeyPrefix + id
}

func (sm *SessionManager) generateSessionID() string {
	return uuid.NewString()
}

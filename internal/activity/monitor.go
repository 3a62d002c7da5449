package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-strategy/internal/audit"
)

// State of a tracked session.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
)

// Expiry triggers reported to OnExpire and recorded on the audit event.
const (
	TriggerRequest = "request"
	TriggerSweep   = "sweep"
)

const (
	defaultKey         = "activity:last_seen"
	tombstonePrefix    = "activity:expired:"
	defaultIdleTimeout = 30 * time.Minute
	defaultTombstone   = 24 * time.Hour
)

var qualifying = map[string]struct{}{
	"mousedown":  {},
	"keypress":   {},
	"scroll":     {},
	"touchstart": {},
}

// QualifyingEvents lists the interaction events that refresh the activity timestamp.
func QualifyingEvents() []string {
	return []string{"mousedown", "keypress", "scroll", "touchstart"}
}

// IsQualifying reports whether event refreshes activity.
func IsQualifying(event string) bool {
	_, ok := qualifying[strings.ToLower(strings.TrimSpace(event))]
	return ok
}

// Revoker invalidates a stored session and reports the user it belonged to.
type Revoker interface {
	Revoke(ctx context.Context, sessionID string) (string, error)
}

// Options tunes a Monitor. Zero values pick the defaults.
type Options struct {
	IdleTimeout  time.Duration
	TombstoneTTL time.Duration
	Key          string
	Now          func() time.Time
	OnExpire     func(trigger string)
}

// Monitor tracks last-seen timestamps per session in a Redis sorted set and expires
// sessions idle for longer than the configured timeout. An expired session never
// becomes active again.
type Monitor struct {
	client    redis.UniversalClient
	revoker   Revoker
	recorder  audit.Recorder
	logger    *slog.Logger
	key       string
	timeout   time.Duration
	tombstone time.Duration
	now       func() time.Time
	onExpire  func(string)
}

// NewMonitor constructs a Monitor.
func NewMonitor(client redis.UniversalClient, revoker Revoker, recorder audit.Recorder, logger *slog.Logger, opts Options) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = audit.Discard{}
	}
	m := &Monitor{
		client:    client,
		revoker:   revoker,
		recorder:  recorder,
		logger:    logger,
		key:       opts.Key,
		timeout:   opts.IdleTimeout,
		tombstone: opts.TombstoneTTL,
		now:       opts.Now,
		onExpire:  opts.OnExpire,
	}
	if m.key == "" {
		m.key = defaultKey
	}
	if m.timeout <= 0 {
		m.timeout = defaultIdleTimeout
	}
	if m.tombstone <= 0 {
		m.tombstone = defaultTombstone
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// IdleTimeout returns the inactivity threshold.
func (m *Monitor) IdleTimeout() time.Duration {
	return m.timeout
}

// Touch records activity for the session now.
func (m *Monitor) Touch(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.client.ZAdd(ctx, m.key, redis.Z{Score: score(m.now()), Member: sessionID}).Err()
}

// Forget stops tracking the session, for example after logout.
func (m *Monitor) Forget(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return m.client.ZRem(ctx, m.key, sessionID).Err()
}

// Expired reports whether the session was expired by this monitor.
func (m *Monitor) Expired(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}
	n, err := m.client.Exists(ctx, tombstonePrefix+sessionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Check evaluates the session. An untracked session starts tracking and is active.
// An idle session is expired, revoked and audited before StateExpired is returned.
func (m *Monitor) Check(ctx context.Context, sessionID, userID string) (State, error) {
	expired, err := m.Expired(ctx, sessionID)
	if err != nil {
		return StateActive, err
	}
	if expired {
		return StateExpired, nil
	}
	last, err := m.client.ZScore(ctx, m.key, sessionID).Result()
	if errors.Is(err, redis.Nil) {
		return StateActive, m.Touch(ctx, sessionID)
	}
	if err != nil {
		return StateActive, fmt.Errorf("activity: read last seen: %w", err)
	}
	lastSeen := fromScore(last)
	if m.now().Sub(lastSeen) <= m.timeout {
		return StateActive, nil
	}
	if _, err := m.expire(ctx, sessionID, userID, lastSeen, TriggerRequest); err != nil {
		return StateExpired, err
	}
	return StateExpired, nil
}

// Sweep expires every session idle past the timeout and returns how many this call expired.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.timeout)
	members, err := m.client.ZRangeByScoreWithScores(ctx, m.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(int64(score(cutoff)), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("activity: scan idle sessions: %w", err)
	}
	expired := 0
	var errs []error
	for _, z := range members {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		claimed, err := m.expire(ctx, id, "", fromScore(z.Score), TriggerSweep)
		if err != nil {
			errs = append(errs, err)
		}
		if claimed {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// expire claims the session through its tombstone key. Only the caller whose SETNX
// created the tombstone revokes and audits, so each expiry fires once.
func (m *Monitor) expire(ctx context.Context, sessionID, userID string, lastSeen time.Time, trigger string) (bool, error) {
	claimed, err := m.client.SetNX(ctx, tombstonePrefix+sessionID, trigger, m.tombstone).Result()
	if err != nil {
		return false, fmt.Errorf("activity: claim expiry: %w", err)
	}
	if err := m.client.ZRem(ctx, m.key, sessionID).Err(); err != nil {
		m.logger.Warn("activity untrack", slog.String("session_id", sessionID), slog.Any("error", err))
	}
	if !claimed {
		return false, nil
	}

	var revokeErr error
	if m.revoker != nil {
		owner, err := m.revoker.Revoke(ctx, sessionID)
		if err != nil {
			revokeErr = fmt.Errorf("activity: revoke session: %w", err)
			m.logger.Error("activity revoke", slog.String("session_id", sessionID), slog.Any("error", err))
		}
		if userID == "" {
			userID = owner
		}
	}

	idle := m.now().Sub(lastSeen)
	m.logger.Info("session expired after inactivity",
		slog.String("session_id", sessionID),
		slog.String("user_id", userID),
		slog.Duration("idle", idle),
		slog.String("trigger", trigger),
	)
	m.recorder.Record(ctx, audit.Event{
		Action:      audit.ActionSessionTimeout,
		Resource:    audit.ResourceSession,
		Description: "session logged out after inactivity",
		UserID:      userID,
		Severity:    audit.SeverityMedium,
		Metadata: audit.SessionTimeoutMetadata{
			SessionID:    sessionID,
			LastActivity: lastSeen.UTC(),
			IdleSeconds:  int64(math.Round(idle.Seconds())),
			Trigger:      trigger,
		},
	})
	if m.onExpire != nil {
		m.onExpire(trigger)
	}
	return true, revokeErr
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func fromScore(v float64) time.Time {
	return time.UnixMilli(int64(v)).UTC()
}

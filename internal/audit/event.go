package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity grades a security event.
type Severity string

// Supported severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of the supported values.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Resources recorded on events. Metadata variants are bound to one of these.
const (
	ResourceSecurity = "security"
	ResourceAuth     = "auth"
	ResourceSession  = "session"
	ResourceAccess   = "access"
	ResourceRBAC     = "rbac"
)

// Actions emitted by the access control layer.
const (
	ActionSuspiciousURL    = "security.suspicious_url"
	ActionClickjacking     = "security.clickjacking"
	ActionIPRestricted     = "security.ip_restricted"
	ActionUnauthenticated  = "auth.unauthenticated_access"
	ActionMFARequired      = "auth.mfa_required"
	ActionLogin            = "auth.login"
	ActionLoginFailed      = "auth.login_failed"
	ActionLogout           = "auth.logout"
	ActionMFAVerified      = "auth.mfa_verified"
	ActionUnauthorized     = "access.unauthorized"
	ActionAccessGranted    = "access.granted"
	ActionSessionTimeout   = "session.timeout"
	ActionRoleLookupFailed = "rbac.role_lookup_failed"
)

var (
	// ErrInvalidEvent is returned when an event misses required fields.
	ErrInvalidEvent = errors.New("audit: invalid event")
)

// Event is one structured security record.
type Event struct {
	ID          uuid.UUID
	Action      string
	Resource    string
	ResourceID  string
	Description string
	UserID      string
	Severity    Severity
	Metadata    Metadata
	OccurredAt  time.Time
}

// Validate checks the fields required by every sink.
func (e Event) Validate() error {
	if e.Action == "" || e.Resource == "" {
		return fmt.Errorf("%w: action and resource required", ErrInvalidEvent)
	}
	if !e.Severity.Valid() {
		return fmt.Errorf("%w: severity %q", ErrInvalidEvent, e.Severity)
	}
	if e.Metadata != nil && e.Metadata.resource() != e.Resource {
		return fmt.Errorf("%w: %s metadata on %s event", ErrInvalidEvent, e.Metadata.Kind(), e.Resource)
	}
	return nil
}

// prepare fills the identity and timestamp when the caller left them empty.
func (e Event) prepare(now func() time.Time) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now().UTC()
	}
	return e
}

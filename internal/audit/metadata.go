package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Metadata is the closed set of per-resource payloads an event can carry.
// The unexported method keeps other packages from adding variants.
type Metadata interface {
	Kind() string
	resource() string
}

// SuspiciousURLMetadata records which heuristic matched a request URL.
type SuspiciousURLMetadata struct {
	URL     string `json:"url"`
	Pattern string `json:"pattern"`
}

// FramingMetadata describes a navigation loaded inside a frame.
type FramingMetadata struct {
	Host      string `json:"host"`
	Referer   string `json:"referer,omitempty"`
	FetchDest string `json:"fetch_dest"`
}

// IPRestrictionMetadata describes a request from an address outside the allow-list.
type IPRestrictionMetadata struct {
	IP           string `json:"ip"`
	AllowedCount int    `json:"allowed_count"`
	Source       string `json:"source"`
}

// AuthMetadata accompanies authentication events.
type AuthMetadata struct {
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason,omitempty"`
	IP     string `json:"ip,omitempty"`
}

// UnauthorizedMetadata accompanies a role check failure.
type UnauthorizedMetadata struct {
	RequiredRoles []string `json:"required_roles"`
	UserRole      string   `json:"user_role"`
	Action        string   `json:"action"`
	Path          string   `json:"path,omitempty"`
}

// ResourceAccessMetadata accompanies a granted non-view access.
type ResourceAccessMetadata struct {
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	Path         string `json:"path,omitempty"`
}

// SessionTimeoutMetadata accompanies a forced logout after inactivity.
type SessionTimeoutMetadata struct {
	SessionID    string    `json:"session_id"`
	LastActivity time.Time `json:"last_activity"`
	IdleSeconds  int64     `json:"idle_seconds"`
	Trigger      string    `json:"trigger"`
}

// RoleLookupMetadata accompanies a failed role lookup that fell back to viewer.
type RoleLookupMetadata struct {
	Error        string `json:"error"`
	FallbackRole string `json:"fallback_role"`
}

func (SuspiciousURLMetadata) Kind() string  { return "suspicious_url" }
func (FramingMetadata) Kind() string        { return "framing" }
func (IPRestrictionMetadata) Kind() string  { return "ip_restriction" }
func (AuthMetadata) Kind() string           { return "auth" }
func (UnauthorizedMetadata) Kind() string   { return "unauthorized" }
func (ResourceAccessMetadata) Kind() string { return "resource_access" }
func (SessionTimeoutMetadata) Kind() string { return "session_timeout" }
func (RoleLookupMetadata) Kind() string     { return "role_lookup" }

func (SuspiciousURLMetadata) resource() string  { return ResourceSecurity }
func (FramingMetadata) resource() string        { return ResourceSecurity }
func (IPRestrictionMetadata) resource() string  { return ResourceSecurity }
func (AuthMetadata) resource() string           { return ResourceAuth }
func (UnauthorizedMetadata) resource() string   { return ResourceAccess }
func (ResourceAccessMetadata) resource() string { return ResourceAccess }
func (SessionTimeoutMetadata) resource() string { return ResourceSession }
func (RoleLookupMetadata) resource() string     { return ResourceRBAC }

type metadataEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeMetadata serialises metadata with its kind tag. Nil metadata encodes as JSON null.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataEnvelope{Kind: m.Kind(), Data: data})
}

// DecodeMetadata restores a tagged payload produced by EncodeMetadata.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	var (
		target Metadata
		err    error
	)
	switch env.Kind {
	case SuspiciousURLMetadata{}.Kind():
		target, err = decode[SuspiciousURLMetadata](env.Data)
	case FramingMetadata{}.Kind():
		target, err = decode[FramingMetadata](env.Data)
	case IPRestrictionMetadata{}.Kind():
		target, err = decode[IPRestrictionMetadata](env.Data)
	case AuthMetadata{}.Kind():
		target, err = decode[AuthMetadata](env.Data)
	case UnauthorizedMetadata{}.Kind():
		target, err = decode[UnauthorizedMetadata](env.Data)
	case ResourceAccessMetadata{}.Kind():
		target, err = decode[ResourceAccessMetadata](env.Data)
	case SessionTimeoutMetadata{}.Kind():
		target, err = decode[SessionTimeoutMetadata](env.Data)
	case RoleLookupMetadata{}.Kind():
		target, err = decode[RoleLookupMetadata](env.Data)
	default:
		return nil, fmt.Errorf("audit: unknown metadata kind %q", env.Kind)
	}
	if err != nil {
		return nil, err
	}
	return target, nil
}

func decode[T Metadata](data json.RawMessage) (Metadata, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

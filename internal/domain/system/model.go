// Package system implements the external system registry: per-remote
// connection and auth configuration plus live connection status.
package system

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no registered system matches the lookup.
var ErrNotFound = errors.New("system: not found")

// Connection statuses. Only the registry's connectivity probe may change a
// system's status.
const (
	StatusUnknown      = "unknown"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
	StatusError        = "error"
)

// Auth kinds supported for outbound calls.
const (
	AuthNone              = "none"
	AuthBasic             = "basic"
	AuthOAuth2            = "oauth2"
	AuthClientCredentials = "client-credentials"
	AuthBearer            = "bearer"
	AuthMutualTLS         = "mutual-tls"
)

var validKinds = map[string]bool{
	"ehr": true, "hie": true, "lab": true, "imaging": true, "pharmacy": true,
	"billing": true, "registry": true, "pacs": true, "his": true, "other": true,
}

var validAuthKinds = map[string]bool{
	AuthNone: true, AuthBasic: true, AuthOAuth2: true,
	AuthClientCredentials: true, AuthBearer: true, AuthMutualTLS: true,
}

// System maps to the external_system table.
type System struct {
	ID                       uuid.UUID              `db:"id" json:"id"`
	Name                     string                 `db:"name" json:"name"`
	Kind                     string                 `db:"kind" json:"kind"`
	BaseURL                  string                 `db:"base_url" json:"base_url"`
	FHIRVersion              string                 `db:"fhir_version" json:"fhir_version"`
	AuthKind                 string                 `db:"auth_kind" json:"auth_kind"`
	AuthConfig               map[string]interface{} `db:"auth_config" json:"-"`
	SupportedResourceTypes   []string               `db:"supported_resource_types" json:"supported_resource_types"`
	SupportsHL7              bool                   `db:"supports_hl7" json:"supports_hl7"`
	HL7Version               *string                `db:"hl7_version" json:"hl7_version,omitempty"`
	HL7Address               *string                `db:"hl7_address" json:"hl7_address,omitempty"`
	ConnectionStatus         string                 `db:"connection_status" json:"connection_status"`
	LastSuccessfulConnection *time.Time             `db:"last_successful_connection" json:"last_successful_connection,omitempty"`
	CreatedAt                time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time              `db:"updated_at" json:"updated_at"`
}

// SupportsResourceType reports whether the system declares support for the
// given FHIR resource type. An empty list means no restriction.
func (s *System) SupportsResourceType(resourceType string) bool {
	if len(s.SupportedResourceTypes) == 0 {
		return true
	}
	for _, rt := range s.SupportedResourceTypes {
		if rt == resourceType {
			return true
		}
	}
	return false
}

// authString reads a string value from the opaque auth configuration.
func (s *System) authString(key string) string {
	if s.AuthConfig == nil {
		return ""
	}
	v, _ := s.AuthConfig[key].(string)
	return v
}

// AuthValue exposes a single auth configuration string to collaborators
// (credentials, token URLs, key material references).
func (s *System) AuthValue(key string) string { return s.authString(key) }

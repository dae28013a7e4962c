// Package consent implements the consent ledger: per-patient, per-purpose
// authorization records gating every outbound data share. At most one
// authoritative record exists per (patient, consent type).
package consent

import (
	"time"

	"github.com/google/uuid"
)

// Consent statuses.
const (
	StatusPending   = "pending"
	StatusGranted   = "granted"
	StatusDenied    = "denied"
	StatusWithdrawn = "withdrawn"
	StatusExpired   = "expired"
)

// TypeDataSharing gates outbound FHIR exchange.
const TypeDataSharing = "data-sharing"

var validTypes = map[string]bool{
	"treatment": true, "payment": true, "operations": true, "research": true,
	"marketing": true, "directory": true, "emergency": true, "hie": true,
	TypeDataSharing: true,
}

// Consent maps to the consent table.
type Consent struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Patient          string     `db:"patient" json:"patient"`
	ConsentType      string     `db:"consent_type" json:"consent_type"`
	Status           string     `db:"status" json:"status"`
	Purpose          string     `db:"purpose" json:"purpose,omitempty"`
	Scope            []string   `db:"scope" json:"scope,omitempty"`
	GrantedAt        *time.Time `db:"granted_at" json:"granted_at,omitempty"`
	ExpiresAt        *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	WithdrawnAt      *time.Time `db:"withdrawn_at" json:"withdrawn_at,omitempty"`
	WithdrawalReason string     `db:"withdrawal_reason" json:"withdrawal_reason,omitempty"`
	LegalBasis       string     `db:"legal_basis" json:"legal_basis,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ValidAt reports whether the consent authorizes sharing at the given
// instant: granted, not expired, not withdrawn.
func (c *Consent) ValidAt(now time.Time) bool {
	if c.Status != StatusGranted {
		return false
	}
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	if c.WithdrawnAt != nil && !now.Before(*c.WithdrawnAt) {
		return false
	}
	return true
}

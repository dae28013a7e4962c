package consent

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no consent record matches the lookup.
var ErrNotFound = errors.New("consent: not found")

type ConsentRepository interface {
	// Upsert creates or replaces the single (patient, consentType) record.
	Upsert(ctx context.Context, c *Consent) error
	Update(ctx context.Context, c *Consent) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consent, error)
	GetByPatientAndType(ctx context.Context, patient, consentType string) (*Consent, error)
	ListByPatient(ctx context.Context, patient string) ([]*Consent, error)
	List(ctx context.Context, limit, offset int) ([]*Consent, int, error)
	AuthorizeSystem(ctx context.Context, consentID, systemID uuid.UUID) error
	RevokeSystem(ctx context.Context, consentID, systemID uuid.UUID) error
	AuthorizedSystems(ctx context.Context, consentID uuid.UUID) ([]uuid.UUID, error)
}

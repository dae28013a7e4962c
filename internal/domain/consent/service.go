package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger owns all consent records. Components that share patient data
// externally call IsValid before crossing the boundary and treat a false
// answer as a hard, non-retryable failure.
type Ledger struct {
	repo   ConsentRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedger(repo ConsentRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger.With().Str("component", "consent_ledger").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GrantParams describes a grant request.
type GrantParams struct {
	Patient     string
	ConsentType string
	Purpose     string
	Scope       []string
	ExpiresAt   *time.Time
	LegalBasis  string
}

// Grant creates or refreshes the single (patient, consentType) record as
// granted, clearing any prior withdrawal.
func (l *Ledger) Grant(ctx context.Context, p GrantParams) (*Consent, error) {
	if p.Patient == "" {
		return nil, fmt.Errorf("patient is required")
	}
	if !validTypes[p.ConsentType] {
		return nil, fmt.Errorf("invalid consent type: %s", p.ConsentType)
	}

	now := l.now()
	c := &Consent{
		Patient:     p.Patient,
		ConsentType: p.ConsentType,
		Status:      StatusGranted,
		Purpose:     p.Purpose,
		Scope:       p.Scope,
		GrantedAt:   &now,
		ExpiresAt:   p.ExpiresAt,
		LegalBasis:  p.LegalBasis,
	}
	if err := l.repo.Upsert(ctx, c); err != nil {
		return nil, fmt.Errorf("grant consent: %w", err)
	}

	l.logger.Info().
		Str("patient", p.Patient).
		Str("consent_type", p.ConsentType).
		Msg("consent granted")
	return c, nil
}

// IsValid reports whether the patient's consent for the given purpose
// currently authorizes sharing. A missing record is false, not an error.
func (l *Ledger) IsValid(ctx context.Context, patient, consentType string) (bool, error) {
	c, err := l.repo.GetByPatientAndType(ctx, patient, consentType)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup consent: %w", err)
	}
	return c.ValidAt(l.now()), nil
}

// Withdraw transitions the record to withdrawn and stamps the reason. It is
// not reversible except through a fresh Grant.
func (l *Ledger) Withdraw(ctx context.Context, patient, consentType, reason, actor string) error {
	c, err := l.repo.GetByPatientAndType(ctx, patient, consentType)
	if err != nil {
		return err
	}

	now := l.now()
	c.Status = StatusWithdrawn
	c.WithdrawnAt = &now
	c.WithdrawalReason = reason
	if err := l.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("withdraw consent: %w", err)
	}

	l.logger.Info().
		Str("patient", patient).
		Str("consent_type", consentType).
		Str("actor", actor).
		Msg("consent withdrawn")
	return nil
}

// Extend updates the expiry of an already-granted record. Any other status is
// rejected.
func (l *Ledger) Extend(ctx context.Context, patient, consentType string, newExpiry time.Time) error {
	c, err := l.repo.GetByPatientAndType(ctx, patient, consentType)
	if err != nil {
		return err
	}
	if c.Status != StatusGranted {
		return fmt.Errorf("cannot extend consent in status %s", c.Status)
	}

	c.ExpiresAt = &newExpiry
	if err := l.repo.Update(ctx, c); err != nil {
		return fmt.Errorf("extend consent: %w", err)
	}

	l.logger.Info().
		Str("patient", patient).
		Str("consent_type", consentType).
		Time("expires_at", newExpiry).
		Msg("consent extended")
	return nil
}

// AuthorizeSystem adds an external system to the consent's authorized set.
// Authorizing the same system twice is a no-op.
func (l *Ledger) AuthorizeSystem(ctx context.Context, consentID, systemID uuid.UUID) error {
	c, err := l.repo.GetByID(ctx, consentID)
	if err != nil {
		return err
	}
	if err := l.repo.AuthorizeSystem(ctx, consentID, systemID); err != nil {
		return fmt.Errorf("authorize system: %w", err)
	}

	l.logger.Info().
		Str("patient", c.Patient).
		Str("consent_type", c.ConsentType).
		Str("system_id", systemID.String()).
		Msg("system authorized")
	return nil
}

// RevokeSystem removes an external system from the consent's authorized set.
func (l *Ledger) RevokeSystem(ctx context.Context, consentID, systemID uuid.UUID) error {
	c, err := l.repo.GetByID(ctx, consentID)
	if err != nil {
		return err
	}
	if err := l.repo.RevokeSystem(ctx, consentID, systemID); err != nil {
		return fmt.Errorf("revoke system: %w", err)
	}

	l.logger.Info().
		Str("patient", c.Patient).
		Str("consent_type", c.ConsentType).
		Str("system_id", systemID.String()).
		Msg("system authorization revoked")
	return nil
}

// AuthorizedSystems returns the systems authorized on the consent. A missing
// consent is ErrNotFound, not an empty set.
func (l *Ledger) AuthorizedSystems(ctx context.Context, consentID uuid.UUID) ([]uuid.UUID, error) {
	if _, err := l.repo.GetByID(ctx, consentID); err != nil {
		return nil, err
	}
	return l.repo.AuthorizedSystems(ctx, consentID)
}

// Get resolves a consent record by ID.
func (l *Ledger) Get(ctx context.Context, consentID uuid.UUID) (*Consent, error) {
	return l.repo.GetByID(ctx, consentID)
}

// LogDenied records a denied sharing attempt through the side channel for
// compliance visibility. Denied attempts never appear as network activity.
func (l *Ledger) LogDenied(patient, consentType, operation string) {
	l.logger.Warn().
		Str("patient", patient).
		Str("consent_type", consentType).
		Str("operation", operation).
		Msg("consent denied, sharing attempt blocked")
}

// ListByPatient returns every consent record for the patient.
func (l *Ledger) ListByPatient(ctx context.Context, patient string) ([]*Consent, error) {
	return l.repo.ListByPatient(ctx, patient)
}

// List returns consent records page by page.
func (l *Ledger) List(ctx context.Context, limit, offset int) ([]*Consent, int, error) {
	return l.repo.List(ctx, limit, offset)
}

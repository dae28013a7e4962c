package consent

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/interop/interop/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type consentRepoPG struct{ pool *pgxpool.Pool }

func NewConsentRepoPG(pool *pgxpool.Pool) ConsentRepository {
	return &consentRepoPG{pool: pool}
}

func (r *consentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const consentCols = `id, patient, consent_type, status, purpose, scope,
	granted_at, expires_at, withdrawn_at, withdrawal_reason, legal_basis,
	created_at, updated_at`

func (r *consentRepoPG) scanRow(row pgx.Row) (*Consent, error) {
	var c Consent
	err := row.Scan(&c.ID, &c.Patient, &c.ConsentType, &c.Status, &c.Purpose, &c.Scope,
		&c.GrantedAt, &c.ExpiresAt, &c.WithdrawnAt, &c.WithdrawalReason, &c.LegalBasis,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *consentRepoPG) Upsert(ctx context.Context, c *Consent) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	// The (patient, consent_type) unique constraint makes the second grant
	// an update, never a duplicate row.
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO consent (id, patient, consent_type, status, purpose, scope,
			granted_at, expires_at, withdrawn_at, withdrawal_reason, legal_basis)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (patient, consent_type) DO UPDATE SET
			status = EXCLUDED.status,
			purpose = EXCLUDED.purpose,
			scope = EXCLUDED.scope,
			granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at,
			withdrawn_at = EXCLUDED.withdrawn_at,
			withdrawal_reason = EXCLUDED.withdrawal_reason,
			legal_basis = EXCLUDED.legal_basis,
			updated_at = NOW()
		RETURNING id`,
		c.ID, c.Patient, c.ConsentType, c.Status, c.Purpose, c.Scope,
		c.GrantedAt, c.ExpiresAt, c.WithdrawnAt, c.WithdrawalReason, c.LegalBasis).Scan(&c.ID)
}

func (r *consentRepoPG) Update(ctx context.Context, c *Consent) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent SET status=$2, purpose=$3, scope=$4, granted_at=$5, expires_at=$6,
			withdrawn_at=$7, withdrawal_reason=$8, legal_basis=$9, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, c.Purpose, c.Scope, c.GrantedAt, c.ExpiresAt,
		c.WithdrawnAt, c.WithdrawalReason, c.LegalBasis)
	return err
}

func (r *consentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Consent, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consentCols+` FROM consent WHERE id = $1`, id))
}

func (r *consentRepoPG) GetByPatientAndType(ctx context.Context, patient, consentType string) (*Consent, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+consentCols+` FROM consent WHERE patient = $1 AND consent_type = $2`,
		patient, consentType))
}

func (r *consentRepoPG) ListByPatient(ctx context.Context, patient string) ([]*Consent, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+consentCols+` FROM consent WHERE patient = $1 ORDER BY consent_type`, patient)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Consent
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *consentRepoPG) List(ctx context.Context, limit, offset int) ([]*Consent, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consent`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+consentCols+` FROM consent ORDER BY updated_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Consent
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *consentRepoPG) AuthorizeSystem(ctx context.Context, consentID, systemID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_authorized_system (consent_id, system_id)
		VALUES ($1, $2) ON CONFLICT DO NOTHING`, consentID, systemID)
	return err
}

func (r *consentRepoPG) RevokeSystem(ctx context.Context, consentID, systemID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM consent_authorized_system WHERE consent_id = $1 AND system_id = $2`,
		consentID, systemID)
	return err
}

func (r *consentRepoPG) AuthorizedSystems(ctx context.Context, consentID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT system_id FROM consent_authorized_system WHERE consent_id = $1`, consentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

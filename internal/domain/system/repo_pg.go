package system

import (
	"context"
	"errors"
	"time"

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

type systemRepoPG struct{ pool *pgxpool.Pool }

func NewSystemRepoPG(pool *pgxpool.Pool) SystemRepository {
	return &systemRepoPG{pool: pool}
}

func (r *systemRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const sysCols = `id, name, kind, base_url, fhir_version, auth_kind, auth_config,
	supported_resource_types, supports_hl7, hl7_version, hl7_address,
	connection_status, last_successful_connection, created_at, updated_at`

func (r *systemRepoPG) scanRow(row pgx.Row) (*System, error) {
	var s System
	err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.BaseURL, &s.FHIRVersion, &s.AuthKind, &s.AuthConfig,
		&s.SupportedResourceTypes, &s.SupportsHL7, &s.HL7Version, &s.HL7Address,
		&s.ConnectionStatus, &s.LastSuccessfulConnection, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &s, err
}

func (r *systemRepoPG) Create(ctx context.Context, s *System) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO external_system (id, name, kind, base_url, fhir_version, auth_kind, auth_config,
			supported_resource_types, supports_hl7, hl7_version, hl7_address, connection_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		s.ID, s.Name, s.Kind, s.BaseURL, s.FHIRVersion, s.AuthKind, s.AuthConfig,
		s.SupportedResourceTypes, s.SupportsHL7, s.HL7Version, s.HL7Address, s.ConnectionStatus)
	return err
}

func (r *systemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*System, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+sysCols+` FROM external_system WHERE id = $1`, id))
}

func (r *systemRepoPG) GetByName(ctx context.Context, name string) (*System, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+sysCols+` FROM external_system WHERE name = $1`, name))
}

func (r *systemRepoPG) List(ctx context.Context, limit, offset int) ([]*System, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM external_system`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sysCols+` FROM external_system ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*System
	for rows.Next() {
		s, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, nil
}

func (r *systemRepoPG) UpdateConnectionStatus(ctx context.Context, id uuid.UUID, status string, lastSuccess *time.Time) error {
	if lastSuccess != nil {
		_, err := r.conn(ctx).Exec(ctx, `
			UPDATE external_system
			SET connection_status = $2, last_successful_connection = $3, updated_at = NOW()
			WHERE id = $1`, id, status, *lastSuccess)
		return err
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE external_system SET connection_status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

func (r *systemRepoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT connection_status, COUNT(*) FROM external_system GROUP BY connection_status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

package resource

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

type resourceRepoPG struct{ pool *pgxpool.Pool }

func NewResourceRepoPG(pool *pgxpool.Pool) ResourceRepository {
	return &resourceRepoPG{pool: pool}
}

func (r *resourceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const resCols = `resource_id, version_id, resource_type, resource_data,
	source_system, related_patient, is_valid, validation_errors, last_updated`

func (r *resourceRepoPG) scanRow(row pgx.Row) (*FHIRResource, error) {
	var res FHIRResource
	err := row.Scan(&res.ResourceID, &res.VersionID, &res.ResourceType, &res.Data,
		&res.SourceSystem, &res.RelatedPatient, &res.IsValid, &res.ValidationErrors, &res.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &res, err
}

func (r *resourceRepoPG) Create(ctx context.Context, res *FHIRResource) error {
	if res.ResourceID == uuid.Nil {
		res.ResourceID = uuid.New()
	}
	if res.VersionID == "" {
		res.VersionID = "1"
	}
	if res.ValidationErrors == nil {
		res.ValidationErrors = []string{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO fhir_resource (resource_id, version_id, resource_type, resource_data,
			source_system, related_patient, is_valid, validation_errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		res.ResourceID, res.VersionID, res.ResourceType, res.Data,
		res.SourceSystem, res.RelatedPatient, res.IsValid, res.ValidationErrors)
	return err
}

func (r *resourceRepoPG) GetLatest(ctx context.Context, resourceID uuid.UUID) (*FHIRResource, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `
		SELECT `+resCols+` FROM fhir_resource
		WHERE resource_id = $1 ORDER BY last_updated DESC LIMIT 1`, resourceID))
}

func (r *resourceRepoPG) GetVersion(ctx context.Context, resourceID uuid.UUID, versionID string) (*FHIRResource, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `
		SELECT `+resCols+` FROM fhir_resource
		WHERE resource_id = $1 AND version_id = $2`, resourceID, versionID))
}

func (r *resourceRepoPG) List(ctx context.Context, limit, offset int) ([]*FHIRResource, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM fhir_resource`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+resCols+` FROM fhir_resource
		ORDER BY last_updated DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *resourceRepoPG) ListByType(ctx context.Context, resourceType string, limit, offset int) ([]*FHIRResource, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM fhir_resource WHERE resource_type = $1`, resourceType).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+resCols+` FROM fhir_resource
		WHERE resource_type = $1 ORDER BY last_updated DESC LIMIT $2 OFFSET $3`,
		resourceType, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *resourceRepoPG) ListByPatient(ctx context.Context, patient string, limit, offset int) ([]*FHIRResource, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM fhir_resource WHERE related_patient = $1`, patient).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+resCols+` FROM fhir_resource
		WHERE related_patient = $1 ORDER BY last_updated DESC LIMIT $2 OFFSET $3`,
		patient, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *resourceRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM fhir_resource`).Scan(&n)
	return n, err
}

func (r *resourceRepoPG) collect(rows pgx.Rows, total int) ([]*FHIRResource, int, error) {
	var items []*FHIRResource
	for rows.Next() {
		res, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, res)
	}
	return items, total, rows.Err()
}

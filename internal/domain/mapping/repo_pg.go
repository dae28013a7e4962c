package mapping

import (
	"context"
	"errors"
	"fmt"
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

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository {
	return &mappingRepoPG{pool: pool}
}

func (r *mappingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const mapCols = `id, name, mapping_type, source_system, target_system,
	source_format, target_format, mapping_rules, is_active,
	last_tested, test_results, created_at, updated_at`

func (r *mappingRepoPG) scanRow(row pgx.Row) (*Mapping, error) {
	var m Mapping
	err := row.Scan(&m.ID, &m.Name, &m.MappingType, &m.SourceSystem, &m.TargetSystem,
		&m.SourceFormat, &m.TargetFormat, &m.Rules, &m.IsActive,
		&m.LastTested, &m.TestResults, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *mappingRepoPG) Create(ctx context.Context, m *Mapping) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Rules == nil {
		m.Rules = map[string]interface{}{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO data_mapping (id, name, mapping_type, source_system, target_system,
			source_format, target_format, mapping_rules, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.Name, m.MappingType, m.SourceSystem, m.TargetSystem,
		m.SourceFormat, m.TargetFormat, m.Rules, m.IsActive)
	return err
}

func (r *mappingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mapCols+` FROM data_mapping WHERE id = $1`, id))
}

func (r *mappingRepoPG) GetByName(ctx context.Context, name string) (*Mapping, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+mapCols+` FROM data_mapping WHERE name = $1`, name))
}

func (r *mappingRepoPG) List(ctx context.Context, mappingType string, activeOnly bool, limit, offset int) ([]*Mapping, int, error) {
	query := `SELECT ` + mapCols + ` FROM data_mapping WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM data_mapping WHERE 1=1`
	var args []interface{}
	idx := 1

	if mappingType != "" {
		clause := fmt.Sprintf(` AND mapping_type = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, mappingType)
		idx++
	}
	if activeOnly {
		query += ` AND is_active`
		countQuery += ` AND is_active`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Mapping
	for rows.Next() {
		m, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *mappingRepoPG) RecordTest(ctx context.Context, id uuid.UUID, at time.Time, results map[string]interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE data_mapping SET last_tested = $2, test_results = $3, updated_at = NOW()
		WHERE id = $1`, id, at, results)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mappingRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE data_mapping SET is_active = $2, updated_at = NOW()
		WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

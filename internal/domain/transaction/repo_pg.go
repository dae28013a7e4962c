package transaction

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

type transactionRepoPG struct{ pool *pgxpool.Pool }

func NewTransactionRepoPG(pool *pgxpool.Pool) TransactionRepository {
	return &transactionRepoPG{pool: pool}
}

func (r *transactionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const txnCols = `transaction_id, transaction_type, external_system, endpoint_url, http_method,
	request_data, response_data, status, status_code, error_message,
	started_at, completed_at, duration_ms,
	related_patient, related_fhir_resource, related_hl7_message,
	initiator, initiator_ip, initiator_user_agent`

func (r *transactionRepoPG) scanRow(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.TransactionID, &t.TransactionType, &t.ExternalSystem, &t.EndpointURL, &t.HTTPMethod,
		&t.RequestData, &t.ResponseData, &t.Status, &t.StatusCode, &t.ErrorMessage,
		&t.StartedAt, &t.CompletedAt, &t.DurationMs,
		&t.RelatedPatient, &t.RelatedFHIRResource, &t.RelatedHL7Message,
		&t.Initiator, &t.InitiatorIP, &t.InitiatorUserAgent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &t, err
}

func (r *transactionRepoPG) Create(ctx context.Context, t *Transaction) error {
	if t.TransactionID == uuid.Nil {
		t.TransactionID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO integration_transaction (transaction_id, transaction_type, external_system,
			endpoint_url, http_method, request_data, status, started_at,
			related_patient, related_fhir_resource, related_hl7_message,
			initiator, initiator_ip, initiator_user_agent)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.TransactionID, t.TransactionType, t.ExternalSystem,
		t.EndpointURL, t.HTTPMethod, t.RequestData, t.Status, t.StartedAt,
		t.RelatedPatient, t.RelatedFHIRResource, t.RelatedHL7Message,
		t.Initiator, t.InitiatorIP, t.InitiatorUserAgent)
	return err
}

func (r *transactionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+txnCols+` FROM integration_transaction WHERE transaction_id = $1`, id))
}

func (r *transactionRepoPG) Finalize(ctx context.Context, t *Transaction) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE integration_transaction SET status=$2, status_code=$3, response_data=$4,
			error_message=$5, completed_at=$6, duration_ms=$7,
			related_fhir_resource=$8, related_hl7_message=$9
		WHERE transaction_id = $1`,
		t.TransactionID, t.Status, t.StatusCode, t.ResponseData,
		t.ErrorMessage, t.CompletedAt, t.DurationMs,
		t.RelatedFHIRResource, t.RelatedHL7Message)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *transactionRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Transaction, int, error) {
	query := `SELECT ` + txnCols + ` FROM integration_transaction WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM integration_transaction WHERE 1=1`
	var args []interface{}
	idx := 1

	addFilter := func(col string, val interface{}) {
		clause := fmt.Sprintf(` AND %s = $%d`, col, idx)
		query += clause
		countQuery += clause
		args = append(args, val)
		idx++
	}
	if f.TransactionType != "" {
		addFilter("transaction_type", f.TransactionType)
	}
	if f.Status != "" {
		addFilter("status", f.Status)
	}
	if f.ExternalSystem != nil {
		addFilter("external_system", *f.ExternalSystem)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Transaction
	for rows.Next() {
		t, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

func (r *transactionRepoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM integration_transaction GROUP BY status`)
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

func (r *transactionRepoPG) CountFailedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM integration_transaction
		WHERE status = $1 AND started_at >= $2`, StatusFailed, since).Scan(&n)
	return n, err
}

func (r *transactionRepoPG) AvgDurationMs(ctx context.Context) (float64, error) {
	var avg float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(AVG(duration_ms), 0) FROM integration_transaction
		WHERE status = $1 AND duration_ms IS NOT NULL`, StatusCompleted).Scan(&avg)
	return avg, err
}

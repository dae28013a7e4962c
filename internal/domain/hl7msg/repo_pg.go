package hl7msg

import (
	"context"
	"errors"
	"fmt"

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

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository {
	return &messageRepoPG{pool: pool}
}

func (r *messageRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const msgCols = `message_id, control_id, message_type, trigger_event, direction,
	raw_message, parsed_message, status, processing_errors, processing_log,
	source_system, destination_system, related_patient, received_at, processed_at`

func (r *messageRepoPG) scanRow(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(&m.MessageID, &m.ControlID, &m.MessageType, &m.TriggerEvent, &m.Direction,
		&m.RawMessage, &m.ParsedMessage, &m.Status, &m.ProcessingErrors, &m.ProcessingLog,
		&m.SourceSystem, &m.DestinationSystem, &m.RelatedPatient, &m.ReceivedAt, &m.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &m, err
}

func (r *messageRepoPG) Create(ctx context.Context, m *Message) error {
	if m.MessageID == uuid.Nil {
		m.MessageID = uuid.New()
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	if m.ParsedMessage == nil {
		m.ParsedMessage = map[string][]string{}
	}
	if m.ProcessingErrors == nil {
		m.ProcessingErrors = []string{}
	}
	if m.ProcessingLog == nil {
		m.ProcessingLog = []string{}
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hl7_message (message_id, control_id, message_type, trigger_event, direction,
			raw_message, parsed_message, status, processing_errors, processing_log,
			source_system, destination_system, related_patient)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		m.MessageID, m.ControlID, m.MessageType, m.TriggerEvent, m.Direction,
		m.RawMessage, m.ParsedMessage, m.Status, m.ProcessingErrors, m.ProcessingLog,
		m.SourceSystem, m.DestinationSystem, m.RelatedPatient)
	return err
}

func (r *messageRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx,
		`SELECT `+msgCols+` FROM hl7_message WHERE message_id = $1`, id))
}

func (r *messageRepoPG) Update(ctx context.Context, m *Message) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE hl7_message SET control_id=$2, message_type=$3, trigger_event=$4,
			parsed_message=$5, status=$6, processing_errors=$7, processing_log=$8,
			related_patient=$9, processed_at=$10
		WHERE message_id = $1`,
		m.MessageID, m.ControlID, m.MessageType, m.TriggerEvent,
		m.ParsedMessage, m.Status, m.ProcessingErrors, m.ProcessingLog,
		m.RelatedPatient, m.ProcessedAt)
	return err
}

func (r *messageRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Message, int, error) {
	query := `SELECT ` + msgCols + ` FROM hl7_message WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM hl7_message WHERE 1=1`
	var args []interface{}
	idx := 1

	addFilter := func(col, val string) {
		if val == "" {
			return
		}
		clause := fmt.Sprintf(` AND %s = $%d`, col, idx)
		query += clause
		countQuery += clause
		args = append(args, val)
		idx++
	}
	addFilter("message_type", f.MessageType)
	addFilter("status", f.Status)
	addFilter("direction", f.Direction)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY received_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		m, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (r *messageRepoPG) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT status, COUNT(*) FROM hl7_message GROUP BY status`)
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

package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Ledger begins and finalizes integration transactions. Every outbound
// exchange owns exactly one transaction for its full lifetime.
type Ledger struct {
	repo   TransactionRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedger(repo TransactionRepository, logger zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger.With().Str("component", "transaction_ledger").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// BeginParams identifies the exchange about to be attempted.
type BeginParams struct {
	TransactionType string
	ExternalSystem  *uuid.UUID
	EndpointURL     string
	HTTPMethod      string
	RequestData     map[string]interface{}
	RelatedPatient  *string

	Initiator          string
	InitiatorIP        string
	InitiatorUserAgent string
}

// Begin creates an initiated transaction stamped with the current time.
func (l *Ledger) Begin(ctx context.Context, p BeginParams) (*Transaction, error) {
	if p.TransactionType == "" {
		return nil, fmt.Errorf("transaction type is required")
	}
	t := &Transaction{
		TransactionID:      uuid.New(),
		TransactionType:    p.TransactionType,
		ExternalSystem:     p.ExternalSystem,
		EndpointURL:        p.EndpointURL,
		HTTPMethod:         p.HTTPMethod,
		RequestData:        p.RequestData,
		Status:             StatusInitiated,
		StartedAt:          l.now(),
		RelatedPatient:     p.RelatedPatient,
		Initiator:          p.Initiator,
		InitiatorIP:        p.InitiatorIP,
		InitiatorUserAgent: p.InitiatorUserAgent,
	}
	if err := l.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return t, nil
}

// Complete finalizes a transaction with the remote outcome. Status codes in
// [200,300) complete it; anything else fails it with a non-empty error
// message (supplied or synthesized). A transaction completes exactly once;
// further calls return ErrAlreadyCompleted.
func (l *Ledger) Complete(ctx context.Context, t *Transaction, statusCode int, responseData map[string]interface{}, errorMessage string) error {
	if t.Terminal() {
		return ErrAlreadyCompleted
	}

	completed := l.now()
	duration := completed.Sub(t.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	t.CompletedAt = &completed
	t.DurationMs = &duration
	t.StatusCode = &statusCode
	t.ResponseData = responseData

	if statusCode >= 200 && statusCode < 300 {
		t.Status = StatusCompleted
		t.ErrorMessage = ""
	} else {
		t.Status = StatusFailed
		if errorMessage == "" {
			errorMessage = fmt.Sprintf("remote returned status %d", statusCode)
		}
		t.ErrorMessage = errorMessage
	}

	if err := l.repo.Finalize(ctx, t); err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}

	l.logger.Info().
		Str("transaction_id", t.TransactionID.String()).
		Str("type", t.TransactionType).
		Str("status", t.Status).
		Int("status_code", statusCode).
		Int64("duration_ms", duration).
		Msg("transaction finalized")
	return nil
}

// Abort finalizes a transaction that never got a remote status: cancelled or
// timed-out exchanges. Same once-only rule as Complete.
func (l *Ledger) Abort(ctx context.Context, t *Transaction, status, errorMessage string) error {
	if t.Terminal() {
		return ErrAlreadyCompleted
	}
	if status != StatusCancelled && status != StatusTimeout && status != StatusFailed {
		return fmt.Errorf("invalid abort status: %s", status)
	}

	completed := l.now()
	duration := completed.Sub(t.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	t.CompletedAt = &completed
	t.DurationMs = &duration
	t.Status = status
	t.ErrorMessage = errorMessage

	if err := l.repo.Finalize(ctx, t); err != nil {
		return fmt.Errorf("abort transaction: %w", err)
	}

	l.logger.Warn().
		Str("transaction_id", t.TransactionID.String()).
		Str("type", t.TransactionType).
		Str("status", status).
		Str("error", errorMessage).
		Msg("transaction aborted")
	return nil
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return l.repo.GetByID(ctx, id)
}

func (l *Ledger) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Transaction, int, error) {
	return l.repo.List(ctx, f, limit, offset)
}

// Stats summarizes ledger health for the operations dashboard.
type Stats struct {
	ByStatus      map[string]int `json:"by_status"`
	FailedLast7d  int            `json:"failed_last_7d"`
	AvgDurationMs float64        `json:"avg_duration_ms"`
}

func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	byStatus, err := l.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := l.repo.CountFailedSince(ctx, l.now().Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}
	avg, err := l.repo.AvgDurationMs(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{ByStatus: byStatus, FailedLast7d: failed, AvgDurationMs: avg}, nil
}

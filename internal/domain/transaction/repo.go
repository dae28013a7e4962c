package transaction

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows transaction listings. Zero values mean "any".
type ListFilter struct {
	TransactionType string
	Status          string
	ExternalSystem  *uuid.UUID
}

type TransactionRepository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	// Finalize persists the terminal fields set by Complete and Abort. It
	// never rewrites the begin-time fields.
	Finalize(ctx context.Context, t *Transaction) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Transaction, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	CountFailedSince(ctx context.Context, since time.Time) (int, error)
	// AvgDurationMs averages duration over completed transactions. Returns
	// 0 when none exist.
	AvgDurationMs(ctx context.Context) (float64, error)
}

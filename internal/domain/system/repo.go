package system

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SystemRepository interface {
	Create(ctx context.Context, s *System) error
	GetByID(ctx context.Context, id uuid.UUID) (*System, error)
	GetByName(ctx context.Context, name string) (*System, error)
	List(ctx context.Context, limit, offset int) ([]*System, int, error)
	// UpdateConnectionStatus persists the outcome of a connectivity probe.
	// A nil lastSuccess leaves the existing timestamp untouched.
	UpdateConnectionStatus(ctx context.Context, id uuid.UUID, status string, lastSuccess *time.Time) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

package mapping

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type MappingRepository interface {
	Create(ctx context.Context, m *Mapping) error
	GetByID(ctx context.Context, id uuid.UUID) (*Mapping, error)
	GetByName(ctx context.Context, name string) (*Mapping, error)
	// List pages mappings newest-first. mappingType filters when non-empty;
	// activeOnly restricts to active mappings.
	List(ctx context.Context, mappingType string, activeOnly bool, limit, offset int) ([]*Mapping, int, error)
	// RecordTest stamps last_tested and test_results without touching rules.
	RecordTest(ctx context.Context, id uuid.UUID, at time.Time, results map[string]interface{}) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

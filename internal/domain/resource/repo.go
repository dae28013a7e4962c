package resource

import (
	"context"

	"github.com/google/uuid"
)

type ResourceRepository interface {
	Create(ctx context.Context, r *FHIRResource) error
	// GetLatest returns the newest stored version of the resource.
	GetLatest(ctx context.Context, resourceID uuid.UUID) (*FHIRResource, error)
	GetVersion(ctx context.Context, resourceID uuid.UUID, versionID string) (*FHIRResource, error)
	List(ctx context.Context, limit, offset int) ([]*FHIRResource, int, error)
	ListByType(ctx context.Context, resourceType string, limit, offset int) ([]*FHIRResource, int, error)
	ListByPatient(ctx context.Context, patient string, limit, offset int) ([]*FHIRResource, int, error)
	Count(ctx context.Context) (int, error)
}

package resource

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Store persists FHIR documents retrieved from or sent to remote systems.
// Structural validation flags rather than rejects: a malformed remote
// document is still stored with is_valid=false and the error list attached.
type Store struct {
	repo ResourceRepository
}

func NewStore(repo ResourceRepository) *Store {
	return &Store{repo: repo}
}

// Persist stores a FHIR document and returns the created row.
func (s *Store) Persist(ctx context.Context, doc map[string]interface{}, sourceSystem *uuid.UUID) (*FHIRResource, error) {
	validationErrors := Validate(doc)

	resourceType, _ := doc["resourceType"].(string)
	res := &FHIRResource{
		ResourceType:     resourceType,
		Data:             doc,
		SourceSystem:     sourceSystem,
		IsValid:          len(validationErrors) == 0,
		ValidationErrors: validationErrors,
	}
	if patient := RelatedPatientRef(doc); patient != "" {
		res.RelatedPatient = &patient
	}
	if err := s.repo.Create(ctx, res); err != nil {
		return nil, fmt.Errorf("persist %s resource: %w", resourceType, err)
	}
	return res, nil
}

// GetLatest returns the newest stored version of a resource.
func (s *Store) GetLatest(ctx context.Context, resourceID uuid.UUID) (*FHIRResource, error) {
	return s.repo.GetLatest(ctx, resourceID)
}

// List pages every stored resource, newest first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]*FHIRResource, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// ListByType pages stored resources of one FHIR type.
func (s *Store) ListByType(ctx context.Context, resourceType string, limit, offset int) ([]*FHIRResource, int, error) {
	return s.repo.ListByType(ctx, resourceType, limit, offset)
}

// ListByPatient pages stored resources related to one patient.
func (s *Store) ListByPatient(ctx context.Context, patient string, limit, offset int) ([]*FHIRResource, int, error) {
	return s.repo.ListByPatient(ctx, patient, limit, offset)
}

// Count returns the total number of stored resource versions.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

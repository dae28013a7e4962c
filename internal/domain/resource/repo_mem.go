package resource

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryResourceRepo is a thread-safe, in-memory ResourceRepository used in
// tests and dev mode.
type InMemoryResourceRepo struct {
	mu    sync.RWMutex
	items []*FHIRResource
}

func NewInMemoryResourceRepo() *InMemoryResourceRepo {
	return &InMemoryResourceRepo{}
}

func (r *InMemoryResourceRepo) Create(_ context.Context, res *FHIRResource) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.ResourceID == uuid.Nil {
		res.ResourceID = uuid.New()
	}
	if res.VersionID == "" {
		res.VersionID = "1"
	}
	res.LastUpdated = time.Now().UTC()
	cp := *res
	r.items = append(r.items, &cp)
	return nil
}

func (r *InMemoryResourceRepo) GetLatest(_ context.Context, resourceID uuid.UUID) (*FHIRResource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *FHIRResource
	for _, res := range r.items {
		if res.ResourceID != resourceID {
			continue
		}
		if latest == nil || res.LastUpdated.After(latest.LastUpdated) {
			latest = res
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *InMemoryResourceRepo) GetVersion(_ context.Context, resourceID uuid.UUID, versionID string) (*FHIRResource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, res := range r.items {
		if res.ResourceID == resourceID && res.VersionID == versionID {
			cp := *res
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryResourceRepo) List(_ context.Context, limit, offset int) ([]*FHIRResource, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.page(func(*FHIRResource) bool { return true }, limit, offset)
}

func (r *InMemoryResourceRepo) ListByType(_ context.Context, resourceType string, limit, offset int) ([]*FHIRResource, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.page(func(res *FHIRResource) bool { return res.ResourceType == resourceType }, limit, offset)
}

func (r *InMemoryResourceRepo) ListByPatient(_ context.Context, patient string, limit, offset int) ([]*FHIRResource, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.page(func(res *FHIRResource) bool {
		return res.RelatedPatient != nil && *res.RelatedPatient == patient
	}, limit, offset)
}

func (r *InMemoryResourceRepo) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func (r *InMemoryResourceRepo) page(match func(*FHIRResource) bool, limit, offset int) ([]*FHIRResource, int, error) {
	var filtered []*FHIRResource
	for _, res := range r.items {
		if match(res) {
			cp := *res
			filtered = append(filtered, &cp)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].LastUpdated.After(filtered[j].LastUpdated)
	})

	total := len(filtered)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

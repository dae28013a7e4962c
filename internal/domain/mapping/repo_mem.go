package mapping

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryMappingRepo is a thread-safe, in-memory MappingRepository used in
// tests and dev mode.
type InMemoryMappingRepo struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*Mapping
	byName map[string]uuid.UUID
}

func NewInMemoryMappingRepo() *InMemoryMappingRepo {
	return &InMemoryMappingRepo{
		byID:   make(map[uuid.UUID]*Mapping),
		byName: make(map[string]uuid.UUID),
	}
}

func (r *InMemoryMappingRepo) Create(_ context.Context, m *Mapping) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	cp := copyMapping(m)
	r.byID[m.ID] = cp
	r.byName[m.Name] = m.ID
	return nil
}

func (r *InMemoryMappingRepo) GetByID(_ context.Context, id uuid.UUID) (*Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMapping(m), nil
}

func (r *InMemoryMappingRepo) GetByName(_ context.Context, name string) (*Mapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMapping(r.byID[id]), nil
}

func (r *InMemoryMappingRepo) List(_ context.Context, mappingType string, activeOnly bool, limit, offset int) ([]*Mapping, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []*Mapping
	for _, m := range r.byID {
		if mappingType != "" && m.MappingType != mappingType {
			continue
		}
		if activeOnly && !m.IsActive {
			continue
		}
		filtered = append(filtered, copyMapping(m))
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
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

func (r *InMemoryMappingRepo) RecordTest(_ context.Context, id uuid.UUID, at time.Time, results map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	m.LastTested = &t
	m.TestResults = make(map[string]interface{}, len(results))
	for k, v := range results {
		m.TestResults[k] = v
	}
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryMappingRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	m.IsActive = active
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func copyMapping(m *Mapping) *Mapping {
	cp := *m
	if m.Rules != nil {
		cp.Rules = make(map[string]interface{}, len(m.Rules))
		for k, v := range m.Rules {
			cp.Rules[k] = v
		}
	}
	if m.TestResults != nil {
		cp.TestResults = make(map[string]interface{}, len(m.TestResults))
		for k, v := range m.TestResults {
			cp.TestResults[k] = v
		}
	}
	return &cp
}

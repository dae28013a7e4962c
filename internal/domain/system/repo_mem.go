package system

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemorySystemRepo is a thread-safe, in-memory SystemRepository used in
// tests and dev mode.
type InMemorySystemRepo struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*System
	byName  map[string]uuid.UUID
}

func NewInMemorySystemRepo() *InMemorySystemRepo {
	return &InMemorySystemRepo{
		byID:   make(map[uuid.UUID]*System),
		byName: make(map[string]uuid.UUID),
	}
}

func (r *InMemorySystemRepo) Create(_ context.Context, s *System) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.ConnectionStatus == "" {
		s.ConnectionStatus = StatusUnknown
	}
	now := time.Now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	cp := *s
	r.byID[s.ID] = &cp
	r.byName[s.Name] = s.ID
	return nil
}

func (r *InMemorySystemRepo) GetByID(_ context.Context, id uuid.UUID) (*System, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *InMemorySystemRepo) GetByName(_ context.Context, name string) (*System, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *InMemorySystemRepo) List(_ context.Context, limit, offset int) ([]*System, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	total := len(names)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	var items []*System
	for _, name := range names[offset:end] {
		cp := *r.byID[r.byName[name]]
		items = append(items, &cp)
	}
	return items, total, nil
}

func (r *InMemorySystemRepo) UpdateConnectionStatus(_ context.Context, id uuid.UUID, status string, lastSuccess *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	s.ConnectionStatus = status
	if lastSuccess != nil {
		t := *lastSuccess
		s.LastSuccessfulConnection = &t
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemorySystemRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, s := range r.byID {
		counts[s.ConnectionStatus]++
	}
	return counts, nil
}

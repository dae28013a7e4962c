package consent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memKey struct {
	patient     string
	consentType string
}

// InMemoryConsentRepo is a thread-safe, in-memory ConsentRepository used in
// tests and dev mode.
type InMemoryConsentRepo struct {
	mu         sync.RWMutex
	records    map[memKey]*Consent
	authorized map[uuid.UUID]map[uuid.UUID]struct{}
}

func NewInMemoryConsentRepo() *InMemoryConsentRepo {
	return &InMemoryConsentRepo{
		records:    make(map[memKey]*Consent),
		authorized: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

func (r *InMemoryConsentRepo) Upsert(_ context.Context, c *Consent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memKey{c.Patient, c.ConsentType}
	now := time.Now().UTC()
	if existing, ok := r.records[key]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
	} else {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	r.records[key] = &cp
	return nil
}

func (r *InMemoryConsentRepo) Update(_ context.Context, c *Consent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := memKey{c.Patient, c.ConsentType}
	if _, ok := r.records[key]; !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	r.records[key] = &cp
	return nil
}

func (r *InMemoryConsentRepo) GetByID(_ context.Context, id uuid.UUID) (*Consent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.records {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryConsentRepo) GetByPatientAndType(_ context.Context, patient, consentType string) (*Consent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.records[memKey{patient, consentType}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryConsentRepo) ListByPatient(_ context.Context, patient string) ([]*Consent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*Consent
	for key, c := range r.records {
		if key.patient == patient {
			cp := *c
			items = append(items, &cp)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ConsentType < items[j].ConsentType })
	return items, nil
}

func (r *InMemoryConsentRepo) List(_ context.Context, limit, offset int) ([]*Consent, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*Consent
	for _, c := range r.records {
		cp := *c
		items = append(items, &cp)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })

	total := len(items)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return items[offset:end], total, nil
}

func (r *InMemoryConsentRepo) AuthorizeSystem(_ context.Context, consentID, systemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.authorized[consentID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		r.authorized[consentID] = set
	}
	set[systemID] = struct{}{}
	return nil
}

func (r *InMemoryConsentRepo) RevokeSystem(_ context.Context, consentID, systemID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.authorized[consentID], systemID)
	return nil
}

func (r *InMemoryConsentRepo) AuthorizedSystems(_ context.Context, consentID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []uuid.UUID
	for id := range r.authorized[consentID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

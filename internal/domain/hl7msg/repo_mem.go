package hl7msg

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryMessageRepo is a thread-safe, in-memory MessageRepository used in
// tests and dev mode.
type InMemoryMessageRepo struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Message
}

func NewInMemoryMessageRepo() *InMemoryMessageRepo {
	return &InMemoryMessageRepo{byID: make(map[uuid.UUID]*Message)}
}

func (r *InMemoryMessageRepo) Create(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.MessageID == uuid.Nil {
		m.MessageID = uuid.New()
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	m.ReceivedAt = time.Now().UTC()
	cp := copyMessage(m)
	r.byID[m.MessageID] = cp
	return nil
}

func (r *InMemoryMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyMessage(m), nil
}

func (r *InMemoryMessageRepo) Update(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[m.MessageID]
	if !ok {
		return ErrNotFound
	}
	cp := copyMessage(m)
	// Raw text is immutable once stored.
	cp.RawMessage = stored.RawMessage
	cp.ReceivedAt = stored.ReceivedAt
	r.byID[m.MessageID] = cp
	return nil
}

func (r *InMemoryMessageRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Message, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []*Message
	for _, m := range r.byID {
		if f.MessageType != "" && m.MessageType != f.MessageType {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Direction != "" && m.Direction != f.Direction {
			continue
		}
		filtered = append(filtered, copyMessage(m))
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].ReceivedAt.After(filtered[j].ReceivedAt)
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

func (r *InMemoryMessageRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, m := range r.byID {
		counts[m.Status]++
	}
	return counts, nil
}

func copyMessage(m *Message) *Message {
	cp := *m
	if m.ParsedMessage != nil {
		cp.ParsedMessage = make(map[string][]string, len(m.ParsedMessage))
		for k, v := range m.ParsedMessage {
			cp.ParsedMessage[k] = append([]string(nil), v...)
		}
	}
	cp.ProcessingErrors = append([]string(nil), m.ProcessingErrors...)
	cp.ProcessingLog = append([]string(nil), m.ProcessingLog...)
	return &cp
}

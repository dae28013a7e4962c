package transaction

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryTransactionRepo is a thread-safe, in-memory TransactionRepository
// used in tests and dev mode.
type InMemoryTransactionRepo struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*Transaction
}

func NewInMemoryTransactionRepo() *InMemoryTransactionRepo {
	return &InMemoryTransactionRepo{byID: make(map[uuid.UUID]*Transaction)}
}

func (r *InMemoryTransactionRepo) Create(_ context.Context, t *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.TransactionID == uuid.Nil {
		t.TransactionID = uuid.New()
	}
	r.byID[t.TransactionID] = copyTransaction(t)
	return nil
}

func (r *InMemoryTransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTransaction(t), nil
}

func (r *InMemoryTransactionRepo) Finalize(_ context.Context, t *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[t.TransactionID]
	if !ok {
		return ErrNotFound
	}
	cp := copyTransaction(t)
	// Begin-time fields are immutable once written.
	cp.TransactionType = stored.TransactionType
	cp.StartedAt = stored.StartedAt
	cp.EndpointURL = stored.EndpointURL
	cp.HTTPMethod = stored.HTTPMethod
	cp.RequestData = stored.RequestData
	r.byID[t.TransactionID] = cp
	return nil
}

func (r *InMemoryTransactionRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Transaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []*Transaction
	for _, t := range r.byID {
		if f.TransactionType != "" && t.TransactionType != f.TransactionType {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.ExternalSystem != nil && (t.ExternalSystem == nil || *t.ExternalSystem != *f.ExternalSystem) {
			continue
		}
		filtered = append(filtered, copyTransaction(t))
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StartedAt.After(filtered[j].StartedAt)
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

func (r *InMemoryTransactionRepo) CountByStatus(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]int)
	for _, t := range r.byID {
		counts[t.Status]++
	}
	return counts, nil
}

func (r *InMemoryTransactionRepo) CountFailedSince(_ context.Context, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, t := range r.byID {
		if t.Status == StatusFailed && !t.StartedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *InMemoryTransactionRepo) AvgDurationMs(_ context.Context) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum int64
	var n int
	for _, t := range r.byID {
		if t.Status == StatusCompleted && t.DurationMs != nil {
			sum += *t.DurationMs
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(sum) / float64(n), nil
}

func copyTransaction(t *Transaction) *Transaction {
	cp := *t
	if t.RequestData != nil {
		cp.RequestData = make(map[string]interface{}, len(t.RequestData))
		for k, v := range t.RequestData {
			cp.RequestData[k] = v
		}
	}
	if t.ResponseData != nil {
		cp.ResponseData = make(map[string]interface{}, len(t.ResponseData))
		for k, v := range t.ResponseData {
			cp.ResponseData[k] = v
		}
	}
	return &cp
}

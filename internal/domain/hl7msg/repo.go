package hl7msg

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows message listings. Zero values mean "any".
type ListFilter struct {
	MessageType string
	Status      string
	Direction   string
}

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// Update persists the mutable fields: header metadata discovered during
	// parsing, status, errors, log, and processing timestamps. RawMessage is
	// never rewritten.
	Update(ctx context.Context, m *Message) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Message, int, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

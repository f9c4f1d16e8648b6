package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cursor is the keyset position of a record in (created_at, id) order.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorOf returns the position right after rec.
func CursorOf(rec Record) *Cursor {
	return &Cursor{CreatedAt: rec.CreatedAt, ID: rec.ID}
}

// Repository is the durable outbox store.
type Repository interface {
	Create(ctx context.Context, r *Record) error
	// Find returns up to limit records ordered by (created_at, id), starting
	// after the cursor. A nil cursor starts at the oldest record.
	Find(ctx context.Context, after *Cursor, limit int) ([]Record, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
}

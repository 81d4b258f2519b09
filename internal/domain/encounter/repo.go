package encounter

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	UpdateVitals(ctx context.Context, id uuid.UUID, v Vitals) (*Encounter, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error)
	CountBetween(ctx context.Context, from, to time.Time) (int, error)
}

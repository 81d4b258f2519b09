package appointment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateStatus moves the appointment from one status to another. It
	// fails with ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	ListByDate(ctx context.Context, date string) ([]*Appointment, error)
	ListByStudent(ctx context.Context, studentID string) ([]*Appointment, error)
	Search(ctx context.Context, q string, limit int) ([]*Appointment, error)
	CountByDate(ctx context.Context, date string) (DayCounts, error)
}

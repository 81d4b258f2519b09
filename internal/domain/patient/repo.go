package patient

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	// UpsertVisit creates the patient on first visit or refreshes its name
	// and last_visit.
	UpsertVisit(ctx context.Context, p *Patient, visit time.Time) error
	GetByStudentID(ctx context.Context, studentID string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, studentID string) error
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	Search(ctx context.Context, q string, limit int) ([]*Patient, error)
	Count(ctx context.Context) (int, error)
}

// StudentRepository reads the school directory.
type StudentRepository interface {
	GetByStudentID(ctx context.Context, studentID string) (*Student, error)
	Search(ctx context.Context, q string, limit int) ([]*Student, error)
}

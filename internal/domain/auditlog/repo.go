package auditlog

import (
	"context"
)

// Repository has no update or delete: audit rows are append-only.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	ListRecent(ctx context.Context, limit int) ([]*Entry, error)
	Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error)
}

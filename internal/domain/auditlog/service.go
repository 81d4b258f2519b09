package auditlog

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

// RecentLimit is the size of the recent-activity feed.
const RecentLimit = 50

// Recorder writes audit entries. Services call it inside the same
// transaction as the mutation it describes.
type Recorder interface {
	Record(ctx context.Context, actor, action, description string) (*Entry, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Record(ctx context.Context, actor, action, description string) (*Entry, error) {
	if strings.TrimSpace(actor) == "" {
		actor = "system"
	}
	if action == "" {
		return nil, apperr.Validation("audit action is required")
	}
	e := &Entry{Actor: actor, Action: action, Description: description}
	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("record audit entry: %w", err)
	}
	return e, nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 || limit > RecentLimit {
		limit = RecentLimit
	}
	return s.repo.ListRecent(ctx, limit)
}

func (s *Service) Search(ctx context.Context, f Filter, limit, offset int) ([]*Entry, int, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, apperr.Validation("to must not be before from")
	}
	return s.repo.Search(ctx, f, limit, offset)
}

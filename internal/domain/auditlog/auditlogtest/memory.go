// Package auditlogtest provides an in-memory audit repository for tests.
package auditlogtest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
)

// MemoryRepo is an in-process auditlog.Repository.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []*auditlog.Entry
	now     func() time.Time
}

var _ auditlog.Repository = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{now: time.Now}
}

func (m *MemoryRepo) Create(_ context.Context, e *auditlog.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = m.now()
	cp := *e
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *MemoryRepo) ListRecent(ctx context.Context, limit int) ([]*auditlog.Entry, error) {
	out, _, err := m.Search(ctx, auditlog.Filter{}, limit, 0)
	return out, err
}

func (m *MemoryRepo) Search(_ context.Context, f auditlog.Filter, limit, offset int) ([]*auditlog.Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*auditlog.Entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if f.Actor != "" && !strings.Contains(strings.ToLower(e.Actor), strings.ToLower(f.Actor)) {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !e.CreatedAt.Before(*f.To) {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

// Actions returns the recorded actions oldest first.
func (m *MemoryRepo) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Action
	}
	return out
}

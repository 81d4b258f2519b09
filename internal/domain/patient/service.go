package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// SearchLimit caps search-as-you-type results.
const SearchLimit = 10

type Service struct {
	repo     Repository
	students StudentRepository
	tx       db.Transactor
	audit    auditlog.Recorder
	bus      events.Publisher
}

func NewService(repo Repository, students StudentRepository, tx db.Transactor, audit auditlog.Recorder, bus events.Publisher) *Service {
	return &Service{repo: repo, students: students, tx: tx, audit: audit, bus: bus}
}

func normalizeStudentID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Register creates a patient record explicitly, outside of an encounter.
func (s *Service) Register(ctx context.Context, p *Patient) error {
	p.StudentID = normalizeStudentID(p.StudentID)
	p.Name = strings.TrimSpace(p.Name)
	if p.StudentID == "" {
		return apperr.Validation("student_id is required")
	}
	if p.Name == "" {
		return apperr.Validation("name is required")
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionPatientRegistered,
			fmt.Sprintf("Registered patient %s (%s)", p.Name, p.StudentID))
		return err
	})
	if err != nil {
		return fmt.Errorf("register patient: %w", err)
	}
	s.bus.Publish(events.PatientUpdated, p.StudentID)
	s.bus.Publish(events.AuditLogCreated, "")
	return nil
}

func (s *Service) Update(ctx context.Context, studentID string, in UpdateInput) (*Patient, error) {
	studentID = normalizeStudentID(studentID)
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, apperr.Validation("name must not be empty")
	}

	var p *Patient
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.repo.GetByStudentID(ctx, studentID)
		if err != nil {
			return err
		}
		in.apply(p)
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionPatientUpdated,
			fmt.Sprintf("Updated profile of %s (%s)", p.Name, p.StudentID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update patient: %w", err)
	}
	s.bus.Publish(events.PatientUpdated, p.StudentID)
	s.bus.Publish(events.AuditLogCreated, "")
	return p, nil
}

func (s *Service) Delete(ctx context.Context, studentID string) error {
	studentID = normalizeStudentID(studentID)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Delete(ctx, studentID); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionPatientDeleted,
			fmt.Sprintf("Deleted patient %s", studentID))
		return err
	})
	if err != nil {
		return fmt.Errorf("delete patient: %w", err)
	}
	s.bus.Publish(events.PatientUpdated, studentID)
	s.bus.Publish(events.AuditLogCreated, "")
	return nil
}

// UpsertForVisit records a visit on the patient, creating it on first
// contact. It runs inside the caller's transaction and writes no audit
// entry of its own.
func (s *Service) UpsertForVisit(ctx context.Context, studentID, name string, visit time.Time) (*Patient, error) {
	p := &Patient{StudentID: normalizeStudentID(studentID), Name: strings.TrimSpace(name)}
	if p.StudentID == "" {
		return nil, apperr.Validation("student_id is required")
	}
	if p.Name == "" {
		if err := s.fillVisitName(ctx, p); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpsertVisit(ctx, p, visit); err != nil {
		return nil, err
	}
	return p, nil
}

// fillVisitName names a visitor registered without a name from the patient
// registry, then the school directory. A student in neither is rejected.
func (s *Service) fillVisitName(ctx context.Context, p *Patient) error {
	existing, err := s.repo.GetByStudentID(ctx, p.StudentID)
	switch {
	case err == nil:
		p.Name, p.Year = existing.Name, existing.Year
		return nil
	case !errors.Is(err, apperr.ErrNotFound):
		return err
	}

	st, err := s.students.GetByStudentID(ctx, p.StudentID)
	switch {
	case err == nil:
		p.Name, p.Year = st.Name, st.Year
		return nil
	case errors.Is(err, apperr.ErrNotFound):
		return apperr.Validation("unknown student %s: patient_name is required", p.StudentID)
	default:
		return err
	}
}

func (s *Service) Get(ctx context.Context, studentID string) (*Patient, error) {
	return s.repo.GetByStudentID(ctx, normalizeStudentID(studentID))
}

// Lookup finds a student id in the patient registry and then in the school
// directory.
func (s *Service) Lookup(ctx context.Context, studentID string) (*LookupResult, error) {
	studentID = normalizeStudentID(studentID)
	if studentID == "" {
		return nil, apperr.Validation("student_id is required")
	}

	p, err := s.repo.GetByStudentID(ctx, studentID)
	if err == nil {
		return &LookupResult{Source: SourcePatients, Patient: p}, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	st, err := s.students.GetByStudentID(ctx, studentID)
	if err == nil {
		return &LookupResult{Source: SourceStudents, Student: st}, nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("lookup %s: %w", studentID, apperr.ErrNotFound)
	}
	return nil, err
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Search(ctx context.Context, q string) ([]*Patient, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*Patient{}, nil
	}
	return s.repo.Search(ctx, q, SearchLimit)
}

func (s *Service) SearchStudents(ctx context.Context, q string) ([]*Student, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*Student{}, nil
	}
	return s.students.Search(ctx, q, SearchLimit)
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.Count(ctx)
}

package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/domain/patient"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// SearchLimit caps search-as-you-type results.
const SearchLimit = 10

var (
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", apperr.ErrConflict)
	ErrStatusConflict    = fmt.Errorf("%w: appointment status changed concurrently", apperr.ErrConflict)
)

// PatientLookup resolves a student id to a display name.
type PatientLookup interface {
	Lookup(ctx context.Context, studentID string) (*patient.LookupResult, error)
}

type Service struct {
	repo   Repository
	lookup PatientLookup
	tx     db.Transactor
	audit  auditlog.Recorder
	bus    events.Publisher
}

func NewService(repo Repository, lookup PatientLookup, tx db.Transactor, audit auditlog.Recorder, bus events.Publisher) *Service {
	return &Service{repo: repo, lookup: lookup, tx: tx, audit: audit, bus: bus}
}

func (s *Service) validate(in *CreateInput) error {
	in.StudentID = strings.ToUpper(strings.TrimSpace(in.StudentID))
	in.Type = strings.TrimSpace(in.Type)
	if in.StudentID == "" {
		return apperr.Validation("student_id is required")
	}
	if _, err := time.Parse(time.DateOnly, in.Date); err != nil {
		return apperr.Validation("date must be YYYY-MM-DD")
	}
	if _, err := time.Parse("15:04", in.Time); err != nil || len(in.Time) != 5 {
		return apperr.Validation("time must be HH:MM")
	}
	if in.Type == "" {
		return apperr.Validation("type is required")
	}
	return nil
}

// Create books a new appointment in the Scheduled status. The patient
// name is resolved from the registry or the school directory when the
// caller leaves it blank, and the clinician defaults to the caller.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Appointment, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.PatientName)
	if name == "" && s.lookup != nil {
		res, err := s.lookup.Lookup(ctx, in.StudentID)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			return nil, apperr.Validation("unknown student %s", in.StudentID)
		case err != nil:
			return nil, fmt.Errorf("resolve patient: %w", err)
		}
		name = res.Name()
	}

	clinician := strings.TrimSpace(in.Clinician)
	if clinician == "" {
		if id, ok := auth.IdentityFromContext(ctx); ok {
			clinician = id.DisplayName
		}
	}

	a := &Appointment{
		StudentID:   in.StudentID,
		PatientName: name,
		Date:        in.Date,
		Time:        in.Time,
		Type:        in.Type,
		Clinician:   clinician,
		Status:      StatusScheduled,
	}
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, a); err != nil {
			return err
		}
		_, err := s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionAppointmentCreated,
			fmt.Sprintf("Booked %s for %s (%s) on %s %s", a.Type, a.PatientName, a.StudentID, a.Date, a.Time))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	s.bus.Publish(events.AppointmentCreated, a.StudentID)
	s.bus.Publish(events.AuditLogCreated, "")
	return a, nil
}

// UpdateStatus moves an appointment forward. Transitions out of terminal
// statuses and backwards moves fail with ErrInvalidTransition; a
// concurrent change fails with ErrStatusConflict.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, to Status) (*Appointment, error) {
	if !to.Valid() {
		return nil, apperr.Validation("unknown status %q", to)
	}

	var updated *Appointment
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, to) {
			return fmt.Errorf("%s to %s: %w", current.Status, to, ErrInvalidTransition)
		}
		updated, err = s.repo.UpdateStatus(ctx, id, current.Status, to)
		if err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionAppointmentStatus,
			fmt.Sprintf("%s (%s) %s: %s to %s", updated.PatientName, updated.StudentID, updated.Date, current.Status, to))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	s.bus.Publish(events.AppointmentStatusChanged, updated.StudentID)
	s.bus.Publish(events.AuditLogCreated, "")
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByDate(ctx context.Context, date string) ([]*Appointment, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, apperr.Validation("date must be YYYY-MM-DD")
	}
	return s.repo.ListByDate(ctx, date)
}

func (s *Service) ListByStudent(ctx context.Context, studentID string) ([]*Appointment, error) {
	return s.repo.ListByStudent(ctx, strings.ToUpper(strings.TrimSpace(studentID)))
}

func (s *Service) Search(ctx context.Context, q string) ([]*Appointment, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []*Appointment{}, nil
	}
	return s.repo.Search(ctx, q, SearchLimit)
}

func (s *Service) CountByDate(ctx context.Context, date string) (DayCounts, error) {
	return s.repo.CountByDate(ctx, date)
}

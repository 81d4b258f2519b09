package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/domain/patient"
	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
)

// DraftForm is the draft slot the intake form autosaves into.
const DraftForm = "encounter"

// PatientUpserter records a visit on the patient registry.
type PatientUpserter interface {
	UpsertForVisit(ctx context.Context, studentID, name string, visit time.Time) (*patient.Patient, error)
}

// DraftClearer drops a user's saved form draft.
type DraftClearer interface {
	ClearDraft(ctx context.Context, userID, form string) error
}

type Service struct {
	repo     Repository
	patients PatientUpserter
	tx       db.Transactor
	audit    auditlog.Recorder
	bus      events.Publisher
	drafts   DraftClearer
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, patients PatientUpserter, tx db.Transactor, audit auditlog.Recorder, bus events.Publisher, drafts DraftClearer) *Service {
	return &Service{repo: repo, patients: patients, tx: tx, audit: audit, bus: bus, drafts: drafts, logger: zerolog.Nop(), now: time.Now}
}

func (s *Service) WithLogger(logger zerolog.Logger) *Service {
	s.logger = logger.With().Str("component", "encounter").Logger()
	return s
}

// Create documents a visit. The patient upsert, the encounter row and the
// audit entry commit together; the caller's encounter draft is cleared
// only after that commit.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Encounter, error) {
	in.StudentID = strings.ToUpper(strings.TrimSpace(in.StudentID))
	in.ChiefComplaint = strings.TrimSpace(in.ChiefComplaint)
	if in.StudentID == "" {
		return nil, apperr.Validation("student_id is required")
	}
	if in.ChiefComplaint == "" {
		return nil, apperr.Validation("chief_complaint is required")
	}
	if err := in.Vitals.Validate(); err != nil {
		return nil, err
	}

	e := &Encounter{
		StudentID:      in.StudentID,
		PatientName:    strings.TrimSpace(in.PatientName),
		OccurredAt:     s.now().UTC(),
		ChiefComplaint: in.ChiefComplaint,
		History:        in.History,
		Exam:           in.Exam,
		Plan:           in.Plan,
		Vitals:         in.Vitals,
		Attachments:    in.Attachments,
	}
	if in.OccurredAt != nil {
		e.OccurredAt = in.OccurredAt.UTC()
	}
	id, authed := auth.IdentityFromContext(ctx)
	if authed {
		e.Clinician = id.DisplayName
		if uid, err := uuid.Parse(id.UserID); err == nil {
			e.ClinicianID = &uid
		}
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.patients.UpsertForVisit(ctx, e.StudentID, e.PatientName, e.OccurredAt)
		if err != nil {
			return err
		}
		e.PatientName = p.Name
		if err := s.repo.Create(ctx, e); err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionEncounterCreated,
			fmt.Sprintf("Documented encounter for %s (%s): %s", e.PatientName, e.StudentID, e.ChiefComplaint))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create encounter: %w", err)
	}

	s.bus.Publish(events.EncounterCreated, e.StudentID)
	s.bus.Publish(events.AuditLogCreated, "")

	// The encounter is committed; a failed clear only leaves a stale draft.
	if s.drafts != nil && authed {
		if err := s.drafts.ClearDraft(ctx, id.UserID, DraftForm); err != nil {
			s.logger.Warn().Err(err).
				Str("user_id", id.UserID).
				Str("encounter_id", e.ID.String()).
				Msg("clear encounter draft")
		}
	}
	return e, nil
}

// CorrectVitals overwrites the measured fields of v on an existing
// encounter. Fields left nil keep their stored value.
func (s *Service) CorrectVitals(ctx context.Context, id uuid.UUID, v Vitals) (*Encounter, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	var updated *Encounter
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		updated, err = s.repo.UpdateVitals(ctx, id, current.Vitals.merge(v))
		if err != nil {
			return err
		}
		_, err = s.audit.Record(ctx, auth.Actor(ctx), auditlog.ActionEncounterVitals,
			fmt.Sprintf("Corrected vitals on encounter %s for %s", id, updated.StudentID))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("correct vitals: %w", err)
	}
	s.bus.Publish(events.EncounterUpdated, updated.StudentID)
	s.bus.Publish(events.AuditLogCreated, "")
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error) {
	f.StudentID = strings.ToUpper(strings.TrimSpace(f.StudentID))
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, 0, apperr.Validation("to must not be before from")
	}
	return s.repo.List(ctx, f, limit, offset)
}

// CountBetween counts encounters with occurred_at in [from, to).
func (s *Service) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	return s.repo.CountBetween(ctx, from, to)
}

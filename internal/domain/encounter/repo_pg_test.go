package encounter

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/domain/auditlog"
	"github.com/clinicdesk/clinicdesk/internal/domain/patient"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
	"github.com/clinicdesk/clinicdesk/internal/platform/events"
	"github.com/clinicdesk/clinicdesk/internal/platform/events/eventstest"
	"github.com/clinicdesk/clinicdesk/internal/prefs"
)

var patientID = uuid.New()

var patientColumns = []string{"id", "student_id", "name", "year", "last_visit", "medications",
	"allergies", "notes", "attachments", "created_at", "updated_at"}

func newPGService(mock pgxmock.PgxPoolIface, bus events.Publisher) *Service {
	patients := patient.NewService(patient.NewRepo(mock), patient.NewStudentRepo(mock),
		db.NewTransactor(mock), nil, bus)
	store := prefs.NewStore(prefs.NewMemoryKV(), nil, zerolog.New(io.Discard))
	return NewService(NewRepo(mock), patients, db.NewTransactor(mock),
		auditlog.NewService(auditlog.NewRepo(mock)), bus, store)
}

func TestCreate_CommitsPatientEncounterAndAuditTogether(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO patients .* ON CONFLICT").
		WithArgs(pgxmock.AnyArg(), "S123", "Juan", "", at).
		WillReturnRows(pgxmock.NewRows(patientColumns).
			AddRow(patientID, "S123", "Juan", "2", &at, "", "", "", []string{}, now, now))
	mock.ExpectQuery("INSERT INTO encounters").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), "Nr. Joy", auditlog.ActionEncounterCreated, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	bus := &eventstest.Recorder{}
	e, err := newPGService(mock, bus).Create(nurseCtx(),
		CreateInput{StudentID: "S123", PatientName: "Juan", ChiefComplaint: "Sprain", OccurredAt: &at})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.CreatedAt.Equal(now) {
		t.Error("expected created_at from database")
	}
	if bus.Count(events.EncounterCreated) != 1 {
		t.Error("expected encounter-created after commit")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_RollsBackWhenEncounterInsertFails(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO patients").
		WillReturnRows(pgxmock.NewRows(patientColumns).
			AddRow(patientID, "S123", "Juan", "2", &at, "", "", "", []string{}, now, now))
	mock.ExpectQuery("INSERT INTO encounters").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	bus := &eventstest.Recorder{}
	_, err = newPGService(mock, bus).Create(nurseCtx(),
		CreateInput{StudentID: "S123", PatientName: "Juan", ChiefComplaint: "Sprain", OccurredAt: &at})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(bus.Events()) != 0 {
		t.Errorf("rolled back write must not publish, got %v", bus.Events())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepoPG_ListFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM encounters WHERE student_id = \$1 AND occurred_at >= \$2`).
		WithArgs("S123", from).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`ORDER BY occurred_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("S123", from, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	items, total, err := NewRepo(mock).List(context.Background(), Filter{StudentID: "S123", From: &from}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(items) != 0 {
		t.Errorf("expected empty page, got %d %v", total, items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

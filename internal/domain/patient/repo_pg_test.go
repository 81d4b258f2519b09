package patient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

var patientColumns = []string{"id", "student_id", "name", "year", "last_visit", "medications",
	"allergies", "notes", "attachments", "created_at", "updated_at"}

func TestRepoPG_UpsertVisit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	visit := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Now()
	id := uuid.New()
	mock.ExpectQuery(`INSERT INTO patients .* ON CONFLICT \(student_id\) DO UPDATE`).
		WithArgs(pgxmock.AnyArg(), "S123", "Juan", "", visit).
		WillReturnRows(pgxmock.NewRows(patientColumns).
			AddRow(id, "S123", "Juan", "2", &visit, "", "", "", []string{}, now, now))

	p := &Patient{StudentID: "S123", Name: "Juan"}
	if err := NewRepo(mock).UpsertVisit(context.Background(), p, visit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID != id || p.Year != "2" || p.LastVisit == nil {
		t.Errorf("expected canonical row, got %+v", p)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepoPG_GetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM patients WHERE student_id").
		WithArgs("S404").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewRepo(mock).GetByStudentID(context.Background(), "S404")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRepoPG_DeleteMissing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("DELETE FROM patients").WithArgs("S404").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	if err := NewRepo(mock).Delete(context.Background(), "S404"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStudentRepoPG_Search(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM students").
		WithArgs("%liz%", SearchLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "student_id", "name", "year", "course", "email"}).
			AddRow(uuid.New(), "S200", "Liza Soberano", "3", "BSN", "liza@school.test"))

	got, err := NewStudentRepo(mock).Search(context.Background(), "liz", SearchLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Course != "BSN" {
		t.Errorf("unexpected students %v", got)
	}
}

func TestRepoPG_SearchTreatsWildcardsLiterally(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`FROM patients\s+WHERE name ILIKE \$1 ESCAPE`).
		WithArgs(`%100\%\_a%`, SearchLimit).
		WillReturnRows(pgxmock.NewRows(patientColumns))

	got, err := NewRepo(mock).Search(context.Background(), "100%_a", SearchLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected an empty, non-nil result, got %#v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStudentRepoPG_SearchNoMatchIsEmptyList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT .* FROM students").
		WithArgs(`%\%%`, SearchLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "student_id", "name", "year", "course", "email"}))

	got, err := NewStudentRepo(mock).Search(context.Background(), "%", SearchLimit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := json.Marshal(got)
	if string(body) != "[]" {
		t.Errorf("expected [] in JSON, got %s", body)
	}
}

package auditlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

func TestRepoPG_CreateJoinsTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), "Dr. Reyes", ActionEncounterCreated, "Encounter for S123").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	repo := NewRepo(mock)
	e := &Entry{Actor: "Dr. Reyes", Action: ActionEncounterCreated, Description: "Encounter for S123"}
	err = db.NewTransactor(mock).WithinTx(context.Background(), func(ctx context.Context) error {
		return repo.Create(ctx, e)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.CreatedAt.Equal(now) {
		t.Errorf("expected created_at from database")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepoPG_SearchBuildsFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	from := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs WHERE action = \$1 AND created_at >= \$2`).
		WithArgs(ActionInventoryAdjusted, from).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT id, actor, action, description, created_at FROM audit_logs WHERE action = \$1 AND created_at >= \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(ActionInventoryAdjusted, from, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "actor", "action", "description", "created_at"}).
			AddRow(uuid.New(), "staff", ActionInventoryAdjusted, "Paracetamol -5", from.Add(time.Hour)))

	entries, total, err := NewRepo(mock).Search(context.Background(), Filter{Action: ActionInventoryAdjusted, From: &from}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(entries) != 1 || entries[0].Description != "Paracetamol -5" {
		t.Errorf("unexpected result %d %v", total, entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRepoPG_SearchActorIsLiteral(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs WHERE actor ILIKE \$1 ESCAPE`).
		WithArgs(`%\%%`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM audit_logs WHERE actor ILIKE \$1 ESCAPE .* LIMIT \$2 OFFSET \$3`).
		WithArgs(`%\%%`, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "actor", "action", "description", "created_at"}))

	entries, total, err := NewRepo(mock).Search(context.Background(), Filter{Actor: "%"}, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || entries == nil || len(entries) != 0 {
		t.Errorf("expected no matches as an empty list, got %d %#v", total, entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

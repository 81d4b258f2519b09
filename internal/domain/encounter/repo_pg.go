package encounter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type repoPG struct {
	pool db.Querier
}

func NewRepo(pool db.Querier) Repository {
	return &repoPG{pool: pool}
}

const encCols = `id, student_id, patient_name, clinician_id, clinician, occurred_at, chief_complaint,
	history, exam, plan, temperature, pulse, blood_pressure, weight, attachments, created_at, updated_at`

func scanEncounter(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.StudentID, &e.PatientName, &e.ClinicianID, &e.Clinician, &e.OccurredAt,
		&e.ChiefComplaint, &e.History, &e.Exam, &e.Plan,
		&e.Vitals.Temperature, &e.Vitals.Pulse, &e.Vitals.BloodPressure, &e.Vitals.Weight,
		&e.Attachments, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.Attachments == nil {
		e.Attachments = []string{}
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	e.ID = uuid.New()
	if e.Attachments == nil {
		e.Attachments = []string{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO encounters (id, student_id, patient_name, clinician_id, clinician, occurred_at,
			chief_complaint, history, exam, plan, temperature, pulse, blood_pressure, weight, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		e.ID, e.StudentID, e.PatientName, e.ClinicianID, e.Clinician, e.OccurredAt,
		e.ChiefComplaint, e.History, e.Exam, e.Plan,
		e.Vitals.Temperature, e.Vitals.Pulse, e.Vitals.BloodPressure, e.Vitals.Weight, e.Attachments,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	return apperr.FromPG("insert encounter", err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := scanEncounter(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+encCols+` FROM encounters WHERE id = $1`, id))
	return e, apperr.FromPG("get encounter", err)
}

func (r *repoPG) UpdateVitals(ctx context.Context, id uuid.UUID, v Vitals) (*Encounter, error) {
	e, err := scanEncounter(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE encounters SET temperature = $2, pulse = $3, blood_pressure = $4, weight = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+encCols,
		id, v.Temperature, v.Pulse, v.BloodPressure, v.Weight))
	return e, apperr.FromPG("update encounter vitals", err)
}

func buildWhere(f Filter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.StudentID != "" {
		add("student_id = $%d", f.StudentID)
	}
	if f.From != nil {
		add("occurred_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("occurred_at < $%d", *f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error) {
	conn := db.Conn(ctx, r.pool)
	where, args := buildWhere(f)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM encounters`+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.FromPG("count encounters", err)
	}

	n := len(args)
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+encCols+` FROM encounters`+where+
		fmt.Sprintf(` ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, apperr.FromPG("list encounters", err)
	}
	defer rows.Close()

	out := []*Encounter{}
	for rows.Next() {
		e, err := scanEncounter(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan encounter: %w", err)
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

func (r *repoPG) CountBetween(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM encounters WHERE occurred_at >= $1 AND occurred_at < $2`, from, to).Scan(&n)
	return n, apperr.FromPG("count encounters", err)
}

package appointment

import (
	"context"
	"errors"
	"fmt"

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

const apptCols = `id, student_id, patient_name, to_char(date, 'YYYY-MM-DD'), time, type, clinician,
	status, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.StudentID, &a.PatientName, &a.Date, &a.Time, &a.Type,
		&a.Clinician, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	out := []*Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointments (id, student_id, patient_name, date, time, type, clinician, status)
		VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		a.ID, a.StudentID, a.PatientName, a.Date, a.Time, a.Type, a.Clinician, a.Status,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	return apperr.FromPG("insert appointment", err)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	return a, apperr.FromPG("get appointment", err)
}

func (r *repoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, err := scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointments SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+apptCols, id, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update appointment %s: %w", id, ErrStatusConflict)
	}
	return a, apperr.FromPG("update appointment", err)
}

func (r *repoPG) ListByDate(ctx context.Context, date string) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE date = $1::date ORDER BY time, patient_name`, date)
	if err != nil {
		return nil, apperr.FromPG("list appointments", err)
	}
	return collectAppointments(rows)
}

func (r *repoPG) ListByStudent(ctx context.Context, studentID string) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE student_id = $1 ORDER BY date DESC, time DESC`, studentID)
	if err != nil {
		return nil, apperr.FromPG("list appointments", err)
	}
	return collectAppointments(rows)
}

func (r *repoPG) Search(ctx context.Context, q string, limit int) ([]*Appointment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+apptCols+` FROM appointments
		WHERE patient_name ILIKE $1 ESCAPE '\' OR student_id ILIKE $1 ESCAPE '\'
		ORDER BY date DESC, time DESC LIMIT $2`, db.ContainsPattern(q), limit)
	if err != nil {
		return nil, apperr.FromPG("search appointments", err)
	}
	return collectAppointments(rows)
}

func (r *repoPG) CountByDate(ctx context.Context, date string) (DayCounts, error) {
	var c DayCounts
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'Scheduled'),
			COUNT(*) FILTER (WHERE status = 'Checked-in'),
			COUNT(*) FILTER (WHERE status = 'Completed'),
			COUNT(*)
		FROM appointments WHERE date = $1::date`, date,
	).Scan(&c.Scheduled, &c.CheckedIn, &c.Completed, &c.Total)
	return c, apperr.FromPG("count appointments", err)
}

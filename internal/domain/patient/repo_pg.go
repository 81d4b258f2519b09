package patient

import (
	"context"
	"fmt"
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

const patientCols = `id, student_id, name, year, last_visit, medications, allergies, notes,
	attachments, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.StudentID, &p.Name, &p.Year, &p.LastVisit,
		&p.Medications, &p.Allergies, &p.Notes, &p.Attachments, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Attachments == nil {
		p.Attachments = []string{}
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	defer rows.Close()
	out := []*Patient{}
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func attachments(p *Patient) []string {
	if p.Attachments == nil {
		return []string{}
	}
	return p.Attachments
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, student_id, name, year, last_visit, medications, allergies, notes, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		p.ID, p.StudentID, p.Name, p.Year, p.LastVisit, p.Medications, p.Allergies, p.Notes, attachments(p),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromPG("insert patient", err)
}

func (r *repoPG) UpsertVisit(ctx context.Context, p *Patient, visit time.Time) error {
	out, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, student_id, name, year, last_visit)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (student_id) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), patients.name),
			year = COALESCE(NULLIF(EXCLUDED.year, ''), patients.year),
			last_visit = GREATEST(patients.last_visit, EXCLUDED.last_visit),
			updated_at = NOW()
		RETURNING `+patientCols,
		uuid.New(), p.StudentID, p.Name, p.Year, visit,
	))
	if err != nil {
		return apperr.FromPG("upsert patient", err)
	}
	*p = *out
	return nil
}

func (r *repoPG) GetByStudentID(ctx context.Context, studentID string) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE student_id = $1`, studentID))
	return p, apperr.FromPG("get patient", err)
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patients SET name = $2, year = $3, medications = $4, allergies = $5, notes = $6,
			attachments = $7, updated_at = NOW()
		WHERE student_id = $1
		RETURNING updated_at`,
		p.StudentID, p.Name, p.Year, p.Medications, p.Allergies, p.Notes, attachments(p),
	).Scan(&p.UpdatedAt)
	return apperr.FromPG("update patient", err)
}

func (r *repoPG) Delete(ctx context.Context, studentID string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patients WHERE student_id = $1`, studentID)
	if err != nil {
		return apperr.FromPG("delete patient", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete patient: %w", apperr.ErrNotFound)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&total); err != nil {
		return nil, 0, apperr.FromPG("count patients", err)
	}
	rows, err := conn.Query(ctx,
		`SELECT `+patientCols+` FROM patients ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, apperr.FromPG("list patients", err)
	}
	out, err := collectPatients(rows)
	return out, total, err
}

func (r *repoPG) Search(ctx context.Context, q string, limit int) ([]*Patient, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+patientCols+` FROM patients
		WHERE name ILIKE $1 ESCAPE '\' OR student_id ILIKE $1 ESCAPE '\'
		ORDER BY name LIMIT $2`, db.ContainsPattern(q), limit)
	if err != nil {
		return nil, apperr.FromPG("search patients", err)
	}
	return collectPatients(rows)
}

func (r *repoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n)
	return n, apperr.FromPG("count patients", err)
}

type studentRepoPG struct {
	pool db.Querier
}

func NewStudentRepo(pool db.Querier) StudentRepository {
	return &studentRepoPG{pool: pool}
}

const studentCols = `id, student_id, name, year, course, email`

func scanStudent(row pgx.Row) (*Student, error) {
	var s Student
	if err := row.Scan(&s.ID, &s.StudentID, &s.Name, &s.Year, &s.Course, &s.Email); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *studentRepoPG) GetByStudentID(ctx context.Context, studentID string) (*Student, error) {
	s, err := scanStudent(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+studentCols+` FROM students WHERE student_id = $1`, studentID))
	return s, apperr.FromPG("get student", err)
}

func (r *studentRepoPG) Search(ctx context.Context, q string, limit int) ([]*Student, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+studentCols+` FROM students
		WHERE name ILIKE $1 ESCAPE '\' OR student_id ILIKE $1 ESCAPE '\'
		ORDER BY name LIMIT $2`, db.ContainsPattern(q), limit)
	if err != nil {
		return nil, apperr.FromPG("search students", err)
	}
	defer rows.Close()

	out := []*Student{}
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
